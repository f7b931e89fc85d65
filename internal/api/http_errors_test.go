package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
)

func TestStatusFor(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"validation":     {core.ErrValidation(core.CodeEmptyPayload, "bad"), http.StatusUnprocessableEntity},
		"too large":      {core.ErrValidation(core.CodePayloadTooBig, "big"), http.StatusRequestEntityTooLarge},
		"already stored": {core.ErrValidation(core.CodeReportExists, "dup"), http.StatusConflict},
		"not found":      {core.ErrNotFound("20260101T000000Z-0001", core.StatePackaged), http.StatusNotFound},
		"consent":        {core.ErrConsent("disabled"), http.StatusForbidden},
		"state":          {core.ErrState(core.StateActive, core.StateUploading), http.StatusConflict},
		"upload":         {core.ErrUpload("rejected", false), http.StatusBadGateway},
		"timeout":        {core.ErrTimeout("timed out"), http.StatusGatewayTimeout},
		"storage":        {core.ErrStorage("write", errors.New("io")), http.StatusInternalServerError},
		"storage full":   {core.ErrStorageFull("/tmp", 1, 2), http.StatusInsufficientStorage},
		"wrapped":        {fmt.Errorf("submit: %w", core.ErrConsent("disabled")), http.StatusForbidden},
		"plain":          {errors.New("plain"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, got := statusFor(tc.err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRespondDomainError_Body(t *testing.T) {
	s := &Server{logger: logging.NewNop()}

	rec := httptest.NewRecorder()
	s.respondDomainError(rec, fmt.Errorf("submit: %w", core.ErrConsent("collection disabled")))
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "consent", body["category"])
	assert.Equal(t, "collection disabled", body["error"])
	assert.NotEmpty(t, body["code"])

	rec = httptest.NewRecorder()
	s.respondDomainError(rec, errors.New("disk on fire"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"error": "disk on fire"}, body)
}

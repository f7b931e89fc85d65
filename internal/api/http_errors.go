package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

var categoryStatus = map[core.ErrorCategory]int{
	core.ErrCatValidation: http.StatusUnprocessableEntity,
	core.ErrCatNotFound:   http.StatusNotFound,
	core.ErrCatConsent:    http.StatusForbidden,
	core.ErrCatState:      http.StatusConflict,
	core.ErrCatUpload:     http.StatusBadGateway,
	core.ErrCatTimeout:    http.StatusGatewayTimeout,
	core.ErrCatStorage:    http.StatusInternalServerError,
}

// codeStatus overrides the category mapping for specific codes.
var codeStatus = map[string]int{
	core.CodePayloadTooBig: http.StatusRequestEntityTooLarge,
	core.CodeReportExists:  http.StatusConflict,
	core.CodeStorageFull:   http.StatusInsufficientStorage,
}

// statusFor returns the HTTP status for err and whether err is a
// DomainError at all.
func statusFor(err error) (*core.DomainError, int) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return nil, http.StatusInternalServerError
	}
	if status, ok := codeStatus[domErr.Code]; ok {
		return domErr, status
	}
	if status, ok := categoryStatus[domErr.Category]; ok {
		return domErr, status
	}
	return domErr, http.StatusInternalServerError
}

// respondDomainError maps err to a status and writes it as JSON. Server
// side failures are logged.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	domErr, status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	if domErr == nil {
		respondJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, status, map[string]string{
		"error":    domErr.Message,
		"category": string(domErr.Category),
		"code":     domErr.Code,
	})
}

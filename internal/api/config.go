package api

import (
	"encoding/json"
	"net/http"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/config"
)

// handleGetConfig returns the effective configuration with credentials
// redacted. The ETag lets clients poll with If-None-Match.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.config == nil {
		respondError(w, http.StatusServiceUnavailable, "configuration not available")
		return
	}

	data, err := json.Marshal(s.config.Redacted())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encoding configuration")
		return
	}
	etag := config.ETag(data)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

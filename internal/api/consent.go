package api

import (
	"net/http"
	"time"
)

// ConsentResponse describes the consent gate.
type ConsentResponse struct {
	Enabled  bool       `json:"enabled"`
	TokenID  string     `json:"token_id,omitempty"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`
}

func (s *Server) consentResponse() ConsentResponse {
	tok, err := s.pipeline.Gate().Token()
	if err != nil {
		return ConsentResponse{}
	}
	issued := tok.IssuedAt()
	return ConsentResponse{Enabled: true, TokenID: tok.ID(), IssuedAt: &issued}
}

func (s *Server) handleConsentStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.consentResponse())
}

func (s *Server) handleConsentGrant(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.pipeline.Gate().Grant(); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.logger.Info("data collection enabled")
	respondJSON(w, http.StatusOK, s.consentResponse())
}

// handleConsentRevoke disables collection. Every stored report is purged
// by the pipeline's revocation hook before this returns.
func (s *Server) handleConsentRevoke(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.pipeline.RevokeConsent(); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.consentResponse())
}

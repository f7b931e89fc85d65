package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/lifecycle"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/pipeline"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/queue"
)

// ReportResponse is the JSON form of a report.
type ReportResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Urgent    bool   `json:"urgent"`
	CreatedAt string `json:"created_at"`
	Attempts  int    `json:"attempts"`
	Queued    bool   `json:"queued"`

	SubmitError string `json:"submit_error,omitempty"`
}

func (s *Server) reportResponse(r core.Report, queued map[core.ReportID]bool) ReportResponse {
	return ReportResponse{
		ID:        r.ID.String(),
		State:     r.State.String(),
		Urgent:    r.Urgent,
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Attempts:  r.Attempts,
		Queued:    queued[r.ID],
	}
}

func (s *Server) queuedSet() map[core.ReportID]bool {
	pending := s.pipeline.Queue().Pending()
	set := make(map[core.ReportID]bool, len(pending))
	for _, e := range pending {
		set[e.ID] = true
	}
	return set
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: %q", name, v)
	}
	return b, nil
}

// handleListReports lists stored reports, optionally filtered by ?state=.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	var state core.State
	if v := r.URL.Query().Get("state"); v != "" {
		st, err := core.ParseState(v)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		if !st.Stored() {
			respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("state %s is not stored", st))
			return
		}
		state = st
	}

	reports, err := s.pipeline.Manager().List(state)
	if err != nil && len(reports) == 0 {
		s.respondDomainError(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("listing reports", "error", err)
	}

	queued := s.queuedSet()
	out := make([]ReportResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, s.reportResponse(rep, queued))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleCaptureReport stores the request body as a new report.
// ?urgent=true marks it urgent, ?submit=true packages and enqueues it.
func (s *Server) handleCaptureReport(w http.ResponseWriter, r *http.Request) {
	urgent, err := boolParam(r, "urgent")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	submit, err := boolParam(r, "submit")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, core.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		respondError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	rep, err := s.pipeline.Capture(r.Context(), payload, pipeline.CaptureOptions{Urgent: urgent, Submit: submit})
	if rep.ID == "" {
		s.respondDomainError(w, err)
		return
	}

	resp := s.reportResponse(rep, s.queuedSet())
	if err != nil {
		// Stored but not submitted. The caller can submit it later.
		s.logger.WithReport(rep.ID).Warn("captured report not submitted", "error", err)
		resp.SubmitError = err.Error()
	}
	w.Header().Set("Location", "/api/v1/reports/"+rep.ID.String())
	respondJSON(w, http.StatusCreated, resp)
}

// handleGetReport returns one report.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := core.ReportID(chi.URLParam(r, "reportID"))
	if err := id.Validate(); err != nil {
		s.respondDomainError(w, err)
		return
	}
	rep, err := s.pipeline.Manager().Get(id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.reportResponse(rep, s.queuedSet()))
}

// handleSubmitReport packages and enqueues a report.
func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	urgent, err := boolParam(r, "urgent")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := core.ReportID(chi.URLParam(r, "reportID"))
	rep, err := s.pipeline.SubmitReport(r.Context(), id, urgent)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.reportResponse(rep, s.queuedSet()))
}

// handlePurgeReport deletes a report. Deleting a missing report succeeds.
func (s *Server) handlePurgeReport(w http.ResponseWriter, r *http.Request) {
	id := core.ReportID(chi.URLParam(r, "reportID"))
	if err := id.Validate(); err != nil {
		s.respondDomainError(w, err)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = lifecycle.ReasonAdmin
	}
	if err := s.pipeline.Purge(r.Context(), id, reason); err != nil && !core.IsNotFound(err) {
		s.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueResponse describes the upload queue.
type QueueResponse struct {
	queue.Stats
	Pending        []queue.Entry `json:"pending"`
	PendingRetries int           `json:"pending_retries"`
}

// handleQueue returns the queue counters and pending entries in dispatch order.
func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	pending := s.pipeline.Queue().Pending()
	if pending == nil {
		pending = []queue.Entry{}
	}
	respondJSON(w, http.StatusOK, QueueResponse{
		Stats:          s.pipeline.Queue().Stats(),
		Pending:        pending,
		PendingRetries: s.pipeline.PendingRetries(),
	})
}

// handleDeliveries returns recent confirmed deliveries, newest first.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		respondError(w, http.StatusServiceUnavailable, "delivery journal not available")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit parameter: %q", v))
			return
		}
		limit = n
	}
	list, err := s.deliveries.Recent(r.Context(), limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

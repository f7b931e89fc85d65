package core

import (
	"fmt"
	"strings"
	"time"
)

// ReportID uniquely identifies a report.
type ReportID string

// String returns the string form of the ID.
func (id ReportID) String() string {
	return string(id)
}

// Validate rejects IDs that cannot be used as a single directory name.
func (id ReportID) Validate() error {
	s := string(id)
	if strings.TrimSpace(s) == "" {
		return ErrValidation(CodeInvalidID, "report id is required")
	}
	if s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return ErrValidation(CodeInvalidID, fmt.Sprintf("invalid report id: %q", s))
	}
	return nil
}

// State is a report's lifecycle state.
type State string

const (
	// StateActive is a freshly captured report whose payload is still being
	// written by the capture collaborator.
	StateActive State = "active"

	// StateProcessing is a report handed over for packaging.
	StateProcessing State = "processing"

	// StatePackaged is an upload-ready report waiting in the queue.
	StatePackaged State = "packaged"

	// StateUploading is a report currently claimed by an upload slot.
	StateUploading State = "uploading"

	// StateUploaded is terminal. The report no longer exists on disk.
	StateUploaded State = "uploaded"

	// StatePurged is terminal. The report was removed outside the success path.
	StatePurged State = "purged"
)

// StoredStates returns the states that are backed by an on-disk directory,
// in lifecycle order.
func StoredStates() []State {
	return []State{StateActive, StateProcessing, StatePackaged, StateUploading}
}

// ValidState checks if a state string is valid.
func ValidState(s State) bool {
	switch s {
	case StateActive, StateProcessing, StatePackaged, StateUploading, StateUploaded, StatePurged:
		return true
	default:
		return false
	}
}

// ParseState converts a string to a State with validation.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !ValidState(st) {
		return "", ErrValidation(CodeInvalidState, fmt.Sprintf("invalid state: %s", s))
	}
	return st, nil
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether no further transitions can leave s.
func (s State) Terminal() bool {
	return s == StateUploaded || s == StatePurged
}

// Stored reports whether reports in s have an on-disk location.
func (s State) Stored() bool {
	switch s {
	case StateActive, StateProcessing, StatePackaged, StateUploading:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StatePurged {
		return true
	}
	switch from {
	case StateActive:
		return to == StateProcessing
	case StateProcessing:
		return to == StatePackaged
	case StatePackaged:
		return to == StateUploading
	case StateUploading:
		return to == StateUploaded || to == StatePackaged
	default:
		return false
	}
}

// Report is a captured diagnostic record progressing through the lifecycle.
type Report struct {
	ID        ReportID  `json:"id"`
	State     State     `json:"state"`
	Path      string    `json:"path"`
	Urgent    bool      `json:"urgent"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// Before orders reports by creation time, breaking ties by ID so ordering is
// total.
func (r Report) Before(other Report) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.ID < other.ID
}

// File names inside a report directory.
const (
	// PayloadFile holds the raw captured bytes.
	PayloadFile = "payload"

	// ManifestFile describes the packaged artifact.
	ManifestFile = "manifest.json"

	// ReadyFile marks an externally dropped active report as fully written.
	ReadyFile = "ready"
)

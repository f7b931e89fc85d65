package core

import (
	"context"
	"io"
	"iter"
	"time"
)

// =============================================================================
// Consent Port
// =============================================================================

// ConsentToken is the capability presented to every operation that reads
// payload bytes or initiates network egress.
type ConsentToken interface {
	// ID identifies the collection session the token was minted for.
	ID() string

	// IsValid reports whether the token has not been revoked.
	IsValid() bool
}

// CheckConsent returns a ConsentError unless tok is present and valid.
func CheckConsent(tok ConsentToken) error {
	if tok == nil {
		return ErrConsent("no data collection token presented")
	}
	if !tok.IsValid() {
		return ErrConsent("data collection token revoked").WithDetail("token_id", tok.ID())
	}
	return nil
}

// =============================================================================
// Report Store Port
// =============================================================================

// ReportStore is the durable repository of reports and their payload
// directories. Every physical move or delete goes through it.
type ReportStore interface {
	// CreateActive allocates a new report in the active area.
	CreateActive() (Report, error)

	// Get locates a report in whichever stored state it currently is.
	Get(id ReportID) (Report, error)

	// Move atomically relocates a report between lifecycle areas.
	Move(id ReportID, from, to State) (Report, error)

	// Remove deletes a report wherever it is. Removing an absent report
	// succeeds.
	Remove(id ReportID) error

	// List yields the reports in state, oldest first.
	List(state State) iter.Seq2[Report, error]

	// SetUrgent persists the urgency flag of a report in state.
	SetUrgent(id ReportID, state State, urgent bool) (Report, error)

	// RecordAttempt increments the persisted attempt counter.
	RecordAttempt(id ReportID, state State) (Report, error)

	// WriteFile writes a payload file inside the report directory.
	WriteFile(id ReportID, state State, name string, data []byte) error

	// ReadFile reads a payload file. Requires a valid consent token.
	ReadFile(tok ConsentToken, id ReportID, state State, name string) ([]byte, error)

	// OpenFile opens a payload file for streaming. Requires a valid consent
	// token.
	OpenFile(tok ConsentToken, id ReportID, state State, name string) (io.ReadCloser, int64, error)
}

// =============================================================================
// Packaging Port
// =============================================================================

// Artifact is the upload-ready form of a report payload.
type Artifact struct {
	Name     string
	Encoding string
	Data     []byte
}

// Packager turns a raw payload into an upload-ready artifact.
type Packager interface {
	Name() string
	Package(ctx context.Context, payload []byte) (Artifact, error)
}

// =============================================================================
// Transport Port
// =============================================================================

// Submission is a single upload attempt handed to a transport.
type Submission struct {
	ReportID  ReportID
	Urgent    bool
	CreatedAt time.Time
	Encoding  string
	Digest    string
	Size      int64
	Body      io.Reader
}

// Receipt is the server's positive confirmation of a delivery.
type Receipt struct {
	Reference string
}

// Transport performs the network call. Authentication and wire-level retry
// are the transport's own concern.
type Transport interface {
	Name() string
	Send(ctx context.Context, sub Submission) (Receipt, error)
}

// =============================================================================
// Delivery Journal Port
// =============================================================================

// DeliveryJournal durably records confirmed deliveries so a crash between
// confirmation and local deletion cannot cause a second upload.
type DeliveryJournal interface {
	RecordDelivered(ctx context.Context, id ReportID, receipt Receipt) error
	Delivered(ctx context.Context, id ReportID) (bool, error)
	Forget(ctx context.Context, olderThan time.Time) (int64, error)
}

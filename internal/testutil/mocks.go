// Package testutil holds fixtures shared by the crashrelay test suites.
package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// MockToken is a consent token whose validity is fixed at construction.
type MockToken struct {
	id    string
	valid bool
}

// ValidToken and RevokedToken cover the two consent outcomes.
var (
	ValidToken   = MockToken{id: "test-session", valid: true}
	RevokedToken = MockToken{id: "revoked-session", valid: false}
)

// ID returns the session ID.
func (t MockToken) ID() string { return t.id }

// IsValid reports the fixed validity.
func (t MockToken) IsValid() bool { return t.valid }

// MockSubmission is one recorded Send call, with the body read out.
type MockSubmission struct {
	ReportID  core.ReportID
	Urgent    bool
	Encoding  string
	Digest    string
	Body      []byte
	Timestamp time.Time
}

// MockTransport implements core.Transport for testing. By default every
// submission is accepted and acknowledged with "ref-<id>".
type MockTransport struct {
	name     string
	sendFunc func(context.Context, core.Submission) (core.Receipt, error)
	err      error
	calls    []MockSubmission
	mu       sync.Mutex
}

// NewMockTransport creates a new mock transport.
func NewMockTransport(name string) *MockTransport {
	return &MockTransport{name: name}
}

// Name returns the mock name.
func (m *MockTransport) Name() string {
	return m.name
}

// Send records the submission and answers with the configured outcome.
func (m *MockTransport) Send(ctx context.Context, sub core.Submission) (core.Receipt, error) {
	var body []byte
	if sub.Body != nil {
		data, err := io.ReadAll(sub.Body)
		if err != nil {
			return core.Receipt{}, err
		}
		body = data
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockSubmission{
		ReportID:  sub.ReportID,
		Urgent:    sub.Urgent,
		Encoding:  sub.Encoding,
		Digest:    sub.Digest,
		Body:      body,
		Timestamp: time.Now(),
	})
	fn, err := m.sendFunc, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sub)
	}
	if err != nil {
		return core.Receipt{}, err
	}
	return core.Receipt{Reference: "ref-" + sub.ReportID.String()}, nil
}

// WithSendFunc sets a custom send function. Body is already drained when fn
// runs.
func (m *MockTransport) WithSendFunc(fn func(context.Context, core.Submission) (core.Receipt, error)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
	return m
}

// WithError makes every send fail with err.
func (m *MockTransport) WithError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns all recorded submissions.
func (m *MockTransport) Calls() []MockSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockSubmission(nil), m.calls...)
}

// CallCount returns the number of Send calls.
func (m *MockTransport) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ReportIDs returns the submitted report IDs in call order.
func (m *MockTransport) ReportIDs() []core.ReportID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]core.ReportID, len(m.calls))
	for i, c := range m.calls {
		ids[i] = c.ReportID
	}
	return ids
}

// Reset clears recorded calls.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var (
	_ core.Transport    = (*MockTransport)(nil)
	_ core.ConsentToken = MockToken{}
)

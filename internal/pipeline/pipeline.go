// Package pipeline connects the lifecycle manager, the upload queue and the
// uploader into one running system.
//
// Callers submit reports with SubmitReport; Run dispatches queued reports
// to the uploader, one goroutine per occupied slot, until its context ends.
// Revoking consent clears the queue and purges every stored report.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/consent"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/events"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/lifecycle"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/queue"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/upload"
)

var _ upload.Completer = (*lifecycle.Manager)(nil)

// Pipeline owns the moving parts of report delivery.
type Pipeline struct {
	manager  *lifecycle.Manager
	queue    *queue.Scheduler
	uploader *upload.Uploader
	gate     *consent.Gate
	bus      *events.EventBus
	logger   *logging.Logger

	policy     upload.RetryPolicy
	retryDelay time.Duration
	maxAge     time.Duration

	mu      sync.Mutex
	timers  map[core.ReportID]*time.Timer
	stopped bool
	// purged counts reports removed by the last revocation.
	purged int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetryPolicy sets the policy consulted after a failed upload.
func WithRetryPolicy(policy upload.RetryPolicy) Option {
	return func(p *Pipeline) {
		if policy != nil {
			p.policy = policy
		}
	}
}

// WithRetryDelay delays requeuing a failed report. Zero requeues at once.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithMaxAge purges reports older than d during Restore.
func WithMaxAge(d time.Duration) Option {
	return func(p *Pipeline) {
		p.maxAge = d
	}
}

// WithEventBus publishes queue and consent events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(p *Pipeline) {
		p.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline and registers its revocation hook on gate.
func New(manager *lifecycle.Manager, q *queue.Scheduler, uploader *upload.Uploader, gate *consent.Gate, opts ...Option) *Pipeline {
	p := &Pipeline{
		manager:  manager,
		queue:    q,
		uploader: uploader,
		gate:     gate,
		logger:   logging.NewNop(),
		policy:   upload.MaxAttempts(0),
		timers:   make(map[core.ReportID]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithComponent("pipeline")
	gate.OnRevoke(p.onRevoke)
	return p
}

// Manager returns the lifecycle manager.
func (p *Pipeline) Manager() *lifecycle.Manager {
	return p.manager
}

// Queue returns the upload queue.
func (p *Pipeline) Queue() *queue.Scheduler {
	return p.queue
}

// Gate returns the consent gate.
func (p *Pipeline) Gate() *consent.Gate {
	return p.gate
}

// CaptureOptions controls Capture.
type CaptureOptions struct {
	Urgent bool
	// Submit packages and enqueues the report right after the write.
	Submit bool
}

// Capture stores payload as a new report. Without Submit the report stays
// active until something submits it. When the submit fails the captured
// report is returned along with the error.
func (p *Pipeline) Capture(ctx context.Context, payload []byte, opts CaptureOptions) (core.Report, error) {
	r, err := p.manager.Capture(ctx, payload)
	if err != nil {
		return core.Report{}, err
	}
	if opts.Urgent {
		if r, err = p.manager.MarkUrgent(r.ID, true); err != nil {
			return core.Report{}, err
		}
	}
	if !opts.Submit {
		return r, nil
	}
	sub, err := p.SubmitReport(ctx, r.ID, opts.Urgent)
	if err != nil {
		return r, err
	}
	return sub, nil
}

// SubmitReport drives a report to packaged and enqueues it. A report that
// is already packaged is only enqueued; urgent promotes it. Without a valid
// consent token nothing happens and a ConsentError is returned.
func (p *Pipeline) SubmitReport(ctx context.Context, id core.ReportID, urgent bool) (core.Report, error) {
	if err := id.Validate(); err != nil {
		return core.Report{}, err
	}
	tok, err := p.gate.Token()
	if err != nil {
		return core.Report{}, err
	}

	r, err := p.manager.Prepare(ctx, id, tok)
	if err != nil {
		return r, err
	}
	if urgent && !r.Urgent {
		if r, err = p.manager.MarkUrgent(id, true); err != nil {
			return core.Report{}, err
		}
	}
	p.enqueue(r)
	return r, nil
}

func (p *Pipeline) enqueue(r core.Report) bool {
	if !p.queue.Enqueue(r, r.Urgent) {
		return false
	}
	p.logger.WithReport(r.ID).Debug("report enqueued", "urgent", r.Urgent)
	p.publish(events.NewReportEnqueuedEvent(r.ID.String(), r.Urgent, p.queue.Len()))
	return true
}

// Purge removes a report from the queue and the store.
func (p *Pipeline) Purge(ctx context.Context, id core.ReportID, reason string) error {
	p.queue.Remove(id)
	p.cancelRetry(id)
	return p.manager.Purge(ctx, id, reason)
}

// RestoreResult summarizes Restore.
type RestoreResult struct {
	lifecycle.RecoveryResult
	Expired int `json:"expired"`
	Seeded  int `json:"seeded"`
}

// Restore brings the queue back after a restart: interrupted uploads are
// recovered, expired reports purged, and every packaged report enqueued in
// creation order with its persisted urgency.
func (p *Pipeline) Restore(ctx context.Context) (RestoreResult, error) {
	var (
		res  RestoreResult
		errs []error
		err  error
	)
	res.RecoveryResult, err = p.manager.Recover(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if p.maxAge > 0 {
		res.Expired, err = p.manager.PurgeOlderThan(ctx, p.maxAge)
		if err != nil {
			errs = append(errs, err)
		}
	}
	res.Seeded, err = p.queue.Seed(p.manager.Store())
	if err != nil {
		errs = append(errs, err)
	}
	p.logger.Info("queue restored",
		"requeued", res.Requeued, "delivered", res.Delivered, "expired", res.Expired, "seeded", res.Seeded)
	return res, errors.Join(errs...)
}

// onRevoke runs after consent was revoked. Nothing captured may leave the
// machine any more, so pending entries are dropped and every stored report
// is purged. In-flight uploads lose their report and fail.
func (p *Pipeline) onRevoke(tokenID string) {
	cleared := p.queue.Clear()
	p.cancelRetries()

	purged, err := p.manager.PurgeAll(context.Background(), lifecycle.ReasonConsent)
	if err != nil {
		p.logger.Error("purging after consent revocation", "error", err)
	}
	p.logger.Info("consent revoked", "cleared", cleared, "purged", purged)

	p.mu.Lock()
	p.purged = purged
	p.mu.Unlock()

	p.publish(events.NewConsentRevokedEvent(tokenID, purged))
}

// RevokeConsent revokes the gate and returns how many stored reports the
// revocation purged. The purge runs even when persisting the decision fails;
// the error is returned alongside the count.
func (p *Pipeline) RevokeConsent() (int, error) {
	err := p.gate.Revoke()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.purged, err
}

// Stop cancels pending delayed retries. Reports they held stay packaged.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancelRetries()
}

func (p *Pipeline) scheduleRetry(r core.Report) {
	if p.retryDelay <= 0 {
		p.enqueue(r)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if t, ok := p.timers[r.ID]; ok {
		t.Stop()
	}
	p.timers[r.ID] = time.AfterFunc(p.retryDelay, func() {
		p.mu.Lock()
		delete(p.timers, r.ID)
		p.mu.Unlock()
		if p.gate.Enabled() {
			p.enqueue(r)
		}
	})
}

func (p *Pipeline) cancelRetry(id core.ReportID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
}

func (p *Pipeline) cancelRetries() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

// PendingRetries returns the number of reports waiting for a delayed retry.
func (p *Pipeline) PendingRetries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func (p *Pipeline) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

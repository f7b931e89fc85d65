// Package lifecycle implements the report state machine.
//
// The Manager decides which transition happens; the store performs it. A
// transition is a single atomic move in the store, so two callers racing on
// the same report cannot both succeed: the loser gets a NotFoundError.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/events"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/packaging"
)

// Purge reasons attached to purge events.
const (
	ReasonAdmin         = "admin"
	ReasonConsent       = "consent_revoked"
	ReasonPackaging     = "packaging_failed"
	ReasonMaxAge        = "max_age"
	ReasonAlreadyServed = "already_delivered"
)

// Manager drives reports through their lifecycle.
type Manager struct {
	store    core.ReportStore
	packager core.Packager
	journal  core.DeliveryJournal
	bus      *events.EventBus
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager. A nil packager selects passthrough.
func NewManager(store core.ReportStore, packager core.Packager, journal core.DeliveryJournal, opts ...Option) *Manager {
	if packager == nil {
		packager = packaging.Passthrough{}
	}
	m := &Manager{
		store:    store,
		packager: packager,
		journal:  journal,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying report store.
func (m *Manager) Store() core.ReportStore {
	return m.store
}

// Capture writes payload into a new active report and returns it. It does
// no work beyond the write.
func (m *Manager) Capture(ctx context.Context, payload []byte) (core.Report, error) {
	if err := ctx.Err(); err != nil {
		return core.Report{}, err
	}
	if len(payload) == 0 {
		return core.Report{}, core.ErrValidation(core.CodeEmptyPayload, "payload is empty")
	}
	if len(payload) > core.MaxPayloadBytes {
		return core.Report{}, core.ErrValidation(core.CodePayloadTooBig,
			fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), core.MaxPayloadBytes))
	}

	r, err := m.store.CreateActive()
	if err != nil {
		return core.Report{}, err
	}
	if err := m.store.WriteFile(r.ID, core.StateActive, core.PayloadFile, payload); err != nil {
		if rmErr := m.store.Remove(r.ID); rmErr != nil {
			m.logger.WithReport(r.ID).Warn("discarding incomplete capture", "error", rmErr)
		}
		return core.Report{}, err
	}

	m.logger.WithReport(r.ID).Debug("report captured", "bytes", len(payload))
	m.publish(events.NewReportTransitionEvent(events.TypeReportCaptured, r.ID.String(), "", core.StateActive.String()))
	return r, nil
}

// OnCaptureComplete hands an active report over for packaging.
func (m *Manager) OnCaptureComplete(ctx context.Context, id core.ReportID) (core.Report, error) {
	return m.transition(ctx, id, core.StateActive, core.StateProcessing, events.TypeReportProcessing)
}

// Package packages a processing report with the configured packager and
// records the outcome through OnPackagingComplete. Reading the payload
// requires a valid token.
func (m *Manager) Package(ctx context.Context, id core.ReportID, tok core.ConsentToken) (core.Report, error) {
	payload, err := m.store.ReadFile(tok, id, core.StateProcessing, core.PayloadFile)
	if err != nil {
		return core.Report{}, err
	}

	art, err := m.packager.Package(ctx, payload)
	if err == nil {
		err = m.writeArtifact(id, art, len(payload))
	}
	if err != nil {
		if core.IsCategory(err, core.ErrCatStorage) || ctx.Err() != nil {
			// Transient. The report stays in processing for another try.
			return core.Report{}, err
		}
		m.logger.WithReport(id).Warn("packaging failed", "packager", m.packager.Name(), "error", err)
		if _, perr := m.OnPackagingComplete(ctx, id, false); perr != nil {
			return core.Report{}, perr
		}
		return core.Report{ID: id, State: core.StatePurged},
			core.ErrValidation(core.CodePackagingFailed, "packaging failed").WithCause(err)
	}
	return m.OnPackagingComplete(ctx, id, true)
}

func (m *Manager) writeArtifact(id core.ReportID, art core.Artifact, payloadSize int) error {
	if art.Name == core.PayloadFile || art.Name == core.ManifestFile {
		return core.ErrValidation(core.CodePackagingFailed, fmt.Sprintf("artifact name %q is reserved", art.Name))
	}
	if err := m.store.WriteFile(id, core.StateProcessing, art.Name, art.Data); err != nil {
		return err
	}
	raw, err := packaging.NewManifest(id, m.packager.Name(), art, payloadSize, m.now()).Marshal()
	if err != nil {
		return core.ErrValidation(core.CodePackagingFailed, "encoding manifest").WithCause(err)
	}
	return m.store.WriteFile(id, core.StateProcessing, core.ManifestFile, raw)
}

// OnPackagingComplete records the packaging outcome. Success moves the
// report to packaged; failure purges it.
func (m *Manager) OnPackagingComplete(ctx context.Context, id core.ReportID, success bool) (core.Report, error) {
	if !success {
		if err := m.purge(id, core.StateProcessing, ReasonPackaging); err != nil {
			return core.Report{}, err
		}
		return core.Report{ID: id, State: core.StatePurged}, nil
	}
	return m.transition(ctx, id, core.StateProcessing, core.StatePackaged, events.TypeReportPackaged)
}

// Prepare drives a report forward until it is packaged. Reports already
// packaged are returned as they are. A report in uploading is refused.
func (m *Manager) Prepare(ctx context.Context, id core.ReportID, tok core.ConsentToken) (core.Report, error) {
	if err := core.CheckConsent(tok); err != nil {
		return core.Report{}, err
	}
	r, err := m.store.Get(id)
	if err != nil {
		return core.Report{}, err
	}
	for {
		switch r.State {
		case core.StateActive:
			r, err = m.OnCaptureComplete(ctx, id)
		case core.StateProcessing:
			r, err = m.Package(ctx, id, tok)
		case core.StatePackaged:
			return r, nil
		default:
			return r, core.ErrState(r.State, core.StatePackaged)
		}
		if err != nil {
			return r, err
		}
	}
}

// MarkUrgent persists the urgency flag wherever the report currently is so
// it survives a restart.
func (m *Manager) MarkUrgent(id core.ReportID, urgent bool) (core.Report, error) {
	r, err := m.store.Get(id)
	if err != nil {
		return core.Report{}, err
	}
	if r.Urgent == urgent {
		return r, nil
	}
	return m.store.SetUrgent(id, r.State, urgent)
}

// BeginUpload claims a packaged report for an upload slot. An invalid token
// refuses the transition and the report stays packaged.
func (m *Manager) BeginUpload(ctx context.Context, id core.ReportID, tok core.ConsentToken) (core.Report, error) {
	if err := core.CheckConsent(tok); err != nil {
		return core.Report{}, err
	}
	return m.transition(ctx, id, core.StatePackaged, core.StateUploading, events.TypeReportUploading)
}

// CompleteUpload runs after the server confirmed delivery. The delivery is
// journaled first, then the report is deleted. Deletion happens even when the
// journal write fails.
func (m *Manager) CompleteUpload(ctx context.Context, id core.ReportID, receipt core.Receipt) error {
	log := m.logger.WithReport(id)
	if m.journal != nil {
		if err := m.journal.RecordDelivered(ctx, id, receipt); err != nil {
			log.Error("journaling delivery", "error", err)
		}
	}
	if err := m.store.Remove(id); err != nil {
		return err
	}
	log.Info("report delivered", "reference", receipt.Reference)
	m.publish(events.NewReportTransitionEvent(events.TypeReportUploaded, id.String(),
		core.StateUploading.String(), core.StateUploaded.String()))
	return nil
}

// FailUpload returns an uploading report to packaged and bumps its attempt
// counter. The payload is untouched.
func (m *Manager) FailUpload(ctx context.Context, id core.ReportID, cause error) (core.Report, error) {
	r, err := m.store.Move(id, core.StateUploading, core.StatePackaged)
	if err != nil {
		return core.Report{}, err
	}
	// Consent refusals are not attempts.
	if !core.IsConsent(cause) {
		if counted, err := m.store.RecordAttempt(id, core.StatePackaged); err == nil {
			r = counted
		} else {
			m.logger.WithReport(id).Warn("recording attempt", "error", err)
		}
	}
	m.publish(events.NewReportUploadFailedEvent(id.String(), r.Attempts, cause, core.IsRetryable(cause)))
	return r, nil
}

// Purge removes a report wherever it is. Purging an absent report succeeds.
func (m *Manager) Purge(ctx context.Context, id core.ReportID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := m.store.Get(id)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	return m.purge(id, r.State, reason)
}

// purgeAllOrder lists every area a report can still be moved into after
// the areas it can be moved out of, so a transition racing with PurgeAll
// lands in an area that has not been scanned yet.
var purgeAllOrder = []core.State{core.StateActive, core.StateProcessing, core.StateUploading, core.StatePackaged}

// PurgeAll removes every stored report. In-flight uploads see their report
// disappear and fail.
func (m *Manager) PurgeAll(ctx context.Context, reason string) (int, error) {
	return m.purgeWhere(ctx, purgeAllOrder, reason, func(core.Report) bool { return true })
}

// PurgeOlderThan removes reports created more than age ago. Reports in
// flight are left alone.
func (m *Manager) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if age <= 0 {
		return 0, core.ErrValidation(core.CodeInvalidTimeout, "max age must be positive")
	}
	cutoff := m.now().Add(-age)
	states := []core.State{core.StateActive, core.StateProcessing, core.StatePackaged}
	return m.purgeWhere(ctx, states, ReasonMaxAge, func(r core.Report) bool {
		return r.CreatedAt.Before(cutoff)
	})
}

func (m *Manager) purgeWhere(ctx context.Context, states []core.State, reason string, match func(core.Report) bool) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, st := range states {
		for r, err := range m.store.List(st) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return n, ctxErr
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !match(r) {
				continue
			}
			if err := m.purge(r.ID, st, reason); err != nil {
				errs = append(errs, err)
				continue
			}
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (m *Manager) purge(id core.ReportID, from core.State, reason string) error {
	if err := m.store.Remove(id); err != nil {
		return err
	}
	m.logger.WithReport(id).Info("report purged", "from", from.String(), "reason", reason)
	m.publish(events.NewReportPurgedEvent(id.String(), from.String(), reason))
	return nil
}

// RecoveryResult summarizes Recover.
type RecoveryResult struct {
	Requeued  int `json:"requeued"`
	Delivered int `json:"delivered"`
}

// Recover repairs the store after an unclean shutdown. Reports left in
// uploading go back to packaged unless the journal shows they were
// delivered, in which case they are removed. Delivered reports found in
// packaged are removed as well. Reports that vanish meanwhile are ignored.
func (m *Manager) Recover(ctx context.Context) (RecoveryResult, error) {
	var (
		res  RecoveryResult
		errs []error
	)
	for _, st := range []core.State{core.StateUploading, core.StatePackaged} {
		for r, err := range m.store.List(st) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}
			delivered, err := m.delivered(ctx, r.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			switch {
			case delivered:
				if err := m.purge(r.ID, st, ReasonAlreadyServed); err != nil {
					errs = append(errs, err)
					continue
				}
				res.Delivered++
			case st == core.StateUploading:
				if _, err := m.store.Move(r.ID, core.StateUploading, core.StatePackaged); err != nil {
					if !core.IsNotFound(err) {
						errs = append(errs, err)
					}
					continue
				}
				m.logger.WithReport(r.ID).Info("restored interrupted upload")
				res.Requeued++
			}
		}
	}
	return res, errors.Join(errs...)
}

func (m *Manager) delivered(ctx context.Context, id core.ReportID) (bool, error) {
	if m.journal == nil {
		return false, nil
	}
	return m.journal.Delivered(ctx, id)
}

// Get returns a report by ID.
func (m *Manager) Get(id core.ReportID) (core.Report, error) {
	return m.store.Get(id)
}

// List returns every report in state, oldest first. An empty state lists
// all stored states in lifecycle order.
func (m *Manager) List(state core.State) ([]core.Report, error) {
	states := core.StoredStates()
	if state != "" {
		states = []core.State{state}
	}
	var (
		out  []core.Report
		errs []error
	)
	for _, st := range states {
		for r, err := range m.store.List(st) {
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

func (m *Manager) transition(ctx context.Context, id core.ReportID, from, to core.State, eventType string) (core.Report, error) {
	if err := ctx.Err(); err != nil {
		return core.Report{}, err
	}
	if !core.CanTransition(from, to) {
		return core.Report{}, core.ErrState(from, to)
	}
	r, err := m.store.Move(id, from, to)
	if err != nil {
		return core.Report{}, err
	}
	m.logger.WithReport(id).Debug("report transition", "from", from.String(), "to", to.String())
	ev := events.NewReportTransitionEvent(eventType, id.String(), from.String(), to.String())
	ev.Urgent = r.Urgent
	m.publish(ev)
	return r, nil
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

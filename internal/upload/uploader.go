// Package upload submits packaged reports through a transport and reports
// the outcome back to the lifecycle.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/packaging"
)

// DefaultTimeout bounds a single transport call when none is configured.
const DefaultTimeout = 60 * time.Second

// Completer applies the outcome of an upload to the report lifecycle.
type Completer interface {
	// CompleteUpload runs after a positive confirmation. It must journal the
	// delivery and delete the local copy.
	CompleteUpload(ctx context.Context, id core.ReportID, receipt core.Receipt) error

	// FailUpload returns the report to the packaged area.
	FailUpload(ctx context.Context, id core.ReportID, cause error) (core.Report, error)
}

// Result describes a finished upload.
type Result struct {
	Report   core.Report   `json:"report"`
	Receipt  core.Receipt  `json:"receipt"`
	Duration time.Duration `json:"duration"`
}

// Uploader performs the network submission of a report held in the
// uploading area.
type Uploader struct {
	store     core.ReportStore
	transport core.Transport
	completer Completer
	timeout   time.Duration
	logger    *logging.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithTimeout bounds each transport call.
func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// New creates an uploader.
func New(store core.ReportStore, transport core.Transport, completer Completer, opts ...Option) *Uploader {
	u := &Uploader{
		store:     store,
		transport: transport,
		completer: completer,
		timeout:   DefaultTimeout,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Transport returns the configured transport.
func (u *Uploader) Transport() core.Transport {
	return u.transport
}

// Upload submits r, which must be in the uploading area. The token is checked
// before anything is read; an invalid token returns a ConsentError and no
// network call is made. Any failure returns the report to packaged with its
// payload intact. Success journals the delivery and deletes the report.
func (u *Uploader) Upload(ctx context.Context, r core.Report, tok core.ConsentToken) (Result, error) {
	start := time.Now()
	log := u.logger.WithReport(r.ID).With("transport", u.transport.Name())

	if err := core.CheckConsent(tok); err != nil {
		u.fail(ctx, r.ID, err)
		return Result{Report: r}, err
	}

	receipt, err := u.send(ctx, r, tok)
	if err != nil {
		log.Warn("upload failed", "error", err, "retryable", core.IsRetryable(err))
		back := u.fail(ctx, r.ID, err)
		return Result{Report: back, Duration: time.Since(start)}, err
	}

	if err := u.completer.CompleteUpload(ctx, r.ID, receipt); err != nil {
		// The server has the report. The journal entry, if written, stops a
		// second upload on recovery.
		log.Error("completing confirmed upload", "error", err)
		return Result{Report: r, Receipt: receipt, Duration: time.Since(start)}, err
	}

	r.State = core.StateUploaded
	log.Info("report uploaded", "reference", receipt.Reference, "duration", time.Since(start))
	return Result{Report: r, Receipt: receipt, Duration: time.Since(start)}, nil
}

func (u *Uploader) send(ctx context.Context, r core.Report, tok core.ConsentToken) (core.Receipt, error) {
	raw, err := u.store.ReadFile(tok, r.ID, core.StateUploading, core.ManifestFile)
	if err != nil {
		return core.Receipt{}, asUploadError("reading manifest", err)
	}
	m, err := packaging.ParseManifest(raw)
	if err != nil {
		return core.Receipt{}, err
	}
	if m.ReportID != "" && m.ReportID != r.ID {
		return core.Receipt{}, core.ErrValidation(core.CodePackagingFailed,
			fmt.Sprintf("manifest belongs to %s", m.ReportID))
	}

	data, err := u.readArtifact(tok, r.ID, m)
	if err != nil {
		return core.Receipt{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	receipt, err := u.transport.Send(callCtx, core.Submission{
		ReportID:  r.ID,
		Urgent:    r.Urgent,
		CreatedAt: r.CreatedAt,
		Encoding:  m.Encoding,
		Digest:    m.Digest,
		Size:      m.Size,
		Body:      bytes.NewReader(data),
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return core.Receipt{}, core.ErrTimeout(fmt.Sprintf("upload exceeded %s", u.timeout)).WithCause(err)
		}
		return core.Receipt{}, asUploadError("sending report", err)
	}
	return receipt, nil
}

// readArtifact loads the artifact and checks it against the manifest so a
// damaged file never reaches the transport.
func (u *Uploader) readArtifact(tok core.ConsentToken, id core.ReportID, m packaging.Manifest) ([]byte, error) {
	body, size, err := u.store.OpenFile(tok, id, core.StateUploading, m.Artifact)
	if err != nil {
		return nil, asUploadError("opening artifact", err)
	}
	defer body.Close()
	if size != m.Size {
		return nil, core.ErrValidation(core.CodeDigestMismatch,
			fmt.Sprintf("artifact size %d does not match manifest size %d", size, m.Size))
	}
	data, err := io.ReadAll(packaging.NewVerifier(io.LimitReader(body, m.Size+1), m))
	if err != nil {
		return nil, asUploadError("reading artifact", err)
	}
	return data, nil
}

// fail moves the report back to packaged. A report that vanished meanwhile
// was purged and has nothing to restore.
func (u *Uploader) fail(ctx context.Context, id core.ReportID, cause error) core.Report {
	back, err := u.completer.FailUpload(ctx, id, cause)
	if err != nil && !core.IsNotFound(err) {
		u.logger.Error("restoring report after failed upload", "report_id", id.String(), "error", err)
	}
	return back
}

// asUploadError keeps domain errors as they are and classifies the rest as
// retryable upload failures. A report that disappears mid-flight becomes a
// non-retryable upload failure rather than a crash.
func asUploadError(op string, err error) error {
	if core.IsNotFound(err) {
		return core.ErrUpload(op+": report disappeared", false).WithCause(err)
	}
	var de *core.DomainError
	if errors.As(err, &de) {
		return err
	}
	return core.ErrUpload(op, true).WithCause(err)
}

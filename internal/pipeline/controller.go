package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/config"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/consent"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/events"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/journal"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/lifecycle"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/packaging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/queue"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/store"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/upload"
)

// ControllerData is everything a running crashrelay instance holds. It is
// built once from configuration and passed explicitly.
type ControllerData struct {
	InstanceID string
	Config     *config.Config
	Logger     *logging.Logger

	Store     *store.FileStore
	Gate      *consent.Gate
	Journal   *journal.SQLiteJournal
	Bus       *events.EventBus
	Packager  core.Packager
	Transport core.Transport
	Manager   *lifecycle.Manager
	Queue     *queue.Scheduler
	Uploader  *upload.Uploader
	Pipeline  *Pipeline
}

// NewControllerData opens every component described by cfg. On error the
// components opened so far are closed.
func NewControllerData(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *ControllerData, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &ControllerData{
		InstanceID: uuid.NewString(),
		Config:     cfg,
		Logger:     logger,
		Bus:        events.New(256),
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Store, err = store.Open(cfg.Store.Dir,
		store.WithMinFreeBytes(cfg.Store.MinFreeBytes),
		store.WithLogger(logger.WithComponent("store")))
	if err != nil {
		return nil, err
	}
	c.Gate, err = consent.Open(cfg.Consent.Marker)
	if err != nil {
		return nil, err
	}
	c.Journal, err = journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	c.Packager, err = packaging.New(cfg.Packaging.Kind, cfg.Packaging.Level)
	if err != nil {
		return nil, err
	}
	c.Transport, err = NewTransport(ctx, cfg.Upload)
	if err != nil {
		return nil, err
	}

	c.Manager = lifecycle.NewManager(c.Store, c.Packager, c.Journal,
		lifecycle.WithEventBus(c.Bus),
		lifecycle.WithLogger(logger.WithComponent("lifecycle")))
	c.Queue = queue.NewScheduler(cfg.Queue.Slots)
	c.Uploader = upload.New(c.Store, c.Transport, c.Manager,
		upload.WithTimeout(cfg.UploadTimeout()),
		upload.WithLogger(logger.WithComponent("uploader")))
	c.Pipeline = New(c.Manager, c.Queue, c.Uploader, c.Gate,
		WithRetryPolicy(upload.MaxAttempts(cfg.Queue.MaxAttempts)),
		WithRetryDelay(cfg.RetryDelay()),
		WithMaxAge(cfg.MaxAge()),
		WithEventBus(c.Bus),
		WithLogger(logger))

	logger.Debug("controller ready",
		"instance_id", c.InstanceID,
		"store", c.Store.Root(),
		"transport", c.Transport.Name(),
		"packager", c.Packager.Name(),
		"slots", c.Queue.Slots())
	return c, nil
}

// Start prunes old journal entries and restores the queue.
func (c *ControllerData) Start(ctx context.Context) (RestoreResult, error) {
	if retention := c.Config.JournalRetention(); retention > 0 {
		n, err := c.Journal.Forget(ctx, time.Now().Add(-retention))
		if err != nil {
			c.Logger.Warn("pruning delivery journal", "error", err)
		} else if n > 0 {
			c.Logger.Debug("pruned delivery journal", "entries", n)
		}
	}
	return c.Pipeline.Restore(ctx)
}

// Watcher returns an active-area watcher that submits through the pipeline.
func (c *ControllerData) Watcher() *Watcher {
	return NewWatcher(c.Store.Dir(core.StateActive), SubmitOnReady(c.Pipeline),
		WithDebounce(c.Config.WatchDebounce()),
		WithWatchLogger(c.Logger))
}

// Close releases the journal and the event bus. It is safe to call on a
// partially built controller.
func (c *ControllerData) Close() error {
	var errs []error
	if c.Pipeline != nil {
		c.Pipeline.Stop()
	}
	if c.Journal != nil {
		errs = append(errs, c.Journal.Close())
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
	return errors.Join(errs...)
}

// NewTransport builds the transport selected by cfg. An http transport
// without an endpoint is allowed so local commands work unconfigured;
// every upload through it fails without retry.
func NewTransport(ctx context.Context, cfg config.UploadConfig) (core.Transport, error) {
	switch cfg.Transport {
	case "", "http":
		if cfg.Endpoint == "" {
			return unconfiguredTransport{}, nil
		}
		return upload.NewHTTPTransport(cfg.Endpoint,
			upload.WithMethod(cfg.Method),
			upload.WithHeaders(cfg.Headers))
	case "s3":
		return upload.NewS3Transport(ctx, upload.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, "unknown upload transport "+cfg.Transport)
	}
}

type unconfiguredTransport struct{}

func (unconfiguredTransport) Name() string { return "none" }

func (unconfiguredTransport) Send(context.Context, core.Submission) (core.Receipt, error) {
	return core.Receipt{}, core.ErrUpload("no upload endpoint configured", false)
}

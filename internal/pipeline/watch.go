package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
)

// DefaultDebounce is the quiet period after the last event for a report
// before it is submitted.
const DefaultDebounce = 250 * time.Millisecond

// DefaultRescan is how often the active area is rescanned for ready reports
// whose submission failed.
const DefaultRescan = 30 * time.Second

// ReadyFunc is called for a report whose ready marker appeared, until it
// succeeds or reports the report gone.
type ReadyFunc func(ctx context.Context, id core.ReportID) error

// Watcher submits reports that an out-of-process capture handler dropped
// into the active area. A report counts as complete once the handler
// creates core.ReadyFile inside its directory.
type Watcher struct {
	dir      string
	onReady  ReadyFunc
	debounce time.Duration
	rescan   time.Duration
	logger   *logging.Logger

	mu     sync.Mutex
	timers map[core.ReportID]*time.Timer
	seen   map[core.ReportID]bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRescan sets how often ready reports that failed to submit are retried.
func WithRescan(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.rescan = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher over the active directory dir.
func NewWatcher(dir string, onReady ReadyFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		onReady:  onReady,
		debounce: DefaultDebounce,
		rescan:   DefaultRescan,
		logger:   logging.NewNop(),
		timers:   make(map[core.ReportID]*time.Timer),
		seen:     make(map[core.ReportID]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watcher")
	return w
}

// SubmitOnReady returns a ReadyFunc that submits the report through p.
func SubmitOnReady(p *Pipeline) ReadyFunc {
	return func(ctx context.Context, id core.ReportID) error {
		_, err := p.SubmitReport(ctx, id, false)
		return err
	}
}

// Run watches until ctx is canceled. Reports already marked ready when Run
// starts are picked up too. A report counts as handled once its submission
// succeeds or it is gone; failed ones are retried on the next rescan.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return core.ErrStorage("starting watcher", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return core.ErrStorage("watching active area", err)
	}
	w.scan(ctx, fw)

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan(ctx, fw)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	parent := filepath.Dir(ev.Name)
	if parent == w.dir {
		// A new report directory. The marker may already be inside.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := fw.Add(ev.Name); err != nil {
				w.logger.Debug("watching report directory", "path", ev.Name, "error", err)
			}
			w.checkReady(ctx, ev.Name)
		}
		return
	}
	if filepath.Base(ev.Name) == core.ReadyFile && filepath.Dir(parent) == w.dir {
		w.schedule(ctx, core.ReportID(filepath.Base(parent)))
	}
}

func (w *Watcher) scan(ctx context.Context, fw *fsnotify.Watcher) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scanning active area", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if err := fw.Add(path); err != nil {
			w.logger.Debug("watching report directory", "path", path, "error", err)
		}
		w.checkReady(ctx, path)
	}
}

func (w *Watcher) checkReady(ctx context.Context, reportDir string) {
	if _, err := os.Stat(filepath.Join(reportDir, core.ReadyFile)); err == nil {
		w.schedule(ctx, core.ReportID(filepath.Base(reportDir)))
	}
}

// schedule debounces per report so a marker written in several steps
// submits once.
func (w *Watcher) schedule(ctx context.Context, id core.ReportID) {
	if id.Validate() != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[id] {
		return
	}
	if t, ok := w.timers[id]; ok {
		t.Stop()
	}
	w.timers[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, id)
		// Claimed until the submit finishes.
		w.seen[id] = true
		w.mu.Unlock()

		if ctx.Err() != nil {
			w.forget(id)
			return
		}
		log := w.logger.WithReport(id)
		err := w.onReady(ctx, id)
		switch {
		case err == nil:
			log.Info("dropped report submitted")
		case core.IsNotFound(err):
			log.Debug("ready report no longer available", "error", err)
		case errors.Is(err, context.Canceled):
			w.forget(id)
		default:
			log.Warn("submitting dropped report", "error", err)
			w.forget(id)
		}
	})
}

// forget makes id eligible for the next rescan.
func (w *Watcher) forget(id core.ReportID) {
	w.mu.Lock()
	delete(w.seen, id)
	w.mu.Unlock()
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}

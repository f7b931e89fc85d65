package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/api"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload dispatcher and the local API",
	Long: `Run crashrelay as a long-lived process: restore the queue from disk,
upload reports as they are submitted, and serve the local HTTP API.

Examples:
  # Start with defaults (127.0.0.1:8787)
  crashrelay serve

  # Listen elsewhere and pick up reports dropped by other processes
  crashrelay serve --addr 127.0.0.1:9000 --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Address to listen on (default: server.addr)")
	serveCmd.Flags().Int("slots", 0, "Concurrent uploads (default: queue.slots)")
	serveCmd.Flags().Bool("watch", false, "Submit reports whose ready marker appears in the active area")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("queue.slots", serveCmd.Flags().Lookup("slots"))
	_ = viper.BindPFlag("watch.enabled", serveCmd.Flags().Lookup("watch"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.Config

	monitor := diagnostics.NewResourceMonitor(30*time.Second, 120, s.Logger)
	monitor.Start(ctx)
	defer monitor.Stop()
	reporter := newCrashReporter(s, "serve", monitor)

	res, err := s.Start(ctx)
	if err != nil {
		s.Logger.Warn("restoring queue", "error", err)
	}
	s.Logger.Info("crashrelay started",
		"instance", s.InstanceID,
		"transport", s.Transport.Name(),
		"slots", s.Queue.Slots(),
		"queued", res.Seeded,
		"consent", s.Gate.Enabled(),
	)

	srv := api.NewServer(s.Pipeline,
		api.WithLogger(s.Logger),
		api.WithEventBus(s.Bus),
		api.WithDeliveries(s.Journal),
		api.WithConfig(cfg),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithInstanceID(s.InstanceID),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(reporter, func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr)
	}))
	g.Go(guard(reporter, func() error {
		return s.Pipeline.Run(gctx)
	}))
	g.Go(guard(reporter, func() error {
		// Token checks still see marker changes if the watch cannot start.
		if err := s.Gate.Watch(gctx); err != nil {
			s.Logger.Warn("watching consent marker", "error", err)
		}
		return nil
	}))
	if cfg.Watch.Enabled {
		g.Go(guard(reporter, func() error {
			return s.Watcher().Run(gctx)
		}))
	}

	err = g.Wait()
	s.Logger.Info("crashrelay stopped")
	return err
}

// guard runs fn with panics captured as crash reports.
func guard(r *diagnostics.CrashReporter, fn func() error) func() error {
	return func() (err error) {
		defer r.RecoverAndReturn(&err)
		return fn()
	}
}

// newCrashReporter turns panics in this process into urgent reports. It is
// nil when panic capture is disabled.
func newCrashReporter(s *session, operation string, monitor *diagnostics.ResourceMonitor) *diagnostics.CrashReporter {
	if !s.Config.Diagnostics.CapturePanics {
		return nil
	}
	p := s.Pipeline
	capture := func(ctx context.Context, payload []byte) (core.ReportID, error) {
		r, err := p.Capture(ctx, payload, pipeline.CaptureOptions{Urgent: true, Submit: p.Gate().Enabled()})
		if r.ID != "" {
			if err != nil {
				s.Logger.WithReport(r.ID).Warn("crash report stored but not submitted", "error", err)
			}
			return r.ID, nil
		}
		return "", err
	}

	opts := []diagnostics.ReporterOption{
		diagnostics.WithStack(s.Config.Diagnostics.IncludeStack),
		diagnostics.WithHost(diagnostics.NewHostCollector(s.Config.Store.Dir)),
		diagnostics.WithReporterLogger(s.Logger),
	}
	if monitor != nil {
		opts = append(opts, diagnostics.WithMonitor(monitor))
	}
	r := diagnostics.NewCrashReporter(capture, opts...)
	r.SetOperation(operation)
	if cwd, err := os.Getwd(); err == nil {
		r.SetCommand(&diagnostics.CommandContext{Path: "crashrelay " + operation, Args: os.Args[1:], WorkDir: cwd})
	}
	return r
}

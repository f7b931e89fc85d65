package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/config"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/pipeline"
)

// loadConfig reads, validates and resolves the effective configuration.
// Relative paths are taken from the working directory.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	cfg.Resolve(cwd)
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr unless log.file is
// set.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	out := io.Writer(os.Stderr)
	closeFn := func() {}
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	level := cfg.Log.Level
	if quiet && (level == "" || level == "info" || level == "debug") {
		level = "warn"
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Log.Format, Output: out}), closeFn, nil
}

// session is an opened controller plus the resources a command must
// release.
type session struct {
	*pipeline.ControllerData
	closeLog func()
}

func (s *session) Close() {
	if err := s.ControllerData.Close(); err != nil {
		s.Logger.Warn("closing components", "error", err)
	}
	s.closeLog()
}

// openSession loads configuration and opens every component.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	data, err := pipeline.NewControllerData(ctx, cfg, logger)
	if err != nil {
		closeLog()
		return nil, err
	}
	return &session{ControllerData: data, closeLog: closeLog}, nil
}

// outputJSON writes the given value as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportIDs converts and validates command arguments.
func reportIDs(args []string) ([]core.ReportID, error) {
	ids := make([]core.ReportID, 0, len(args))
	for _, a := range args {
		id := core.ReportID(strings.TrimSpace(a))
		if err := id.Validate(); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

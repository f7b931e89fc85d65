// Package logging provides the process logger: slog with secret redaction
// and a compact console format for terminals.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// Logger wraps slog.Logger with report-scoped helpers.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the default logger configuration. Logs go to stderr
// so command output on stdout stays machine readable.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// Formats lists the accepted values of Config.Format.
func Formats() []string {
	return []string{"auto", "text", "json"}
}

// Levels lists the accepted values of Config.Level.
func Levels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// New creates a new logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := parseLevel(cfg.Level)
	sanitizer := NewSanitizer()
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default: // auto
		if isTerminal(cfg.Output) {
			handler = NewPrettyHandler(cfg.Output, level)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, opts)
		}
	}

	return &Logger{
		Logger:    slog.New(NewSanitizingHandler(handler, sanitizer)),
		sanitizer: sanitizer,
	}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

// ValidateConfig checks level and format names.
func ValidateConfig(cfg Config) error {
	var problems []string
	if cfg.Level != "" && !contains(Levels(), cfg.Level) {
		problems = append(problems, fmt.Sprintf("unknown log level %q", cfg.Level))
	}
	if cfg.Format != "" && !contains(Formats(), cfg.Format) {
		problems = append(problems, fmt.Sprintf("unknown log format %q", cfg.Format))
	}
	if len(problems) > 0 {
		return core.ErrValidation(core.CodeInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Slog returns the underlying slog logger for packages that only take
// *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// WithReport returns a logger scoped to one report.
func (l *Logger) WithReport(id core.ReportID) *Logger {
	return l.With("report_id", id.String())
}

// WithState returns a logger with lifecycle state context.
func (l *Logger) WithState(state core.State) *Logger {
	return l.With("state", state.String())
}

// WithSlot returns a logger scoped to an upload slot.
func (l *Logger) WithSlot(slot int) *Logger {
	return l.With("slot", slot)
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
	}
}

// Sanitizer returns the sanitizer used by this logger.
func (l *Logger) Sanitizer() *Sanitizer {
	return l.sanitizer
}

// Sanitize sanitizes a string using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}

package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
)

// ContentType is the media type of an encoded CrashDump.
const ContentType = "application/vnd.crashrelay.crashdump+json"

// CrashDump contains everything captured about one panic.
type CrashDump struct {
	// Metadata
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	// Panic information
	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	// State at crash
	ResourceState   ResourceSnapshot   `json:"resource_state"`
	ResourceHistory []ResourceSnapshot `json:"resource_history,omitempty"`
	Host            *HostInfo          `json:"host,omitempty"`

	// Execution context
	Operation   string   `json:"operation,omitempty"`
	CommandPath string   `json:"command_path,omitempty"`
	CommandArgs []string `json:"command_args,omitempty"`
	WorkDir     string   `json:"work_dir,omitempty"`

	// Environment (redacted)
	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// CommandContext identifies the command running when a crash happens.
type CommandContext struct {
	Path    string
	Args    []string
	WorkDir string
}

// CaptureFunc stores an encoded crash dump as a report.
type CaptureFunc func(ctx context.Context, payload []byte) (core.ReportID, error)

// CrashReporter turns recovered panics into reports.
type CrashReporter struct {
	capture      CaptureFunc
	includeStack bool
	includeEnv   bool
	timeout      time.Duration
	monitor      *ResourceMonitor
	host         *HostCollector
	logger       *logging.Logger

	operation atomic.Value // string
	command   atomic.Pointer[CommandContext]

	mu sync.Mutex
}

// ReporterOption configures a CrashReporter.
type ReporterOption func(*CrashReporter)

// WithStack controls whether dumps carry the goroutine stack.
func WithStack(include bool) ReporterOption {
	return func(r *CrashReporter) { r.includeStack = include }
}

// WithEnv controls whether dumps carry the redacted environment.
func WithEnv(include bool) ReporterOption {
	return func(r *CrashReporter) { r.includeEnv = include }
}

// WithMonitor adds the monitor's current state and history to dumps.
func WithMonitor(m *ResourceMonitor) ReporterOption {
	return func(r *CrashReporter) { r.monitor = m }
}

// WithHost adds host information to dumps.
func WithHost(h *HostCollector) ReporterOption {
	return func(r *CrashReporter) { r.host = h }
}

// WithCaptureTimeout bounds the capture call made while recovering.
func WithCaptureTimeout(d time.Duration) ReporterOption {
	return func(r *CrashReporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithReporterLogger sets the logger.
func WithReporterLogger(l *logging.Logger) ReporterOption {
	return func(r *CrashReporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewCrashReporter creates a reporter that hands dumps to capture.
func NewCrashReporter(capture CaptureFunc, opts ...ReporterOption) *CrashReporter {
	r := &CrashReporter{
		capture:      capture,
		includeStack: true,
		timeout:      10 * time.Second,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("diagnostics")
	r.operation.Store("")
	return r
}

// SetOperation names what the process is doing, for later dumps.
func (r *CrashReporter) SetOperation(op string) {
	r.operation.Store(op)
}

// SetCommand records the running command.
func (r *CrashReporter) SetCommand(cmd *CommandContext) {
	r.command.Store(cmd)
}

// Build assembles a dump for panicValue.
func (r *CrashReporter) Build(panicValue any) CrashDump {
	dump := CrashDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: r.logger.Sanitize(fmt.Sprintf("%v", panicValue)),
	}

	if r.includeStack {
		dump.StackTrace = string(debug.Stack())
	}
	if r.monitor != nil {
		r.monitor.CrashRecorded()
		dump.ResourceState = r.monitor.TakeSnapshot()
		dump.ResourceHistory = r.monitor.History()
	}
	if r.host != nil {
		info := r.host.Collect()
		dump.Host = &info
	}
	if op, ok := r.operation.Load().(string); ok {
		dump.Operation = op
	}
	if cmd := r.command.Load(); cmd != nil {
		dump.CommandPath = cmd.Path
		dump.CommandArgs = cmd.Args
		dump.WorkDir = cmd.WorkDir
	}
	if r.includeEnv {
		dump.RedactedEnv = redactEnvironment(os.Environ())
	}
	return dump
}

// Encode serializes a dump. History is dropped oldest first until the
// result fits in a report payload.
func Encode(dump CrashDump) ([]byte, error) {
	for {
		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling crash dump: %w", err)
		}
		if len(data) <= core.MaxPayloadBytes {
			return data, nil
		}
		if len(dump.ResourceHistory) > 0 {
			dump.ResourceHistory = dump.ResourceHistory[len(dump.ResourceHistory)/2+1:]
			continue
		}
		if dump.RedactedEnv != nil {
			dump.RedactedEnv = nil
			continue
		}
		if len(dump.StackTrace) > core.MaxPayloadBytes/2 {
			dump.StackTrace = dump.StackTrace[:core.MaxPayloadBytes/2]
			continue
		}
		return nil, core.ErrValidation(core.CodePayloadTooBig, "crash dump exceeds payload limit")
	}
}

// Decode parses an encoded dump.
func Decode(data []byte) (*CrashDump, error) {
	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}
	return &dump, nil
}

// Report builds, encodes and captures a dump for panicValue.
func (r *CrashReporter) Report(ctx context.Context, panicValue any) (core.ReportID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := Encode(r.Build(panicValue))
	if err != nil {
		return "", err
	}
	if r.capture == nil {
		return "", core.ErrValidation(core.CodeInvalidConfig, "crash reporter has no capture function")
	}
	return r.capture(ctx, data)
}

func (r *CrashReporter) recovered(v any) (core.ReportID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	id, err := r.Report(ctx, v)
	if err != nil {
		r.logger.Error("failed to capture crash report", "error", err, "panic", v)
		return "", err
	}
	r.logger.WithReport(id).Error("crash report captured", "panic", v)
	return id, nil
}

// RecoverAndCapture is deferred to capture a panic and then re-panic. A nil
// reporter leaves panics alone.
// Usage: defer reporter.RecoverAndCapture()
func (r *CrashReporter) RecoverAndCapture() {
	if r == nil {
		return
	}
	if v := recover(); v != nil {
		_, _ = r.recovered(v)
		panic(v)
	}
}

// RecoverAndReturn captures a panic and turns it into an error.
// Usage: defer reporter.RecoverAndReturn(&err)
//
//nolint:gocritic // ptrToRefParam: errPtr must be a pointer to modify the caller's error variable
func (r *CrashReporter) RecoverAndReturn(errPtr *error) {
	if r == nil {
		return
	}
	if v := recover(); v != nil {
		id, err := r.recovered(v)
		if err != nil {
			*errPtr = fmt.Errorf("panicked: %v (capture failed: %w)", v, err)
			return
		}
		*errPtr = fmt.Errorf("panicked: %v (report %s)", v, id)
	}
}

var sensitiveEnvSubstrings = []string{
	"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL",
	"AUTH", "PRIVATE", "API_KEY", "APIKEY", "SESSION",
}

func redactEnvironment(environ []string) map[string]string {
	result := make(map[string]string, len(environ))
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || key == "" {
			continue
		}
		upper := strings.ToUpper(key)
		sensitive := false
		for _, s := range sensitiveEnvSubstrings {
			if strings.Contains(upper, s) {
				sensitive = true
				break
			}
		}
		if sensitive {
			result[key] = "[REDACTED]"
		} else {
			result[key] = value
		}
	}
	return result
}

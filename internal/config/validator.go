package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/packaging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateStore(&cfg.Store)
	v.validateConsent(&cfg.Consent)
	v.validateQueue(&cfg.Queue)
	v.validateUpload(&cfg.Upload)
	v.validatePackaging(&cfg.Packaging)
	v.validateJournal(&cfg.Journal)
	v.validateServer(&cfg.Server)
	v.validateWatch(&cfg.Watch)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	if !slices.Contains(logging.Levels(), cfg.Level) {
		v.addError("log.level", cfg.Level, "must be one of: "+strings.Join(logging.Levels(), ", "))
	}
	if !slices.Contains(logging.Formats(), cfg.Format) {
		v.addError("log.format", cfg.Format, "must be one of: "+strings.Join(logging.Formats(), ", "))
	}
	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if cfg.Dir == "" {
		v.addError("store.dir", cfg.Dir, "required")
	} else if !isValidPath(cfg.Dir) {
		v.addError("store.dir", cfg.Dir, "invalid directory path")
	}
	if cfg.MaxAge != "" {
		v.validateDuration("store.max_age", cfg.MaxAge, true)
	}
}

func (v *Validator) validateConsent(cfg *ConsentConfig) {
	if cfg.Marker == "" {
		v.addError("consent.marker", cfg.Marker, "required")
	}
}

func (v *Validator) validateQueue(cfg *QueueConfig) {
	if cfg.Slots < 1 || cfg.Slots > 64 {
		v.addError("queue.slots", cfg.Slots, "must be between 1 and 64")
	}
	if cfg.MaxAttempts < 0 {
		v.addError("queue.max_attempts", cfg.MaxAttempts, "must be non-negative")
	}
	v.validateDuration("queue.retry_delay", cfg.RetryDelay, false)
}

func (v *Validator) validateUpload(cfg *UploadConfig) {
	v.validateDuration("upload.timeout", cfg.Timeout, true)

	switch cfg.Transport {
	case "http":
		if cfg.Endpoint != "" {
			u, err := url.Parse(cfg.Endpoint)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				v.addError("upload.endpoint", cfg.Endpoint, "must be an http or https URL")
			}
		}
		switch strings.ToUpper(cfg.Method) {
		case "PUT", "POST":
		default:
			v.addError("upload.method", cfg.Method, "must be PUT or POST")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			v.addError("upload.s3.bucket", cfg.S3.Bucket, "required for the s3 transport")
		}
		if (cfg.S3.AccessKey == "") != (cfg.S3.SecretKey == "") {
			v.addError("upload.s3.access_key", "[REDACTED]", "access_key and secret_key must be set together")
		}
	default:
		v.addError("upload.transport", cfg.Transport, "must be one of: http, s3")
	}
}

func (v *Validator) validatePackaging(cfg *PackagingConfig) {
	if !slices.Contains(packaging.Kinds(), cfg.Kind) {
		v.addError("packaging.kind", cfg.Kind, "must be one of: "+strings.Join(packaging.Kinds(), ", "))
	}
	if cfg.Level < 0 || cfg.Level > 22 {
		v.addError("packaging.level", cfg.Level, "must be between 0 and 22")
	}
}

func (v *Validator) validateJournal(cfg *JournalConfig) {
	if cfg.Path == "" {
		v.addError("journal.path", cfg.Path, "required")
	} else if !isValidPath(cfg.Path) {
		v.addError("journal.path", cfg.Path, "invalid file path")
	}
	v.validateDuration("journal.retention", cfg.Retention, true)
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		v.addError("server.addr", cfg.Addr, "must be host:port")
	}
}

func (v *Validator) validateWatch(cfg *WatchConfig) {
	if cfg.Enabled {
		v.validateDuration("watch.debounce", cfg.Debounce, false)
	}
}

func (v *Validator) validateDuration(field, value string, positive bool) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if positive && d <= 0 {
		v.addError(field, value, "must be positive")
	} else if d < 0 {
		v.addError(field, value, "must not be negative")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}

package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store" json:"store"`
	Consent     ConsentConfig     `mapstructure:"consent" yaml:"consent" json:"consent"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue" json:"queue"`
	Upload      UploadConfig      `mapstructure:"upload" yaml:"upload" json:"upload"`
	Packaging   PackagingConfig   `mapstructure:"packaging" yaml:"packaging" json:"packaging"`
	Journal     JournalConfig     `mapstructure:"journal" yaml:"journal" json:"journal"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch" json:"watch"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics" json:"diagnostics"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// StoreConfig configures the on-disk report store.
type StoreConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir" json:"dir"`
	MinFreeBytes uint64 `mapstructure:"min_free_bytes" yaml:"min_free_bytes" json:"min_free_bytes"`
	// MaxAge enables age-based purging when set, e.g. "720h".
	MaxAge string `mapstructure:"max_age" yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// ConsentConfig configures the data collection gate.
type ConsentConfig struct {
	Marker string `mapstructure:"marker" yaml:"marker" json:"marker"`
}

// QueueConfig configures the upload scheduler.
type QueueConfig struct {
	Slots int `mapstructure:"slots" yaml:"slots" json:"slots"`
	// MaxAttempts stops requeuing a report after this many failed uploads.
	// Zero means no limit.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	// RetryDelay is how long a failed report waits before rejoining the
	// queue while serving.
	RetryDelay string `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
}

// UploadConfig selects and configures the transport.
type UploadConfig struct {
	Transport string            `mapstructure:"transport" yaml:"transport" json:"transport"`
	Endpoint  string            `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method    string            `mapstructure:"method" yaml:"method" json:"method"`
	Timeout   string            `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Headers   map[string]string `mapstructure:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`
	S3        S3Config          `mapstructure:"s3" yaml:"s3" json:"s3"`
}

// S3Config configures the S3 transport.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
}

// PackagingConfig selects the packager.
type PackagingConfig struct {
	Kind  string `mapstructure:"kind" yaml:"kind" json:"kind"`
	Level int    `mapstructure:"level" yaml:"level" json:"level"`
}

// JournalConfig configures the delivery journal.
type JournalConfig struct {
	Path      string `mapstructure:"path" yaml:"path" json:"path"`
	Retention string `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// WatchConfig configures the active-area watcher.
type WatchConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Debounce string `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
}

// DiagnosticsConfig configures in-process panic capture.
type DiagnosticsConfig struct {
	CapturePanics bool `mapstructure:"capture_panics" yaml:"capture_panics" json:"capture_panics"`
	IncludeStack  bool `mapstructure:"include_stack" yaml:"include_stack" json:"include_stack"`
}

// UploadTimeout returns the parsed upload timeout. Invalid values fall back
// to zero so the uploader default applies; Validate reports them.
func (c *Config) UploadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Upload.Timeout)
	return d
}

// MaxAge returns the parsed store.max_age, or zero when disabled.
func (c *Config) MaxAge() time.Duration {
	d, _ := time.ParseDuration(c.Store.MaxAge)
	return d
}

// JournalRetention returns the parsed journal.retention.
func (c *Config) JournalRetention() time.Duration {
	d, _ := time.ParseDuration(c.Journal.Retention)
	return d
}

// RetryDelay returns the parsed queue.retry_delay.
func (c *Config) RetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.Queue.RetryDelay)
	return d
}

// WatchDebounce returns the parsed watch.debounce.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := time.ParseDuration(c.Watch.Debounce)
	return d
}

// Resolve makes relative paths absolute against base.
func (c *Config) Resolve(base string) {
	for _, p := range []*string{&c.Store.Dir, &c.Consent.Marker, &c.Journal.Path, &c.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Redacted returns a copy of c with credentials replaced, safe to print or
// serve.
func (c *Config) Redacted() Config {
	const mask = "[REDACTED]"
	out := *c
	if out.Upload.S3.AccessKey != "" {
		out.Upload.S3.AccessKey = mask
	}
	if out.Upload.S3.SecretKey != "" {
		out.Upload.S3.SecretKey = mask
	}
	if len(c.Upload.Headers) > 0 {
		out.Upload.Headers = make(map[string]string, len(c.Upload.Headers))
		for k := range c.Upload.Headers {
			out.Upload.Headers[k] = mask
		}
	}
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return out
}

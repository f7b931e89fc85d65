package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "auto"},
		Store:     StoreConfig{Dir: ".crashrelay/reports", MinFreeBytes: 64 << 20},
		Consent:   ConsentConfig{Marker: ".crashrelay/consent.json"},
		Queue:     QueueConfig{Slots: 1, RetryDelay: "30s"},
		Upload:    UploadConfig{Transport: "http", Endpoint: "https://crash.example.com/v1", Method: "PUT", Timeout: "60s"},
		Packaging: PackagingConfig{Kind: "zstd", Level: 3},
		Journal:   JournalConfig{Path: ".crashrelay/journal.db", Retention: "720h"},
		Server:    ServerConfig{Addr: "127.0.0.1:8787"},
		Watch:     WatchConfig{Debounce: "250ms"},
	}
}

func fieldsOf(err error) []string {
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := NewValidator().Validate(validConfig()); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidator_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"store dir", func(c *Config) { c.Store.Dir = "" }, "store.dir"},
		{"max age", func(c *Config) { c.Store.MaxAge = "soon" }, "store.max_age"},
		{"negative max age", func(c *Config) { c.Store.MaxAge = "-1h" }, "store.max_age"},
		{"consent marker", func(c *Config) { c.Consent.Marker = "" }, "consent.marker"},
		{"zero slots", func(c *Config) { c.Queue.Slots = 0 }, "queue.slots"},
		{"too many slots", func(c *Config) { c.Queue.Slots = 100 }, "queue.slots"},
		{"max attempts", func(c *Config) { c.Queue.MaxAttempts = -1 }, "queue.max_attempts"},
		{"retry delay", func(c *Config) { c.Queue.RetryDelay = "-5s" }, "queue.retry_delay"},
		{"transport", func(c *Config) { c.Upload.Transport = "ftp" }, "upload.transport"},
		{"endpoint scheme", func(c *Config) { c.Upload.Endpoint = "ftp://example.com" }, "upload.endpoint"},
		{"method", func(c *Config) { c.Upload.Method = "PATCH" }, "upload.method"},
		{"timeout", func(c *Config) { c.Upload.Timeout = "0s" }, "upload.timeout"},
		{"s3 bucket", func(c *Config) { c.Upload.Transport = "s3" }, "upload.s3.bucket"},
		{"s3 half credentials", func(c *Config) {
			c.Upload.Transport = "s3"
			c.Upload.S3.Bucket = "b"
			c.Upload.S3.AccessKey = "AKIA"
		}, "upload.s3.access_key"},
		{"packaging kind", func(c *Config) { c.Packaging.Kind = "gzip" }, "packaging.kind"},
		{"packaging level", func(c *Config) { c.Packaging.Level = 40 }, "packaging.level"},
		{"journal path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"journal retention", func(c *Config) { c.Journal.Retention = "forever" }, "journal.retention"},
		{"server addr", func(c *Config) { c.Server.Addr = "8787" }, "server.addr"},
		{"watch debounce", func(c *Config) {
			c.Watch.Enabled = true
			c.Watch.Debounce = "later"
		}, "watch.debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			fields := fieldsOf(err)
			if len(fields) != 1 || fields[0] != tt.field {
				t.Errorf("invalid fields = %v, want [%s]", fields, tt.field)
			}
		})
	}
}

func TestValidator_EmptyEndpointAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Upload.Endpoint = ""
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidator_DisabledWatchSkipsDebounce(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.Debounce = "later"
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidator_S3SecretNotEchoed(t *testing.T) {
	cfg := validConfig()
	cfg.Upload.Transport = "s3"
	cfg.Upload.S3.Bucket = "b"
	cfg.Upload.S3.SecretKey = "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	if strings.Contains(err.Error(), cfg.Upload.S3.SecretKey) {
		t.Errorf("error leaks secret: %v", err)
	}
}

func TestValidator_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "invalid"
	cfg.Queue.Slots = 0
	cfg.Packaging.Kind = "rar"

	v := NewValidator()
	if err := v.Validate(cfg); err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	if len(v.Errors()) != 3 {
		t.Errorf("len(Errors()) = %d, want 3", len(v.Errors()))
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   "test-value",
		Message: "test message",
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "test.field") {
		t.Error("error string should contain field name")
	}
	if !strings.Contains(errStr, "test message") {
		t.Error("error string should contain message")
	}
	if !strings.Contains(errStr, "test-value") {
		t.Error("error string should contain value")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "field1", Value: "v1", Message: "msg1"},
		{Field: "field2", Value: "v2", Message: "msg2"},
	}

	errStr := errs.Error()
	if !strings.Contains(errStr, "field1") {
		t.Error("error string should contain field1")
	}
	if !strings.Contains(errStr, "field2") {
		t.Error("error string should contain field2")
	}
}

func TestValidationErrors_HasErrors(t *testing.T) {
	empty := ValidationErrors{}
	if empty.HasErrors() {
		t.Error("empty ValidationErrors should not have errors")
	}

	withErrors := ValidationErrors{
		{Field: "f", Value: "v", Message: "m"},
	}
	if !withErrors.HasErrors() {
		t.Error("non-empty ValidationErrors should have errors")
	}
}

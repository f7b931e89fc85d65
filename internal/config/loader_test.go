package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}
	if cfg.Store.Dir != ".crashrelay/reports" {
		t.Errorf("Store.Dir = %q, want %q", cfg.Store.Dir, ".crashrelay/reports")
	}
	if cfg.Store.MinFreeBytes != 64<<20 {
		t.Errorf("Store.MinFreeBytes = %d, want %d", cfg.Store.MinFreeBytes, 64<<20)
	}
	// A single upload slot unless configured otherwise.
	if cfg.Queue.Slots != 1 {
		t.Errorf("Queue.Slots = %d, want 1", cfg.Queue.Slots)
	}
	if cfg.Upload.Transport != "http" {
		t.Errorf("Upload.Transport = %q, want %q", cfg.Upload.Transport, "http")
	}
	if cfg.UploadTimeout() != 60*time.Second {
		t.Errorf("UploadTimeout() = %v, want 60s", cfg.UploadTimeout())
	}
	if cfg.Packaging.Kind != "zstd" {
		t.Errorf("Packaging.Kind = %q, want %q", cfg.Packaging.Kind, "zstd")
	}
	if cfg.JournalRetention() != 720*time.Hour {
		t.Errorf("JournalRetention() = %v, want 720h", cfg.JournalRetention())
	}
	if cfg.MaxAge() != 0 {
		t.Errorf("MaxAge() = %v, want 0 (disabled)", cfg.MaxAge())
	}
	if cfg.Watch.Enabled {
		t.Error("Watch.Enabled = true, want false")
	}
	if !cfg.Diagnostics.CapturePanics {
		t.Error("Diagnostics.CapturePanics = false, want true")
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("CRASHRELAY_LOG_LEVEL", "debug")
	t.Setenv("CRASHRELAY_QUEUE_SLOTS", "3")
	t.Setenv("CRASHRELAY_UPLOAD_ENDPOINT", "https://crash.example.com/v1/reports")

	loader := NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Queue.Slots != 3 {
		t.Errorf("Queue.Slots = %d, want 3", cfg.Queue.Slots)
	}
	if cfg.Upload.Endpoint != "https://crash.example.com/v1/reports" {
		t.Errorf("Upload.Endpoint = %q", cfg.Upload.Endpoint)
	}
}

func TestLoader_ConfigFileOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	content := `
log:
  level: warn
  format: json
queue:
  slots: 2
  max_attempts: 5
upload:
  transport: s3
  s3:
    bucket: crash-reports
    prefix: desktop
packaging:
  kind: lz4
`
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want warn/json", cfg.Log)
	}
	if cfg.Queue.Slots != 2 || cfg.Queue.MaxAttempts != 5 {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Upload.Transport != "s3" || cfg.Upload.S3.Bucket != "crash-reports" || cfg.Upload.S3.Prefix != "desktop" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	if cfg.Packaging.Kind != "lz4" {
		t.Errorf("Packaging.Kind = %q, want lz4", cfg.Packaging.Kind)
	}
	// Untouched keys keep their defaults.
	if cfg.Store.Dir != ".crashrelay/reports" {
		t.Errorf("Store.Dir = %q, want default", cfg.Store.Dir)
	}
}

func TestLoader_Precedence(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	t.Setenv("CRASHRELAY_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want %q (env beats file)", cfg.Log.Level, "error")
	}
}

func TestLoader_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	if _, err := NewLoader().WithConfigFile(configPath).Load(); err == nil {
		t.Fatal("Load() expected error for malformed YAML")
	}
}

func TestLoader_ConfigFileUsed(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loader.ConfigFile() != configPath {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), configPath)
	}
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	t.Setenv("RELAYTEST_LOG_LEVEL", "warn")

	cfg, err := NewLoader().WithEnvPrefix("RELAYTEST").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
}

func TestLoader_GetSet(t *testing.T) {
	loader := NewLoader()
	loader.Set("queue.slots", 4)
	if !loader.IsSet("queue.slots") {
		t.Error("IsSet(queue.slots) = false")
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Queue.Slots != 4 {
		t.Errorf("Queue.Slots = %d, want 4", cfg.Queue.Slots)
	}
	if loader.Get("queue.slots") != 4 {
		t.Errorf("Get(queue.slots) = %v", loader.Get("queue.slots"))
	}
}

func TestDefaultConfigYAML_LoadsAndValidates(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(DefaultConfigYAML), 0o600); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig() error = %v", err)
	}
}

func TestConfig_Resolve(t *testing.T) {
	cfg := &Config{
		Store:   StoreConfig{Dir: "reports"},
		Consent: ConsentConfig{Marker: "/etc/crashrelay/consent.json"},
		Journal: JournalConfig{Path: "journal.db"},
	}
	cfg.Resolve("/srv/app")

	if cfg.Store.Dir != filepath.Join("/srv/app", "reports") {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}
	if cfg.Consent.Marker != "/etc/crashrelay/consent.json" {
		t.Errorf("absolute path rewritten: %q", cfg.Consent.Marker)
	}
	if cfg.Log.File != "" {
		t.Errorf("empty path rewritten: %q", cfg.Log.File)
	}
}

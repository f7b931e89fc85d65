package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment override, e.g.
// CRASHRELAY_UPLOAD_ENDPOINT.
const DefaultEnvPrefix = "CRASHRELAY"

// defaults seeds every key a config file may omit.
var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "auto",

	"store.dir":            ".crashrelay/reports",
	"store.min_free_bytes": 64 << 20,
	"store.max_age":        "",

	"consent.marker": ".crashrelay/consent.json",

	"queue.slots":        1,
	"queue.max_attempts": 0,
	"queue.retry_delay":  "30s",

	"upload.transport": "http",
	"upload.method":    "PUT",
	"upload.timeout":   "60s",

	"packaging.kind":  "zstd",
	"packaging.level": 3,

	"journal.path":      ".crashrelay/journal.db",
	"journal.retention": "720h",

	"server.addr":         "127.0.0.1:8787",
	"server.cors_origins": []string{"http://localhost:*", "http://127.0.0.1:*"},

	"watch.enabled":  false,
	"watch.debounce": "250ms",

	"diagnostics.capture_panics": true,
	"diagnostics.include_stack":  true,
}

// Loader resolves a Config from, highest precedence first: bound CLI
// flags, CRASHRELAY_* environment variables, one config file, defaults.
// Without an explicit file it searches ./.crashrelay and then
// ~/.config/crashrelay for config.yaml.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader backed by a private viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader around v, typically the global
// instance the CLI binds its flags to.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v, envPrefix: DefaultEnvPrefix}
}

// WithConfigFile skips the search and reads path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix replaces CRASHRELAY as the environment prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads every source and decodes the result. A missing config file is
// not an error when none was named explicitly.
func (l *Loader) Load() (*Config, error) {
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
	l.bindEnv()

	if err := l.readFile(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) bindEnv() {
	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *Loader) readFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		for _, dir := range searchPaths() {
			l.v.AddConfigPath(dir)
		}
	}

	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("reading config: %w", err)
}

func searchPaths() []string {
	paths := []string{".crashrelay"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "crashrelay"))
	}
	return paths
}

// ConfigFile returns the file Load read, or "" when none was found.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns the current value of key.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set overrides key above every other source.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// IsSet reports whether key has a value from any source.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

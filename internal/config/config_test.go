package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Redacted(t *testing.T) {
	cfg := &Config{
		Upload: UploadConfig{
			Headers: map[string]string{"Authorization": "Bearer abc"},
			S3:      S3Config{Bucket: "crashes", AccessKey: "AKIA", SecretKey: "shh"},
		},
		Server: ServerConfig{CORSOrigins: []string{"http://localhost:*"}},
	}

	out := cfg.Redacted()
	assert.Equal(t, "[REDACTED]", out.Upload.S3.AccessKey)
	assert.Equal(t, "[REDACTED]", out.Upload.S3.SecretKey)
	assert.Equal(t, "[REDACTED]", out.Upload.Headers["Authorization"])
	assert.Equal(t, "crashes", out.Upload.S3.Bucket)

	assert.Equal(t, "shh", cfg.Upload.S3.SecretKey)
	assert.Equal(t, "Bearer abc", cfg.Upload.Headers["Authorization"])
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "http://localhost:*", cfg.Server.CORSOrigins[0])
}

func TestConfig_RedactedLeavesEmptyCredentials(t *testing.T) {
	out := (&Config{}).Redacted()
	assert.Empty(t, out.Upload.S3.SecretKey)
	assert.Nil(t, out.Upload.Headers)
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Upload:  UploadConfig{Timeout: "90s"},
		Store:   StoreConfig{MaxAge: "bogus"},
		Journal: JournalConfig{Retention: "24h"},
		Queue:   QueueConfig{RetryDelay: "5s"},
		Watch:   WatchConfig{Debounce: "100ms"},
	}
	assert.Equal(t, 90*time.Second, cfg.UploadTimeout())
	assert.Zero(t, cfg.MaxAge())
	assert.Equal(t, 24*time.Hour, cfg.JournalRetention())
	assert.Equal(t, 5*time.Second, cfg.RetryDelay())
	assert.Equal(t, 100*time.Millisecond, cfg.WatchDebounce())
}

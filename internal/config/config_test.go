// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, int64(100<<20), cfg.MaxFileSize)
	assert.Equal(t, 15*time.Minute, cfg.Retention)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("FILE_RETENTION_MINUTES", "30")
	t.Setenv("PROCESSING_TIMEOUT_MS", "1000")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, int64(1<<20), cfg.MaxFileSize)
	assert.Equal(t, 30*time.Minute, cfg.Retention)
	assert.Equal(t, time.Second, cfg.ProcessingTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestParseFallbacksOnInvalidInput(t *testing.T) {
	t.Setenv("AL_TEST_INT", "not-a-number")
	t.Setenv("AL_TEST_MS", "-5")
	t.Setenv("AL_TEST_MIN", "zero")
	t.Setenv("AL_TEST_STR", "")

	assert.Equal(t, 7, ParseInt("AL_TEST_INT", 7))
	assert.Equal(t, int64(9), ParseInt64("AL_TEST_INT", 9))
	assert.Equal(t, time.Minute, ParseMillis("AL_TEST_MS", time.Minute))
	assert.Equal(t, time.Hour, ParseMinutes("AL_TEST_MIN", time.Hour))
	assert.Equal(t, "fallback", ParseString("AL_TEST_STR", "fallback"), "empty counts as unset")
}

func TestValidate(t *testing.T) {
	valid := Load()
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"port zero":           func(c *Config) { c.Port = 0 },
		"port out of range":   func(c *Config) { c.Port = 70000 },
		"file size zero":      func(c *Config) { c.MaxFileSize = 0 },
		"no workers":          func(c *Config) { c.MaxConcurrentJobs = 0 },
		"missing upload dir":  func(c *Config) { c.UploadDir = "" },
		"timeout zero":        func(c *Config) { c.ProcessingTimeout = 0 },
		"rate limit disabled": func(c *Config) { c.RateLimitMax = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// SPDX-License-Identifier: MIT

// Package config provides environment-driven configuration for audiolevel.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds every runtime option of the server. Values are read once at
// startup; changing the environment requires a restart.
type Config struct {
	Port     int
	RedisURL string

	UploadDir string
	OutputDir string

	MaxFileSize int64         // admission cap, bytes
	Retention   time.Duration // artifact and job record lifetime

	MaxConcurrentJobs  int
	ProcessingTimeout  time.Duration // per toolchain invocation
	FinalEncodeTimeout time.Duration // final container encode only

	LogLevel    string
	CORSOrigins []string

	FFmpegPath  string
	FFprobePath string

	// Optional external perceptual quality model. Empty path selects the
	// spectral-difference fallback.
	QualityModelPath    string
	QualityModelWeights string

	MinFreeDiskBytes int64

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load reads the configuration from the environment.
func Load() Config {
	cfg := Config{
		Port:                ParseInt("PORT", 8080),
		RedisURL:            ParseString("REDIS_URL", "redis://localhost:6379/0"),
		UploadDir:           ParseString("UPLOAD_DIR", "./data/uploads"),
		OutputDir:           ParseString("OUTPUT_DIR", "./data/outputs"),
		MaxFileSize:         ParseInt64("MAX_FILE_SIZE", 100<<20),
		Retention:           ParseMinutes("FILE_RETENTION_MINUTES", 15*time.Minute),
		MaxConcurrentJobs:   ParseInt("MAX_CONCURRENT_JOBS", 2),
		ProcessingTimeout:   ParseMillis("PROCESSING_TIMEOUT_MS", 5*time.Minute),
		FinalEncodeTimeout:  ParseMillis("FINAL_ENCODE_TIMEOUT_MS", time.Hour),
		LogLevel:            ParseString("LOG_LEVEL", "info"),
		FFmpegPath:          ParseString("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:         ParseString("FFPROBE_PATH", "ffprobe"),
		QualityModelPath:    ParseString("QUALITY_MODEL_PATH", ""),
		QualityModelWeights: ParseString("QUALITY_MODEL_WEIGHTS", ""),
		MinFreeDiskBytes:    ParseInt64("MIN_FREE_DISK_BYTES", 1<<30),
		RateLimitMax:        ParseInt("RATE_LIMIT_MAX", 10),
		RateLimitWindow:     ParseMillis("RATE_LIMIT_WINDOW_MS", 15*time.Minute),
	}

	origins := ParseString("CORS_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.UploadDir == "" || c.OutputDir == "" {
		return fmt.Errorf("UPLOAD_DIR and OUTPUT_DIR must be set")
	}
	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT_MS must be positive")
	}
	if c.RateLimitMax < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit policy must allow at least one request per window")
	}
	return nil
}

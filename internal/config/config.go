// Package config loads the YAML configuration file and applies
// defaults and clamping so every component receives sane values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir holds the sqlite database and the payload directory.
	DataDir string `yaml:"data_dir"`

	Capture   CaptureConfig   `yaml:"capture"`
	Clipboard ClipboardConfig `yaml:"clipboard"`
	Text      TextConfig      `yaml:"text"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Retention RetentionConfig `yaml:"retention"`

	LogLevel string `yaml:"log_level"`
}

// CaptureConfig controls the screen capture scheduler and dedup filter.
type CaptureConfig struct {
	IntervalSeconds     float64 `yaml:"interval_seconds"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ClipboardConfig controls the clipboard watcher.
type ClipboardConfig struct {
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	MaxItems            int     `yaml:"max_items"`
}

// TextConfig controls the typed-text aggregator.
type TextConfig struct {
	MinLength       int     `yaml:"min_length"`
	DebounceSeconds float64 `yaml:"debounce_seconds"`
}

// EnrichConfig controls the OCR enrichment worker pool.
type EnrichConfig struct {
	Workers       int     `yaml:"workers"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxRetries    int     `yaml:"max_retries"`
	MaxImageSide  int     `yaml:"max_image_side"`
}

// RetentionConfig controls the scheduled cleanup sweep.
type RetentionConfig struct {
	// Schedule is a cron expression; empty disables the sweep.
	Schedule string `yaml:"schedule"`
	// MaxAgeDays deletes records older than this; 0 keeps forever.
	MaxAgeDays int `yaml:"max_age_days"`
}

// Similarity threshold bounds: below 0.85 near-identical frames flood
// storage, above 0.97 distinct frames get dropped.
const (
	minSimilarityThreshold = 0.85
	maxSimilarityThreshold = 0.97
)

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".glimpse"),
		Capture: CaptureConfig{
			IntervalSeconds:     3.0,
			SimilarityThreshold: 0.95,
		},
		Clipboard: ClipboardConfig{
			PollIntervalSeconds: 1.0,
			MaxItems:            100,
		},
		Text: TextConfig{
			MinLength:       3,
			DebounceSeconds: 2.0,
		},
		Enrich: EnrichConfig{
			Workers:       2,
			MinConfidence: 0.3,
			MaxRetries:    3,
			MaxImageSide:  1600,
		},
		Retention: RetentionConfig{
			Schedule:   "0 4 * * *",
			MaxAgeDays: 0,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of the defaults. A missing
// file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.normalize()
	return cfg, nil
}

// validate rejects values that cannot be fixed by clamping.
func (c *Config) validate() error {
	if c.Retention.Schedule != "" {
		if !gronx.New().IsValid(c.Retention.Schedule) {
			return fmt.Errorf("retention.schedule: invalid cron expression %q", c.Retention.Schedule)
		}
	}
	return nil
}

// normalize clamps out-of-range values back to usable ones.
func (c *Config) normalize() {
	if c.Capture.IntervalSeconds <= 0 {
		c.Capture.IntervalSeconds = 3.0
	}
	if c.Capture.SimilarityThreshold < minSimilarityThreshold {
		c.Capture.SimilarityThreshold = minSimilarityThreshold
	}
	if c.Capture.SimilarityThreshold > maxSimilarityThreshold {
		c.Capture.SimilarityThreshold = maxSimilarityThreshold
	}
	if c.Clipboard.PollIntervalSeconds <= 0 {
		c.Clipboard.PollIntervalSeconds = 1.0
	}
	if c.Clipboard.MaxItems <= 0 {
		c.Clipboard.MaxItems = 100
	}
	if c.Text.MinLength <= 0 {
		c.Text.MinLength = 3
	}
	if c.Text.DebounceSeconds <= 0 {
		c.Text.DebounceSeconds = 2.0
	}
	if c.Enrich.Workers <= 0 {
		c.Enrich.Workers = 2
	}
	if c.Enrich.MinConfidence < 0 || c.Enrich.MinConfidence > 1 {
		c.Enrich.MinConfidence = 0.3
	}
	if c.Enrich.MaxRetries < 0 {
		c.Enrich.MaxRetries = 3
	}
	if c.Enrich.MaxImageSide <= 0 {
		c.Enrich.MaxImageSide = 1600
	}
	if c.Retention.MaxAgeDays < 0 {
		c.Retention.MaxAgeDays = 0
	}
}

// CaptureInterval returns the capture cadence as a duration.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Capture.IntervalSeconds * float64(time.Second))
}

// ClipboardPollInterval returns the clipboard poll cadence as a duration.
func (c *Config) ClipboardPollInterval() time.Duration {
	return time.Duration(c.Clipboard.PollIntervalSeconds * float64(time.Second))
}

// TextDebounce returns the typed-text debounce window as a duration.
func (c *Config) TextDebounce() time.Duration {
	return time.Duration(c.Text.DebounceSeconds * float64(time.Second))
}

// DatabasePath returns the sqlite file location under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "glimpse.db")
}

// PayloadDir returns the binary payload directory under DataDir.
func (c *Config) PayloadDir() string {
	return filepath.Join(c.DataDir, "payloads")
}

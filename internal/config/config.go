// Package config defines the collection engine's configuration record,
// its defaults, validation, and named strategy presets.
package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the input record the Session Orchestrator (C9) is driven by.
type Config struct {
	Session  SessionConfig  `mapstructure:"session"  yaml:"session"`
	Limiter  LimiterConfig  `mapstructure:"limiter"  yaml:"limiter"`
	Browser  BrowserConfig  `mapstructure:"browser"  yaml:"browser"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Strategy string         `mapstructure:"strategy" yaml:"strategy"`
}

// SessionConfig controls a single Run invocation (§6 of SPEC_FULL.md).
type SessionConfig struct {
	URLsPerSession      int           `mapstructure:"urls_per_session"       yaml:"urls_per_session"`
	MaxPages            int           `mapstructure:"max_pages"              yaml:"max_pages"`
	MaxConcurrent       int           `mapstructure:"max_concurrent"         yaml:"max_concurrent"`
	DiversityMode       string        `mapstructure:"diversity_mode"         yaml:"diversity_mode"`
	ActiveURLs          []string      `mapstructure:"active_urls"            yaml:"active_urls"`
	EnableIncremental   bool          `mapstructure:"enable_incremental"     yaml:"enable_incremental"`
	EnableDeduplication bool          `mapstructure:"enable_deduplication"   yaml:"enable_deduplication"`
	EnableSimilarityDedup bool        `mapstructure:"enable_similarity_dedup" yaml:"enable_similarity_dedup"`
	ForceFull           bool          `mapstructure:"force_full"             yaml:"force_full"`
	CacheDir            string        `mapstructure:"cache_dir"              yaml:"cache_dir"`
	ResultsDir          string        `mapstructure:"results_dir"            yaml:"results_dir"`
	CheckpointDir       string        `mapstructure:"checkpoint_dir"         yaml:"checkpoint_dir"`
	CompressionLevel    int           `mapstructure:"compression_level"      yaml:"compression_level"`
	MaxSizeMB           int           `mapstructure:"max_size_mb"            yaml:"max_size_mb"`
	MaxFilesPerType     int           `mapstructure:"max_files_per_type"     yaml:"max_files_per_type"`
	PageLoadTimeout     time.Duration `mapstructure:"page_load_timeout"      yaml:"page_load_timeout"`
	ElementWaitTimeout  time.Duration `mapstructure:"element_wait_timeout"   yaml:"element_wait_timeout"`
	LeaseDeadline       time.Duration `mapstructure:"lease_deadline"         yaml:"lease_deadline"`
	RetryAttempts       int           `mapstructure:"retry_attempts"         yaml:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"            yaml:"retry_delay"`
	MinMLSamples        int           `mapstructure:"min_ml_samples"         yaml:"min_ml_samples"`
}

// LimiterConfig tunes C1.
type LimiterConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstLimit        int     `mapstructure:"burst_limit"         yaml:"burst_limit"`
}

// BrowserConfig tunes C2's headless engine.
type BrowserConfig struct {
	Headless   bool     `mapstructure:"headless"    yaml:"headless"`
	UserAgent  string   `mapstructure:"user_agent"  yaml:"user_agent"`
	ViewportW  int      `mapstructure:"viewport_w"  yaml:"viewport_w"`
	ViewportH  int      `mapstructure:"viewport_h"  yaml:"viewport_h"`
	CustomArgs []string `mapstructure:"custom_args" yaml:"custom_args"`
	MinPages   int      `mapstructure:"min_pages"   yaml:"min_pages"`
	MaxPages   int      `mapstructure:"max_pages"   yaml:"max_pages"`
	IdleTTL    time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
}

// StorageConfig controls the Compressed Cache's optional secondary sink.
type StorageConfig struct {
	Mongo MongoConfig `mapstructure:"mongo" yaml:"mongo"`
}

// MongoConfig configures the optional Mongo mirror for C8.
type MongoConfig struct {
	Enabled    bool   `mapstructure:"enabled"    yaml:"enabled"`
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the metrics HTTP exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			URLsPerSession:      10,
			MaxPages:            5,
			MaxConcurrent:       4,
			DiversityMode:       "balanced",
			EnableIncremental:   true,
			EnableDeduplication: true,
			CacheDir:            "./data/cache",
			ResultsDir:          "./data/results",
			CheckpointDir:       "./data/checkpoints",
			CompressionLevel:    6,
			MaxSizeMB:           512,
			MaxFilesPerType:     30,
			PageLoadTimeout:     15 * time.Second,
			ElementWaitTimeout:  5 * time.Second,
			LeaseDeadline:       10 * time.Second,
			RetryAttempts:       3,
			RetryDelay:          2 * time.Second,
			MinMLSamples:        5,
		},
		Limiter: LimiterConfig{
			RequestsPerSecond: 1.5,
			BurstLimit:        3,
		},
		Browser: BrowserConfig{
			Headless:  true,
			ViewportW: 1366,
			ViewportH: 768,
			MinPages:  1,
			MaxPages:  4,
			IdleTTL:   2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// strategyPreset bundles the concurrency/interval/page knobs the original
// source exposed as named presets (SPEC_FULL.md §12).
type strategyPreset struct {
	maxConcurrent int
	rps           float64
	maxPages      int
}

var strategyPresets = map[string]strategyPreset{
	"conservative": {maxConcurrent: 2, rps: 0.75, maxPages: 3},
	"balanced":     {maxConcurrent: 4, rps: 1.5, maxPages: 5},
	"aggressive":   {maxConcurrent: 8, rps: 3.0, maxPages: 8},
}

// ApplyStrategy populates unset concurrency/rate/page fields from the named
// preset. Fields already set by the user (file/env/flag) are left alone;
// this only fills gaps, it never overrides an explicit value.
func (c *Config) ApplyStrategy() {
	preset, ok := strategyPresets[c.Strategy]
	if !ok {
		return
	}
	if c.Session.MaxConcurrent == 0 {
		c.Session.MaxConcurrent = preset.maxConcurrent
	}
	if c.Limiter.RequestsPerSecond == 0 {
		c.Limiter.RequestsPerSecond = preset.rps
	}
	if c.Session.MaxPages == 0 {
		c.Session.MaxPages = preset.maxPages
	}
}

package config

import (
	"fmt"

	"github.com/edukz/vagas-collector/internal/errs"
)

// validModes is the closed set of §4.3 diversity policies.
var validModes = map[string]bool{
	"balanced": true, "geographic": true, "remote_only": true,
	"professional": true, "seniority": true, "complete": true,
	"custom": true, "ml": true,
}

// Validate checks the configuration for invalid values. It fails before
// any I/O happens, grounding the Config error kind (§7).
func Validate(cfg *Config) error {
	s := cfg.Session
	if s.URLsPerSession < 1 {
		return &errs.ConfigError{Field: "session.urls_per_session", Cause: errBounds("must be >= 1")}
	}
	if s.MaxPages < 1 {
		return &errs.ConfigError{Field: "session.max_pages", Cause: errBounds("must be >= 1")}
	}
	if s.MaxConcurrent < 1 {
		return &errs.ConfigError{Field: "session.max_concurrent", Cause: errBounds("must be >= 1")}
	}
	if !validModes[s.DiversityMode] {
		return &errs.ConfigError{Field: "session.diversity_mode", Cause: errBounds("unrecognized policy %q", s.DiversityMode)}
	}
	if s.DiversityMode == "custom" && len(s.ActiveURLs) == 0 {
		return &errs.ConfigError{Field: "session.active_urls", Cause: errBounds("custom mode requires active_urls")}
	}
	if s.CompressionLevel < 1 || s.CompressionLevel > 9 {
		return &errs.ConfigError{Field: "session.compression_level", Cause: errBounds("must be 1..9")}
	}
	if s.CacheDir == "" || s.ResultsDir == "" || s.CheckpointDir == "" {
		return &errs.ConfigError{Field: "session.*_dir", Cause: errBounds("cache_dir/results_dir/checkpoint_dir must be set")}
	}
	if s.PageLoadTimeout <= 0 || s.ElementWaitTimeout <= 0 || s.LeaseDeadline <= 0 {
		return &errs.ConfigError{Field: "session.*_timeout", Cause: errBounds("timeouts must be > 0")}
	}
	if s.RetryAttempts < 0 {
		return &errs.ConfigError{Field: "session.retry_attempts", Cause: errBounds("must be >= 0")}
	}
	if s.MinMLSamples < 1 {
		return &errs.ConfigError{Field: "session.min_ml_samples", Cause: errBounds("must be >= 1")}
	}

	if cfg.Limiter.RequestsPerSecond <= 0 {
		return &errs.ConfigError{Field: "limiter.requests_per_second", Cause: errBounds("must be > 0")}
	}
	if cfg.Limiter.BurstLimit < 1 {
		return &errs.ConfigError{Field: "limiter.burst_limit", Cause: errBounds("must be >= 1")}
	}

	if cfg.Browser.MinPages < 1 || cfg.Browser.MaxPages < cfg.Browser.MinPages {
		return &errs.ConfigError{Field: "browser.min_pages/max_pages", Cause: errBounds("must satisfy 1 <= min <= max")}
	}

	if cfg.Storage.Mongo.Enabled && cfg.Storage.Mongo.URI == "" {
		return &errs.ConfigError{Field: "storage.mongo.uri", Cause: errBounds("required when storage.mongo.enabled")}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return &errs.ConfigError{Field: "logging.level", Cause: errBounds("must be debug/info/warn/error")}
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return &errs.ConfigError{Field: "logging.format", Cause: errBounds("must be text or json")}
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return &errs.ConfigError{Field: "metrics.port", Cause: errBounds("must be 1-65535")}
	}

	return nil
}

func errBounds(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

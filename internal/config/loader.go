package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("VAGAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("vagas-collector")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".vagas-collector"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// A named strategy preset replaces the built-in defaults for the fields
	// it covers; values from the config file or environment still win.
	if preset, ok := strategyPresets[v.GetString("strategy")]; ok {
		v.SetDefault("session.max_concurrent", preset.maxConcurrent)
		v.SetDefault("limiter.requests_per_second", preset.rps)
		v.SetDefault("session.max_pages", preset.maxPages)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyStrategy()
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("session.urls_per_session", cfg.Session.URLsPerSession)
	v.SetDefault("session.max_pages", cfg.Session.MaxPages)
	v.SetDefault("session.max_concurrent", cfg.Session.MaxConcurrent)
	v.SetDefault("session.diversity_mode", cfg.Session.DiversityMode)
	v.SetDefault("session.enable_incremental", cfg.Session.EnableIncremental)
	v.SetDefault("session.enable_deduplication", cfg.Session.EnableDeduplication)
	v.SetDefault("session.enable_similarity_dedup", cfg.Session.EnableSimilarityDedup)
	v.SetDefault("session.force_full", cfg.Session.ForceFull)
	v.SetDefault("session.cache_dir", cfg.Session.CacheDir)
	v.SetDefault("session.results_dir", cfg.Session.ResultsDir)
	v.SetDefault("session.checkpoint_dir", cfg.Session.CheckpointDir)
	v.SetDefault("session.compression_level", cfg.Session.CompressionLevel)
	v.SetDefault("session.max_size_mb", cfg.Session.MaxSizeMB)
	v.SetDefault("session.max_files_per_type", cfg.Session.MaxFilesPerType)
	v.SetDefault("session.page_load_timeout", cfg.Session.PageLoadTimeout)
	v.SetDefault("session.element_wait_timeout", cfg.Session.ElementWaitTimeout)
	v.SetDefault("session.lease_deadline", cfg.Session.LeaseDeadline)
	v.SetDefault("session.retry_attempts", cfg.Session.RetryAttempts)
	v.SetDefault("session.retry_delay", cfg.Session.RetryDelay)
	v.SetDefault("session.min_ml_samples", cfg.Session.MinMLSamples)

	v.SetDefault("limiter.requests_per_second", cfg.Limiter.RequestsPerSecond)
	v.SetDefault("limiter.burst_limit", cfg.Limiter.BurstLimit)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.viewport_w", cfg.Browser.ViewportW)
	v.SetDefault("browser.viewport_h", cfg.Browser.ViewportH)
	v.SetDefault("browser.min_pages", cfg.Browser.MinPages)
	v.SetDefault("browser.max_pages", cfg.Browser.MaxPages)
	v.SetDefault("browser.idle_ttl", cfg.Browser.IdleTTL)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are defaulted by Load through viper, not here
//   - Spill option defaults are handled by the spill tiers
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyCoreDefaults(&cfg.Core)
	applyContentDefaults(&cfg.Content)
	applyControlDefaults(&cfg.Control)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyCoreDefaults(cfg *CoreConfig) {
	if cfg.CaseSensitivity == "" {
		cfg.CaseSensitivity = "insensitive-preserving"
	}
	cfg.CaseSensitivity = strings.ToLower(cfg.CaseSensitivity)

	if cfg.Limits.MaxOpenHandles == 0 {
		cfg.Limits.MaxOpenHandles = 10000
	}
	if cfg.Limits.MaxBranches == 0 {
		cfg.Limits.MaxBranches = 1000
	}
	if cfg.Limits.MaxSnapshots == 0 {
		cfg.Limits.MaxSnapshots = 10000
	}

	if cfg.Cache.AttrTTL == 0 {
		cfg.Cache.AttrTTL = time.Second
	}
	if cfg.Cache.EntryTTL == 0 {
		cfg.Cache.EntryTTL = time.Second
	}
	if cfg.Cache.NegativeTTL == 0 {
		cfg.Cache.NegativeTTL = time.Second
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.MaxBytesInMemory == 0 {
		cfg.MaxBytesInMemory = 1 << 30 // 1GiB
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 64 << 10 // 64KiB
	}
	if cfg.Spill.Type == "" {
		cfg.Spill.Type = "none"
	}

	// Initialize maps if nil
	if cfg.Spill.FS == nil {
		cfg.Spill.FS = make(map[string]any)
	}
	if cfg.Spill.Badger == nil {
		cfg.Spill.Badger = make(map[string]any)
	}

	// Apply defaults for all tiers (for config file generation)
	if _, ok := cfg.Spill.FS["compression"]; !ok {
		cfg.Spill.FS["compression"] = "lz4"
	}
	if _, ok := cfg.Spill.FS["verify_checksums"]; !ok {
		cfg.Spill.FS["verify_checksums"] = true
	}
	if _, ok := cfg.Spill.Badger["compression"]; !ok {
		cfg.Spill.Badger["compression"] = "zstd"
	}
	if _, ok := cfg.Spill.Badger["value_log_file_size"]; !ok {
		cfg.Spill.Badger["value_log_file_size"] = 64 << 20 // 64MiB
	}
}

func applyControlDefaults(cfg *ControlConfig) {
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Core: CoreConfig{
			EnableXattrs: true,
			EnableADS:    true,
			TrackEvents:  true,
			Security: SecurityConfig{
				RootBypassPermissions: true,
			},
			Cache: CacheConfig{
				EnableReaddirPlus: true,
				AutoCache:         true,
			},
		},
		Control: ControlConfig{
			RateLimit: RateLimitConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}

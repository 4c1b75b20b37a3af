package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultConfig(t *testing.T) {
	require.NoError(t, Validate(GetDefaultConfig()))
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"LogLevel":        func(c *Config) { c.Logging.Level = "TRACE" },
		"LogFormat":       func(c *Config) { c.Logging.Format = "xml" },
		"LogOutput":       func(c *Config) { c.Logging.Output = "" },
		"CaseMode":        func(c *Config) { c.Core.CaseSensitivity = "folded" },
		"NegativeLimit":   func(c *Config) { c.Core.Limits.MaxSnapshots = -1 },
		"NegativeTTL":     func(c *Config) { c.Core.Cache.NegativeTTL = -1 },
		"TinyBlocks":      func(c *Config) { c.Content.BlockSize = 100 },
		"OddBlocks":       func(c *Config) { c.Content.BlockSize = 5000 },
		"BudgetTooSmall":  func(c *Config) { c.Content.MaxBytesInMemory = 1024 },
		"SpillType":       func(c *Config) { c.Content.Spill.Type = "s3" },
		"FSCompression":   func(c *Config) { c.Content.Spill.Type = "fs"; c.Content.Spill.FS["compression"] = "brotli" },
		"FSUnknownOption": func(c *Config) { c.Content.Spill.Type = "fs"; c.Content.Spill.FS["verify"] = true },
		"BadgerCompression": func(c *Config) {
			c.Content.Spill.Type = "badger"
			c.Content.Spill.Badger["compression"] = "lz4"
		},
		"BadgerNegativeSize": func(c *Config) {
			c.Content.Spill.Type = "badger"
			c.Content.Spill.Badger["value_log_file_size"] = -5
		},
		"RateLimitWithoutRate": func(c *Config) { c.Control.RateLimit.RequestsPerSecond = 0 },
		"MetricsPort":          func(c *Config) { c.Metrics.Port = 70000 },
		"MetricsWithoutPort":   func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidate_SpillOptionsOnlyForSelectedType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Content.Spill.Badger["compression"] = "lz4"
	cfg.Content.Spill.Type = "fs"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "warn"
	require.NoError(t, Validate(cfg))

	ApplyDefaults(cfg)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}

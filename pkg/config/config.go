package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete agentfs configuration.
//
// This structure captures all configurable aspects of the core:
//   - Logging configuration
//   - Engine behavior (case mode, feature switches, limits, security, cache policy)
//   - Content store sizing and spill tier selection
//   - Control plane rate limiting
//   - Metrics exposition
//
// Configuration sources (in order of precedence):
//  1. Environment variables (AGENTFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Spill Configuration Pattern:
// Each spill tier defines its own option struct, decoded from the map
// section matching the selected type (content.spill.fs, content.spill.badger).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Core configures the engine
	Core CoreConfig `mapstructure:"core" yaml:"core"`

	// Content configures the content store and its spill tier
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Control configures the control plane dispatcher
	Control ControlConfig `mapstructure:"control" yaml:"control"`

	// Metrics configures Prometheus exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// CoreConfig configures the engine.
type CoreConfig struct {
	// CaseSensitivity selects how names are compared
	// Valid values: sensitive, insensitive, insensitive-preserving
	CaseSensitivity string `mapstructure:"case_sensitivity" yaml:"case_sensitivity" validate:"required,oneof=sensitive insensitive insensitive-preserving"`

	// EnableXattrs turns on extended attributes
	EnableXattrs bool `mapstructure:"enable_xattrs" yaml:"enable_xattrs"`

	// EnableADS turns on alternate data streams
	EnableADS bool `mapstructure:"enable_ads" yaml:"enable_ads"`

	// TrackEvents turns on change event delivery
	TrackEvents bool `mapstructure:"track_events" yaml:"track_events"`

	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
}

// LimitsConfig bounds the engine registries. Zero means unlimited.
type LimitsConfig struct {
	MaxOpenHandles int `mapstructure:"max_open_handles" yaml:"max_open_handles" validate:"gte=0"`
	MaxBranches    int `mapstructure:"max_branches" yaml:"max_branches" validate:"gte=0"`
	MaxSnapshots   int `mapstructure:"max_snapshots" yaml:"max_snapshots" validate:"gte=0"`
}

// SecurityConfig controls POSIX permission enforcement.
type SecurityConfig struct {
	EnforcePOSIXPermissions bool   `mapstructure:"enforce_posix_permissions" yaml:"enforce_posix_permissions"`
	DefaultUID              uint32 `mapstructure:"default_uid" yaml:"default_uid"`
	DefaultGID              uint32 `mapstructure:"default_gid" yaml:"default_gid"`
	RootBypassPermissions   bool   `mapstructure:"root_bypass_permissions" yaml:"root_bypass_permissions"`
}

// CacheConfig is the cache policy handed to adapters.
type CacheConfig struct {
	AttrTTL           time.Duration `mapstructure:"attr_ttl" yaml:"attr_ttl" validate:"gte=0"`
	EntryTTL          time.Duration `mapstructure:"entry_ttl" yaml:"entry_ttl" validate:"gte=0"`
	NegativeTTL       time.Duration `mapstructure:"negative_ttl" yaml:"negative_ttl" validate:"gte=0"`
	EnableReaddirPlus bool          `mapstructure:"enable_readdir_plus" yaml:"enable_readdir_plus"`
	AutoCache         bool          `mapstructure:"auto_cache" yaml:"auto_cache"`
	WritebackCache    bool          `mapstructure:"writeback_cache" yaml:"writeback_cache"`
}

// ContentConfig configures the copy-on-write content store.
type ContentConfig struct {
	// MaxBytesInMemory is the in-memory budget. Blocks beyond it go to the
	// spill tier. Zero means unlimited.
	MaxBytesInMemory uint64 `mapstructure:"max_bytes_in_memory" yaml:"max_bytes_in_memory"`

	// BlockSize is the copy-on-write granularity in bytes
	BlockSize int `mapstructure:"block_size" yaml:"block_size" validate:"gte=512,lte=16777216"`

	Spill SpillConfig `mapstructure:"spill" yaml:"spill"`
}

// SpillConfig selects the spill tier.
//
// The Type field determines which implementation is used. Only the
// corresponding type-specific section is read.
type SpillConfig struct {
	// Type specifies the spill tier
	// Valid values: none, fs, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none fs badger"`

	// Directory receives spill files. Empty means the OS temp directory.
	Directory string `mapstructure:"directory" yaml:"directory"`

	// FS contains options for the single-file tier
	// Only used when Type = "fs"
	FS map[string]any `mapstructure:"fs" yaml:"fs"`

	// Badger contains options for the BadgerDB tier
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// ControlConfig configures the control plane.
type ControlConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig limits control requests per calling pid.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port of the /metrics HTTP endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (AGENTFS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file there
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the AGENTFS_ prefix and underscores
	// Example: AGENTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("AGENTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Registering every default also makes the keys visible to
	// AutomaticEnv, and keeps switches that default to true from reading
	// as false when omitted.
	registerDefaults(v, reflect.ValueOf(*GetDefaultConfig()), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func registerDefaults(v *viper.Viper, val reflect.Value, prefix string) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		switch field.Type.Kind() {
		case reflect.Struct:
			registerDefaults(v, val.Field(i), key)
		case reflect.Map:
			// option maps are only read from files
		default:
			v.SetDefault(key, val.Field(i).Interface())
		}
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "agentfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "agentfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

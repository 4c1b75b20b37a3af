package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "debug"

content:
  block_size: 4096
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 4096, cfg.Content.BlockSize)
	assert.Equal(t, uint64(1<<30), cfg.Content.MaxBytesInMemory)
	assert.Equal(t, "none", cfg.Content.Spill.Type)
	assert.Equal(t, "insensitive-preserving", cfg.Core.CaseSensitivity)
	assert.True(t, cfg.Core.EnableXattrs)
	assert.True(t, cfg.Core.EnableADS)
	assert.True(t, cfg.Core.TrackEvents)
	assert.True(t, cfg.Core.Security.RootBypassPermissions)
	assert.Equal(t, 10000, cfg.Core.Limits.MaxOpenHandles)
	assert.Equal(t, time.Second, cfg.Core.Cache.AttrTTL)
	assert.True(t, cfg.Control.RateLimit.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
core:
  case_sensitivity: Sensitive
  enable_xattrs: false
  track_events: false
  limits:
    max_branches: 3
  security:
    enforce_posix_permissions: true
    root_bypass_permissions: false
    default_uid: 1000
  cache:
    attr_ttl: 250ms
    writeback_cache: true
control:
  rate_limit:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sensitive", cfg.Core.CaseSensitivity)
	assert.False(t, cfg.Core.EnableXattrs)
	assert.True(t, cfg.Core.EnableADS)
	assert.False(t, cfg.Core.TrackEvents)
	assert.Equal(t, 3, cfg.Core.Limits.MaxBranches)
	assert.True(t, cfg.Core.Security.EnforcePOSIXPermissions)
	assert.False(t, cfg.Core.Security.RootBypassPermissions)
	assert.Equal(t, uint32(1000), cfg.Core.Security.DefaultUID)
	assert.Equal(t, 250*time.Millisecond, cfg.Core.Cache.AttrTTL)
	assert.Equal(t, time.Second, cfg.Core.Cache.EntryTTL)
	assert.True(t, cfg.Core.Cache.WritebackCache)
	assert.False(t, cfg.Control.RateLimit.Enabled)
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[content]
block_size = 8192

[content.spill]
type = "fs"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 8192, cfg.Content.BlockSize)
	assert.Equal(t, "fs", cfg.Content.Spill.Type)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AGENTFS_LOGGING_LEVEL", "error")
	t.Setenv("AGENTFS_CORE_LIMITS_MAX_BRANCHES", "50")
	t.Setenv("AGENTFS_CORE_ENABLE_ADS", "false")
	t.Setenv("AGENTFS_CORE_CACHE_ENTRY_TTL", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, 50, cfg.Core.Limits.MaxBranches)
	assert.False(t, cfg.Core.EnableADS)
	assert.Equal(t, 3*time.Second, cfg.Core.Cache.EntryTTL)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("AGENTFS_CONTENT_BLOCK_SIZE", "16384")
	path := writeConfig(t, "config.yaml", "content:\n  block_size: 4096\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16384, cfg.Content.BlockSize)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", "core:\n  case_sensitivity: sometimes\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CaseSensitivity")
}

func TestConfigPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "agentfs"), GetConfigDir())
	assert.Equal(t, filepath.Join(dir, "agentfs", "config.yaml"), GetDefaultConfigPath())
	assert.False(t, ConfigExists())

	_, err := InitConfig(false)
	require.NoError(t, err)
	assert.True(t, ConfigExists())
}

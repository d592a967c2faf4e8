package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Learning.Enabled)
	assert.Equal(t, 0.15, cfg.Learning.NoveltyThreshold)
	assert.Equal(t, 500, cfg.Learning.MaxOverrideLog)
}

func TestLoad_MissingRCFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxConcurrency, cfg.MaxConcurrency)
}

func TestLoad_RCFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, ".undercityrc")
	require.NoError(t, os.WriteFile(rc, []byte(`{"max_concurrency": 7, "log_level": "debug"}`), 0o644))

	cfg, err := Load(rc)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, ".undercityrc")
	require.NoError(t, os.WriteFile(rc, []byte(`{"max_concurrency": 7}`), 0o644))

	t.Setenv("UNDERCITY_MAX_CONCURRENCY", "11")

	cfg, err := Load(rc)
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.MaxConcurrency)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	mc := 9
	dryRun := true
	cfg.MergeWithFlags(&mc, nil, &dryRun, nil)
	assert.Equal(t, 9, cfg.MaxConcurrency)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxConcurrency = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Learning.NoveltyThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Budget.PauseThreshold = 0
	assert.Error(t, cfg.Validate())
}

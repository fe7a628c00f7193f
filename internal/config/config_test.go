package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.False(t, cfg.API.AllowLocalPaths)
	assert.Equal(t, "default", cfg.Queue.Name)
	assert.Equal(t, "assetflow", cfg.Storage.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.False(t, cfg.Fetch.AllowPrivateNetworks)
	assert.Equal(t, 60, cfg.RateLimit.Capacity)
	assert.Equal(t, 20, cfg.RateLimit.AssetsCapacity)
	assert.Equal(t, asset.DefaultOptions(), cfg.Ingest.Options())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ASSETFLOW_API_ADDR", ":9999")
	t.Setenv("ASSETFLOW_INGEST_FORMAT", "WEBP")
	t.Setenv("ASSETFLOW_INGEST_MAX_WIDTH", "1024")
	t.Setenv("ASSETFLOW_FETCH_TIMEOUT", "5s")
	t.Setenv("ASSETFLOW_API_ALLOW_LOCAL_PATHS", "true")
	t.Setenv("ASSETFLOW_FETCH_ALLOW_PRIVATE_NETWORKS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.True(t, cfg.API.AllowLocalPaths)
	assert.True(t, cfg.Fetch.AllowPrivateNetworks)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	opts := cfg.Ingest.Options()
	assert.Equal(t, codec.FormatWEBP, opts.Format)
	assert.Equal(t, 1024, opts.MaxWidth)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	toml := "[ingest]\nquality = 70\nformat = \"png\"\n\n[queue]\nname = \"assets\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assetflow.toml"), []byte(toml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Ingest.Quality)
	assert.Equal(t, "png", cfg.Ingest.Format)
	assert.Equal(t, "assets", cfg.Queue.Name)
}

func TestLoadRejectsInvalidIngestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ASSETFLOW_INGEST_FORMAT", "heic")

	_, err := Load()
	require.ErrorIs(t, err, asset.ErrInvalidOptions)
}

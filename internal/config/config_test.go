package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10, cfg.Ingest.RateMaxRuns)
	require.Equal(t, time.Hour, cfg.RateWindow())
	require.Equal(t, 168*time.Hour, cfg.StaleAfter())
	require.Equal(t, 280, cfg.Editorial.MinTextChars)
	require.False(t, cfg.Screenshot.Enabled)
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "curator.yaml")
	body := []byte(`
server:
  port: 9090
ingest:
  rate_max_runs: 3
  rate_window_minutes: 10
screenshot:
  enabled: true
  max_parallel: 2
  storage_backend: local
  local_dir: /tmp/screens
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3, cfg.Ingest.RateMaxRuns)
	require.Equal(t, 10*time.Minute, cfg.RateWindow())
	require.True(t, cfg.Screenshot.Enabled)
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Server.Port = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Ingest.RateMaxRuns = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Screenshot.Enabled = true
	bad.Screenshot.MaxParallel = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Screenshot.StorageBackend = "gcs"
	require.Error(t, bad.Validate())
}

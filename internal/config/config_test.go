package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drainvoice.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/invoices.db", cfg.Local.Path)
	assert.Equal(t, 5, cfg.Remote.PageSize)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.True(t, cfg.Sync.StartOnline)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
[local]
path = "/var/lib/drainvoice/local.db"

[remote]
database_url = "postgres://localhost/invoices"
page_size = 20
call_timeout = "3s"

[sync]
interval = "30s"
backoff_base = "1s"
backoff_max = "1m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/drainvoice/local.db", cfg.Local.Path)
	assert.Equal(t, "postgres://localhost/invoices", cfg.Remote.DatabaseURL)
	assert.Equal(t, 20, cfg.Remote.PageSize)
	assert.Equal(t, 3*time.Second, cfg.Remote.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, time.Minute, cfg.Sync.BackoffMax)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9000
`)
	t.Setenv("PORT", "9100")
	t.Setenv("SYNC_INTERVAL", "10s")
	t.Setenv("CACHE_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Sync.Interval)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoad_InvalidEnvDuration(t *testing.T) {
	t.Setenv("REMOTE_CALL_TIMEOUT", "soon")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Sync.BackoffMax = time.Second
	cfg.Sync.BackoffBase = time.Minute
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backup.Enabled = true
	cfg.Backup.Bucket = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Local.Path = ""
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

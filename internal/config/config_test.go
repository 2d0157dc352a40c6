package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Load(""))

	assert.Equal(t, "/var/backups/hostbackup", cfg.Backup.OutputDir)
	assert.Equal(t, "docker", cfg.Docker.Binary)
	assert.Equal(t, 3, cfg.Compose.MaxDepth)
	assert.Equal(t, 10*time.Minute, cfg.Backup.CommandTimeout)
	assert.Contains(t, cfg.Compose.Roots, "/opt")
	assert.False(t, cfg.Backup.DeleteStaging)
	assert.Equal(t, uint64(512*1024*1024), cfg.SafetyMarginBytes())
}

func TestLoad_ParsesFile(t *testing.T) {
	path := writeConfig(t, `
backup:
  output_dir: /mnt/backups
  safety_margin: 1GiB
  command_timeout: 5m
  delete_staging: true
docker:
  binary: podman
compose:
  roots: [/data]
  max_depth: 2
vault:
  address: https://vault.internal:8200
  token: s.local-dev
  kv_base: secret/data/hostbackup
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "/mnt/backups", cfg.Backup.OutputDir)
	assert.Equal(t, uint64(1<<30), cfg.SafetyMarginBytes())
	assert.Equal(t, 5*time.Minute, cfg.Backup.CommandTimeout)
	assert.True(t, cfg.Backup.DeleteStaging)
	assert.Equal(t, "podman", cfg.Docker.Binary)
	assert.Equal(t, []string{"/data"}, cfg.Compose.Roots)
	assert.Equal(t, 2, cfg.Compose.MaxDepth)
	assert.Equal(t, "https://vault.internal:8200", cfg.Vault.Address)
	assert.Equal(t, "s.local-dev", cfg.Vault.Token)
	assert.Equal(t, "secret/data/hostbackup", cfg.Vault.KVBase)

	// Defaults still fill the gaps.
	assert.Equal(t, "2006-01-02_15-04-05", cfg.Backup.TimestampFormat)
}

func TestLoad_RejectsBadMargin(t *testing.T) {
	path := writeConfig(t, `
backup:
  safety_margin: "a lot"
`)

	var cfg Config
	err := cfg.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidateConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg Config
	err := cfg.Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadConfig)
}

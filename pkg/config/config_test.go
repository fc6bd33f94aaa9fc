package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryfs/ferry/internal/bytesize"
	"github.com/ferryfs/ferry/pkg/protocol"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultIdleTimeout, cfg.Server.IdleTimeout)
	assert.Equal(t, DefaultBufferSize, cfg.Server.BufferSize)
	assert.Equal(t, protocol.DefaultSeparator, cfg.Server.Separator)
	assert.NotEmpty(t, cfg.Storage.Root)
	assert.NotEmpty(t, cfg.Database.SQLite.Path)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
logging:
  level: DEBUG
server:
  port: 2121
  idle_timeout: 2m
  buffer_size: 8Ki
  tls:
    cert_file: /tmp/server.crt
    key_file: /tmp/server.key
storage:
  root: /tmp/ferry-files
database:
  type: sqlite
  sqlite:
    path: /tmp/ferry.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 2121, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, bytesize.ByteSize(8192), cfg.Server.BufferSize)
	assert.Equal(t, "/tmp/ferry-files", cfg.Storage.Root)
	assert.Equal(t, "/tmp/server.crt", cfg.Server.TLS.CertFile)

	// unset fields fall back to defaults
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, protocol.DefaultSeparator, cfg.Server.Separator)
	assert.Equal(t, DefaultMaxConnections, cfg.Server.MaxConnections)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 99999
  tls:
    cert_file: /tmp/server.crt
    key_file: /tmp/server.key
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
logging:
  level: VERBOSE
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Server.Port = 2222
	cfg.Server.TLS.CertFile = "/etc/ferry/server.crt"
	cfg.Server.TLS.KeyFile = "/etc/ferry/server.key"

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2222, loaded.Server.Port)
	assert.Equal(t, "/etc/ferry/server.crt", loaded.Server.TLS.CertFile)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 2121
  tls:
    cert_file: /tmp/server.crt
    key_file: /tmp/server.key
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("FERRY_SERVER_PORT", "3131")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3131, cfg.Server.Port)
}

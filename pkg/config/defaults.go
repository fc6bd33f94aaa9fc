package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ferryfs/ferry/internal/bytesize"
	"github.com/ferryfs/ferry/pkg/metrics"
	"github.com/ferryfs/ferry/pkg/protocol"
)

const (
	// DefaultPort is the default protocol listener port.
	DefaultPort = 5000

	// DefaultIdleTimeout disconnects clients silent for this long.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultBufferSize is the payload streaming chunk size.
	DefaultBufferSize = bytesize.ByteSize(4096)

	// DefaultShutdownTimeout bounds graceful connection draining.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxConnections limits concurrent clients.
	DefaultMaxConnections = 256
)

// GetDefaultConfig returns a configuration with sensible defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults. Explicit values
// from file or environment are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = DefaultMaxConnections
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.BufferSize == 0 {
		cfg.Server.BufferSize = DefaultBufferSize
	}
	if cfg.Server.Separator == "" {
		cfg.Server.Separator = protocol.DefaultSeparator
	}
	if cfg.Server.TLS.CertFile == "" {
		cfg.Server.TLS.CertFile = filepath.Join(getDataDir(), "certs", "server.crt")
	}
	if cfg.Server.TLS.KeyFile == "" {
		cfg.Server.TLS.KeyFile = filepath.Join(getDataDir(), "certs", "server.key")
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(getDataDir(), "files")
	}

	cfg.Database.ApplyDefaults()

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = metrics.DefaultPort
	}
}

// getDataDir returns the data directory, preferring XDG_DATA_HOME and
// falling back to ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "ferry")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "ferry")
}

// internal/config/defaults.go
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultDevice        = "/dev/ttyUSB0"
	DefaultBaud          = 9600
	DefaultCols          = 20
	DefaultRows          = 4
	DefaultReadTimeoutMs = 100

	DefaultDisplayDriver = "pcf8574"
	DefaultI2CBus        = ""
	DefaultI2CAddr       = 0x27

	DefaultMirrorBaud      = 19200
	DefaultMirrorTimeoutMs = 500
	DefaultFlushIntervalMs = 30000

	DefaultLogLevel = "info"

	dirName  = ".serial_lcd"
	fileName = "config.toml"
)

// DefaultPath is ~/.serial_lcd/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(dirName, fileName)
	}
	return filepath.Join(home, dirName, fileName)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values. Scheduling timings left at zero mean
// the panel defaults inside render and link; they are filled here so a
// saved file documents them.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "none"
	}
	if cfg.ReadTimeoutMs == 0 {
		cfg.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if cfg.BackoffInitialMs == 0 {
		cfg.BackoffInitialMs = 500
	}
	if cfg.BackoffMaxMs == 0 {
		cfg.BackoffMaxMs = 10000
	}

	if cfg.Cols == 0 {
		cfg.Cols = DefaultCols
	}
	if cfg.Rows == 0 {
		cfg.Rows = DefaultRows
	}
	if cfg.ScrollSpeedMs == 0 {
		cfg.ScrollSpeedMs = 250
	}
	if cfg.PageTimeoutMs == 0 {
		cfg.PageTimeoutMs = 4000
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 8
	}

	if cfg.OfflineGraceMs == 0 {
		cfg.OfflineGraceMs = 5000
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "lifelinetty")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.Display.Driver == "" {
		cfg.Display.Driver = DefaultDisplayDriver
	}
	if cfg.Display.I2CAddr == 0 {
		cfg.Display.I2CAddr = DefaultI2CAddr
	}

	if cfg.Tunnel.ChunkBytes == 0 {
		cfg.Tunnel.ChunkBytes = 256
	}
	if cfg.Tunnel.KillGraceMs == 0 {
		cfg.Tunnel.KillGraceMs = 2000
	}

	if cfg.StatusMirror.Enabled() {
		if cfg.StatusMirror.Baud == 0 {
			cfg.StatusMirror.Baud = DefaultMirrorBaud
		}
		if cfg.StatusMirror.UnitID == 0 {
			cfg.StatusMirror.UnitID = 1
		}
		if cfg.StatusMirror.TimeoutMs == 0 {
			cfg.StatusMirror.TimeoutMs = DefaultMirrorTimeoutMs
		}
		if cfg.StatusMirror.Parity == "" {
			cfg.StatusMirror.Parity = "even"
		}
		if cfg.StatusMirror.StopBits == 0 {
			cfg.StatusMirror.StopBits = 1
			if strings.EqualFold(cfg.StatusMirror.Parity, "none") {
				cfg.StatusMirror.StopBits = 2
			}
		}
	}

	if cfg.Metrics.FlushIntervalMs == 0 {
		cfg.Metrics.FlushIntervalMs = DefaultFlushIntervalMs
	}
}

// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	// ------------------------------------------------------------
	// SERIAL
	// ------------------------------------------------------------

	if strings.TrimSpace(cfg.Device) == "" {
		return fmt.Errorf("config: device is required")
	}
	if cfg.Baud < link.MinBaud {
		return fmt.Errorf("config: baud %d below the %d floor", cfg.Baud, link.MinBaud)
	}
	if cfg.DataBits < 5 || cfg.DataBits > 8 {
		return fmt.Errorf("config: data_bits %d out of range 5..8", cfg.DataBits)
	}
	if cfg.StopBits != 1 && cfg.StopBits != 2 {
		return fmt.Errorf("config: stop_bits must be 1 or 2, got %d", cfg.StopBits)
	}
	if _, ok := parities[strings.ToLower(cfg.Parity)]; !ok {
		return fmt.Errorf("config: parity %q must be none, even or odd", cfg.Parity)
	}
	if cfg.ReadTimeoutMs <= 0 {
		return fmt.Errorf("config: read_timeout_ms must be > 0")
	}

	if cfg.BackoffInitialMs <= 0 {
		return fmt.Errorf("config: backoff_initial_ms must be > 0")
	}
	if cfg.BackoffMaxMs < cfg.BackoffInitialMs {
		return fmt.Errorf(
			"config: backoff_max_ms %d below backoff_initial_ms %d",
			cfg.BackoffMaxMs,
			cfg.BackoffInitialMs,
		)
	}

	// ------------------------------------------------------------
	// PANEL
	// ------------------------------------------------------------

	if cfg.Cols < 8 || cfg.Cols > 40 {
		return fmt.Errorf("config: cols %d out of range 8..40", cfg.Cols)
	}
	if cfg.Rows < 1 || cfg.Rows > 4 {
		return fmt.Errorf("config: rows %d out of range 1..4", cfg.Rows)
	}
	if cfg.ScrollSpeedMs <= 0 || cfg.PageTimeoutMs <= 0 {
		return fmt.Errorf("config: scroll_speed_ms and page_timeout_ms must be > 0")
	}
	if cfg.MaxEntries < 1 || cfg.MaxEntries > 64 {
		return fmt.Errorf("config: max_entries %d out of range 1..64", cfg.MaxEntries)
	}

	for name, rows := range cfg.Icons {
		if _, ok := glyph.ParseIcon(name); !ok {
			return fmt.Errorf("config: unknown icon %q", name)
		}
		if len(rows) != 8 {
			return fmt.Errorf("config: icon %q has %d rows, want 8", name, len(rows))
		}
		for i, r := range rows {
			if r < 0 || r > 0x1f {
				return fmt.Errorf("config: icon %q row %d uses more than 5 bits", name, i)
			}
		}
	}

	// ------------------------------------------------------------
	// LIVENESS
	// ------------------------------------------------------------

	if cfg.OfflineGraceMs <= 0 {
		return fmt.Errorf("config: offline_grace_ms must be > 0")
	}
	if cfg.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("config: heartbeat_interval_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.CacheDir) == "" {
		return fmt.Errorf("config: cache_dir is required")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level %q must be debug, info, warn or error", cfg.LogLevel)
	}

	// ------------------------------------------------------------
	// DISPLAY
	// ------------------------------------------------------------

	switch cfg.Display.Driver {
	case "pcf8574", "memory":
	default:
		return fmt.Errorf("config: display.driver %q must be pcf8574 or memory", cfg.Display.Driver)
	}
	if cfg.Display.I2CAddr > 0x7f {
		return fmt.Errorf("config: display.i2c_addr 0x%x is not a 7-bit address", cfg.Display.I2CAddr)
	}

	// ------------------------------------------------------------
	// TUNNEL
	// ------------------------------------------------------------

	for _, a := range cfg.Tunnel.Allow {
		if strings.TrimSpace(a) == "" || strings.ContainsAny(a, " \t") {
			return fmt.Errorf("config: tunnel.allow entry %q must be a single program name", a)
		}
	}
	if cfg.Tunnel.ChunkBytes < 1 || cfg.Tunnel.ChunkBytes > 256 {
		return fmt.Errorf("config: tunnel.chunk_bytes %d out of range 1..256", cfg.Tunnel.ChunkBytes)
	}
	if cfg.Tunnel.KillGraceMs <= 0 {
		return fmt.Errorf("config: tunnel.kill_grace_ms must be > 0")
	}

	// ------------------------------------------------------------
	// STATUS MIRROR (OPT-IN)
	// ------------------------------------------------------------

	m := cfg.StatusMirror
	if m.DeviceName != "" {
		for i := 0; i < len(m.DeviceName); i++ {
			if m.DeviceName[i] > 0x7F {
				return fmt.Errorf("config: status_mirror.device_name must contain ASCII characters only")
			}
		}
	}
	if m.Enabled() {
		if m.Device == cfg.Device {
			return fmt.Errorf("config: status_mirror.device %s is the frame link device", m.Device)
		}
		if m.Baud < 1200 {
			return fmt.Errorf("config: status_mirror.baud %d too low", m.Baud)
		}
		if m.UnitID == 0 || m.UnitID > 247 {
			return fmt.Errorf("config: status_mirror.unit_id %d out of range 1..247", m.UnitID)
		}
		if m.TimeoutMs <= 0 {
			return fmt.Errorf("config: status_mirror.timeout_ms must be > 0")
		}
		if _, ok := parities[strings.ToLower(m.Parity)]; !ok {
			return fmt.Errorf("config: status_mirror.parity %q must be none, even or odd", m.Parity)
		}
		if m.StopBits != 1 && m.StopBits != 2 {
			return fmt.Errorf("config: status_mirror.stop_bits must be 1 or 2, got %d", m.StopBits)
		}
	}

	if cfg.Metrics.FlushIntervalMs < 0 {
		return fmt.Errorf("config: metrics.flush_interval_ms must be >= 0")
	}

	return nil
}

var parities = map[string]string{
	"none": "N",
	"even": "E",
	"odd":  "O",
}

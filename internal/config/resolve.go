// internal/config/resolve.go
package config

import (
	"strings"
	"time"

	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
	mirrormodbus "github.com/macg4dave/lifelinetty/internal/mirror/modbus"
	"github.com/macg4dave/lifelinetty/internal/render"
	"github.com/macg4dave/lifelinetty/internal/tunnel"
)

// Resolved views of a validated Config, one per consumer.

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) LinkConfig() link.Config {
	parity := parities[c.Parity]
	if parity == "" {
		parity = "N"
	}
	return link.Config{
		Device:         c.Device,
		Baud:           c.Baud,
		DataBits:       c.DataBits,
		StopBits:       c.StopBits,
		Parity:         parity,
		ReadTimeout:    ms(c.ReadTimeoutMs),
		BackoffInitial: ms(c.BackoffInitialMs),
		BackoffMax:     ms(c.BackoffMaxMs),
	}
}

func (c *Config) RenderConfig() render.Config {
	return render.Config{
		Cols:        c.Cols,
		Rows:        c.Rows,
		ScrollSpeed: ms(c.ScrollSpeedMs),
		PageTimeout: ms(c.PageTimeoutMs),
		MaxEntries:  c.MaxEntries,
	}
}

func (c *Config) TunnelLimits() tunnel.Config {
	return tunnel.Config{
		Allow:      append([]string(nil), c.Tunnel.Allow...),
		ChunkBytes: c.Tunnel.ChunkBytes,
		KillGrace:  ms(c.Tunnel.KillGraceMs),
	}
}

func (c *Config) OfflineGrace() time.Duration { return ms(c.OfflineGraceMs) }

func (c *Config) Heartbeat() time.Duration { return ms(c.HeartbeatIntervalMs) }

func (c *Config) FlushInterval() time.Duration { return ms(c.Metrics.FlushIntervalMs) }

// MirrorLink is the RTU line setup of the status mirror bus.
func (c *Config) MirrorLink() mirrormodbus.Config {
	m := c.StatusMirror
	return mirrormodbus.Config{
		Device:   m.Device,
		Baud:     m.Baud,
		Parity:   parities[strings.ToLower(m.Parity)],
		StopBits: m.StopBits,
		Timeout:  ms(m.TimeoutMs),
	}
}

// IconOverrides converts the icon table into glyph bitmaps.
func (c *Config) IconOverrides() map[glyph.ID]glyph.Pattern {
	out := make(map[glyph.ID]glyph.Pattern, len(c.Icons))
	for name, rows := range c.Icons {
		id, ok := glyph.ParseIcon(name)
		if !ok {
			continue
		}
		var p glyph.Pattern
		for i := 0; i < len(p) && i < len(rows); i++ {
			p[i] = byte(rows[i])
		}
		out[id] = p
	}
	return out
}

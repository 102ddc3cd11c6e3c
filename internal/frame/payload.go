// internal/frame/payload.go
package frame

import (
	"strings"
	"time"

	"github.com/macg4dave/lifelinetty/internal/glyph"
)

// ---- PROTOCOL LIMITS ----

// SchemaVersion is the only wire schema this decoder accepts.
const SchemaVersion = 1

const (
	MaxLineChars  = 40
	MaxLabelChars = 40
	MaxIcons      = 4
)

// Channel routes a payload to the scheduler or the tunnel.
type Channel uint8

const (
	ChannelDisplay Channel = iota
	ChannelTunnel
)

func (c Channel) String() string {
	if c == ChannelTunnel {
		return "tunnel"
	}
	return "display"
}

// Mode is the closed set of display modes.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeDashboard
	ModeBanner
)

// ParseMode maps a wire mode string. Unknown values are Normal.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dashboard":
		return ModeDashboard
	case "banner":
		return ModeBanner
	}
	return ModeNormal
}

func (m Mode) String() string {
	switch m {
	case ModeDashboard:
		return "dashboard"
	case ModeBanner:
		return "banner"
	}
	return "normal"
}

// BarRow is the requested row for the bar graph.
type BarRow uint8

const (
	BarRowBottom BarRow = iota
	BarRowTop
)

// Bar is a validated bar-graph request.
// Max == 0 means the producer sent a direct percent.
type Bar struct {
	Percent uint8
	Value   uint32
	Max     uint32
	Label   string
	Row     BarRow
}

// Payload is one validated frame.
type Payload struct {
	SchemaVersion int
	Channel       Channel

	Line1 string
	Line2 string
	Bar   *Bar
	Mode  Mode
	Icons []glyph.ID

	Backlight    bool
	Blink        bool
	Scroll       bool
	Clear        bool
	Test         bool
	ConfigReload bool

	// Zero ScrollSpeed or PageTimeout means the panel default.
	// Zero Duration means no TTL.
	ScrollSpeed time.Duration
	Duration    time.Duration
	PageTimeout time.Duration

	// Checksum is the CRC32 of the canonical payload, always computed,
	// whether or not the frame carried one. Deduplication keys on it.
	Checksum uint32

	Tunnel *TunnelMsg
}

// percentOf converts value/max to a rounded, clamped percent.
func percentOf(value, max uint32) uint8 {
	if max == 0 {
		return 0
	}
	p := (uint64(value)*200 + uint64(max)) / (uint64(max) * 2)
	if p > 100 {
		p = 100
	}
	return uint8(p)
}

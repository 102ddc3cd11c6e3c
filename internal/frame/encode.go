// internal/frame/encode.go
package frame

import "fmt"

// Encode returns the wire line (without newline) for a display payload,
// checksum included. Defaults are omitted, so Encode output is a normal
// form: decoding it and encoding again yields the same bytes.
func Encode(p Payload) ([]byte, error) {
	if p.Channel == ChannelTunnel {
		if p.Tunnel == nil {
			return nil, fmt.Errorf("frame: tunnel payload without message")
		}
		return EncodeTunnel(*p.Tunnel)
	}

	f := displayFields{
		Line1:         ptr(p.Line1),
		Line2:         ptr(p.Line2),
		SchemaVersion: ptr(SchemaVersion),
	}

	if b := p.Bar; b != nil {
		if b.Max == 0 {
			f.Bar = ptr(int(b.Percent))
		} else {
			f.BarValue = ptr(b.Value)
			f.BarMax = ptr(b.Max)
		}
		if b.Label != "" {
			f.BarLabel = ptr(b.Label)
		}
		if b.Row == BarRowTop {
			f.BarLine1 = ptr(true)
		}
	}

	if !p.Backlight {
		f.Backlight = ptr(false)
	}
	if p.Blink {
		f.Blink = ptr(true)
	}
	if !p.Scroll {
		f.Scroll = ptr(false)
	}
	if p.ScrollSpeed > 0 {
		f.ScrollSpeedMs = ptr(uint32(p.ScrollSpeed.Milliseconds()))
	}
	if p.Duration > 0 {
		f.DurationMs = ptr(uint64(p.Duration.Milliseconds()))
	}
	if p.PageTimeout > 0 {
		f.PageTimeoutMs = ptr(uint64(p.PageTimeout.Milliseconds()))
	}
	if p.Clear {
		f.Clear = ptr(true)
	}
	if p.Test {
		f.Test = ptr(true)
	}
	if p.Mode != ModeNormal {
		f.Mode = ptr(p.Mode.String())
	}
	if len(p.Icons) > 0 {
		names := make([]string, 0, len(p.Icons))
		for _, id := range p.Icons {
			if id.IsIcon() {
				names = append(names, id.String())
			}
		}
		f.Icons = &names
	}
	if p.ConfigReload {
		f.ConfigReload = ptr(true)
	}

	sum, err := canonicalChecksum(f)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	f.Checksum = ptr(fmt.Sprintf("%08x", sum))

	return marshalCompact(f)
}

func ptr[T any](v T) *T { return &v }

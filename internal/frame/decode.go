// internal/frame/decode.go
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
)

// displayFields is the canonical display payload.
// Declaration order IS the canonical field order; checksums depend on it.
type displayFields struct {
	Line1         *string   `json:"line1,omitempty"`
	Line2         *string   `json:"line2,omitempty"`
	SchemaVersion *int      `json:"schema_version,omitempty"`
	Version       *int      `json:"version,omitempty"`
	Bar           *int      `json:"bar,omitempty"`
	BarValue      *uint32   `json:"bar_value,omitempty"`
	BarMax        *uint32   `json:"bar_max,omitempty"`
	BarLabel      *string   `json:"bar_label,omitempty"`
	BarLine1      *bool     `json:"bar_line1,omitempty"`
	BarLine2      *bool     `json:"bar_line2,omitempty"`
	Backlight     *bool     `json:"backlight,omitempty"`
	Blink         *bool     `json:"blink,omitempty"`
	Scroll        *bool     `json:"scroll,omitempty"`
	ScrollSpeedMs *uint32   `json:"scroll_speed_ms,omitempty"`
	DurationMs    *uint64   `json:"duration_ms,omitempty"`
	TTLMs         *uint64   `json:"ttl_ms,omitempty"`
	PageTimeoutMs *uint64   `json:"page_timeout_ms,omitempty"`
	Clear         *bool     `json:"clear,omitempty"`
	Test          *bool     `json:"test,omitempty"`
	Mode          *string   `json:"mode,omitempty"`
	Icons         *[]string `json:"icons,omitempty"`
	Checksum      *string   `json:"checksum,omitempty"`
	ConfigReload  *bool     `json:"config_reload,omitempty"`
}

// wireFrame is every field any frame may carry.
type wireFrame struct {
	Channel *string `json:"channel,omitempty"`
	displayFields

	// tunnel
	Msg   json.RawMessage `json:"msg,omitempty"`
	CRC32 *uint32         `json:"crc32,omitempty"`

	// compressed envelope
	Type        *string `json:"type,omitempty"`
	Codec       *string `json:"codec,omitempty"`
	OriginalLen *int    `json:"original_len,omitempty"`
	Data        []byte  `json:"data,omitempty"`
}

func (w *wireFrame) hasDisplayFields() bool {
	return w.Line1 != nil || w.Line2 != nil || w.Bar != nil || w.BarValue != nil ||
		w.BarMax != nil || w.BarLabel != nil || w.Mode != nil || w.Icons != nil ||
		w.Checksum != nil || w.DurationMs != nil || w.TTLMs != nil
}

// Stats counts decoder outcomes for the loop summary.
type Stats struct {
	Accepted         uint64
	Rejected         uint64
	ChecksumFailures uint64
	Duplicates       uint64
}

// Decoder validates raw lines and remembers the last admitted checksum.
type Decoder struct {
	log   *zap.Logger
	zstd  *zstd.Decoder
	stats Stats

	last    uint32
	hasLast bool
}

// NewDecoder returns a decoder that logs rejections to log.
func NewDecoder(log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{log: log}
}

// Stats returns a copy of the counters.
func (d *Decoder) Stats() Stats { return d.stats }

// Decode validates one raw line. Every rejection is logged and counted.
func (d *Decoder) Decode(raw link.RawFrame) (Payload, error) {
	p, err := d.decode(raw.Bytes, raw.Size, false)
	if err != nil {
		d.stats.Rejected++
		var pe *ParseError
		if errors.As(err, &pe) && pe.Reason == ReasonChecksum {
			d.stats.ChecksumFailures++
		}
		d.log.Warn("frame rejected",
			zap.String("reason", string(reasonOf(err))),
			zap.Int("bytes", raw.Size),
			zap.ByteString("excerpt", excerpt(raw.Bytes)),
			zap.Error(err),
		)
		return Payload{}, err
	}
	d.stats.Accepted++
	return p, nil
}

// Admit reports whether p should reach the scheduler, and records it.
// A display payload whose canonical checksum equals the last admitted
// one is a duplicate.
func (d *Decoder) Admit(p Payload) bool {
	if p.Channel != ChannelDisplay {
		return true
	}
	if d.hasLast && d.last == p.Checksum {
		d.stats.Duplicates++
		d.log.Debug("duplicate frame dropped", zap.String("checksum", fmt.Sprintf("%08x", p.Checksum)))
		return false
	}
	d.last, d.hasLast = p.Checksum, true
	return true
}

// ResetDedup forgets the last admitted checksum.
func (d *Decoder) ResetDedup() { d.hasLast = false }

// decode validates one frame. inner marks the payload of a compressed
// envelope, which has its own size cap and may not nest.
func (d *Decoder) decode(b []byte, size int, inner bool) (Payload, error) {
	limit := link.MaxFrameBytes
	if inner {
		limit = MaxDecompressedBytes
	}

	// (1) size, before anything touches the bytes
	if size > limit {
		return Payload{}, &ParseError{Reason: ReasonOversize, Size: size}
	}

	// (2) structure
	var w wireFrame
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Payload{}, &ParseError{Reason: ReasonMalformed, Size: size, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Payload{}, malformed(size, "trailing data after object")
	}

	// (3) schema
	if err := checkSchema(&w, size); err != nil {
		return Payload{}, err
	}

	if w.Type != nil {
		if inner {
			return Payload{}, malformed(size, "nested envelope")
		}
		body, err := d.unwrapEnvelope(&w, size)
		if err != nil {
			return Payload{}, err
		}
		return d.decode(body, len(body), true)
	}

	channel := ChannelDisplay
	if w.Channel != nil {
		switch *w.Channel {
		case ChannelDisplay.String():
		case ChannelTunnel.String():
			channel = ChannelTunnel
		default:
			return Payload{}, malformed(size, fmt.Sprintf("unknown channel %q", *w.Channel))
		}
	}
	if channel == ChannelTunnel {
		return decodeTunnel(&w, size)
	}

	// (4) bounds
	p, err := buildDisplay(&w.displayFields, size, d.log)
	if err != nil {
		return Payload{}, err
	}
	if len(w.Msg) != 0 || w.CRC32 != nil || w.Codec != nil || w.OriginalLen != nil || w.Data != nil {
		return Payload{}, malformed(size, "tunnel or envelope fields on display frame")
	}

	// (5) checksum
	sum, err := canonicalChecksum(w.displayFields)
	if err != nil {
		return Payload{}, &ParseError{Reason: ReasonMalformed, Size: size, Err: err}
	}
	if w.Checksum != nil {
		want, err := parseChecksum(*w.Checksum)
		if err != nil {
			return Payload{}, &ParseError{Reason: ReasonMalformed, Size: size, Detail: "checksum", Err: err}
		}
		if want != sum {
			return Payload{}, &ParseError{
				Reason: ReasonChecksum,
				Size:   size,
				Detail: fmt.Sprintf("checksum %08x, computed %08x", want, sum),
			}
		}
	}
	p.Checksum = sum
	return p, nil
}

func checkSchema(w *wireFrame, size int) error {
	for _, v := range []*int{w.SchemaVersion, w.Version} {
		if v != nil && *v != SchemaVersion {
			return &ParseError{
				Reason: ReasonSchema,
				Size:   size,
				Detail: fmt.Sprintf("schema_version %d", *v),
			}
		}
	}
	return nil
}

func buildDisplay(f *displayFields, size int, log *zap.Logger) (Payload, error) {
	if f.Line1 == nil || f.Line2 == nil {
		return Payload{}, malformed(size, "line1 and line2 are required")
	}
	if n := len([]rune(*f.Line1)); n > MaxLineChars {
		return Payload{}, malformed(size, fmt.Sprintf("line1 has %d chars, max %d", n, MaxLineChars))
	}
	if n := len([]rune(*f.Line2)); n > MaxLineChars {
		return Payload{}, malformed(size, fmt.Sprintf("line2 has %d chars, max %d", n, MaxLineChars))
	}

	p := Payload{
		SchemaVersion: SchemaVersion,
		Channel:       ChannelDisplay,
		Line1:         *f.Line1,
		Line2:         *f.Line2,
		Backlight:     boolOr(f.Backlight, true),
		Blink:         boolOr(f.Blink, false),
		Scroll:        boolOr(f.Scroll, true),
		Clear:         boolOr(f.Clear, false),
		Test:          boolOr(f.Test, false),
		ConfigReload:  boolOr(f.ConfigReload, false),
	}

	// ---- bar ----
	bar, err := buildBar(f, size)
	if err != nil {
		return Payload{}, err
	}
	p.Bar = bar

	// ---- timing ----
	if f.ScrollSpeedMs != nil {
		if *f.ScrollSpeedMs == 0 {
			return Payload{}, malformed(size, "scroll_speed_ms must be > 0")
		}
		p.ScrollSpeed = time.Duration(*f.ScrollSpeedMs) * time.Millisecond
	}
	if f.PageTimeoutMs != nil {
		if *f.PageTimeoutMs == 0 {
			return Payload{}, malformed(size, "page_timeout_ms must be > 0")
		}
		p.PageTimeout = time.Duration(*f.PageTimeoutMs) * time.Millisecond
	}
	switch {
	case f.DurationMs != nil:
		p.Duration = time.Duration(*f.DurationMs) * time.Millisecond
	case f.TTLMs != nil:
		p.Duration = time.Duration(*f.TTLMs) * time.Millisecond
	}

	// ---- mode + icons ----
	if f.Mode != nil {
		p.Mode = ParseMode(*f.Mode)
	}
	if f.Icons != nil {
		seen := make(map[glyph.ID]bool)
		dropped := 0
		for _, name := range *f.Icons {
			id, ok := glyph.ParseIcon(name)
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			if len(p.Icons) == MaxIcons {
				dropped++
				continue
			}
			p.Icons = append(p.Icons, id)
		}
		if dropped > 0 {
			log.Debug("icons truncated",
				zap.Int("kept", len(p.Icons)),
				zap.Int("dropped", dropped),
			)
		}
	}

	return p, nil
}

func buildBar(f *displayFields, size int) (*Bar, error) {
	var bar *Bar

	switch {
	case f.Bar != nil:
		if *f.Bar < 0 || *f.Bar > 100 {
			return nil, malformed(size, fmt.Sprintf("bar %d outside 0..100", *f.Bar))
		}
		bar = &Bar{Percent: uint8(*f.Bar)}

	case f.BarValue != nil || f.BarMax != nil:
		value := uint32(0)
		if f.BarValue != nil {
			value = *f.BarValue
		}
		max := uint32(100)
		if f.BarMax != nil {
			max = *f.BarMax
		}
		if max < 1 {
			return nil, malformed(size, "bar_max must be >= 1")
		}
		if value > max {
			return nil, malformed(size, fmt.Sprintf("bar_value %d exceeds bar_max %d", value, max))
		}
		bar = &Bar{Percent: percentOf(value, max), Value: value, Max: max}
	}

	if f.BarLabel != nil {
		if n := len([]rune(*f.BarLabel)); n > MaxLabelChars {
			return nil, malformed(size, fmt.Sprintf("bar_label has %d chars, max %d", n, MaxLabelChars))
		}
	}
	if bar == nil {
		return nil, nil
	}

	if f.BarLabel != nil {
		bar.Label = *f.BarLabel
	}
	if boolOr(f.BarLine1, false) {
		bar.Row = BarRowTop
	}
	return bar, nil
}

func canonicalChecksum(f displayFields) (uint32, error) {
	f.Checksum = nil
	b, err := marshalCompact(f)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(b), nil
}

func parseChecksum(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 8 {
		return 0, fmt.Errorf("checksum %q is not 1-8 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// marshalCompact is json.Marshal without HTML escaping.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func reasonOf(err error) Reason {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonMalformed
}

func excerpt(b []byte) []byte {
	const max = 48
	if len(b) > max {
		return b[:max]
	}
	return b
}

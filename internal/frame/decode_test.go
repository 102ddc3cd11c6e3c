// internal/frame/decode_test.go
package frame

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
)

// ---- helpers ----

func raw(s string) link.RawFrame {
	return link.RawFrame{Bytes: []byte(s), Size: len(s) + 1}
}

func mustDecode(t *testing.T, d *Decoder, line []byte) Payload {
	t.Helper()
	p, err := d.Decode(link.RawFrame{Bytes: line, Size: len(line) + 1})
	if err != nil {
		t.Fatalf("unexpected decode error: %v (line=%s)", err, line)
	}
	return p
}

func expectReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError(%s), got %v", want, err)
	}
	if pe.Reason != want {
		t.Fatalf("expected reason %s, got %s (%v)", want, pe.Reason, err)
	}
}

// ---- tests ----

func TestDecode_Minimal(t *testing.T) {
	d := NewDecoder(nil)

	p, err := d.Decode(raw(`{"line1":"A","line2":"B","duration_ms":100}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Line1 != "A" || p.Line2 != "B" {
		t.Fatalf("unexpected lines %q/%q", p.Line1, p.Line2)
	}
	if p.SchemaVersion != SchemaVersion {
		t.Fatalf("absent schema_version must mean %d, got %d", SchemaVersion, p.SchemaVersion)
	}
	if p.Duration != 100*time.Millisecond {
		t.Fatalf("expected 100ms duration, got %v", p.Duration)
	}
	if !p.Backlight || !p.Scroll || p.Blink {
		t.Fatalf("unexpected flag defaults: %+v", p)
	}
	if p.PageTimeout != 0 || p.ScrollSpeed != 0 {
		t.Fatalf("absent timings must stay zero, got %v/%v", p.PageTimeout, p.ScrollSpeed)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	d := NewDecoder(nil)

	inputs := []Payload{
		{Line1: "HELLO", Line2: "WORLD", Backlight: true, Scroll: true},
		{
			Line1: "CPU", Line2: "", Backlight: true, Scroll: true,
			Bar: &Bar{Value: 730, Max: 1000, Label: "LOAD", Row: BarRowTop},
		},
		{
			Line1: "Temp", Line2: "85C <hot> & rising", Blink: true,
			Bar:         &Bar{Percent: 42},
			Mode:        ModeDashboard,
			Icons:       []glyph.ID{glyph.IconHeart, glyph.IconWifi},
			Duration:    8 * time.Second,
			PageTimeout: 1500 * time.Millisecond,
			ScrollSpeed: 400 * time.Millisecond,
		},
		{Line1: "x", Line2: "y", Mode: ModeBanner, Clear: true, Test: true, ConfigReload: true},
	}

	for i, p0 := range inputs {
		line, err := Encode(p0)
		if err != nil {
			t.Fatalf("case %d: encode failed: %v", i, err)
		}
		p1 := mustDecode(t, d, line)

		again, err := Encode(p1)
		if err != nil {
			t.Fatalf("case %d: re-encode failed: %v", i, err)
		}
		if !bytes.Equal(line, again) {
			t.Fatalf("case %d: encode is not a normal form:\n%s\n%s", i, line, again)
		}

		p2 := mustDecode(t, d, again)
		if !reflect.DeepEqual(p1, p2) {
			t.Fatalf("case %d: round trip mismatch:\n%+v\n%+v", i, p1, p2)
		}
	}
}

func TestDecode_OversizeWithoutParsing(t *testing.T) {
	d := NewDecoder(nil)

	// Not JSON at all: only the size check can have produced the verdict.
	junk := bytes.Repeat([]byte{'{'}, link.MaxFrameBytes)
	_, err := d.Decode(link.RawFrame{Bytes: junk, Size: 4096})
	expectReason(t, err, ReasonOversize)
}

func TestDecode_ChecksumFlipAlwaysRejected(t *testing.T) {
	d := NewDecoder(nil)

	line, err := Encode(Payload{Line1: "ABCDEFGH", Line2: "12345678", Backlight: true, Scroll: true})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	s := string(line)

	for _, field := range []string{"ABCDEFGH", "12345678"} {
		start := strings.Index(s, field)
		for i := 0; i < len(field); i++ {
			b := []byte(s)
			b[start+i] ^= 0x01
			_, err := d.Decode(link.RawFrame{Bytes: b, Size: len(b) + 1})
			expectReason(t, err, ReasonChecksum)
		}
	}

	if got := d.Stats().ChecksumFailures; got != 16 {
		t.Fatalf("expected 16 checksum failures, got %d", got)
	}
}

func TestDecode_ChecksumFormats(t *testing.T) {
	d := NewDecoder(nil)

	line, _ := Encode(Payload{Line1: "A", Line2: "B", Backlight: true, Scroll: true})
	p := mustDecode(t, d, line)

	i := strings.Index(string(line), `"checksum":"`) + len(`"checksum":"`)
	upper := string(line[:i]) + strings.ToUpper(string(line[i:i+8])) + string(line[i+8:])
	if q := mustDecode(t, d, []byte(upper)); q.Checksum != p.Checksum {
		t.Fatalf("uppercase hex changed checksum: %08x vs %08x", q.Checksum, p.Checksum)
	}

	prefixed := strings.Replace(string(line), `"checksum":"`, `"checksum":"0x`, 1)
	q := mustDecode(t, d, []byte(prefixed))
	if q.Checksum != p.Checksum {
		t.Fatalf("0x prefix changed checksum: %08x vs %08x", q.Checksum, p.Checksum)
	}

	_, err := d.Decode(raw(`{"line1":"A","line2":"B","checksum":"zz"}`))
	expectReason(t, err, ReasonMalformed)
}

func TestDecode_Schema(t *testing.T) {
	d := NewDecoder(nil)

	if _, err := d.Decode(raw(`{"line1":"A","line2":"B","schema_version":1}`)); err != nil {
		t.Fatalf("schema 1 must decode: %v", err)
	}
	if _, err := d.Decode(raw(`{"line1":"A","line2":"B","version":1}`)); err != nil {
		t.Fatalf("version alias must decode: %v", err)
	}

	_, err := d.Decode(raw(`{"line1":"A","line2":"B","schema_version":2}`))
	expectReason(t, err, ReasonSchema)

	_, err = d.Decode(raw(`{"line1":"A","line2":"B","version":7}`))
	expectReason(t, err, ReasonSchema)
}

func TestDecode_Malformed(t *testing.T) {
	d := NewDecoder(nil)

	cases := []string{
		``,
		`not json`,
		`{"line1":"A"}`,
		`{"line1":"A","line2":"B","bogus":1}`,
		`{"line1":"A","line2":"B"} trailing`,
		`{"line1":"` + strings.Repeat("x", MaxLineChars+1) + `","line2":"B"}`,
		`{"line1":"A","line2":"B","bar":101}`,
		`{"line1":"A","line2":"B","bar":-1}`,
		`{"line1":"A","line2":"B","bar_value":5,"bar_max":0}`,
		`{"line1":"A","line2":"B","bar_value":50,"bar_max":10}`,
		`{"line1":"A","line2":"B","page_timeout_ms":0}`,
		`{"line1":"A","line2":"B","scroll_speed_ms":0}`,
		`{"line1":"A","line2":"B","bar_label":"` + strings.Repeat("x", MaxLabelChars+1) + `"}`,
		`{"channel":"radio","line1":"A","line2":"B"}`,
		`{"line1":"A","line2":"B","crc32":5}`,
	}

	for _, c := range cases {
		_, err := d.Decode(raw(c))
		expectReason(t, err, ReasonMalformed)
	}
}

func TestDecode_ForwardCompatibleEnums(t *testing.T) {
	d := NewDecoder(nil)

	p, err := d.Decode(raw(`{"line1":"A","line2":"B","mode":"hologram","icons":["rocket","HEART","heart","wifi","bell","note","duck"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Mode != ModeNormal {
		t.Fatalf("unknown mode must fall back to normal, got %s", p.Mode)
	}
	want := []glyph.ID{glyph.IconHeart, glyph.IconWifi, glyph.IconBell, glyph.IconNote}
	if !reflect.DeepEqual(p.Icons, want) {
		t.Fatalf("expected %v, got %v", want, p.Icons)
	}
}

func TestDecode_IconTruncationIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := NewDecoder(zap.New(core))

	p, err := d.Decode(raw(`{"line1":"A","line2":"B","icons":["heart","wifi","bell","note","duck","lock"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Icons) != MaxIcons {
		t.Fatalf("expected %d icons, got %d", MaxIcons, len(p.Icons))
	}

	entries := logs.FilterMessage("icons truncated").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 truncation log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["dropped"]; got != int64(2) {
		t.Fatalf("expected 2 dropped icons, got %v", got)
	}

	_, _ = d.Decode(raw(`{"line1":"A","line2":"C","icons":["heart","wifi"]}`))
	if n := logs.FilterMessage("icons truncated").Len(); n != 1 {
		t.Fatalf("expected no log within the limit, got %d", n)
	}
}

func TestDecode_BarVariants(t *testing.T) {
	d := NewDecoder(nil)

	p, _ := d.Decode(raw(`{"line1":"A","line2":"B","bar_value":730,"bar_max":1000}`))
	if p.Bar == nil || p.Bar.Percent != 73 || p.Bar.Row != BarRowBottom {
		t.Fatalf("unexpected bar %+v", p.Bar)
	}

	p, _ = d.Decode(raw(`{"line1":"A","line2":"B","bar":10,"bar_value":99,"bar_line1":true}`))
	if p.Bar == nil || p.Bar.Percent != 10 || p.Bar.Row != BarRowTop {
		t.Fatalf("direct percent must win: %+v", p.Bar)
	}

	p, _ = d.Decode(raw(`{"line1":"A","line2":"B","bar_value":1,"bar_max":3}`))
	if p.Bar.Percent != 33 {
		t.Fatalf("expected rounded 33, got %d", p.Bar.Percent)
	}

	p, _ = d.Decode(raw(`{"line1":"A","line2":"B","bar_value":2,"bar_max":3}`))
	if p.Bar.Percent != 67 {
		t.Fatalf("expected rounded 67, got %d", p.Bar.Percent)
	}
}

func TestDecode_TTLAlias(t *testing.T) {
	d := NewDecoder(nil)

	p, _ := d.Decode(raw(`{"line1":"A","line2":"B","ttl_ms":8000}`))
	if p.Duration != 8*time.Second {
		t.Fatalf("expected ttl alias 8s, got %v", p.Duration)
	}

	p, _ = d.Decode(raw(`{"line1":"A","line2":"B","ttl_ms":8000,"duration_ms":2000}`))
	if p.Duration != 2*time.Second {
		t.Fatalf("duration_ms must win over ttl_ms, got %v", p.Duration)
	}
}

func TestAdmit_ThreeIdenticalFrames(t *testing.T) {
	d := NewDecoder(nil)
	line := `{"line1":"A","line2":"B"}`

	admitted := 0
	for i := 0; i < 3; i++ {
		p, err := d.Decode(raw(line))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Admit(p) {
			admitted++
		}
	}

	if admitted != 1 {
		t.Fatalf("expected 1 admitted frame, got %d", admitted)
	}
	if d.Stats().Duplicates != 2 {
		t.Fatalf("expected 2 duplicates, got %d", d.Stats().Duplicates)
	}

	d.ResetDedup()
	p, _ := d.Decode(raw(line))
	if !d.Admit(p) {
		t.Fatalf("frame must be admitted again after reset")
	}
}

func TestDecode_RejectionIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDecoder(zap.New(core))

	_, _ = d.Decode(raw(`{"line1":"A","line2":"B","schema_version":9}`))

	entries := logs.FilterMessage("frame rejected").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 rejection log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["reason"] != string(ReasonSchema) {
		t.Fatalf("expected reason %s, got %v", ReasonSchema, fields["reason"])
	}
	if fields["bytes"] != int64(len(`{"line1":"A","line2":"B","schema_version":9}`)+1) {
		t.Fatalf("unexpected bytes field %v", fields["bytes"])
	}
}

func TestCompressedEnvelope(t *testing.T) {
	d := NewDecoder(nil)

	inner, _ := Encode(Payload{Line1: "ZIPPED", Line2: "FRAME", Backlight: true, Scroll: true})
	want := mustDecode(t, d, inner)

	for _, codec := range []string{CodecNone, CodecLZ4, CodecZstd} {
		env, err := Compress(inner, codec)
		if err != nil {
			t.Fatalf("%s: compress failed: %v", codec, err)
		}
		got := mustDecode(t, d, env)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: envelope payload mismatch:\n%+v\n%+v", codec, got, want)
		}
	}

	nested, _ := Compress(inner, CodecNone)
	twice, _ := Compress(nested, CodecNone)
	_, err := d.Decode(link.RawFrame{Bytes: twice, Size: len(twice) + 1})
	expectReason(t, err, ReasonMalformed)

	_, err = d.Decode(raw(`{"type":"compressed","schema_version":1,"codec":"lz77","original_len":4,"data":"AAAA"}`))
	expectReason(t, err, ReasonMalformed)

	_, err = d.Decode(raw(`{"type":"compressed","schema_version":1,"codec":"lz4","original_len":4,"data":"AAAA"}`))
	expectReason(t, err, ReasonMalformed)
}

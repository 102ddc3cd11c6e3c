// internal/render/scheduler_test.go
package render

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
)

// ---- fakes ----

type fakeDisplay struct {
	rows      [][]byte
	cgram     map[int]glyph.Pattern
	backlight bool

	lineWrites int
	cgramLoads int
	failWrites int
}

func newFakeDisplay(rows int) *fakeDisplay {
	return &fakeDisplay{rows: make([][]byte, rows), cgram: map[int]glyph.Pattern{}}
}

func (f *fakeDisplay) WriteLine(row int, text []byte) error {
	if f.failWrites > 0 {
		f.failWrites--
		return errors.New("i2c: nack")
	}
	f.lineWrites++
	f.rows[row] = append([]byte(nil), text...)
	return nil
}

func (f *fakeDisplay) SetCGRAM(slot int, p glyph.Pattern) error {
	f.cgramLoads++
	f.cgram[slot] = p
	return nil
}

func (f *fakeDisplay) SetBacklight(on bool) error {
	f.backlight = on
	return nil
}

func (f *fakeDisplay) row(i int) string { return string(f.rows[i]) }

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *fakeDisplay) {
	t.Helper()
	if cfg.Cols == 0 {
		cfg.Cols = 16
	}
	if cfg.Rows == 0 {
		cfg.Rows = 2
	}
	disp := newFakeDisplay(cfg.Rows)
	s, err := New(cfg, disp, glyph.NewBank(nil, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, disp
}

func page(line1 string) frame.Payload {
	return frame.Payload{SchemaVersion: 1, Line1: line1, Backlight: true}
}

func headLine(t *testing.T, s *Scheduler) string {
	t.Helper()
	p, ok := s.Head()
	if !ok {
		t.Fatalf("expected a head entry")
	}
	return p.Line1
}

// ---- geometry ----

func TestNew_RejectsBadGeometry(t *testing.T) {
	disp := newFakeDisplay(2)
	if _, err := New(Config{Cols: 4, Rows: 2}, disp, nil, nil); err == nil {
		t.Fatalf("expected error for 4 columns")
	}
	if _, err := New(Config{Cols: 16, Rows: 0}, disp, nil, nil); err == nil {
		t.Fatalf("expected error for 0 rows")
	}
	if _, err := New(Config{Cols: 16, Rows: 2}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil display")
	}
}

// ---- queue ----

func TestScheduler_RotatesInInsertionOrder(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	for _, l := range []string{"A", "B", "C"} {
		s.Push(page(l), t0)
	}

	want := []string{"A", "B", "C", "A", "B"}
	for i, w := range want {
		s.Tick(t0.Add(time.Duration(i) * DefaultPageTimeout))
		if got := headLine(t, s); got != w {
			t.Fatalf("page %d: expected %q, got %q", i, w, got)
		}
	}
}

func TestScheduler_SingleEntryStays(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	s.Push(page("ONLY"), t0)
	for i := 1; i <= 3; i++ {
		s.Tick(t0.Add(time.Duration(i) * DefaultPageTimeout))
		if got := headLine(t, s); got != "ONLY" {
			t.Fatalf("expected ONLY, got %q", got)
		}
	}
}

func TestScheduler_PerPayloadPageTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	a := page("A")
	a.PageTimeout = time.Second
	s.Push(a, t0)
	s.Push(page("B"), t0)

	s.Tick(t0.Add(999 * time.Millisecond))
	if got := headLine(t, s); got != "A" {
		t.Fatalf("expected A before its page timeout, got %q", got)
	}
	s.Tick(t0.Add(time.Second))
	if got := headLine(t, s); got != "B" {
		t.Fatalf("expected B after A's page timeout, got %q", got)
	}
}

func TestScheduler_HeadExpiryPromotesSameTick(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	a := page("A")
	a.Duration = 100 * time.Millisecond
	s.Push(a, t0)
	s.Push(page("B"), t0)

	s.Tick(t0.Add(150 * time.Millisecond))
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
	if got := headLine(t, s); got != "B" {
		t.Fatalf("expected B promoted, got %q", got)
	}

	// B's page starts at promotion, not at its arrival
	s.Tick(t0.Add(150*time.Millisecond + DefaultPageTimeout - time.Millisecond))
	if got := headLine(t, s); got != "B" {
		t.Fatalf("expected B still displayed, got %q", got)
	}
}

func TestScheduler_ExpiryAnywhereInQueue(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	s.Push(page("A"), t0)
	b := page("B")
	b.Duration = time.Second
	s.Push(b, t0)
	s.Push(page("C"), t0)

	s.Tick(t0.Add(2 * time.Second))
	got := s.Entries()
	if len(got) != 2 || got[0].Line1 != "A" || got[1].Line1 != "C" {
		t.Fatalf("expected [A C], got %+v", got)
	}
}

func TestScheduler_ExpiredFrameLeavesBlankPanel(t *testing.T) {
	s, disp := newTestScheduler(t, Config{})
	dec := frame.NewDecoder(zaptest.NewLogger(t))
	t0 := time.Unix(1000, 0)

	line := []byte(`{"line1":"A","line2":"B","duration_ms":100}`)
	p, err := dec.Decode(link.RawFrame{Bytes: line, Size: len(line)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Push(p, t0)
	if err := s.Render(t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if disp.row(0) != "A               " || disp.row(1) != "B               " {
		t.Fatalf("unexpected screen %q / %q", disp.row(0), disp.row(1))
	}

	now := t0.Add(150 * time.Millisecond)
	s.Tick(now)
	if s.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", s.Len())
	}
	if err := s.Render(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blank := "                "
	if disp.row(0) != blank || disp.row(1) != blank {
		t.Fatalf("expected blank panel, got %q / %q", disp.row(0), disp.row(1))
	}
}

func TestScheduler_ClearEmptiesQueueFirst(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	s.Push(page("A"), t0)
	s.Push(page("B"), t0)

	c := page("C")
	c.Clear = true
	s.Push(c, t0.Add(time.Second))

	if s.Len() != 1 {
		t.Fatalf("expected 1 entry after clear, got %d", s.Len())
	}
	if got := headLine(t, s); got != "C" {
		t.Fatalf("expected C, got %q", got)
	}
}

func TestScheduler_OverflowEvictsOldest(t *testing.T) {
	s, _ := newTestScheduler(t, Config{MaxEntries: 3})
	t0 := time.Unix(1000, 0)

	for i, l := range []string{"A", "B", "C", "D"} {
		s.Push(page(l), t0.Add(time.Duration(i)*time.Millisecond))
	}

	got := s.Entries()
	if len(got) != 3 || got[0].Line1 != "B" || got[2].Line1 != "D" {
		t.Fatalf("expected [B C D], got %+v", got)
	}
}

func TestScheduler_IgnoresNonDisplayPayloads(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	t0 := time.Unix(1000, 0)

	if s.Push(frame.Payload{Channel: frame.ChannelTunnel}, t0) {
		t.Fatalf("tunnel payload must not be queued")
	}
	reload := page("x")
	reload.ConfigReload = true
	if s.Push(reload, t0) {
		t.Fatalf("config_reload payload must not be queued")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", s.Len())
	}
}

func TestScheduler_ReconfigureKeepsGeometry(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	s.Reconfigure(Config{Cols: 20, Rows: 4, PageTimeout: time.Second})

	if s.cfg.Cols != 16 || s.cfg.Rows != 2 {
		t.Fatalf("geometry must not change, got %dx%d", s.cfg.Cols, s.cfg.Rows)
	}
	if s.cfg.PageTimeout != time.Second {
		t.Fatalf("expected reloaded page timeout, got %v", s.cfg.PageTimeout)
	}
	if s.cfg.ScrollSpeed != DefaultScrollSpeed {
		t.Fatalf("expected default scroll speed, got %v", s.cfg.ScrollSpeed)
	}
}

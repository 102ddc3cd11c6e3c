// internal/render/compose.go
package render

import (
	"bytes"
	"time"

	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/glyph"
)

// scrollGap separates the tail of a scrolling line from its head.
const scrollGap = "  |  "

const (
	offlineTitle    = "SERIAL OFFLINE"
	offlineWaiting  = "waiting for data"
	offlineReconnct = "reconnecting..."
	parseTitle      = "ERR PARSE"
)

// ---- layout ----

type textRow struct {
	row   int // -1: not shown
	width int
	text  []byte
}

type layout struct {
	text    [2]textRow
	barRow  int // -1: no bar
	iconRow int // -1: no icons
}

// layout assigns payload lines, bar and icons to panel rows.
func (s *Scheduler) layout(p frame.Payload) layout {
	l := layout{barRow: -1, iconRow: -1}
	l.text[0].row, l.text[1].row = -1, -1

	rows := s.cfg.Rows
	if p.Bar != nil {
		l.barRow = rows - 1
		if p.Bar.Row == frame.BarRowTop && p.Mode != frame.ModeDashboard {
			l.barRow = 0
		}
	}

	free := make([]int, 0, rows)
	for r := 0; r < rows; r++ {
		if r != l.barRow {
			free = append(free, r)
		}
	}

	lines := []string{p.Line1, p.Line2}
	if p.Mode == frame.ModeBanner {
		lines = lines[:1]
	}
	for i, line := range lines {
		if i >= len(free) {
			break
		}
		l.text[i] = textRow{row: free[i], width: s.cfg.Cols, text: toPanelBytes(line)}
	}

	if len(p.Icons) > 0 && len(free) > 0 {
		l.iconRow = free[0]
		for i := range l.text {
			if l.text[i].row == l.iconRow {
				l.text[i].width -= iconCount(p.Icons)
			}
		}
	}
	return l
}

func iconCount(ids []glyph.ID) int {
	if len(ids) > frame.MaxIcons {
		return frame.MaxIcons
	}
	return len(ids)
}

// toPanelBytes maps text onto the panel's ASCII character ROM.
func toPanelBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			out = append(out, '?')
			continue
		}
		out = append(out, byte(r))
	}
	return out
}

// fit renders text into width cells: padded, scrolled through the gap
// marker, or truncated with an ellipsis.
func fit(text []byte, width, offset int, scroll bool) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = ' '
	}
	if width <= 0 {
		return out
	}
	if len(text) <= width {
		copy(out, text)
		return out
	}
	if scroll {
		ring := append(append([]byte{}, text...), scrollGap...)
		for i := range out {
			out[i] = ring[(offset+i)%len(ring)]
		}
		return out
	}
	if width <= 3 {
		copy(out, text[:width])
		return out
	}
	copy(out, text[:width-3])
	copy(out[width-3:], "...")
	return out
}

// ---- grid ----

// cell is either a ROM byte or a custom glyph.
type cell struct {
	ch byte
	id glyph.ID
}

type grid struct {
	cells     [][]cell
	backlight bool
	ids       []glyph.ID
}

func newGrid(rows, cols int) *grid {
	g := &grid{cells: make([][]cell, rows)}
	for r := range g.cells {
		g.cells[r] = make([]cell, cols)
		for c := range g.cells[r] {
			g.cells[r][c] = cell{ch: ' '}
		}
	}
	return g
}

func (g *grid) text(row, col int, b []byte) {
	if row < 0 || row >= len(g.cells) {
		return
	}
	for i, ch := range b {
		if col+i >= len(g.cells[row]) {
			return
		}
		g.cells[row][col+i] = cell{ch: ch}
	}
}

func (g *grid) glyph(row, col int, id glyph.ID) {
	if row < 0 || row >= len(g.cells) || col < 0 || col >= len(g.cells[row]) {
		return
	}
	g.cells[row][col] = cell{id: id}
	g.ids = append(g.ids, id)
}

// bytes materializes the grid with the slot mapping of this pass.
func (g *grid) bytes(m glyph.Mapping) [][]byte {
	out := make([][]byte, len(g.cells))
	for r, row := range g.cells {
		line := make([]byte, len(row))
		for c, cl := range row {
			switch {
			case cl.id == 0:
				line[c] = cl.ch
			default:
				code, ok := m.Code(cl.id)
				if !ok {
					code = glyph.Fallback(cl.id)
				}
				line[c] = code
			}
		}
		out[r] = line
	}
	return out
}

// ---- composition ----

// compose builds the screen for now. Priority: parse-error overlay,
// offline template, test pattern, queue head.
func (s *Scheduler) compose(now time.Time) *grid {
	g := newGrid(s.cfg.Rows, s.cfg.Cols)
	g.backlight = true

	switch {
	case s.parseErr != "" && now.Before(s.parseUntil):
		g.text(0, 0, fit(toPanelBytes(parseTitle), s.cfg.Cols, 0, false))
		g.text(1, 0, fit(toPanelBytes(s.parseErr), s.cfg.Cols, 0, false))
		g.backlight = s.blinkOn(now)

	case s.offline:
		g.text(0, 0, fit(toPanelBytes(offlineTitle), s.cfg.Cols, 0, false))
		sub := offlineWaiting
		if s.linkDown {
			sub = offlineReconnct
		}
		g.text(1, 0, fit(toPanelBytes(sub), s.cfg.Cols, 0, false))

	case len(s.queue) == 0:

	case s.queue[0].Payload.Test:
		for r := range g.cells {
			for c := range g.cells[r] {
				g.glyph(r, c, glyph.BarFull)
			}
		}

	default:
		s.composeEntry(g, s.queue[0], now)
	}
	return g
}

func (s *Scheduler) composeEntry(g *grid, e *Entry, now time.Time) {
	p := e.Payload
	l := s.layout(p)

	if p.Bar != nil {
		s.composeBar(g, l.barRow, p.Bar)
	}

	for i, tr := range l.text {
		if tr.row < 0 {
			continue
		}
		g.text(tr.row, 0, fit(tr.text, tr.width, e.offsets[i], p.Scroll))
	}

	if l.iconRow >= 0 {
		n := iconCount(p.Icons)
		for i, id := range p.Icons[:n] {
			g.glyph(l.iconRow, s.cfg.Cols-n+i, id)
		}
	}

	g.backlight = p.Backlight && (!p.Blink || s.blinkOn(now))
}

// composeBar draws "label bar" with five sub-steps per cell.
func (s *Scheduler) composeBar(g *grid, row int, b *frame.Bar) {
	cols := s.cfg.Cols
	col := 0
	if b.Label != "" {
		label := toPanelBytes(b.Label)
		if len(label) > cols/2 {
			label = label[:cols/2]
		}
		g.text(row, 0, label)
		col = len(label) + 1
	}

	width := cols - col
	units := int(b.Percent) * width * glyph.UnitsPerCell / 100
	full, rem := units/glyph.UnitsPerCell, units%glyph.UnitsPerCell
	for i := 0; i < full; i++ {
		g.glyph(row, col+i, glyph.BarFull)
	}
	if rem > 0 {
		g.glyph(row, col+full, glyph.BarLevel(rem))
	}
}

func (s *Scheduler) blinkOn(now time.Time) bool {
	return (now.UnixNano()/int64(s.cfg.BlinkInterval))%2 == 0
}

// ---- flush ----

type screen struct {
	rows      [][]byte
	backlight bool
}

// Render flushes the composed screen as one diffed write: CGRAM uploads,
// changed rows, backlight. After a failure the next call redraws every
// row. A pass that had to drop glyphs still completes and reports a
// FaultGlyphOverflow.
func (s *Scheduler) Render(now time.Time) error {
	g := s.compose(now)
	m := s.bank.EnsureLoaded(g.ids)
	next := screen{rows: g.bytes(m), backlight: g.backlight}

	full := !s.valid || len(m.Loads) > 0

	for _, ld := range m.Loads {
		if err := s.disp.SetCGRAM(ld.Slot, ld.Pattern); err != nil {
			return s.fail("set-cgram", err)
		}
	}
	for r, line := range next.rows {
		if !full && r < len(s.last.rows) && bytes.Equal(line, s.last.rows[r]) {
			continue
		}
		if err := s.disp.WriteLine(r, line); err != nil {
			return s.fail("write-line", err)
		}
	}
	if full || next.backlight != s.last.backlight {
		if err := s.disp.SetBacklight(next.backlight); err != nil {
			return s.fail("set-backlight", err)
		}
	}

	s.last = next
	s.valid = true

	if len(m.Dropped) > 0 {
		return &Fault{Kind: FaultGlyphOverflow, Op: "ensure-loaded"}
	}
	return nil
}

// Invalidate forces the next Render to redraw everything.
func (s *Scheduler) Invalidate() {
	s.valid = false
	s.bank.Reset()
}

func (s *Scheduler) fail(op string, err error) error {
	f := &Fault{Kind: FaultHardwareWrite, Op: op, Err: err}
	s.log.Warn("render failed",
		zap.String("op", op),
		zap.Int("queued", len(s.queue)),
		zap.Error(err),
	)
	s.Invalidate()
	return f
}

// internal/lcd/memory.go
package lcd

import (
	"fmt"
	"strings"

	"github.com/macg4dave/lifelinetty/internal/glyph"
)

// Memory is an in-memory panel for headless runs and tests.
type Memory struct {
	cols  int
	rows  [][]byte
	cgram [glyph.Slots]glyph.Pattern

	backlight bool
	writes    int
}

func NewMemory(cols, rows int) *Memory {
	m := &Memory{cols: cols, rows: make([][]byte, rows), backlight: true}
	for i := range m.rows {
		m.rows[i] = []byte(strings.Repeat(" ", cols))
	}
	return m
}

func (m *Memory) WriteLine(row int, text []byte) error {
	if row < 0 || row >= len(m.rows) {
		return fmt.Errorf("lcd: row %d out of range", row)
	}
	line := []byte(strings.Repeat(" ", m.cols))
	copy(line, text)
	m.rows[row] = line
	m.writes++
	return nil
}

func (m *Memory) SetCGRAM(slot int, pattern glyph.Pattern) error {
	if slot < 0 || slot >= glyph.Slots {
		return fmt.Errorf("lcd: cgram slot %d out of range", slot)
	}
	m.cgram[slot] = pattern
	return nil
}

func (m *Memory) SetBacklight(on bool) error {
	m.backlight = on
	return nil
}

func (m *Memory) Close() error { return nil }

// Lines returns the panel text with CGRAM codes shown as '#'.
func (m *Memory) Lines() []string {
	out := make([]string, len(m.rows))
	for i, row := range m.rows {
		b := make([]byte, len(row))
		for j, c := range row {
			if c < glyph.Slots {
				c = '#'
			}
			b[j] = c
		}
		out[i] = string(b)
	}
	return out
}

func (m *Memory) Backlight() bool { return m.backlight }

func (m *Memory) Writes() int { return m.writes }

func (m *Memory) CGRAM(slot int) glyph.Pattern { return m.cgram[slot] }

// internal/glyph/glyph.go
package glyph

import "strings"

// ID identifies one custom glyph: a bar fill segment or a named icon.
// The set is closed. Anything the decoder cannot map is dropped there.
type ID uint8

// Pattern is one 5x8 CGRAM bitmap, one byte per row (low 5 bits used).
type Pattern [8]byte

// ---- BAR SEGMENTS ----

// Bar levels 1..5 are partial-to-full cells. Level 0 is a blank cell
// and never needs a glyph.
const (
	BarLevel1 ID = iota + 1
	BarLevel2
	BarLevel3
	BarLevel4
	BarFull
)

// UnitsPerCell is the number of horizontal fill steps in one bar cell.
const UnitsPerCell = 5

// ---- ICONS ----

const (
	IconBattery ID = iota + 16
	IconHeart
	IconArrow
	IconWifi
	IconBell
	IconNote
	IconClock
	IconDuck
	IconCheck
	IconCross
	IconLock
	IconDegree
)

// Slots is the fixed CGRAM capacity of an HD44780 panel.
const Slots = 8

var iconNames = map[ID]string{
	IconBattery: "battery",
	IconHeart:   "heart",
	IconArrow:   "arrow",
	IconWifi:    "wifi",
	IconBell:    "bell",
	IconNote:    "note",
	IconClock:   "clock",
	IconDuck:    "duck",
	IconCheck:   "check",
	IconCross:   "cross",
	IconLock:    "lock",
	IconDegree:  "degree",
}

var iconByName = func() map[string]ID {
	m := make(map[string]ID, len(iconNames))
	for id, name := range iconNames {
		m[name] = id
	}
	// legacy spelling
	m["clockface"] = IconClock
	return m
}()

// ParseIcon maps a wire icon name to its ID. Matching is case-insensitive.
func ParseIcon(name string) (ID, bool) {
	id, ok := iconByName[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// BarLevel returns the segment glyph for a partial fill of n units (1..5).
func BarLevel(n int) ID {
	if n <= 0 {
		return 0
	}
	if n >= UnitsPerCell {
		return BarFull
	}
	return BarLevel1 + ID(n-1)
}

// IsBar reports whether id is a bar fill segment.
func (id ID) IsBar() bool {
	return id >= BarLevel1 && id <= BarFull
}

// IsIcon reports whether id is a known icon.
func (id ID) IsIcon() bool {
	_, ok := iconNames[id]
	return ok
}

func (id ID) String() string {
	if id.IsBar() {
		return "bar" + string(rune('0'+int(id-BarLevel1)+1))
	}
	if name, ok := iconNames[id]; ok {
		return name
	}
	return "unknown"
}

// IconNames lists every known icon name.
func IconNames() []string {
	out := make([]string, 0, len(iconNames))
	for id := IconBattery; id <= IconDegree; id++ {
		out = append(out, iconNames[id])
	}
	return out
}

// ---- BITMAPS ----

var barRows = [UnitsPerCell]byte{0x10, 0x18, 0x1c, 0x1e, 0x1f}

var iconPatterns = map[ID]Pattern{
	IconBattery: {0x0e, 0x1b, 0x11, 0x11, 0x1f, 0x1f, 0x1f, 0x1f},
	IconHeart:   {0x00, 0x0a, 0x1f, 0x1f, 0x1f, 0x0e, 0x04, 0x00},
	IconArrow:   {0x00, 0x04, 0x06, 0x1f, 0x06, 0x04, 0x00, 0x00},
	IconWifi:    {0x00, 0x0e, 0x11, 0x04, 0x0a, 0x00, 0x04, 0x00},
	IconBell:    {0x04, 0x0e, 0x0e, 0x0e, 0x1f, 0x00, 0x04, 0x00},
	IconNote:    {0x02, 0x03, 0x02, 0x0e, 0x1e, 0x0c, 0x00, 0x00},
	IconClock:   {0x00, 0x0e, 0x15, 0x17, 0x11, 0x0e, 0x00, 0x00},
	IconDuck:    {0x00, 0x0c, 0x1d, 0x0f, 0x0f, 0x06, 0x00, 0x00},
	IconCheck:   {0x00, 0x01, 0x03, 0x16, 0x1c, 0x08, 0x00, 0x00},
	IconCross:   {0x00, 0x1b, 0x0e, 0x04, 0x0e, 0x1b, 0x00, 0x00},
	IconLock:    {0x0e, 0x11, 0x11, 0x1f, 0x1b, 0x1b, 0x1f, 0x00},
	IconDegree:  {0x06, 0x09, 0x09, 0x06, 0x00, 0x00, 0x00, 0x00},
}

// DefaultPattern returns the built-in bitmap for id.
func DefaultPattern(id ID) (Pattern, bool) {
	if id.IsBar() {
		var p Pattern
		for i := range p {
			p[i] = barRows[id-BarLevel1]
		}
		return p, true
	}
	p, ok := iconPatterns[id]
	return p, ok
}

// Fallback is the ASCII stand-in for a glyph that could not be loaded.
func Fallback(id ID) byte {
	const ramp = " .:-=#"
	if id.IsBar() {
		return ramp[int(id-BarLevel1)+1]
	}
	switch id {
	case IconHeart:
		return 'h'
	case IconArrow:
		return '>'
	case IconCheck:
		return 'v'
	case IconCross:
		return 'x'
	case IconDegree:
		return 'o'
	}
	return '*'
}

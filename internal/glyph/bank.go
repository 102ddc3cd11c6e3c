// internal/glyph/bank.go
package glyph

import (
	"go.uber.org/zap"
)

// Load is one CGRAM upload the caller must perform before writing rows
// that reference Slot.
type Load struct {
	Slot    int
	ID      ID
	Pattern Pattern
}

// Mapping is the result of one render pass.
type Mapping struct {
	Slots   map[ID]int
	Loads   []Load
	Dropped []ID
	Evicted int
}

// Code returns the character code that displays id, or false when the
// glyph is not resident for this pass.
func (m Mapping) Code(id ID) (byte, bool) {
	slot, ok := m.Slots[id]
	if !ok {
		return 0, false
	}
	return byte(slot), true
}

type slot struct {
	id    ID
	used  bool
	stamp uint64
}

// Bank is the 8-slot CGRAM arena.
// Slot ownership is explicit; eviction picks the lowest stamp, ties go
// to the lowest slot index.
type Bank struct {
	slots     [Slots]slot
	clock     uint64
	overrides map[ID]Pattern
	log       *zap.Logger

	evictions uint64
	drops     uint64
}

// NewBank builds an empty bank. overrides replaces built-in bitmaps
// (the configured icon table); nil means defaults only.
func NewBank(overrides map[ID]Pattern, log *zap.Logger) *Bank {
	if log == nil {
		log = zap.NewNop()
	}
	ov := make(map[ID]Pattern, len(overrides))
	for id, p := range overrides {
		ov[id] = p
	}
	return &Bank{overrides: ov, log: log}
}

// EnsureLoaded maps the requested glyphs onto slots for one render pass.
func (b *Bank) EnsureLoaded(ids []ID) Mapping {
	b.clock++

	accepted, dropped := prioritize(ids)

	m := Mapping{Slots: make(map[ID]int, len(accepted))}
	want := make(map[ID]bool, len(accepted))
	for _, id := range accepted {
		want[id] = true
	}

	// ---- hits first, so misses cannot evict them ----
	for _, id := range accepted {
		if i, ok := b.find(id); ok {
			b.touch(i)
			m.Slots[id] = i
		}
	}

	// ---- misses ----
	for _, id := range accepted {
		if _, ok := m.Slots[id]; ok {
			continue
		}
		i := b.free()
		if i < 0 {
			i = b.victim(want)
			b.log.Debug("glyph evicted",
				zap.Int("slot", i),
				zap.Stringer("old", b.slots[i].id),
				zap.Stringer("new", id),
			)
			b.evictions++
			m.Evicted++
		}
		b.slots[i] = slot{id: id, used: true}
		b.touch(i)
		m.Slots[id] = i
		m.Loads = append(m.Loads, Load{Slot: i, ID: id, Pattern: b.pattern(id)})
	}

	for _, id := range dropped {
		b.drops++
		b.log.Warn("glyph request dropped", zap.Stringer("glyph", id), zap.Int("requested", len(accepted)+len(dropped)))
	}
	m.Dropped = dropped

	return m
}

// Reset forgets every resident glyph. Used after a hardware write
// failure so the next pass re-uploads everything.
func (b *Bank) Reset() {
	for i := range b.slots {
		b.slots[i] = slot{}
	}
}

// Evictions returns the lifetime eviction count.
func (b *Bank) Evictions() uint64 { return b.evictions }

// Drops returns the lifetime dropped-request count.
func (b *Bank) Drops() uint64 { return b.drops }

// Resident returns the glyph held by slot i.
func (b *Bank) Resident(i int) (ID, bool) {
	if i < 0 || i >= Slots || !b.slots[i].used {
		return 0, false
	}
	return b.slots[i].id, true
}

func (b *Bank) find(id ID) (int, bool) {
	for i := range b.slots {
		if b.slots[i].used && b.slots[i].id == id {
			return i, true
		}
	}
	return -1, false
}

func (b *Bank) free() int {
	for i := range b.slots {
		if !b.slots[i].used {
			return i
		}
	}
	return -1
}

// victim returns the least recently used slot not wanted by this pass.
// prioritize caps a pass at Slots ids, so at least one candidate exists
// whenever there is a miss and no free slot.
func (b *Bank) victim(want map[ID]bool) int {
	best := -1
	for i := range b.slots {
		if want[b.slots[i].id] {
			continue
		}
		if best < 0 || b.slots[i].stamp < b.slots[best].stamp {
			best = i
		}
	}
	return best
}

// touch stamps slot i. Every touch gets a fresh stamp so request order
// within one pass is preserved in the LRU ordering.
func (b *Bank) touch(i int) {
	b.clock++
	b.slots[i].stamp = b.clock
}

func (b *Bank) pattern(id ID) Pattern {
	if p, ok := b.overrides[id]; ok {
		return p
	}
	p, _ := DefaultPattern(id)
	return p
}

// prioritize dedupes ids, orders bar segments before icons (request
// order within each class) and splits off whatever exceeds the bank.
func prioritize(ids []ID) (accepted, dropped []ID) {
	seen := make(map[ID]bool, len(ids))
	var bars, icons []ID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if id.IsBar() {
			bars = append(bars, id)
		} else {
			icons = append(icons, id)
		}
	}

	ordered := append(bars, icons...)
	if len(ordered) <= Slots {
		return ordered, nil
	}
	return ordered[:Slots], ordered[Slots:]
}

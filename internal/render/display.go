// internal/render/display.go
package render

import (
	"fmt"

	"github.com/macg4dave/lifelinetty/internal/glyph"
)

// Display is the hardware primitive supplied by the LCD shim.
// Text bytes 0..7 address CGRAM slots; everything else is the panel's
// character ROM.
type Display interface {
	WriteLine(row int, text []byte) error
	SetCGRAM(slot int, pattern glyph.Pattern) error
	SetBacklight(on bool) error
}

// FaultKind classifies render failures.
type FaultKind uint8

const (
	FaultHardwareWrite FaultKind = iota
	FaultGlyphOverflow
)

func (k FaultKind) String() string {
	if k == FaultGlyphOverflow {
		return "glyph-overflow"
	}
	return "hardware-write-failed"
}

// Fault is a render failure. The queue is never touched by one.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("render: %s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("render: %s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// internal/lcd/pcf8574.go
package lcd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/macg4dave/lifelinetty/internal/glyph"
)

// DefaultAddr is the usual PCF8574 backpack address.
const DefaultAddr = 0x27

// ---- PCF8574 pin map ----

const (
	pinRS        byte = 1 << 0
	pinEN        byte = 1 << 2
	pinBacklight byte = 1 << 3
)

// ---- HD44780 instructions ----

const (
	cmdClear      byte = 0x01
	cmdEntryMode  byte = 0x06 // increment, no shift
	cmdDisplayOn  byte = 0x0C // display on, cursor off, blink off
	cmdFunction4  byte = 0x28 // 4-bit, 2-line, 5x8
	cmdSetCGRAM   byte = 0x40
	cmdSetDDRAM   byte = 0x80
)

const (
	clearSettle   = 2 * time.Millisecond
	powerOnSettle = 50 * time.Millisecond
)

// txer is the part of an I2C device the driver needs.
type txer interface {
	Tx(w, r []byte) error
}

// PCF8574 drives an HD44780 character panel in 4-bit mode through a
// PCF8574 I2C expander.
type PCF8574 struct {
	dev    txer
	closer io.Closer
	cols   int
	rows   int

	backlight bool
	sleep     func(time.Duration)
}

// OpenPCF8574 initializes the host drivers, opens busName (empty: first
// available bus) and resets the panel.
func OpenPCF8574(busName string, addr uint16, cols, rows int) (*PCF8574, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("lcd: host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("lcd: open i2c bus %q: %w", busName, err)
	}
	if addr == 0 {
		addr = DefaultAddr
	}

	p := newPCF8574(&i2c.Dev{Bus: bus, Addr: addr}, bus, cols, rows)
	if err := p.init(); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return p, nil
}

func newPCF8574(dev txer, closer io.Closer, cols, rows int) *PCF8574 {
	return &PCF8574{
		dev:       dev,
		closer:    closer,
		cols:      cols,
		rows:      rows,
		backlight: true,
		sleep:     time.Sleep,
	}
}

// init runs the HD44780 4-bit power-on sequence.
func (p *PCF8574) init() error {
	p.sleep(powerOnSettle)

	for _, d := range []time.Duration{4500 * time.Microsecond, 4500 * time.Microsecond, 150 * time.Microsecond} {
		if err := p.dev.Tx(p.nibble(0x03, 0), nil); err != nil {
			return fmt.Errorf("lcd: reset: %w", err)
		}
		p.sleep(d)
	}
	if err := p.dev.Tx(p.nibble(0x02, 0), nil); err != nil {
		return fmt.Errorf("lcd: 4-bit mode: %w", err)
	}

	for _, c := range []byte{cmdFunction4, cmdDisplayOn, cmdClear, cmdEntryMode} {
		if err := p.command(c); err != nil {
			return err
		}
		if c == cmdClear {
			p.sleep(clearSettle)
		}
	}
	return nil
}

// ---- render.Display ----

func (p *PCF8574) WriteLine(row int, text []byte) error {
	if row < 0 || row >= p.rows {
		return fmt.Errorf("lcd: row %d out of range", row)
	}

	buf := make([]byte, 0, 4*(p.cols+1))
	buf = append(buf, p.byteFrames(cmdSetDDRAM|p.rowOffset(row), 0)...)
	for i := 0; i < p.cols; i++ {
		ch := byte(' ')
		if i < len(text) {
			ch = text[i]
		}
		buf = append(buf, p.byteFrames(ch, pinRS)...)
	}
	if err := p.dev.Tx(buf, nil); err != nil {
		return fmt.Errorf("lcd: write row %d: %w", row, err)
	}
	return nil
}

func (p *PCF8574) SetCGRAM(slot int, pattern glyph.Pattern) error {
	if slot < 0 || slot >= glyph.Slots {
		return fmt.Errorf("lcd: cgram slot %d out of range", slot)
	}

	buf := make([]byte, 0, 4*(len(pattern)+1))
	buf = append(buf, p.byteFrames(cmdSetCGRAM|byte(slot)<<3, 0)...)
	for _, row := range pattern {
		buf = append(buf, p.byteFrames(row&0x1f, pinRS)...)
	}
	if err := p.dev.Tx(buf, nil); err != nil {
		return fmt.Errorf("lcd: cgram slot %d: %w", slot, err)
	}
	return nil
}

func (p *PCF8574) SetBacklight(on bool) error {
	p.backlight = on
	if err := p.dev.Tx([]byte{p.blBit()}, nil); err != nil {
		return fmt.Errorf("lcd: backlight: %w", err)
	}
	return nil
}

func (p *PCF8574) Close() error {
	if p.closer == nil {
		return errors.New("lcd: not open")
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

// ---- wire helpers ----

func (p *PCF8574) command(c byte) error {
	if err := p.dev.Tx(p.byteFrames(c, 0), nil); err != nil {
		return fmt.Errorf("lcd: command 0x%02x: %w", c, err)
	}
	return nil
}

// rowOffset is the DDRAM address of column 0. Rows 2 and 3 continue
// rows 0 and 1 after cols characters.
func (p *PCF8574) rowOffset(row int) byte {
	base := [4]byte{0x00, 0x40, byte(p.cols), 0x40 + byte(p.cols)}
	return base[row]
}

func (p *PCF8574) blBit() byte {
	if p.backlight {
		return pinBacklight
	}
	return 0
}

// nibble strobes one 4-bit value: EN high then low.
func (p *PCF8574) nibble(n, flags byte) []byte {
	b := n<<4 | flags | p.blBit()
	return []byte{b | pinEN, b}
}

// byteFrames sends the high nibble then the low nibble.
func (p *PCF8574) byteFrames(v, flags byte) []byte {
	return append(p.nibble(v>>4, flags), p.nibble(v&0x0f, flags)...)
}

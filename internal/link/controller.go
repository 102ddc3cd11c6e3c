// internal/link/controller.go
package link

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxFrameBytes bounds one line on the wire, newline included.
const MaxFrameBytes = 512

// MinBaud is the documented floor. The controller never negotiates
// below it.
const MinBaud = 9600

// State is the link lifecycle.
type State uint8

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return "closed"
	}
}

// Config is the resolved serial configuration.
type Config struct {
	Device      string
	Baud        int
	DataBits    int
	StopBits    int
	Parity      string // "N", "E", "O"
	ReadTimeout time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// RawFrame is one newline-terminated line.
// Size counts every byte observed for the line (newline included);
// Bytes holds at most MaxFrameBytes of it.
type RawFrame struct {
	Bytes []byte
	Size  int
}

// Oversize reports whether the line exceeded the frame cap.
func (r RawFrame) Oversize() bool { return r.Size > MaxFrameBytes }

// Event is a reconnect-relevant transition, reported to the owner.
type Event struct {
	Phase   string // "attempt", "success", "failure"
	Fault   FaultKind
	Attempt int
	Delay   time.Duration
	Err     error
}

// Controller owns the one serial handle.
// Not safe for concurrent use; the daemon loop is its only caller.
type Controller struct {
	cfg     Config
	open    Opener
	now     func() time.Time
	log     *zap.Logger
	onEvent func(Event)

	port      Port
	state     State
	backoff   *Backoff
	nextRetry time.Time

	// line assembly
	line     [MaxFrameBytes]byte
	lineLen  int
	lineSize int

	rbuf [256]byte
	rpos int
	rend int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithEvents registers a reconnect observer (metrics, status).
func WithEvents(fn func(Event)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// NewController validates cfg and returns a Closed controller.
func NewController(cfg Config, open Opener, log *zap.Logger, opts ...Option) (*Controller, error) {
	if cfg.Device == "" {
		return nil, errors.New("link: device required")
	}
	if cfg.Baud < MinBaud {
		return nil, fmt.Errorf("link: baud %d below floor %d", cfg.Baud, MinBaud)
	}
	if open == nil {
		open = SerialOpener
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}

	c := &Controller{
		cfg:     cfg,
		open:    open,
		now:     time.Now,
		log:     log,
		backoff: NewBackoff(cfg.BackoffInitial, cfg.BackoffMax),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// NextRetry is the backoff deadline; zero unless in Backoff.
func (c *Controller) NextRetry() time.Time { return c.nextRetry }

// Attempt is the current backoff attempt count.
func (c *Controller) Attempt() int { return c.backoff.Attempt() }

// Config returns the active configuration.
func (c *Controller) Config() Config { return c.cfg }

// SetBackoff replaces the ladder bounds. The attempt count survives.
func (c *Controller) SetBackoff(initial, max time.Duration) {
	n := NewBackoff(initial, max)
	n.attempt = c.backoff.attempt
	c.backoff = n
	c.cfg.BackoffInitial, c.cfg.BackoffMax = n.Initial, n.Max
}

// Due reports whether Open would attempt a connection now.
func (c *Controller) Due(now time.Time) bool {
	switch c.state {
	case StateClosed:
		return true
	case StateBackoff:
		return !now.Before(c.nextRetry)
	}
	return false
}

// Open attempts one connection if the link is Closed or its backoff
// deadline has passed. It is a no-op otherwise.
func (c *Controller) Open(now time.Time) error {
	if !c.Due(now) {
		return nil
	}

	// at most one handle, ever
	c.release()

	c.state = StateOpening
	c.emit(Event{Phase: "attempt", Attempt: c.backoff.Attempt() + 1})

	p, err := c.open(c.cfg)
	if err != nil {
		return c.fail(now, Classify("open", err))
	}

	c.port = p
	c.state = StateOpen
	c.nextRetry = time.Time{}
	c.resetLine()
	c.rpos, c.rend = 0, 0

	c.log.Info("serial link open",
		zap.String("event", "serial_backoff"),
		zap.String("phase", "success"),
		zap.Int("attempt", c.backoff.Attempt()),
		zap.String("device", c.cfg.Device),
		zap.Int("baud", c.cfg.Baud),
	)
	c.emit(Event{Phase: "success", Attempt: c.backoff.Attempt()})
	return nil
}

// ReadLine returns the next complete line.
// A tick without a full line yields a Timeout fault; the partial line is
// kept for the next call. Invalid UTF-8 yields a Framing fault and the
// line is discarded. Any other fault closes the handle and enters backoff.
func (c *Controller) ReadLine() (RawFrame, error) {
	if c.state != StateOpen || c.port == nil {
		return RawFrame{}, ErrNotOpen
	}

	if f, ok := c.scan(); ok {
		return c.finish(f)
	}

	n, err := c.port.Read(c.rbuf[:])
	if n > 0 {
		c.rpos, c.rend = 0, n
	}
	if err != nil && n == 0 {
		fault := Classify("read", err)
		if !fault.Fatal() {
			if fault.Kind == FaultTimeout {
				c.backoff.Reset()
			}
			return RawFrame{}, fault
		}
		return RawFrame{}, c.fail(c.now(), fault)
	}

	if f, ok := c.scan(); ok {
		return c.finish(f)
	}
	return RawFrame{}, Classify("read", errNoLine)
}

// Write sends b in full. A failed write closes the handle.
func (c *Controller) Write(b []byte) error {
	if c.state != StateOpen || c.port == nil {
		return ErrNotOpen
	}
	for len(b) > 0 {
		n, err := c.port.Write(b)
		if err != nil {
			return c.fail(c.now(), Classify("write", err))
		}
		if n == 0 {
			return c.fail(c.now(), &Fault{Kind: FaultOther, Op: "write", Err: errors.New("short write")})
		}
		b = b[n:]
	}
	return nil
}

// Close releases the handle and returns to Closed.
func (c *Controller) Close() error {
	err := c.release()
	c.state = StateClosed
	c.nextRetry = time.Time{}
	return err
}

// ---- internals ----

// scan consumes buffered bytes until a newline completes a line.
func (c *Controller) scan() (RawFrame, bool) {
	for c.rpos < c.rend {
		b := c.rbuf[c.rpos]
		c.rpos++
		c.lineSize++

		if b == '\n' {
			n := c.lineLen
			if n > 0 && c.line[n-1] == '\r' {
				n--
			}
			out := RawFrame{Bytes: append([]byte(nil), c.line[:n]...), Size: c.lineSize}
			c.resetLine()
			return out, true
		}
		if c.lineLen < MaxFrameBytes {
			c.line[c.lineLen] = b
			c.lineLen++
		}
	}
	return RawFrame{}, false
}

func (c *Controller) finish(f RawFrame) (RawFrame, error) {
	c.backoff.Reset()
	if !f.Oversize() && !utf8.Valid(f.Bytes) {
		return f, &Fault{Kind: FaultFraming, Op: "read", Err: errors.New("invalid utf-8")}
	}
	return f, nil
}

func (c *Controller) resetLine() {
	c.lineLen = 0
	c.lineSize = 0
}

func (c *Controller) fail(now time.Time, f *Fault) error {
	_ = c.release()

	delay := c.backoff.Next()
	c.state = StateBackoff
	c.nextRetry = now.Add(delay)

	c.log.Warn("serial link fault",
		zap.String("event", "serial_backoff"),
		zap.String("phase", "failure"),
		zap.String("op", f.Op),
		zap.Stringer("fault", f.Kind),
		zap.Int("attempt", c.backoff.Attempt()),
		zap.Int64("delay_ms", delay.Milliseconds()),
		zap.Int64("max_ms", c.backoff.Max.Milliseconds()),
		zap.String("device", c.cfg.Device),
		zap.Int("baud", c.cfg.Baud),
		zap.Error(f.Err),
	)
	c.emit(Event{Phase: "failure", Fault: f.Kind, Attempt: c.backoff.Attempt(), Delay: delay, Err: f})
	return f
}

func (c *Controller) release() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.resetLine()
	c.rpos, c.rend = 0, 0
	return err
}

func (c *Controller) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

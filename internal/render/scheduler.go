// internal/render/scheduler.go
package render

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/glyph"
)

const (
	DefaultScrollSpeed    = 250 * time.Millisecond
	DefaultPageTimeout    = 4 * time.Second
	DefaultMaxEntries     = 8
	DefaultBlinkInterval  = 500 * time.Millisecond
	DefaultParseErrorHold = 2 * time.Second
)

// Config is the panel geometry plus scheduling defaults.
type Config struct {
	Cols int
	Rows int

	ScrollSpeed    time.Duration
	PageTimeout    time.Duration
	MaxEntries     int
	BlinkInterval  time.Duration
	ParseErrorHold time.Duration
}

func (c *Config) applyDefaults() {
	if c.ScrollSpeed <= 0 {
		c.ScrollSpeed = DefaultScrollSpeed
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.BlinkInterval <= 0 {
		c.BlinkInterval = DefaultBlinkInterval
	}
	if c.ParseErrorHold <= 0 {
		c.ParseErrorHold = DefaultParseErrorHold
	}
}

// Entry is one queued payload with its scheduling state.
type Entry struct {
	Payload frame.Payload
	Arrived time.Time
	Expires time.Time // zero: no TTL

	offsets  [2]int
	lastStep time.Time
}

// Scheduler owns the display queue and the panel.
// Queue order is page order; queue[0] is on screen.
type Scheduler struct {
	cfg  Config
	disp Display
	bank *glyph.Bank
	log  *zap.Logger

	queue     []*Entry
	pageStart time.Time

	offline    bool
	linkDown   bool
	parseErr   string
	parseUntil time.Time

	last  screen
	valid bool
}

// New validates geometry and returns an empty scheduler.
func New(cfg Config, disp Display, bank *glyph.Bank, log *zap.Logger) (*Scheduler, error) {
	if cfg.Cols < 8 || cfg.Cols > 40 {
		return nil, errors.New("render: cols must be within 8..40")
	}
	if cfg.Rows < 1 || cfg.Rows > 4 {
		return nil, errors.New("render: rows must be within 1..4")
	}
	if disp == nil {
		return nil, errors.New("render: display required")
	}
	if bank == nil {
		bank = glyph.NewBank(nil, log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()

	return &Scheduler{cfg: cfg, disp: disp, bank: bank, log: log}, nil
}

// Reconfigure applies reloaded scheduling defaults. Geometry is fixed
// for the life of the scheduler.
func (s *Scheduler) Reconfigure(cfg Config) {
	if cfg.Cols != s.cfg.Cols || cfg.Rows != s.cfg.Rows {
		s.log.Warn("panel geometry change ignored until restart",
			zap.Int("cols", cfg.Cols), zap.Int("rows", cfg.Rows))
	}
	cfg.Cols, cfg.Rows = s.cfg.Cols, s.cfg.Rows
	cfg.applyDefaults()
	s.cfg = cfg
}

// ---- queue ----

// Push inserts a display payload. It returns false for payloads that are
// never rendered (tunnel traffic, config_reload).
func (s *Scheduler) Push(p frame.Payload, now time.Time) bool {
	if p.Channel != frame.ChannelDisplay || p.ConfigReload {
		return false
	}

	if p.Clear {
		s.queue = s.queue[:0]
	}

	if len(s.queue) >= s.cfg.MaxEntries {
		s.evictOldest(now)
	}

	e := &Entry{Payload: p, Arrived: now}
	if p.Duration > 0 {
		e.Expires = now.Add(p.Duration)
	}
	s.queue = append(s.queue, e)
	if len(s.queue) == 1 {
		s.promote(now)
	}

	s.parseErr = ""
	return true
}

// Tick advances TTL expiry, paging and scrolling. All timers are
// deadlines compared against now; nothing runs between ticks.
func (s *Scheduler) Tick(now time.Time) {
	// ---- expiry, any position ----
	headGone := false
	kept := s.queue[:0]
	for i, e := range s.queue {
		if !e.Expires.IsZero() && !now.Before(e.Expires) {
			if i == 0 {
				headGone = true
			}
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept

	if len(s.queue) == 0 {
		return
	}
	if headGone {
		s.promote(now)
		return
	}

	// ---- paging ----
	if now.Sub(s.pageStart) >= s.pageTimeout(s.queue[0]) {
		if len(s.queue) > 1 {
			head := s.queue[0]
			copy(s.queue, s.queue[1:])
			s.queue[len(s.queue)-1] = head
			s.promote(now)
			return
		}
		// a lone page keeps its scroll position
		s.pageStart = now
	}

	// ---- scrolling ----
	s.advanceScroll(s.queue[0], now)
}

// Len is the number of queued entries.
func (s *Scheduler) Len() int { return len(s.queue) }

// Head returns the displayed payload.
func (s *Scheduler) Head() (frame.Payload, bool) {
	if len(s.queue) == 0 {
		return frame.Payload{}, false
	}
	return s.queue[0].Payload, true
}

// Entries returns the queued payloads in page order.
func (s *Scheduler) Entries() []frame.Payload {
	out := make([]frame.Payload, len(s.queue))
	for i, e := range s.queue {
		out[i] = e.Payload
	}
	return out
}

// ---- overlays ----

// SetOffline switches the offline template on or off. linkDown selects
// the reconnecting variant. Queue state is untouched.
func (s *Scheduler) SetOffline(offline, linkDown bool) {
	s.offline = offline
	s.linkDown = linkDown
}

// ShowParseError raises the parse-error overlay for the hold period.
func (s *Scheduler) ShowParseError(reason string, now time.Time) {
	s.parseErr = reason
	s.parseUntil = now.Add(s.cfg.ParseErrorHold)
}

// ClearParseError drops the parse-error overlay.
func (s *Scheduler) ClearParseError() { s.parseErr = "" }

// ---- internals ----

// promote makes queue[0] the freshly displayed page.
func (s *Scheduler) promote(now time.Time) {
	s.pageStart = now
	head := s.queue[0]
	head.offsets = [2]int{}
	head.lastStep = now
}

func (s *Scheduler) evictOldest(now time.Time) {
	oldest := 0
	for i, e := range s.queue {
		if e.Arrived.Before(s.queue[oldest].Arrived) {
			oldest = i
		}
	}
	s.log.Info("queue full, oldest entry evicted",
		zap.Int("max_entries", s.cfg.MaxEntries),
		zap.String("line1", s.queue[oldest].Payload.Line1),
	)
	s.queue = append(s.queue[:oldest], s.queue[oldest+1:]...)
	if oldest == 0 && len(s.queue) > 0 {
		s.promote(now)
	}
}

func (s *Scheduler) pageTimeout(e *Entry) time.Duration {
	if e.Payload.PageTimeout > 0 {
		return e.Payload.PageTimeout
	}
	return s.cfg.PageTimeout
}

func (s *Scheduler) scrollSpeed(e *Entry) time.Duration {
	if e.Payload.ScrollSpeed > 0 {
		return e.Payload.ScrollSpeed
	}
	return s.cfg.ScrollSpeed
}

// advanceScroll moves every overflowing text row one character.
func (s *Scheduler) advanceScroll(e *Entry, now time.Time) {
	if !e.Payload.Scroll || now.Sub(e.lastStep) < s.scrollSpeed(e) {
		return
	}
	e.lastStep = now

	l := s.layout(e.Payload)
	for i, row := range l.text {
		if row.row < 0 || len(row.text) <= row.width {
			continue
		}
		e.offsets[i] = (e.offsets[i] + 1) % (len(row.text) + len(scrollGap))
	}
}

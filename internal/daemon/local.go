// internal/daemon/local.go
package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/config"
	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
	"github.com/macg4dave/lifelinetty/internal/render"
)

// DemoTick paces demo mode.
const DemoTick = 25 * time.Millisecond

// demoPages are the built-in pages demo mode cycles through.
var demoPages = []string{
	`{"line1":"Up 12:34 CPU 42%","line2":"RAM 73%","bar_value":73,"bar_max":100,"bar_label":"RAM","mode":"dashboard","page_timeout_ms":4000}`,
	`{"line1":"CPU LOAD","line2":"Cores busy","bar":68,"bar_label":"CPU","page_timeout_ms":3500}`,
	`{"line1":"DISK /","line2":"85% used","bar":85,"bar_label":"DISK","page_timeout_ms":3500}`,
	`{"line1":"NET 12.3Mbps","line2":"bar on top","bar":65,"bar_line1":true,"icons":["wifi"],"page_timeout_ms":3500}`,
	`{"line1":"ALERT: Temp","line2":"85C HOT!","blink":true,"icons":["bell"],"page_timeout_ms":4000}`,
	`{"line1":"Backlight off","line2":"should go dark","backlight":false,"page_timeout_ms":3000}`,
	`{"line1":"Test pattern","line2":"check wiring","test":true,"page_timeout_ms":3000}`,
	`{"line1":"Long banner scrolling across the top","line2":"","mode":"banner","scroll_speed_ms":220,"page_timeout_ms":5000}`,
	`{"line1":"Scroll disabled for this long line","line2":"stays put","scroll":false,"page_timeout_ms":3000}`,
	`{"line1":"Icons","line2":"heart arrow battery","icons":["heart","arrow","battery"],"page_timeout_ms":3000}`,
	`{"line1":"Fast scroll speed","line2":"0123456789abcdef0123456789abcdef","scroll_speed_ms":120,"page_timeout_ms":4000}`,
	`{"line1":"Slow scroll speed","line2":"abcdefghijklmnopqrstuvwxyz","scroll_speed_ms":400,"page_timeout_ms":4000}`,
}

// Local drives the panel from built-in or file payloads, with no serial
// link. Not safe for concurrent use.
type Local struct {
	cfg   *config.Config
	sched *render.Scheduler
	dec   *frame.Decoder
	log   *zap.Logger
	now   func() time.Time

	pages []frame.Payload
	page  int
	next  time.Time
}

func NewLocal(cfg *config.Config, disp render.Display, log *zap.Logger, now func() time.Time) (*Local, error) {
	if cfg == nil {
		return nil, errors.New("daemon: config required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}

	bank := glyph.NewBank(cfg.IconOverrides(), log.Named("glyph"))
	sched, err := render.New(cfg.RenderConfig(), disp, bank, log.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	return &Local{
		cfg:   cfg,
		sched: sched,
		dec:   frame.NewDecoder(log.Named("frame")),
		log:   log,
		now:   now,
	}, nil
}

func (l *Local) Scheduler() *render.Scheduler { return l.sched }

// ShowFile renders the display payload stored in path once.
func (l *Local) ShowFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("daemon: payload file: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	p, err := l.dec.Decode(link.RawFrame{Bytes: raw, Size: len(raw) + 1})
	if err != nil {
		return fmt.Errorf("daemon: payload file %s: %w", path, err)
	}
	now := l.now()
	if !l.sched.Push(p, now) {
		return fmt.Errorf("daemon: payload file %s: not a display payload", path)
	}
	if err := l.render(now); err != nil {
		return err
	}
	l.log.Info("payload file rendered", zap.String("path", path))
	return nil
}

// Demo cycles the built-in pages until ctx ends, then leaves the
// offline template on the panel.
func (l *Local) Demo(ctx context.Context) error {
	if err := l.StartDemo(); err != nil {
		return err
	}
	l.log.Info("demo started", zap.Int("pages", len(l.pages)))

	ticker := time.NewTicker(DemoTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.sched.SetOffline(true, false)
			return l.render(l.now())
		case <-ticker.C:
		}
		if err := l.StepDemo(l.now()); err != nil {
			l.log.Warn("demo render failed", zap.Error(err))
		}
	}
}

// StartDemo decodes the built-in pages and shows the first.
func (l *Local) StartDemo() error {
	l.pages = l.pages[:0]
	for i, raw := range demoPages {
		b := []byte(raw)
		p, err := l.dec.Decode(link.RawFrame{Bytes: b, Size: len(b) + 1})
		if err != nil {
			return fmt.Errorf("daemon: demo page %d: %w", i, err)
		}
		l.pages = append(l.pages, p)
	}
	l.page = 0
	return l.show(l.now())
}

// StepDemo advances scrolling and moves to the next page once the
// current one has been up for its page timeout.
func (l *Local) StepDemo(now time.Time) error {
	if len(l.pages) == 0 {
		return errors.New("daemon: demo not started")
	}
	if !now.Before(l.next) {
		l.page = (l.page + 1) % len(l.pages)
		return l.show(now)
	}
	l.sched.Tick(now)
	return l.render(now)
}

func (l *Local) show(now time.Time) error {
	p := l.pages[l.page]
	p.Clear = true // one demo page on the queue at a time
	l.sched.Push(p, now)

	timeout := p.PageTimeout
	if timeout <= 0 {
		timeout = l.cfg.RenderConfig().PageTimeout
	}
	if timeout <= 0 {
		timeout = render.DefaultPageTimeout
	}
	l.next = now.Add(timeout)

	l.log.Debug("demo page", zap.Int("page", l.page), zap.String("line1", p.Line1))
	return l.render(now)
}

// render treats dropped glyphs as a partial success; the bank logs them.
func (l *Local) render(now time.Time) error {
	err := l.sched.Render(now)
	var f *render.Fault
	if errors.As(err, &f) && f.Kind == render.FaultGlyphOverflow {
		return nil
	}
	return err
}

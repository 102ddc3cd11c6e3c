// internal/daemon/daemon.go
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/config"
	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/glyph"
	"github.com/macg4dave/lifelinetty/internal/link"
	"github.com/macg4dave/lifelinetty/internal/liveness"
	"github.com/macg4dave/lifelinetty/internal/metrics"
	"github.com/macg4dave/lifelinetty/internal/mirror"
	"github.com/macg4dave/lifelinetty/internal/render"
	"github.com/macg4dave/lifelinetty/internal/status"
	"github.com/macg4dave/lifelinetty/internal/tunnel"
)

// IdleTick paces the loop while no serial handle is open. With a handle,
// the read timeout paces it.
const IdleTick = 50 * time.Millisecond

// Deps are the collaborators the daemon does not build itself.
type Deps struct {
	Open    link.Opener    // nil: real serial port
	Display render.Display // required
	Spawner tunnel.Spawner // nil: os/exec
	Mirror  *mirror.Mirror // nil: status mirror disabled
	Metrics *metrics.Metrics
	Log     *zap.Logger
	Now     func() time.Time
}

// Stats are the loop totals logged at shutdown.
type Stats struct {
	Accepted         uint64
	Rejected         uint64
	ChecksumFailures uint64
	Duplicates       uint64
	Framing          uint64
	Reconnects       uint64
}

// Daemon owns every component and drives them from one loop.
// Not safe for concurrent use.
type Daemon struct {
	cfg  *config.Config
	path string
	log  *zap.Logger
	now  func() time.Time

	link    *link.Controller
	decoder *frame.Decoder
	bank    *glyph.Bank
	sched   *render.Scheduler
	tunnel  *tunnel.Multiplexer
	live    *liveness.Monitor
	metrics *metrics.Metrics
	mirror  *mirror.Mirror

	reloadPending bool
	chunkSeq      uint32
	lastFault     uint16
	framing       uint64
	reconnects    uint64

	evictions uint64
	drops     uint64
	tunnelSt  tunnel.Stats
}

// New wires the daemon from a validated config. path is re-read on
// config_reload; empty disables reload.
func New(ctx context.Context, cfg *config.Config, path string, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon: config required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New("", 0)
	}

	d := &Daemon{
		cfg:     cfg,
		path:    path,
		log:     log,
		now:     now,
		metrics: m,
		mirror:  deps.Mirror,
	}

	ctl, err := link.NewController(cfg.LinkConfig(), deps.Open, log.Named("link"),
		link.WithClock(now),
		link.WithEvents(d.onLinkEvent),
	)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	d.link = ctl

	d.bank = glyph.NewBank(cfg.IconOverrides(), log.Named("glyph"))
	sched, err := render.New(cfg.RenderConfig(), deps.Display, d.bank, log.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	d.sched = sched

	d.decoder = frame.NewDecoder(log.Named("frame"))
	d.tunnel = tunnel.New(ctx, cfg.TunnelLimits(), deps.Spawner, log.Named("tunnel"))
	d.live = liveness.New(cfg.OfflineGrace(), cfg.Heartbeat(), now())
	return d, nil
}

// ---- accessors ----

func (d *Daemon) Scheduler() *render.Scheduler { return d.sched }

func (d *Daemon) Link() *link.Controller { return d.link }

func (d *Daemon) Tunnel() *tunnel.Multiplexer { return d.tunnel }

func (d *Daemon) Online() bool { return d.live.Online() }

func (d *Daemon) ReloadPending() bool { return d.reloadPending }

// Stats returns the loop totals.
func (d *Daemon) Stats() Stats {
	ds := d.decoder.Stats()
	return Stats{
		Accepted:         ds.Accepted,
		Rejected:         ds.Rejected,
		ChecksumFailures: ds.ChecksumFailures,
		Duplicates:       ds.Duplicates,
		Framing:          d.framing,
		Reconnects:       d.reconnects,
	}
}

// ---- loop ----

// Run ticks until ctx is cancelled, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	idle := time.NewTicker(IdleTick)
	defer idle.Stop()
	defer d.Close()

	d.log.Info("daemon started",
		zap.String("device", d.cfg.Device),
		zap.Int("baud", d.cfg.Baud),
		zap.Int("cols", d.cfg.Cols),
		zap.Int("rows", d.cfg.Rows),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		d.Tick(d.now())

		if d.link.State() == link.StateOpen {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
		}
	}
}

// Tick runs one loop iteration.
func (d *Daemon) Tick(now time.Time) {
	// ---- link ----
	if d.link.Due(now) {
		_ = d.link.Open(now)
	}

	// ---- inbound ----
	d.readOne(now)

	// ---- tunnel output ----
	if msg, ok := d.tunnel.Service(now); ok {
		d.sendTunnel(d.sequence(msg))
	}

	// ---- deferred reload ----
	if d.reloadPending && d.tunnel.Idle() {
		d.applyReload()
	}

	// ---- liveness ----
	if d.live.Tick(now) {
		d.log.Info("liveness changed",
			zap.Bool("online", d.live.Online()),
			zap.Time("last_seen", d.live.LastSeen()),
		)
	}
	if seq, ok := d.live.Heartbeat(now); ok && d.link.State() == link.StateOpen {
		d.sendTunnel(frame.TunnelMsg{Kind: frame.TunnelHeartbeat, Seq: seq})
	}
	d.sched.SetOffline(!d.live.Online(), d.link.State() != link.StateOpen)

	// ---- display ----
	d.sched.Tick(now)
	if d.sched.Len() == 0 {
		d.decoder.ResetDedup()
	}
	d.render(now)

	// ---- status + metrics ----
	d.publish(now)
}

// Close stops the tunnel session, releases the link and logs the totals.
// An interrupted session still reports its exit to the host.
func (d *Daemon) Close() {
	if msg, ok := d.tunnel.Close(); ok {
		d.sendTunnel(d.sequence(msg))
	}
	if err := d.link.Close(); err != nil {
		d.log.Warn("serial close failed", zap.Error(err))
	}

	if d.mirror != nil {
		s := d.snapshot(d.now())
		s.Health = status.HealthDisabled
		if err := d.mirror.WriteStatus(s); err != nil {
			d.metrics.MirrorFailures.Inc()
			d.log.Warn("status mirror write failed on shutdown", zap.Error(err))
		}
	}
	if err := d.metrics.Flush(d.now()); err != nil {
		d.log.Warn("metrics flush failed", zap.Error(err))
	}

	st := d.Stats()
	d.log.Info("daemon stopped",
		zap.Uint64("accepted", st.Accepted),
		zap.Uint64("rejected", st.Rejected),
		zap.Uint64("checksum_failures", st.ChecksumFailures),
		zap.Uint64("duplicates", st.Duplicates),
		zap.Uint64("framing", st.Framing),
		zap.Uint64("reconnects", st.Reconnects),
	)
}

// ---- inbound ----

func (d *Daemon) readOne(now time.Time) {
	raw, err := d.link.ReadLine()
	if err != nil {
		var f *link.Fault
		if errors.As(err, &f) && f.Kind == link.FaultFraming {
			d.framing++
			d.lastFault = f.Kind.Code()
			d.metrics.FramesRejected.WithLabelValues(f.Kind.String()).Inc()
			d.log.Warn("frame discarded",
				zap.String("reason", f.Kind.String()),
				zap.Int("bytes", raw.Size),
			)
		}
		// timeouts, closed link and fatal faults are the controller's
		return
	}

	p, err := d.decoder.Decode(raw)
	if err != nil {
		reason := "malformed"
		var pe *frame.ParseError
		if errors.As(err, &pe) {
			reason = string(pe.Reason)
		}
		d.lastFault = status.FaultFrame
		d.metrics.FramesRejected.WithLabelValues(reason).Inc()
		d.sched.ShowParseError(reason, now)
		return
	}

	d.metrics.FramesAccepted.Inc()
	if d.live.Seen(now) {
		d.log.Info("host back online")
	}
	d.route(p, now)
}

func (d *Daemon) route(p frame.Payload, now time.Time) {
	switch {
	case p.Channel == frame.ChannelTunnel:
		for _, reply := range d.tunnel.Handle(*p.Tunnel, now) {
			d.sendTunnel(reply)
		}

	case p.ConfigReload:
		d.reloadPending = true
		d.log.Info("config reload requested", zap.Bool("deferred", !d.tunnel.Idle()))

	default:
		if !d.decoder.Admit(p) {
			d.metrics.Duplicates.Inc()
			return
		}
		d.sched.Push(p, now)
	}
}

// ---- outbound ----

// sequence numbers output chunks within one session.
func (d *Daemon) sequence(msg frame.TunnelMsg) frame.TunnelMsg {
	switch msg.Kind {
	case frame.TunnelStdout, frame.TunnelStderr:
		d.chunkSeq++
		msg.Seq = d.chunkSeq
	case frame.TunnelExit:
		d.chunkSeq = 0
	}
	return msg
}

func (d *Daemon) sendTunnel(msg frame.TunnelMsg) {
	line, err := frame.EncodeTunnel(msg)
	if err != nil {
		d.log.Warn("tunnel encode failed", zap.String("type", string(msg.Kind)), zap.Error(err))
		return
	}
	if err := d.link.Write(append(line, '\n')); err != nil {
		d.log.Debug("tunnel message dropped",
			zap.String("type", string(msg.Kind)),
			zap.Error(err),
		)
	}
}

// ---- reload ----

func (d *Daemon) applyReload() {
	d.reloadPending = false
	if d.path == "" {
		d.log.Warn("config reload ignored: no config file")
		return
	}

	cfg, err := config.Load(d.path)
	if err != nil {
		d.log.Warn("config reload failed", zap.String("path", d.path), zap.Error(err))
		return
	}

	if cfg.Device != d.cfg.Device || cfg.Baud != d.cfg.Baud {
		d.log.Warn("serial change takes effect on restart",
			zap.String("device", cfg.Device),
			zap.Int("baud", cfg.Baud),
		)
		cfg.Device, cfg.Baud = d.cfg.Device, d.cfg.Baud
	}

	d.sched.Reconfigure(cfg.RenderConfig())
	d.tunnel.Reconfigure(cfg.TunnelLimits())
	d.live.SetGrace(cfg.OfflineGrace())
	lc := cfg.LinkConfig()
	d.link.SetBackoff(lc.BackoffInitial, lc.BackoffMax)
	d.cfg = cfg

	d.log.Info("config reloaded", zap.String("path", d.path))
}

// ---- display ----

func (d *Daemon) render(now time.Time) {
	err := d.sched.Render(now)
	if err == nil {
		return
	}
	var f *render.Fault
	if errors.As(err, &f) && f.Kind == render.FaultGlyphOverflow {
		// bank already logged the drop
		return
	}
	d.lastFault = status.FaultRender
	d.metrics.RenderFailures.Inc()
}

// ---- link events ----

func (d *Daemon) onLinkEvent(ev link.Event) {
	if ev.Phase != "failure" {
		return
	}
	d.reconnects++
	d.lastFault = ev.Fault.Code()
	d.metrics.Reconnects.WithLabelValues(ev.Fault.String()).Inc()
}

// ---- status + metrics ----

func (d *Daemon) snapshot(now time.Time) status.Snapshot {
	ds := d.decoder.Stats()
	s := status.Snapshot{
		LastFaultCode:  d.lastFault,
		SecondsOffline: status.Clamp16(uint64(d.live.OfflineFor(now) / time.Second)),
		FramesAccepted: uint16(ds.Accepted),
		FramesRejected: uint16(ds.Rejected + d.framing),
		QueueDepth:     uint16(d.sched.Len()),
		TunnelState:    uint16(d.tunnel.State()),
	}
	switch {
	case d.link.State() != link.StateOpen:
		s.Health = status.HealthError
	case !d.live.Online():
		s.Health = status.HealthStale
	default:
		s.Health = status.HealthOK
	}
	return s
}

func (d *Daemon) publish(now time.Time) {
	if d.mirror != nil {
		if err := d.mirror.Update(d.snapshot(now), now); err != nil {
			d.metrics.MirrorFailures.Inc()
		}
	}

	if ev := d.bank.Evictions(); ev > d.evictions {
		d.metrics.GlyphEvictions.Add(float64(ev - d.evictions))
		d.evictions = ev
	}
	if dr := d.bank.Drops(); dr > d.drops {
		d.metrics.GlyphDrops.Add(float64(dr - d.drops))
		d.drops = dr
	}
	ts := d.tunnel.Stats()
	if ts.Started > d.tunnelSt.Started {
		d.metrics.TunnelSessions.Add(float64(ts.Started - d.tunnelSt.Started))
	}
	if ts.Busy > d.tunnelSt.Busy {
		d.metrics.TunnelBusy.Add(float64(ts.Busy - d.tunnelSt.Busy))
	}
	d.tunnelSt = ts

	d.metrics.QueueDepth.Set(float64(d.sched.Len()))
	d.metrics.LinkState.Set(float64(d.link.State()))
	d.metrics.SetOnline(d.live.Online())

	if d.metrics.Due(now) {
		if err := d.metrics.Flush(now); err != nil {
			d.log.Warn("metrics flush failed", zap.Error(err))
		}
	}
}

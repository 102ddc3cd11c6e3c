// internal/metrics/metrics.go
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FileName is the textfile-collector output inside the cache directory.
const FileName = "metrics.prom"

// Metrics is a private registry flushed to disk on a deadline.
// There is no HTTP listener.
type Metrics struct {
	reg *prometheus.Registry

	FramesAccepted prometheus.Counter
	FramesRejected *prometheus.CounterVec // reason
	Duplicates     prometheus.Counter
	Reconnects     *prometheus.CounterVec // fault
	RenderFailures prometheus.Counter
	GlyphEvictions prometheus.Counter
	GlyphDrops     prometheus.Counter
	TunnelSessions prometheus.Counter
	TunnelBusy     prometheus.Counter
	MirrorFailures prometheus.Counter

	QueueDepth prometheus.Gauge
	LinkState  prometheus.Gauge
	Online     prometheus.Gauge

	path     string
	interval time.Duration
	next     time.Time
}

// New registers every collector. cacheDir empty disables the flush.
func New(cacheDir string, interval time.Duration) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		FramesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_frames_accepted_total",
			Help: "Frames decoded and routed.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifelinetty_frames_rejected_total",
			Help: "Frames rejected by the decoder, by reason.",
		}, []string{"reason"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_frames_duplicate_total",
			Help: "Display frames dropped as consecutive duplicates.",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifelinetty_link_reconnects_total",
			Help: "Serial link failures that scheduled a reconnect, by fault.",
		}, []string{"fault"}),
		RenderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_render_failures_total",
			Help: "Display writes that failed and were retried.",
		}),
		GlyphEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_glyph_evictions_total",
			Help: "CGRAM slots reassigned.",
		}),
		GlyphDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_glyph_drops_total",
			Help: "Glyph requests that did not fit the 8 CGRAM slots.",
		}),
		TunnelSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_tunnel_sessions_total",
			Help: "Tunnel commands started.",
		}),
		TunnelBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_tunnel_busy_total",
			Help: "Tunnel requests refused because a session was running.",
		}),
		MirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifelinetty_status_mirror_failures_total",
			Help: "Status block writes that failed.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifelinetty_queue_depth",
			Help: "Entries in the display queue.",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifelinetty_link_state",
			Help: "Serial link state: 0 closed, 1 opening, 2 open, 3 backoff.",
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifelinetty_online",
			Help: "1 while frames arrive within the offline grace period.",
		}),

		interval: interval,
	}

	m.reg.MustRegister(
		m.FramesAccepted, m.FramesRejected, m.Duplicates, m.Reconnects,
		m.RenderFailures, m.GlyphEvictions, m.GlyphDrops,
		m.TunnelSessions, m.TunnelBusy, m.MirrorFailures,
		m.QueueDepth, m.LinkState, m.Online,
	)

	if cacheDir != "" {
		m.path = filepath.Join(cacheDir, FileName)
	}
	return m
}

// Registry exposes the private registry for tests and tools.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Path is the textfile location, empty when flushing is disabled.
func (m *Metrics) Path() string { return m.path }

// Due reports whether the flush deadline has passed.
func (m *Metrics) Due(now time.Time) bool {
	return m.path != "" && m.interval > 0 && !now.Before(m.next)
}

// Flush writes the textfile atomically and schedules the next flush.
func (m *Metrics) Flush(now time.Time) error {
	if m.path == "" {
		return nil
	}
	m.next = now.Add(m.interval)
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.path, m.reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetOnline mirrors the liveness state.
func (m *Metrics) SetOnline(online bool) { m.Online.Set(boolGauge(online)) }

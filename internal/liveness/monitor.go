// internal/liveness/monitor.go
package liveness

import "time"

// DefaultGrace is how long the link may stay silent before the panel
// switches to the offline template.
const DefaultGrace = 5 * time.Second

// Monitor tracks the last decoded frame and the outbound heartbeat.
// It holds wall-clock deadlines only; the daemon tick drives it.
type Monitor struct {
	grace     time.Duration
	heartbeat time.Duration

	lastSeen time.Time
	online   bool

	seq    uint32
	nextHB time.Time
}

// New starts online: the grace period runs from start.
// heartbeat <= 0 disables heartbeat emission.
func New(grace, heartbeat time.Duration, start time.Time) *Monitor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	m := &Monitor{
		grace:     grace,
		heartbeat: heartbeat,
		lastSeen:  start,
		online:    true,
	}
	if heartbeat > 0 {
		m.nextHB = start.Add(heartbeat)
	}
	return m
}

// Seen records a successfully decoded frame. It returns true when the
// monitor was offline.
func (m *Monitor) Seen(now time.Time) bool {
	m.lastSeen = now
	if m.online {
		return false
	}
	m.online = true
	return true
}

// Tick re-evaluates the grace deadline. It returns true on a transition.
func (m *Monitor) Tick(now time.Time) bool {
	offline := now.Sub(m.lastSeen) > m.grace
	if offline == !m.online {
		return false
	}
	m.online = !offline
	return true
}

// Online reports the current state.
func (m *Monitor) Online() bool { return m.online }

// LastSeen is the time of the last decoded frame.
func (m *Monitor) LastSeen() time.Time { return m.lastSeen }

// OfflineFor returns how long the monitor has been offline.
func (m *Monitor) OfflineFor(now time.Time) time.Duration {
	if m.online {
		return 0
	}
	return now.Sub(m.lastSeen) - m.grace
}

// Heartbeat returns the next sequence number when a heartbeat is due.
func (m *Monitor) Heartbeat(now time.Time) (uint32, bool) {
	if m.heartbeat <= 0 || now.Before(m.nextHB) {
		return 0, false
	}
	m.seq++
	m.nextHB = now.Add(m.heartbeat)
	return m.seq, true
}

// SetGrace applies a reloaded grace period.
func (m *Monitor) SetGrace(grace time.Duration) {
	if grace > 0 {
		m.grace = grace
	}
}

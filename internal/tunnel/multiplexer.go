// internal/tunnel/multiplexer.go
package tunnel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/macg4dave/lifelinetty/internal/frame"
)

const (
	DefaultKillGrace  = 2 * time.Second
	DefaultQueueDepth = 4
)

// ---- faults ----

type FaultKind uint8

const (
	FaultBusy FaultKind = iota
	FaultDenied
	FaultSpawnFailed
	FaultProcessError
)

func (k FaultKind) String() string {
	switch k {
	case FaultBusy:
		return "busy"
	case FaultDenied:
		return "denied"
	case FaultSpawnFailed:
		return "spawn-failed"
	}
	return "process-error"
}

// Fault is a tunnel failure. Every Fault is answered with a busy or
// error frame; none of them stops the daemon.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return "tunnel: " + f.Kind.String()
	}
	return fmt.Sprintf("tunnel: %s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// reply converts a fault into the frame sent back to the host.
func (f *Fault) reply() frame.TunnelMsg {
	if f.Kind == FaultBusy {
		return frame.TunnelMsg{Kind: frame.TunnelBusy}
	}
	return frame.TunnelMsg{Kind: frame.TunnelError, Message: truncate(f.Error(), frame.MaxMessageChars)}
}

// ---- state ----

type State uint8

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Session is the one running command.
type Session struct {
	ID      uuid.UUID
	Pid     int
	Command string
	Started time.Time
}

type Config struct {
	Allow      []string
	ChunkBytes int
	KillGrace  time.Duration
	QueueDepth int
}

type Stats struct {
	Started uint64
	Busy    uint64
	Denied  uint64
	Failed  uint64
	Exited  uint64
	Chunks  uint64
}

// Multiplexer is the single-session command tunnel.
type Multiplexer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     Config
	allow   map[string]bool
	spawner Spawner
	log     *zap.Logger

	state   State
	session *Session
	proc    Process
	events  chan Event

	termAt time.Time
	killed bool

	stats Stats
}

func New(ctx context.Context, cfg Config, spawner Spawner, log *zap.Logger) *Multiplexer {
	if log == nil {
		log = zap.NewNop()
	}
	if spawner == nil {
		spawner = ExecSpawner{ChunkBytes: cfg.ChunkBytes}
	}
	// Children outlive the caller's ctx so Close can still collect their
	// exit after a shutdown signal. Close releases the pumps.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Multiplexer{ctx: base, cancel: cancel, spawner: spawner, log: log}
	m.Reconfigure(cfg)
	return m
}

// Reconfigure replaces the allow-list and limits. The daemon only calls
// it while Idle.
func (m *Multiplexer) Reconfigure(cfg Config) {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.ChunkBytes <= 0 || cfg.ChunkBytes > frame.MaxChunkBytes {
		cfg.ChunkBytes = frame.MaxChunkBytes
	}
	m.cfg = cfg
	m.allow = make(map[string]bool, len(cfg.Allow))
	for _, a := range cfg.Allow {
		m.allow[a] = true
	}
}

func (m *Multiplexer) State() State { return m.state }

func (m *Multiplexer) Idle() bool { return m.state == Idle }

func (m *Multiplexer) Session() (Session, bool) {
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

func (m *Multiplexer) Stats() Stats { return m.stats }

// ---- inbound ----

// Handle processes one message from the host and returns the immediate
// replies.
func (m *Multiplexer) Handle(msg frame.TunnelMsg, now time.Time) []frame.TunnelMsg {
	switch msg.Kind {
	case frame.TunnelCmdRequest:
		if err := m.start(msg.Cmd, now); err != nil {
			return []frame.TunnelMsg{err.reply()}
		}
		return nil

	case frame.TunnelInterrupt:
		m.Interrupt(now)
		return nil

	case frame.TunnelHeartbeat:
		return nil
	}

	m.log.Warn("unexpected tunnel message from host", zap.String("type", string(msg.Kind)))
	return []frame.TunnelMsg{{
		Kind:    frame.TunnelError,
		Message: truncate("unexpected message type "+string(msg.Kind), frame.MaxMessageChars),
	}}
}

func (m *Multiplexer) start(cmdline string, now time.Time) *Fault {
	if m.state == Running {
		m.stats.Busy++
		m.log.Info("tunnel busy", zap.String("session", m.session.ID.String()), zap.String("cmd", cmdline))
		return &Fault{Kind: FaultBusy}
	}

	argv, err := shlex.Split(cmdline)
	if err != nil || len(argv) == 0 {
		m.stats.Denied++
		if err == nil {
			err = fmt.Errorf("empty command")
		}
		return &Fault{Kind: FaultDenied, Err: err}
	}
	if !m.allow[argv[0]] {
		m.stats.Denied++
		m.log.Warn("tunnel command not allowed", zap.String("argv0", argv[0]))
		return &Fault{Kind: FaultDenied, Err: fmt.Errorf("%q not in allow-list", argv[0])}
	}

	events := make(chan Event, m.cfg.QueueDepth)
	proc, err := m.spawner.Spawn(m.ctx, argv, events)
	if err != nil {
		m.stats.Failed++
		m.log.Warn("tunnel spawn failed", zap.Strings("argv", argv), zap.Error(err))
		return &Fault{Kind: FaultSpawnFailed, Err: err}
	}

	m.state = Running
	m.proc = proc
	m.events = events
	m.termAt = time.Time{}
	m.killed = false
	m.session = &Session{ID: uuid.New(), Pid: proc.Pid(), Command: cmdline, Started: now}
	m.stats.Started++

	m.log.Info("tunnel session started",
		zap.String("session", m.session.ID.String()),
		zap.Int("pid", m.session.Pid),
		zap.String("cmd", cmdline),
	)
	return nil
}

// Interrupt sends SIGTERM to the session's process group. Service
// escalates to SIGKILL once the kill grace elapses.
func (m *Multiplexer) Interrupt(now time.Time) {
	if m.state != Running || !m.termAt.IsZero() {
		return
	}
	m.termAt = now
	if err := m.proc.Terminate(); err != nil {
		m.log.Warn("tunnel terminate failed", zap.Int("pid", m.session.Pid), zap.Error(err))
	}
}

// ---- outbound ----

// Service emits at most one outbound message: a chunk or the exit.
func (m *Multiplexer) Service(now time.Time) (frame.TunnelMsg, bool) {
	if m.state != Running {
		return frame.TunnelMsg{}, false
	}

	if !m.termAt.IsZero() && !m.killed && now.Sub(m.termAt) >= m.cfg.KillGrace {
		m.killed = true
		m.log.Warn("tunnel child ignored SIGTERM, killing", zap.Int("pid", m.session.Pid))
		if err := m.proc.Kill(); err != nil {
			m.log.Warn("tunnel kill failed", zap.Int("pid", m.session.Pid), zap.Error(err))
		}
	}

	var ev Event
	select {
	case ev = <-m.events:
	default:
		return frame.TunnelMsg{}, false
	}

	switch ev.Kind {
	case frame.TunnelStdout, frame.TunnelStderr:
		m.stats.Chunks++
		return frame.TunnelMsg{Kind: ev.Kind, Chunk: ev.Data}, true
	case frame.TunnelExit:
		m.finish(ev.Code, now)
		return frame.TunnelMsg{Kind: frame.TunnelExit, Code: ev.Code}, true
	}

	f := &Fault{Kind: FaultProcessError, Err: fmt.Errorf("unknown event %q", ev.Kind)}
	return f.reply(), true
}

func (m *Multiplexer) finish(code int, now time.Time) {
	m.stats.Exited++
	m.log.Info("tunnel session finished",
		zap.String("session", m.session.ID.String()),
		zap.Int("pid", m.session.Pid),
		zap.Int("code", code),
		zap.Duration("elapsed", now.Sub(m.session.Started)),
	)
	m.state = Idle
	m.session = nil
	m.proc = nil
	m.events = nil
}

// Close stops a running session on shutdown: SIGTERM, then SIGKILL if
// the child outlives the kill grace. It returns the session's final exit
// message, or false when nothing was running.
func (m *Multiplexer) Close() (frame.TunnelMsg, bool) {
	defer m.cancel()
	if m.state != Running {
		return frame.TunnelMsg{}, false
	}
	m.Interrupt(time.Now())

	timer := time.NewTimer(m.cfg.KillGrace)
	defer timer.Stop()
	for {
		select {
		case ev := <-m.events:
			if ev.Kind == frame.TunnelExit {
				m.finish(ev.Code, time.Now())
				return frame.TunnelMsg{Kind: frame.TunnelExit, Code: ev.Code}, true
			}
		case <-timer.C:
			if err := m.proc.Kill(); err != nil {
				m.log.Warn("tunnel kill failed", zap.Error(err))
			}
			code := 128 + int(unix.SIGKILL)
			m.finish(code, time.Now())
			return frame.TunnelMsg{Kind: frame.TunnelExit, Code: code}, true
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

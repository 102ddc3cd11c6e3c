// internal/tunnel/multiplexer_test.go
package tunnel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/macg4dave/lifelinetty/internal/frame"
)

// ---- fakes ----

type fakeProcess struct {
	pid        int
	terminated int
	killed     int
}

func (p *fakeProcess) Pid() int         { return p.pid }
func (p *fakeProcess) Terminate() error { p.terminated++; return nil }
func (p *fakeProcess) Kill() error      { p.killed++; return nil }

type fakeSpawner struct {
	argv   [][]string
	events chan<- Event
	proc   *fakeProcess
	err    error
}

func (f *fakeSpawner) Spawn(_ context.Context, argv []string, events chan<- Event) (Process, error) {
	f.argv = append(f.argv, argv)
	if f.err != nil {
		return nil, f.err
	}
	f.events = events
	f.proc = &fakeProcess{pid: 4242}
	return f.proc, nil
}

func newTestMux(t *testing.T, sp Spawner, allow ...string) *Multiplexer {
	t.Helper()
	return New(context.Background(), Config{Allow: allow, KillGrace: time.Second}, sp, zaptest.NewLogger(t))
}

func request(cmd string) frame.TunnelMsg {
	return frame.TunnelMsg{Kind: frame.TunnelCmdRequest, Cmd: cmd}
}

// ---- tests ----

func TestMux_StartsAllowedCommand(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestMux(t, sp, "echo")
	now := time.Unix(100, 0)

	if out := m.Handle(request(`echo "hello world"`), now); len(out) != 0 {
		t.Fatalf("expected no immediate reply, got %+v", out)
	}
	if m.State() != Running {
		t.Fatalf("expected running, got %s", m.State())
	}
	if len(sp.argv) != 1 || len(sp.argv[0]) != 2 || sp.argv[0][1] != "hello world" {
		t.Fatalf("expected quoted argument kept whole, got %q", sp.argv)
	}
	s, ok := m.Session()
	if !ok || s.Pid != 4242 || s.Command != `echo "hello world"` {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestMux_BusyWhileRunning(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestMux(t, sp, "echo")
	now := time.Unix(100, 0)

	m.Handle(request("echo one"), now)
	first, _ := m.Session()

	out := m.Handle(request("echo two"), now)
	if len(out) != 1 || out[0].Kind != frame.TunnelBusy {
		t.Fatalf("expected busy, got %+v", out)
	}
	if len(sp.argv) != 1 {
		t.Fatalf("expected a single spawn, got %d", len(sp.argv))
	}
	if s, _ := m.Session(); s.ID != first.ID {
		t.Fatalf("session must be unchanged")
	}
	if m.Stats().Busy != 1 {
		t.Fatalf("expected busy count 1, got %d", m.Stats().Busy)
	}
}

func TestMux_AllowListIsExact(t *testing.T) {
	cases := []string{"/bin/echo hi", "rm -rf /", "echo2", `"unterminated`, "   "}

	for _, cmd := range cases {
		sp := &fakeSpawner{}
		m := newTestMux(t, sp, "echo")

		out := m.Handle(request(cmd), time.Unix(100, 0))
		if len(out) != 1 || out[0].Kind != frame.TunnelError {
			t.Fatalf("%q: expected error reply, got %+v", cmd, out)
		}
		if len(sp.argv) != 0 {
			t.Fatalf("%q: must not spawn", cmd)
		}
		if m.State() != Idle {
			t.Fatalf("%q: expected idle", cmd)
		}
	}
}

func TestMux_SpawnFailureRepliesError(t *testing.T) {
	sp := &fakeSpawner{err: errors.New("exec: no such file")}
	m := newTestMux(t, sp, "missing")

	out := m.Handle(request("missing"), time.Unix(100, 0))
	if len(out) != 1 || out[0].Kind != frame.TunnelError {
		t.Fatalf("expected error reply, got %+v", out)
	}
	if !strings.Contains(out[0].Message, "spawn-failed") {
		t.Fatalf("expected spawn-failed message, got %q", out[0].Message)
	}
	if m.State() != Idle {
		t.Fatalf("expected idle after spawn failure")
	}
}

func TestMux_ServicesOneChunkPerCall(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestMux(t, sp, "cat")
	now := time.Unix(100, 0)

	m.Handle(request("cat"), now)
	sp.events <- Event{Kind: frame.TunnelStdout, Data: []byte("a")}
	sp.events <- Event{Kind: frame.TunnelStderr, Data: []byte("b")}

	msg, ok := m.Service(now)
	if !ok || msg.Kind != frame.TunnelStdout || string(msg.Chunk) != "a" {
		t.Fatalf("expected stdout a, got %+v", msg)
	}
	msg, ok = m.Service(now)
	if !ok || msg.Kind != frame.TunnelStderr || string(msg.Chunk) != "b" {
		t.Fatalf("expected stderr b, got %+v", msg)
	}
	if _, ok := m.Service(now); ok {
		t.Fatalf("expected nothing left to service")
	}
}

func TestMux_ExitEmittedOnce(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestMux(t, sp, "false")
	now := time.Unix(100, 0)

	m.Handle(request("false"), now)
	sp.events <- Event{Kind: frame.TunnelExit, Code: 1}

	msg, ok := m.Service(now)
	if !ok || msg.Kind != frame.TunnelExit || msg.Code != 1 {
		t.Fatalf("expected exit 1, got %+v", msg)
	}
	if m.State() != Idle {
		t.Fatalf("expected idle after exit")
	}
	if _, ok := m.Service(now); ok {
		t.Fatalf("exit must be emitted once")
	}

	// a new session may start
	if out := m.Handle(request("false"), now); len(out) != 0 {
		t.Fatalf("expected second session to start, got %+v", out)
	}
}

func TestMux_InterruptEscalatesAfterGrace(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestMux(t, sp, "sleep")
	t0 := time.Unix(100, 0)

	m.Handle(request("sleep 60"), t0)
	m.Handle(frame.TunnelMsg{Kind: frame.TunnelInterrupt}, t0)
	m.Handle(frame.TunnelMsg{Kind: frame.TunnelInterrupt}, t0)
	if sp.proc.terminated != 1 {
		t.Fatalf("expected one SIGTERM, got %d", sp.proc.terminated)
	}

	m.Service(t0.Add(500 * time.Millisecond))
	if sp.proc.killed != 0 {
		t.Fatalf("killed before grace")
	}
	m.Service(t0.Add(time.Second))
	m.Service(t0.Add(2 * time.Second))
	if sp.proc.killed != 1 {
		t.Fatalf("expected one SIGKILL, got %d", sp.proc.killed)
	}
}

func TestMux_CloseReturnsExit(t *testing.T) {
	sp := &fakeSpawner{}
	m := newTestMux(t, sp, "sleep")

	m.Handle(request("sleep 60"), time.Unix(100, 0))
	sp.events <- Event{Kind: frame.TunnelExit, Code: 143}

	msg, ok := m.Close()
	if !ok || msg.Kind != frame.TunnelExit || msg.Code != 143 {
		t.Fatalf("expected exit 143, got %+v ok=%v", msg, ok)
	}
	if sp.proc.terminated != 1 {
		t.Fatalf("expected SIGTERM on close, got %d", sp.proc.terminated)
	}
	if m.State() != Idle {
		t.Fatalf("expected idle after close")
	}
}

func TestMux_CloseKillsAfterGrace(t *testing.T) {
	sp := &fakeSpawner{}
	m := New(context.Background(), Config{Allow: []string{"sleep"}, KillGrace: 10 * time.Millisecond}, sp, zaptest.NewLogger(t))

	m.Handle(request("sleep 60"), time.Unix(100, 0))

	msg, ok := m.Close()
	if !ok || msg.Kind != frame.TunnelExit || msg.Code != 137 {
		t.Fatalf("expected exit 137, got %+v ok=%v", msg, ok)
	}
	if sp.proc.killed != 1 {
		t.Fatalf("expected one SIGKILL, got %d", sp.proc.killed)
	}
}

func TestMux_CloseWhileIdle(t *testing.T) {
	m := newTestMux(t, &fakeSpawner{}, "echo")
	if _, ok := m.Close(); ok {
		t.Fatalf("expected no exit message while idle")
	}
}

func TestMux_InterruptWhileIdleIsNoop(t *testing.T) {
	m := newTestMux(t, &fakeSpawner{}, "echo")
	if out := m.Handle(frame.TunnelMsg{Kind: frame.TunnelInterrupt}, time.Unix(1, 0)); len(out) != 0 {
		t.Fatalf("expected no reply, got %+v", out)
	}
}

func TestMux_UnexpectedHostMessage(t *testing.T) {
	m := newTestMux(t, &fakeSpawner{}, "echo")
	out := m.Handle(frame.TunnelMsg{Kind: frame.TunnelStdout, Chunk: []byte("x")}, time.Unix(1, 0))
	if len(out) != 1 || out[0].Kind != frame.TunnelError {
		t.Fatalf("expected error reply, got %+v", out)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 200)
	if got := truncate(long, frame.MaxMessageChars); len([]rune(got)) != frame.MaxMessageChars {
		t.Fatalf("expected %d runes, got %d", frame.MaxMessageChars, len([]rune(got)))
	}
}

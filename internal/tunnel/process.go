// internal/tunnel/process.go
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/macg4dave/lifelinetty/internal/frame"
)

// Event is one unit of child output, or its exit.
type Event struct {
	Kind frame.TunnelKind // stdout, stderr or exit
	Data []byte
	Code int
}

// Process is a running child.
type Process interface {
	Pid() int
	Terminate() error
	Kill() error
}

// Spawner starts argv and streams its output into events. The exit
// event is sent exactly once, after both output streams are drained.
// Senders give up when ctx is done.
type Spawner interface {
	Spawn(ctx context.Context, argv []string, events chan<- Event) (Process, error)
}

// ---- os/exec spawner ----

// ExecSpawner runs children directly (no shell) in their own process
// group so signals reach every descendant.
type ExecSpawner struct {
	ChunkBytes int
	Dir        string
}

type execProcess struct {
	pid int
}

func (p *execProcess) Pid() int { return p.pid }

func (p *execProcess) Terminate() error { return signalGroup(p.pid, unix.SIGTERM) }

func (p *execProcess) Kill() error { return signalGroup(p.pid, unix.SIGKILL) }

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (x ExecSpawner) Spawn(ctx context.Context, argv []string, events chan<- Event) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("tunnel: empty argv")
	}
	chunk := x.ChunkBytes
	if chunk <= 0 || chunk > frame.MaxChunkBytes {
		chunk = frame.MaxChunkBytes
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = x.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("tunnel: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("tunnel: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("tunnel: start %s: %w", argv[0], err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(ctx, stdout, frame.TunnelStdout, chunk, events, &wg)
	go pump(ctx, stderr, frame.TunnelStderr, chunk, events, &wg)

	go func() {
		wg.Wait()
		werr := cmd.Wait()
		send(ctx, events, Event{Kind: frame.TunnelExit, Code: exitCode(cmd.ProcessState, werr)})
	}()

	return &execProcess{pid: cmd.Process.Pid}, nil
}

// pump forwards r in chunks. A full events channel blocks the pump,
// which in turn blocks the child on its pipe.
func pump(ctx context.Context, r io.Reader, kind frame.TunnelKind, chunk int, events chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !send(ctx, events, Event{Kind: kind, Data: data}) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// exitCode follows the shell convention: 128+N for death by signal N.
func exitCode(ps *os.ProcessState, err error) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 0
}

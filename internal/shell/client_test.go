// internal/shell/client_test.go
package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/link"
)

type fakePort struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.in.Len() == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return p.out.Write(b) }

func (p *fakePort) Close() error { return nil }

func (p *fakePort) reply(t *testing.T, msg frame.TunnelMsg) {
	t.Helper()
	b, err := frame.EncodeTunnel(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p.in.Write(append(b, '\n'))
}

func newTestClient(t *testing.T, port *fakePort, stdout, stderr *bytes.Buffer) *Client {
	t.Helper()
	ctl, err := link.NewController(link.Config{Device: "/dev/ttyFAKE0", Baud: 115200},
		func(link.Config) (link.Port, error) { return port, nil }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(ctl, stdout, stderr, zaptest.NewLogger(t))
}

func TestRun_StreamsOutputAndReturnsCode(t *testing.T) {
	port := &fakePort{}
	port.reply(t, frame.TunnelMsg{Kind: frame.TunnelStdout, Seq: 1, Chunk: []byte("hi\n")})
	port.in.WriteString(`{"line1":"ignored","line2":"x"}` + "\n")
	port.reply(t, frame.TunnelMsg{Kind: frame.TunnelStderr, Seq: 2, Chunk: []byte("warn\n")})
	port.reply(t, frame.TunnelMsg{Kind: frame.TunnelExit, Code: 3})

	var stdout, stderr bytes.Buffer
	code, err := newTestClient(t, port, &stdout, &stderr).Run(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	if stdout.String() != "hi\n" || stderr.String() != "warn\n" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
	if !strings.Contains(port.out.String(), `"cmd":"echo hi"`) {
		t.Fatalf("expected cmd_request on the wire, got %q", port.out.String())
	}
}

func TestRun_Busy(t *testing.T) {
	port := &fakePort{}
	port.reply(t, frame.TunnelMsg{Kind: frame.TunnelBusy})

	var stdout, stderr bytes.Buffer
	if _, err := newTestClient(t, port, &stdout, &stderr).Run(context.Background(), "uptime"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestRun_RemoteError(t *testing.T) {
	port := &fakePort{}
	port.reply(t, frame.TunnelMsg{Kind: frame.TunnelError, Message: "denied"})

	var stdout, stderr bytes.Buffer
	_, err := newTestClient(t, port, &stdout, &stderr).Run(context.Background(), "rm -rf /")
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestRun_CancelSendsInterrupt(t *testing.T) {
	port := &fakePort{}
	port.reply(t, frame.TunnelMsg{Kind: frame.TunnelExit, Code: 143})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code, err := newTestClient(t, port, &stdout, &stderr).Run(ctx, "sleep 30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 143 {
		t.Fatalf("expected 143, got %d", code)
	}
	if !strings.Contains(port.out.String(), `"type":"interrupt"`) {
		t.Fatalf("expected interrupt on the wire, got %q", port.out.String())
	}
}

func TestRun_InterruptWaitBounded(t *testing.T) {
	port := &fakePort{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	c := newTestClient(t, port, &stdout, &stderr)
	clock := time.Unix(100, 0)
	c.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	if _, err := c.Run(ctx, "sleep 30"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// internal/shell/client.go
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/macg4dave/lifelinetty/internal/frame"
	"github.com/macg4dave/lifelinetty/internal/link"
)

// InterruptWait bounds how long Run waits for the exit after sending an
// interrupt.
const InterruptWait = 5 * time.Second

// ErrBusy is returned when the remote already runs a command.
var ErrBusy = errors.New("shell: remote busy")

// Client is the host side of the command tunnel: it sends one
// cmd_request and streams the replies.
type Client struct {
	link   *link.Controller
	dec    *frame.Decoder
	stdout io.Writer
	stderr io.Writer
	log    *zap.Logger
	now    func() time.Time
}

func New(ctl *link.Controller, stdout, stderr io.Writer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		link:   ctl,
		dec:    frame.NewDecoder(log),
		stdout: stdout,
		stderr: stderr,
		log:    log,
		now:    time.Now,
	}
}

// Run executes cmd remotely and returns its exit code. Cancelling ctx
// sends an interrupt and waits for the remote exit.
func (c *Client) Run(ctx context.Context, cmd string) (int, error) {
	if err := c.link.Open(c.now()); err != nil {
		return -1, fmt.Errorf("shell: %w", err)
	}
	if err := c.send(frame.TunnelMsg{Kind: frame.TunnelCmdRequest, Cmd: cmd}); err != nil {
		return -1, err
	}

	var (
		interruptedAt time.Time
		seq           uint32
	)
	for {
		if !interruptedAt.IsZero() && c.now().Sub(interruptedAt) > InterruptWait {
			return -1, ctx.Err()
		}
		if interruptedAt.IsZero() && ctx.Err() != nil {
			interruptedAt = c.now()
			if err := c.send(frame.TunnelMsg{Kind: frame.TunnelInterrupt}); err != nil {
				return -1, err
			}
		}

		raw, err := c.link.ReadLine()
		if err != nil {
			var f *link.Fault
			if errors.As(err, &f) && !f.Fatal() {
				continue
			}
			return -1, fmt.Errorf("shell: %w", err)
		}

		p, err := c.dec.Decode(raw)
		if err != nil || p.Channel != frame.ChannelTunnel {
			continue
		}

		msg := p.Tunnel
		switch msg.Kind {
		case frame.TunnelStdout, frame.TunnelStderr:
			if msg.Seq != seq+1 {
				c.log.Warn("tunnel chunk gap", zap.Uint32("want", seq+1), zap.Uint32("got", msg.Seq))
			}
			seq = msg.Seq
			w := c.stdout
			if msg.Kind == frame.TunnelStderr {
				w = c.stderr
			}
			if _, err := w.Write(msg.Chunk); err != nil {
				return -1, fmt.Errorf("shell: %w", err)
			}

		case frame.TunnelExit:
			return msg.Code, nil

		case frame.TunnelBusy:
			return -1, ErrBusy

		case frame.TunnelError:
			return -1, fmt.Errorf("shell: remote error: %s", msg.Message)
		}
	}
}

// Close releases the serial handle.
func (c *Client) Close() error { return c.link.Close() }

func (c *Client) send(msg frame.TunnelMsg) error {
	line, err := frame.EncodeTunnel(msg)
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	if err := c.link.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	return nil
}

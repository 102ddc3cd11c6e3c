// internal/mirror/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// RTUClient is a Modbus RTU master on a dedicated serial device.
// It serializes requests because it mutates SlaveId per write.
type RTUClient struct {
	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// Config is the RTU line setup. Parity is "N", "E" or "O"; empty means
// even, the Modbus RTU default. Zero StopBits means 2 without parity and
// 1 otherwise, keeping every character 11 bits long.
type Config struct {
	Device   string
	Baud     int
	Parity   string
	StopBits int
	Timeout  time.Duration
}

func NewRTUClient(cfg Config) (*RTUClient, error) {
	h, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("mirror modbus: connect %s: %w", cfg.Device, err)
	}

	return &RTUClient{
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

// newHandler resolves cfg into an unconnected RTU handler.
func newHandler(cfg Config) (*modbus.RTUClientHandler, error) {
	if cfg.Device == "" {
		return nil, errors.New("mirror modbus: device required")
	}

	parity := cfg.Parity
	if parity == "" {
		parity = "E"
	}
	stopBits := cfg.StopBits
	switch parity {
	case "N":
		if stopBits == 0 {
			stopBits = 2
		}
	case "E", "O":
		if stopBits == 0 {
			stopBits = 1
		}
	default:
		return nil, fmt.Errorf("mirror modbus: parity %q must be N, E or O", cfg.Parity)
	}
	if stopBits != 1 && stopBits != 2 {
		return nil, fmt.Errorf("mirror modbus: stop bits %d must be 1 or 2", cfg.StopBits)
	}

	h := modbus.NewRTUClientHandler(cfg.Device)
	h.BaudRate = cfg.Baud
	h.DataBits = 8
	h.Parity = parity
	h.StopBits = stopBits
	h.Timeout = cfg.Timeout
	return h, nil
}

func (c *RTUClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// WriteRegisters issues FC16 (write multiple holding registers).
func (c *RTUClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unitID

	qty := uint16(len(regs))
	payload := packRegisters(regs)

	_, err := c.client.WriteMultipleRegisters(addr, qty, payload)
	return err
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}

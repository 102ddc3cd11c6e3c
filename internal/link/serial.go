// internal/link/serial.go
package link

import (
	"io"

	"github.com/goburrow/serial"
)

// Port is the exclusive device handle.
type Port io.ReadWriteCloser

// Opener opens one handle. One attempt per call; retries belong to the
// controller.
type Opener func(cfg Config) (Port, error)

// SerialOpener opens a real tty through goburrow/serial.
// The read timeout set here bounds every ReadLine call.
func SerialOpener(cfg Config) (Port, error) {
	p, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// internal/link/fault.go
package link

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/goburrow/serial"
	"golang.org/x/sys/unix"
)

// FaultKind is the policy-relevant class of a link failure.
// Backoff decisions look at the kind, never at the raw OS error.
type FaultKind uint8

const (
	FaultOther FaultKind = iota
	FaultPermissionDenied
	FaultDeviceUnplugged
	FaultFraming
	FaultTimeout
)

func (k FaultKind) String() string {
	switch k {
	case FaultPermissionDenied:
		return "permission-denied"
	case FaultDeviceUnplugged:
		return "device-unplugged"
	case FaultFraming:
		return "framing"
	case FaultTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// Code is the numeric form used by the status block.
func (k FaultKind) Code() uint16 { return uint16(k) + 1 }

// Fault is a classified link failure.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("link: %s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("link: %s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Fatal reports whether the fault closes the handle and enters backoff.
func (f *Fault) Fatal() bool {
	return f.Kind != FaultTimeout && f.Kind != FaultFraming
}

// ErrNotOpen is returned by Write and ReadLine while no handle is held.
var ErrNotOpen = errors.New("link: not open")

// errNoLine marks a read that produced bytes but no complete line.
var errNoLine = errors.New("no complete line")

// Classify maps any I/O error onto a FaultKind.
func Classify(op string, err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) FaultKind {
	switch {
	case errors.Is(err, serial.ErrTimeout),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, errNoLine),
		errors.Is(err, unix.ETIMEDOUT),
		errors.Is(err, unix.EAGAIN):
		return FaultTimeout

	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, unix.EACCES),
		errors.Is(err, unix.EPERM):
		return FaultPermissionDenied

	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.ENXIO),
		errors.Is(err, unix.EIO),
		errors.Is(err, unix.EBADF),
		errors.Is(err, unix.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, fs.ErrClosed):
		return FaultDeviceUnplugged

	case errors.Is(err, unix.EILSEQ):
		return FaultFraming
	}
	return FaultOther
}

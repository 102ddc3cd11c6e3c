// internal/frame/errors.go
package frame

import "fmt"

// Reason is the log tag of a rejected frame.
type Reason string

const (
	ReasonOversize  Reason = "oversize"
	ReasonMalformed Reason = "malformed"
	ReasonChecksum  Reason = "bad-checksum"
	ReasonSchema    Reason = "unknown-schema"
)

// ParseError rejects exactly one frame. The decoder keeps going.
type ParseError struct {
	Reason Reason
	Size   int
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("frame: %s (%d bytes)", e.Reason, e.Size)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func malformed(size int, detail string) *ParseError {
	return &ParseError{Reason: ReasonMalformed, Size: size, Detail: detail}
}

// internal/frame/tunnel.go
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// TunnelKind is the closed set of command-channel message types.
type TunnelKind string

const (
	TunnelCmdRequest TunnelKind = "cmd_request"
	TunnelStdout     TunnelKind = "stdout"
	TunnelStderr     TunnelKind = "stderr"
	TunnelExit       TunnelKind = "exit"
	TunnelBusy       TunnelKind = "busy"
	TunnelError      TunnelKind = "error"
	TunnelHeartbeat  TunnelKind = "heartbeat"
	TunnelInterrupt  TunnelKind = "interrupt"
)

const (
	// MaxCommandChars bounds a cmd_request command line.
	MaxCommandChars = 256
	// MaxChunkBytes bounds one decoded stdout/stderr chunk. A full chunk
	// still encodes below MaxFrameBytes.
	MaxChunkBytes = 256
	// MaxMessageChars bounds an error message.
	MaxMessageChars = 120
)

// TunnelMsg is one command-channel message.
type TunnelMsg struct {
	Kind    TunnelKind `json:"type"`
	Cmd     string     `json:"cmd,omitempty"`
	Seq     uint32     `json:"seq,omitempty"`
	Chunk   []byte     `json:"chunk,omitempty"`
	Code    int        `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

type tunnelWire struct {
	Channel       string          `json:"channel"`
	SchemaVersion int             `json:"schema_version"`
	Msg           json.RawMessage `json:"msg"`
	CRC32         uint32          `json:"crc32"`
}

// EncodeTunnel returns the wire line (without newline) for m.
func EncodeTunnel(m TunnelMsg) ([]byte, error) {
	if err := validateTunnel(m); err != nil {
		return nil, err
	}
	body, err := marshalCompact(m)
	if err != nil {
		return nil, fmt.Errorf("frame: encode tunnel: %w", err)
	}
	return marshalCompact(tunnelWire{
		Channel:       ChannelTunnel.String(),
		SchemaVersion: SchemaVersion,
		Msg:           body,
		CRC32:         crc32.ChecksumIEEE(body),
	})
}

func decodeTunnel(w *wireFrame, size int) (Payload, error) {
	if w.hasDisplayFields() || w.Type != nil {
		return Payload{}, malformed(size, "display fields on tunnel frame")
	}
	if len(w.Msg) == 0 {
		return Payload{}, malformed(size, "tunnel frame without msg")
	}
	if w.CRC32 == nil {
		return Payload{}, malformed(size, "tunnel frame without crc32")
	}

	var m TunnelMsg
	dec := json.NewDecoder(bytes.NewReader(w.Msg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Payload{}, &ParseError{Reason: ReasonMalformed, Size: size, Detail: "tunnel msg", Err: err}
	}
	if err := validateTunnel(m); err != nil {
		return Payload{}, &ParseError{Reason: ReasonMalformed, Size: size, Detail: err.Error()}
	}

	sum := crc32.ChecksumIEEE(w.Msg)
	if sum != *w.CRC32 {
		return Payload{}, &ParseError{
			Reason: ReasonChecksum,
			Size:   size,
			Detail: fmt.Sprintf("crc32 %08x, computed %08x", *w.CRC32, sum),
		}
	}

	return Payload{
		SchemaVersion: SchemaVersion,
		Channel:       ChannelTunnel,
		Checksum:      sum,
		Tunnel:        &m,
	}, nil
}

func validateTunnel(m TunnelMsg) error {
	switch m.Kind {
	case TunnelCmdRequest:
		if m.Cmd == "" {
			return fmt.Errorf("frame: cmd_request without cmd")
		}
		if len([]rune(m.Cmd)) > MaxCommandChars {
			return fmt.Errorf("frame: cmd exceeds %d chars", MaxCommandChars)
		}
	case TunnelStdout, TunnelStderr:
		if len(m.Chunk) > MaxChunkBytes {
			return fmt.Errorf("frame: chunk exceeds %d bytes", MaxChunkBytes)
		}
	case TunnelError:
		if len([]rune(m.Message)) > MaxMessageChars {
			return fmt.Errorf("frame: message exceeds %d chars", MaxMessageChars)
		}
	case TunnelExit, TunnelBusy, TunnelHeartbeat, TunnelInterrupt:
	default:
		return fmt.Errorf("frame: unknown tunnel message type %q", m.Kind)
	}
	return nil
}

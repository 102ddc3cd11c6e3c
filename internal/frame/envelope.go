// internal/frame/envelope.go
package frame

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxDecompressedBytes bounds the inner frame of a compressed envelope.
const MaxDecompressedBytes = 4096

const (
	CodecNone = "none"
	CodecLZ4  = "lz4" // LZ4 frame format
	CodecZstd = "zstd"
)

type envelopeWire struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schema_version"`
	Codec         string `json:"codec"`
	OriginalLen   int    `json:"original_len"`
	Data          []byte `json:"data"`
}

func (d *Decoder) unwrapEnvelope(w *wireFrame, size int) ([]byte, error) {
	if *w.Type != "compressed" {
		return nil, malformed(size, fmt.Sprintf("unknown frame type %q", *w.Type))
	}
	if w.hasDisplayFields() || w.Channel != nil || len(w.Msg) != 0 || w.CRC32 != nil {
		return nil, malformed(size, "payload fields outside envelope")
	}
	if w.Codec == nil || w.OriginalLen == nil || w.Data == nil {
		return nil, malformed(size, "envelope requires codec, original_len and data")
	}
	n := *w.OriginalLen
	if n <= 0 || n > MaxDecompressedBytes {
		return nil, malformed(size, fmt.Sprintf("original_len %d outside 1..%d", n, MaxDecompressedBytes))
	}

	var out []byte
	switch *w.Codec {
	case CodecNone:
		out = w.Data

	case CodecLZ4:
		r := lz4.NewReader(bytes.NewReader(w.Data))
		dec, err := io.ReadAll(io.LimitReader(r, MaxDecompressedBytes+1))
		if err != nil {
			return nil, &ParseError{Reason: ReasonMalformed, Size: size, Detail: "lz4", Err: err}
		}
		out = dec

	case CodecZstd:
		if d.zstd == nil {
			zd, err := zstd.NewReader(nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderMaxMemory(64<<10),
			)
			if err != nil {
				return nil, &ParseError{Reason: ReasonMalformed, Size: size, Detail: "zstd init", Err: err}
			}
			d.zstd = zd
		}
		dec, err := d.zstd.DecodeAll(w.Data, make([]byte, 0, n))
		if err != nil {
			return nil, &ParseError{Reason: ReasonMalformed, Size: size, Detail: "zstd", Err: err}
		}
		out = dec

	default:
		return nil, malformed(size, fmt.Sprintf("unknown codec %q", *w.Codec))
	}

	if len(out) != n {
		return nil, malformed(size, fmt.Sprintf("decompressed %d bytes, original_len %d", len(out), n))
	}
	return out, nil
}

// Compress wraps one encoded frame in a compressed envelope.
func Compress(line []byte, codec string) ([]byte, error) {
	if len(line) == 0 || len(line) > MaxDecompressedBytes {
		return nil, fmt.Errorf("frame: cannot compress %d bytes", len(line))
	}

	var data []byte
	switch codec {
	case CodecNone:
		data = line
	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(line); err != nil {
			return nil, fmt.Errorf("frame: lz4: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("frame: lz4: %w", err)
		}
		data = buf.Bytes()
	case CodecZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("frame: zstd: %w", err)
		}
		data = enc.EncodeAll(line, nil)
		_ = enc.Close()
	default:
		return nil, fmt.Errorf("frame: unknown codec %q", codec)
	}

	return marshalCompact(envelopeWire{
		Type:          "compressed",
		SchemaVersion: SchemaVersion,
		Codec:         codec,
		OriginalLen:   len(line),
		Data:          data,
	})
}

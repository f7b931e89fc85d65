// Package packaging turns a captured payload into an upload-ready artifact
// and describes it with a manifest.
package packaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// Kinds accepted by New.
const (
	KindPassthrough = "passthrough"
	KindZstd        = "zstd"
	KindLZ4         = "lz4"
)

// Content encodings advertised to transports.
const (
	EncodingIdentity = "identity"
	EncodingZstd     = "zstd"
	EncodingLZ4      = "lz4"
)

// Kinds returns the supported packager kinds.
func Kinds() []string {
	return []string{KindPassthrough, KindZstd, KindLZ4}
}

// New returns the packager for kind. level only applies to zstd, where zero
// selects the library default.
func New(kind string, level int) (core.Packager, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindPassthrough:
		return Passthrough{}, nil
	case KindZstd:
		return NewZstd(level)
	case KindLZ4:
		return LZ4{}, nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown packaging kind %q (want one of %s)", kind, strings.Join(Kinds(), ", ")))
	}
}

// Passthrough uploads the payload as captured.
type Passthrough struct{}

// Name implements core.Packager.
func (Passthrough) Name() string { return KindPassthrough }

// Package implements core.Packager.
func (Passthrough) Package(ctx context.Context, payload []byte) (core.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return core.Artifact{}, err
	}
	return core.Artifact{Name: "package.bin", Encoding: EncodingIdentity, Data: payload}, nil
}

// Zstd compresses the payload with zstd.
type Zstd struct {
	enc *zstd.Encoder
}

// NewZstd creates a zstd packager. The encoder is reused across calls and is
// safe for concurrent use through EncodeAll.
func NewZstd(level int) (*Zstd, error) {
	speed := zstd.SpeedDefault
	if level != 0 {
		speed = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &Zstd{enc: enc}, nil
}

// Name implements core.Packager.
func (*Zstd) Name() string { return KindZstd }

// Package implements core.Packager.
func (z *Zstd) Package(ctx context.Context, payload []byte) (core.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return core.Artifact{}, err
	}
	out := z.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	return core.Artifact{Name: "package.zst", Encoding: EncodingZstd, Data: out}, nil
}

// LZ4 compresses the payload into an LZ4 frame.
type LZ4 struct{}

// Name implements core.Packager.
func (LZ4) Name() string { return KindLZ4 }

// Package implements core.Packager.
func (LZ4) Package(ctx context.Context, payload []byte) (core.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return core.Artifact{}, err
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return core.Artifact{}, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return core.Artifact{}, fmt.Errorf("lz4 compress: %w", err)
	}
	return core.Artifact{Name: "package.lz4", Encoding: EncodingLZ4, Data: buf.Bytes()}, nil
}

// Unpack reverses Package for the given encoding.
func Unpack(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case "", EncodingIdentity:
		return data, nil
	case EncodingZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case EncodingLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %q", encoding)
	}
}

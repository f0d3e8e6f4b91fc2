package checkpoint

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec transforms serialized state before it is written.
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// NewCodec returns the codec registered under name: "zstd" or "none".
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return NewZstdCodec()
	case "none":
		return plainCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type plainCodec struct{}

func (plainCodec) Name() string                      { return "none" }
func (plainCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (plainCodec) Decode(src []byte) ([]byte, error) { return src, nil }

// ZstdCodec compresses state blobs with zstd. EncodeAll and DecodeAll
// are safe for concurrent use, so one codec serves the whole store.
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec creates a zstd codec at the default level.
func NewZstdCodec() (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

// Name implements Codec.
func (c *ZstdCodec) Name() string { return "zstd" }

// Encode implements Codec.
func (c *ZstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

// Decode implements Codec.
func (c *ZstdCodec) Decode(src []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

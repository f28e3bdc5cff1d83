// Package codec defines how plans and keys are serialized into the store.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec converts entities to and from their stored representation.
// Implementations must round-trip: Unmarshal(Marshal(v)) equals v.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default compact textual encoding.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	initErr     error
)

func zstdInit() error {
	encoderOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil)
	})
	return initErr
}

type zstdCodec struct {
	inner Codec
}

// Zstd wraps inner with zstd compression. Useful when metadata is large.
func Zstd(inner Codec) Codec {
	return &zstdCodec{inner: inner}
}

func (c *zstdCodec) Name() string {
	return "zstd+" + c.inner.Name()
}

func (c *zstdCodec) Marshal(v any) ([]byte, error) {
	if err := zstdInit(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func (c *zstdCodec) Unmarshal(data []byte, v any) error {
	if err := zstdInit(); err != nil {
		return fmt.Errorf("zstd init: %w", err)
	}
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("zstd decode: %w", err)
	}
	return c.inner.Unmarshal(raw, v)
}

// ByName resolves a codec from configuration: "json" or "zstd".
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "zstd":
		return Zstd(JSON), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

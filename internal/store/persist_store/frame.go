package persist_store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/syntrixbase/chunkdex/internal/store"
)

// Value frame:
//
//	[version:1][flags:1][xxhash64(payload):8 big-endian][payload]
//
// The checksum covers the payload as stored (after compression).
const (
	frameVersion    byte = 1
	frameHeaderSize      = 10

	flagZstd byte = 1 << 0
)

// Compression names accepted in Config.Compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

type framer struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func newFramer(compression string) (*framer, error) {
	f := &framer{}
	switch compression {
	case "", CompressionNone:
	case CompressionZstd:
		f.compress = true
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", store.ErrInvalidConfig, compression)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	// The decoder is always needed: frames written with compression stay
	// readable after it is switched off.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	f.enc, f.dec = enc, dec
	return f, nil
}

func (f *framer) encode(value []byte) []byte {
	var flags byte
	payload := value
	if f.compress {
		payload = f.enc.EncodeAll(value, nil)
		flags |= flagZstd
	}

	out := make([]byte, frameHeaderSize+len(payload))
	out[0] = frameVersion
	out[1] = flags
	binary.BigEndian.PutUint64(out[2:frameHeaderSize], xxhash.Sum64(payload))
	copy(out[frameHeaderSize:], payload)
	return out
}

func (f *framer) decode(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", store.ErrCorruptValue, len(frame))
	}
	if frame[0] != frameVersion {
		return nil, fmt.Errorf("%w: unknown frame version %d", store.ErrCorruptValue, frame[0])
	}
	flags := frame[1]
	payload := frame[frameHeaderSize:]
	if sum := binary.BigEndian.Uint64(frame[2:frameHeaderSize]); sum != xxhash.Sum64(payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", store.ErrCorruptValue)
	}

	if flags&flagZstd != 0 {
		out, err := f.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", store.ErrCorruptValue, err)
		}
		return out, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (f *framer) close() {
	f.enc.Close()
	f.dec.Close()
}

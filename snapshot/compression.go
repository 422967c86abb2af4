package snapshot

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the chunk compression algorithm.
type Compression uint8

const (
	// CompressionNone stores chunks as they are.
	CompressionNone Compression = iota
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(b []byte) error {
	v, err := ParseCompression(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Chunk frame: [raw size uint32][packed size uint32][data]. A packed size
// of 0 means the data is stored raw.
const frameHeaderSize = 8

// encodeChunk frames data, compressed with c when that saves at least 10%.
func encodeChunk(data []byte, c Compression) []byte {
	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		if n, err := lz4.CompressBlock(data, buf, nil); err == nil && n > 0 {
			packed = buf[:n]
		}
	case CompressionZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		out := make([]byte, frameHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[frameHeaderSize:], data)
		return out
	}

	out := make([]byte, frameHeaderSize+len(packed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	copy(out[frameHeaderSize:], packed)
	return out
}

// decodeChunk reverses encodeChunk.
func decodeChunk(frame []byte, c Compression) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: chunk frame of %d bytes", ErrCorrupt, len(frame))
	}
	rawSize := binary.LittleEndian.Uint32(frame[0:])
	packedSize := binary.LittleEndian.Uint32(frame[4:])
	body := frame[frameHeaderSize:]

	if packedSize == 0 {
		if uint32(len(body)) != rawSize {
			return nil, fmt.Errorf("%w: raw chunk is %d bytes, header says %d", ErrCorrupt, len(body), rawSize)
		}
		return body, nil
	}
	if uint32(len(body)) != packedSize {
		return nil, fmt.Errorf("%w: packed chunk is %d bytes, header says %d", ErrCorrupt, len(body), packedSize)
	}

	out := make([]byte, rawSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		out = out[:n]
	case CompressionZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(body, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		out = decoded
	default:
		return nil, fmt.Errorf("%w: packed chunk in a %s snapshot", ErrCorrupt, c)
	}
	if uint32(len(out)) != rawSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorrupt, len(out), rawSize)
	}
	return out, nil
}

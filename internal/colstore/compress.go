package colstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how large variable-size values are stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// CompressThreshold is the smallest value size worth compressing.
const CompressThreshold = 64

var errCorruptValue = errors.New("corrupt compressed value")

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

// encodeValue returns the stored form of v: a one-byte marker, then either
// the raw bytes or the uncompressed length followed by the compressed block.
// Values that do not shrink are stored raw.
func encodeValue(v []byte, c Compression) []byte {
	if c != CompressionNone && len(v) >= CompressThreshold {
		var packed []byte

		switch c {
		case CompressionZstd:
			enc := getZstdEncoder()
			packed = enc.EncodeAll(v, nil)
			zstdEncoderPool.Put(enc)
		case CompressionLZ4:
			buf := make([]byte, lz4.CompressBlockBound(len(v)))
			if n, err := lz4.CompressBlock(v, buf, nil); err == nil && n > 0 {
				packed = buf[:n]
			}
		}

		if packed != nil && len(packed)+4 < len(v) {
			out := make([]byte, 5, 5+len(packed))
			out[0] = byte(c)
			binary.LittleEndian.PutUint32(out[1:5], uint32(len(v)))
			return append(out, packed...)
		}
	}

	out := make([]byte, 1+len(v))
	copy(out[1:], v)
	return out
}

func decodeValue(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, nil
	}

	c := Compression(stored[0])
	if c == CompressionNone {
		return stored[1:], nil
	}
	if len(stored) < 5 {
		return nil, errCorruptValue
	}

	size := int(binary.LittleEndian.Uint32(stored[1:5]))
	packed := stored[5:]

	switch c {
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(packed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptValue, err)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil || n != size {
			return nil, fmt.Errorf("%w: lz4 %d/%d: %v", errCorruptValue, n, size, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: marker %d", errCorruptValue, c)
	}
}

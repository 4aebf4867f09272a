// Package snapshot frames engine state files with a magic number, version
// and checksum, and writes them atomically.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/hash"
)

const (
	version    = 1
	headerSize = 16
)

var (
	ErrInvalidMagic = errors.New("invalid snapshot magic")
	ErrVersion      = errors.New("unsupported snapshot version")
	ErrChecksum     = errors.New("snapshot checksum mismatch")
)

// Frame wraps payload as: Magic (4) Version (4) Checksum (4) Length (4) Payload.
func Frame(magic uint32, payload []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], magic)
	binary.LittleEndian.PutUint32(out[4:8], version)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(payload)))
	return append(out, payload...)
}

// Unframe validates data and returns its payload.
func Unframe(magic uint32, data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, io.ErrUnexpectedEOF
	}
	if m := binary.LittleEndian.Uint32(data[0:4]); m != magic {
		return nil, fmt.Errorf("%w: %x", ErrInvalidMagic, m)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}

	length := int(binary.LittleEndian.Uint32(data[12:16]))
	if len(data)-headerSize < length {
		return nil, io.ErrUnexpectedEOF
	}

	payload := data[headerSize : headerSize+length]
	if hash.CRC32C(payload) != binary.LittleEndian.Uint32(data[8:12]) {
		return nil, ErrChecksum
	}
	return payload, nil
}

// Save frames payload and writes it atomically to path.
func Save(fsys fs.FileSystem, path string, magic uint32, payload []byte) error {
	return fs.WriteFileAtomic(fsys, path, Frame(magic, payload))
}

// Load reads and validates the file at path.
func Load(fsys fs.FileSystem, path string, magic uint32) ([]byte, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	return Unframe(magic, data)
}

// Package colstore implements the column engines: a fixed-size slab for
// scalar values of constant width and a variable-size store for text and
// vectors with optional per-value compression.
package colstore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/snapshot"
)

const (
	magic = 0x434F4C53 // "COLS"

	kindFixed uint8 = 1
	kindVar   uint8 = 2
)

var ErrWidth = errors.New("value width mismatch")

// Store is the common contract of column engines. Values are addressed by
// row id of the owning table.
type Store interface {
	// Get returns the value of id. Fixed stores return a zero-filled value
	// for unset rows, variable stores return nil.
	Get(id uint32) ([]byte, error)
	Set(id uint32, v []byte) error
	Delete(id uint32)
	Truncate()
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Fixed stores values of a constant width.
type Fixed struct {
	mu    sync.RWMutex
	width int
	slab  []byte
}

// NewFixed creates a fixed store for values of width bytes.
func NewFixed(width int) *Fixed {
	return &Fixed{width: width}
}

// Width returns the value width.
func (f *Fixed) Width() int { return f.width }

func (f *Fixed) Get(id uint32) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]byte, f.width)
	off := int(id) * f.width
	if off+f.width <= len(f.slab) {
		copy(out, f.slab[off:off+f.width])
	}
	return out, nil
}

func (f *Fixed) Set(id uint32, v []byte) error {
	if len(v) > f.width {
		return fmt.Errorf("%w: %d > %d", ErrWidth, len(v), f.width)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	end := (int(id) + 1) * f.width
	if end > len(f.slab) {
		f.slab = append(f.slab, make([]byte, end-len(f.slab))...)
	}

	dst := f.slab[end-f.width : end]
	clear(dst)
	copy(dst, v)
	return nil
}

func (f *Fixed) Delete(id uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	end := (int(id) + 1) * f.width
	if end <= len(f.slab) {
		clear(f.slab[end-f.width : end])
	}
}

func (f *Fixed) Truncate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slab = nil
}

func (f *Fixed) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	b := snapshot.NewBuffer(make([]byte, 0, 16+len(f.slab)))
	b.WriteUint8(kindFixed)
	b.WriteUint32(uint32(f.width))
	b.WriteBytes(f.slab)
	return b.Bytes(), nil
}

func (f *Fixed) UnmarshalBinary(data []byte) error {
	b := snapshot.NewBuffer(data)
	if k := b.ReadUint8(); k != kindFixed {
		return fmt.Errorf("colstore: snapshot kind %d is not fixed", k)
	}
	width := int(b.ReadUint32())
	slab := b.ReadBytes()
	if err := b.Err(); err != nil {
		return err
	}
	if width != f.width || (width > 0 && len(slab)%width != 0) {
		return fmt.Errorf("%w: snapshot width %d, store %d", ErrWidth, width, f.width)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.slab = slab
	return nil
}

// Var stores values of any length.
type Var struct {
	mu          sync.RWMutex
	compression Compression
	values      [][]byte
}

// NewVar creates a variable-size store.
func NewVar(c Compression) *Var {
	return &Var{compression: c}
}

func (s *Var) Get(id uint32) ([]byte, error) {
	s.mu.RLock()
	var stored []byte
	if int(id) < len(s.values) {
		stored = s.values[id]
	}
	s.mu.RUnlock()

	v, err := decodeValue(stored)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

func (s *Var) Set(id uint32, v []byte) error {
	var stored []byte
	if len(v) > 0 {
		stored = encodeValue(v, s.compression)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if int(id) >= len(s.values) {
		s.values = append(s.values, make([][]byte, int(id)+1-len(s.values))...)
	}
	s.values[id] = stored
	return nil
}

func (s *Var) Delete(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(id) < len(s.values) {
		s.values[id] = nil
	}
}

func (s *Var) Truncate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = nil
}

func (s *Var) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := snapshot.NewBuffer(nil)
	b.WriteUint8(kindVar)
	b.WriteUint8(uint8(s.compression))
	b.WriteUint32(uint32(len(s.values)))
	for _, v := range s.values {
		b.WriteBytes(v)
	}
	return b.Bytes(), nil
}

func (s *Var) UnmarshalBinary(data []byte) error {
	b := snapshot.NewBuffer(data)
	if k := b.ReadUint8(); k != kindVar {
		return fmt.Errorf("colstore: snapshot kind %d is not var", k)
	}
	_ = b.ReadUint8()

	values := make([][]byte, b.ReadUint32())
	for i := range values {
		if v := b.ReadBytes(); len(v) > 0 {
			values[i] = v
		}
	}
	if err := b.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	return nil
}

// Save writes a snapshot of s to path.
func Save(fsys fs.FileSystem, path string, s Store) error {
	payload, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	return snapshot.Save(fsys, path, magic, payload)
}

// Load restores s from the snapshot at path.
func Load(fsys fs.FileSystem, path string, s Store) error {
	payload, err := snapshot.Load(fsys, path, magic)
	if err != nil {
		return err
	}
	return s.UnmarshalBinary(payload)
}

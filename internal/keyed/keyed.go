// Package keyed implements the keyed-table engines: hash, patricia-style
// sorted trie, double-array trie and key-less array.
//
// Every engine maps row ids (1-based, dense) to keys and optionally carries
// a fixed-size value slot per row. Deleted ids go to a free list and are
// only reassigned by a later Add.
package keyed

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/snapshot"
)

// Kind selects an engine implementation.
type Kind uint8

const (
	KindHash Kind = iota + 1
	KindPat
	KindDat
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindHash:
		return "hash"
	case KindPat:
		return "pat"
	case KindDat:
		return "dat"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MaxKeySize is the largest key accepted by keyed engines.
const MaxKeySize = 4096

const magic = 0x4B455944 // "KEYD"

var (
	ErrUnsupported = errors.New("operation not supported by table engine")
	ErrInvalidKey  = errors.New("invalid key")
	ErrNotFound    = errors.New("record not found")
	ErrExists      = errors.New("key already exists")
	ErrValueSize   = errors.New("value size mismatch")
)

// CursorOptions restricts and orders a cursor.
type CursorOptions struct {
	Min          []byte
	Max          []byte
	MinExclusive bool
	MaxExclusive bool
	Prefix       []byte
	Descending   bool
	// ByID orders by row id instead of key.
	ByID   bool
	Offset int
	// Limit caps the number of ids. Zero or less means no limit.
	Limit int
}

func (o *CursorOptions) hasKeyFilter() bool {
	return o.Min != nil || o.Max != nil || o.Prefix != nil
}

func (o *CursorOptions) match(key []byte) bool {
	if o.Prefix != nil && !bytes.HasPrefix(key, o.Prefix) {
		return false
	}
	if o.Min != nil {
		c := bytes.Compare(key, o.Min)
		if c < 0 || (c == 0 && o.MinExclusive) {
			return false
		}
	}
	if o.Max != nil {
		c := bytes.Compare(key, o.Max)
		if c > 0 || (c == 0 && o.MaxExclusive) {
			return false
		}
	}
	return true
}

func (o *CursorOptions) window(ids []uint32) []uint32 {
	if o.Descending {
		slices.Reverse(ids)
	}
	if o.Offset > 0 {
		if o.Offset >= len(ids) {
			return nil
		}
		ids = ids[o.Offset:]
	}
	if o.Limit > 0 && o.Limit < len(ids) {
		ids = ids[:o.Limit]
	}
	return ids
}

// Engine is the common contract of all keyed-table engines.
type Engine interface {
	Kind() Kind
	// Add returns the id of key, inserting it when absent.
	Add(key []byte) (id uint32, added bool, err error)
	Get(key []byte) (uint32, bool)
	Key(id uint32) ([]byte, bool)
	Delete(id uint32) bool
	Exists(id uint32) bool
	Size() int
	// MaxID returns the largest id ever allocated.
	MaxID() uint32
	ValueSize() int
	Value(id uint32) ([]byte, bool)
	SetValue(id uint32, v []byte) error
	Cursor(opts CursorOptions) ([]uint32, error)
	Truncate()
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// KeyUpdater is implemented by engines that can change a record's key in
// place while keeping its id.
type KeyUpdater interface {
	UpdateKey(id uint32, key []byte) error
}

// New creates an empty engine.
func New(kind Kind, valueSize int) (Engine, error) {
	if valueSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrValueSize, valueSize)
	}

	switch kind {
	case KindHash:
		return newHash(valueSize), nil
	case KindPat:
		return &Pat{sorted: newSorted(valueSize)}, nil
	case KindDat:
		if valueSize != 0 {
			return nil, fmt.Errorf("%w: dat tables have no value slot", ErrUnsupported)
		}
		return &Dat{sorted: newSorted(0)}, nil
	case KindArray:
		return &Array{store: newStore(valueSize)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown engine kind %d", ErrUnsupported, kind)
	}
}

// Save writes a snapshot of e to path.
func Save(fsys fs.FileSystem, path string, e Engine) error {
	payload, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	return snapshot.Save(fsys, path, magic, payload)
}

// Load reads an engine snapshot from path.
func Load(fsys fs.FileSystem, path string) (Engine, error) {
	payload, err := snapshot.Load(fsys, path, magic)
	if err != nil {
		return nil, err
	}
	if len(payload) < 5 {
		return nil, fmt.Errorf("keyed: short snapshot")
	}

	b := snapshot.NewBuffer(payload)
	kind := Kind(b.ReadUint8())
	valueSize := int(b.ReadUint32())

	e, err := New(kind, valueSize)
	if err != nil {
		return nil, err
	}
	if err := e.UnmarshalBinary(payload); err != nil {
		return nil, err
	}
	return e, nil
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key size %d exceeds %d", ErrInvalidKey, len(key), MaxKeySize)
	}
	return nil
}

// store holds the id space shared by all engines.
type store struct {
	mu        sync.RWMutex
	keys      [][]byte
	live      *bitset.BitSet
	free      []uint32
	values    []byte
	valueSize int
	n         int
}

func newStore(valueSize int) store {
	return store{
		keys:      make([][]byte, 1),
		live:      bitset.New(64),
		values:    make([]byte, valueSize),
		valueSize: valueSize,
	}
}

func (s *store) alloc(key []byte) uint32 {
	var id uint32
	if k := len(s.free); k > 0 {
		id = s.free[k-1]
		s.free = s.free[:k-1]
	} else {
		id = uint32(len(s.keys))
		s.keys = append(s.keys, nil)
		s.values = append(s.values, make([]byte, s.valueSize)...)
	}

	if key != nil {
		s.keys[id] = bytes.Clone(key)
	}
	s.live.Set(uint(id))
	s.n++
	return id
}

func (s *store) release(id uint32) {
	s.keys[id] = nil
	s.live.Clear(uint(id))
	clear(s.slot(id))
	s.free = append(s.free, id)
	s.n--
}

func (s *store) slot(id uint32) []byte {
	off := int(id) * s.valueSize
	return s.values[off : off+s.valueSize]
}

func (s *store) exists(id uint32) bool {
	return id != 0 && int(id) < len(s.keys) && s.live.Test(uint(id))
}

func (s *store) Exists(id uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists(id)
}

func (s *store) Key(id uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists(id) {
		return nil, false
	}
	return s.keys[id], true
}

func (s *store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

func (s *store) MaxID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.keys) - 1)
}

func (s *store) ValueSize() int { return s.valueSize }

func (s *store) Value(id uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.valueSize == 0 || !s.exists(id) {
		return nil, false
	}
	return bytes.Clone(s.slot(id)), true
}

func (s *store) SetValue(id uint32, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valueSize == 0 {
		return fmt.Errorf("%w: table has no value slot", ErrUnsupported)
	}
	if !s.exists(id) {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if len(v) > s.valueSize {
		return fmt.Errorf("%w: %d > %d", ErrValueSize, len(v), s.valueSize)
	}

	dst := s.slot(id)
	clear(dst)
	copy(dst, v)
	return nil
}

// reset drops all rows. Callers hold mu.
func (s *store) reset() {
	s.keys = make([][]byte, 1)
	s.live = bitset.New(64)
	s.free = nil
	s.values = make([]byte, s.valueSize)
	s.n = 0
}

// liveIDs returns live ids in ascending order.
func (s *store) liveIDs(opts *CursorOptions) []uint32 {
	ids := make([]uint32, 0, s.n)
	for i, ok := s.live.NextSet(1); ok; i, ok = s.live.NextSet(i + 1) {
		id := uint32(i)
		if opts.hasKeyFilter() && !opts.match(s.keys[id]) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *store) marshal(kind Kind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live, err := s.live.MarshalBinary()
	if err != nil {
		return nil, err
	}

	b := snapshot.NewBuffer(make([]byte, 0, 64+len(s.values)))
	b.WriteUint8(uint8(kind))
	b.WriteUint32(uint32(s.valueSize))
	b.WriteUint32(uint32(len(s.keys)))
	b.WriteBytes(live)

	for i, ok := s.live.NextSet(1); ok; i, ok = s.live.NextSet(i + 1) {
		b.WriteBytes(s.keys[i])
	}

	b.WriteUint32(uint32(len(s.free)))
	for _, id := range s.free {
		b.WriteUint32(id)
	}
	b.WriteBytes(s.values)

	return b.Bytes(), nil
}

func (s *store) unmarshal(kind Kind, data []byte) error {
	b := snapshot.NewBuffer(data)
	if k := Kind(b.ReadUint8()); k != kind {
		return fmt.Errorf("keyed: snapshot holds %s engine, want %s", k, kind)
	}

	valueSize := int(b.ReadUint32())
	if valueSize != s.valueSize {
		return fmt.Errorf("%w: snapshot %d, engine %d", ErrValueSize, valueSize, s.valueSize)
	}

	slots := int(b.ReadUint32())
	live := bitset.New(uint(slots))
	if err := live.UnmarshalBinary(b.ReadBytes()); err != nil {
		return fmt.Errorf("keyed: live set: %w", err)
	}

	keys := make([][]byte, slots)
	n := 0
	for i, ok := live.NextSet(1); ok && int(i) < slots; i, ok = live.NextSet(i + 1) {
		keys[i] = b.ReadBytes()
		n++
	}

	free := make([]uint32, b.ReadUint32())
	for i := range free {
		free[i] = b.ReadUint32()
	}
	values := b.ReadBytes()

	if err := b.Err(); err != nil {
		return fmt.Errorf("keyed: truncated snapshot: %w", err)
	}
	if len(values) != slots*valueSize {
		return fmt.Errorf("%w: value slab %d bytes for %d slots", ErrValueSize, len(values), slots)
	}

	s.keys = keys
	s.live = live
	s.free = free
	s.values = values
	s.n = n
	return nil
}

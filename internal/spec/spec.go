// Package spec encodes the persisted description of a database object.
package spec

import (
	"errors"
	"fmt"

	"github.com/viant/bintly"
)

const version = 1

// NumHookEvents is the number of hook slots per object.
const NumHookEvents = 5

// ErrMalformed is returned when a spec record cannot be decoded.
var ErrMalformed = errors.New("malformed spec record")

// HookKind distinguishes persisted hook variants.
type HookKind uint8

const (
	HookIndex HookKind = 1
	HookProc  HookKind = 2
)

// Hook is the persisted form of one hook chain entry.
type Hook struct {
	Kind    HookKind
	Target  uint32 // index column id or proc id
	Section uint32
	Data    []byte
}

// Spec is the persisted description of one object.
type Spec struct {
	Kind         uint8
	Flags        uint32
	Domain       uint32
	Range        uint32
	Name         string
	Path         string
	ValueSize    int
	Sources      []uint32
	Hooks        [NumHookEvents][]Hook
	Tokenizer    uint32
	Normalizer   uint32
	TokenFilters []uint32
}

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

// Encode serializes s.
func Encode(s *Spec) []byte {
	w := writers.Get()
	defer writers.Put(w)

	w.Int16(version)
	w.Int16(int16(s.Kind))
	w.Int(int(s.Flags))
	w.Int(int(s.Domain))
	w.Int(int(s.Range))
	w.String(s.Name)
	w.String(s.Path)
	w.Int(s.ValueSize)
	writeIDs(w, s.Sources)

	for _, chain := range s.Hooks {
		w.Int(len(chain))
		for _, h := range chain {
			w.Int16(int16(h.Kind))
			w.Int(int(h.Target))
			w.Int(int(h.Section))
			w.String(string(h.Data))
		}
	}

	w.Int(int(s.Tokenizer))
	w.Int(int(s.Normalizer))
	writeIDs(w, s.TokenFilters)

	bs := w.Bytes()
	out := make([]byte, len(bs))
	copy(out, bs)
	return out
}

func writeIDs(w *bintly.Writer, ids []uint32) {
	w.Int(len(ids))
	for _, id := range ids {
		w.Int(int(id))
	}
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (s *Spec, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	r := readers.Get()
	defer readers.Put(r)

	if err := r.FromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			s, err = nil, fmt.Errorf("%w: %v", ErrMalformed, p)
		}
	}()

	var v int16
	r.Int16(&v)
	if v != version {
		return nil, fmt.Errorf("%w: version %d", ErrMalformed, v)
	}

	s = &Spec{}

	var kind int16
	r.Int16(&kind)
	s.Kind = uint8(kind)

	s.Flags = readUint32(r)
	s.Domain = readUint32(r)
	s.Range = readUint32(r)
	r.String(&s.Name)
	r.String(&s.Path)
	r.Int(&s.ValueSize)

	if s.Sources, err = readIDs(r); err != nil {
		return nil, err
	}

	for i := range s.Hooks {
		n, err := readLen(r)
		if err != nil {
			return nil, err
		}
		for j := 0; j < n; j++ {
			var hk int16
			r.Int16(&hk)
			h := Hook{Kind: HookKind(hk)}
			h.Target = readUint32(r)
			h.Section = readUint32(r)
			var data string
			r.String(&data)
			if data != "" {
				h.Data = []byte(data)
			}
			if h.Kind != HookIndex && h.Kind != HookProc {
				return nil, fmt.Errorf("%w: hook kind %d", ErrMalformed, hk)
			}
			s.Hooks[i] = append(s.Hooks[i], h)
		}
	}

	s.Tokenizer = readUint32(r)
	s.Normalizer = readUint32(r)
	if s.TokenFilters, err = readIDs(r); err != nil {
		return nil, err
	}

	return s, nil
}

func readUint32(r *bintly.Reader) uint32 {
	var v int
	r.Int(&v)
	return uint32(v)
}

func readLen(r *bintly.Reader) (int, error) {
	var n int
	r.Int(&n)
	if n < 0 || n > 1<<20 {
		return 0, fmt.Errorf("%w: length %d", ErrMalformed, n)
	}
	return n, nil
}

func readIDs(r *bintly.Reader) ([]uint32, error) {
	n, err := readLen(r)
	if err != nil || n == 0 {
		return nil, err
	}

	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = readUint32(r)
	}
	return ids, nil
}

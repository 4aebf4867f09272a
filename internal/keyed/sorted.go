package keyed

import (
	"bytes"
	"fmt"
	"slices"
)

// sorted keeps ids ordered by key for range and prefix scans.
type sorted struct {
	store
	order []uint32
}

func newSorted(valueSize int) sorted {
	return sorted{store: newStore(valueSize)}
}

func (t *sorted) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(t.order, key, func(id uint32, k []byte) int {
		return bytes.Compare(t.keys[id], k)
	})
}

func (t *sorted) Add(key []byte) (uint32, bool, error) {
	if err := checkKey(key); err != nil {
		return 0, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.search(key)
	if ok {
		return t.order[pos], false, nil
	}

	id := t.alloc(key)
	t.order = slices.Insert(t.order, pos, id)
	return id, true, nil
}

func (t *sorted) Get(key []byte) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.search(key)
	if !ok {
		return 0, false
	}
	return t.order[pos], true
}

func (t *sorted) Delete(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.exists(id) {
		return false
	}

	if pos, ok := t.search(t.keys[id]); ok {
		t.order = slices.Delete(t.order, pos, pos+1)
	}
	t.release(id)
	return true
}

func (t *sorted) Cursor(opts CursorOptions) ([]uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if opts.ByID {
		return opts.window(t.liveIDs(&opts)), nil
	}

	lower := opts.Min
	if opts.Prefix != nil && bytes.Compare(opts.Prefix, lower) > 0 {
		lower = opts.Prefix
	}

	start := 0
	if lower != nil {
		start, _ = t.search(lower)
	}

	ids := make([]uint32, 0)
	for _, id := range t.order[start:] {
		key := t.keys[id]
		if opts.Max != nil && bytes.Compare(key, opts.Max) > 0 {
			break
		}
		if opts.Prefix != nil && !bytes.HasPrefix(key, opts.Prefix) {
			break
		}
		if opts.match(key) {
			ids = append(ids, id)
		}
	}
	return opts.window(ids), nil
}

// PrefixSearch returns the ids of all keys that start with prefix, in key
// order.
func (t *sorted) PrefixSearch(prefix []byte) []uint32 {
	ids, _ := t.Cursor(CursorOptions{Prefix: prefix})
	return ids
}

// LongestPrefixMatch returns the id of the longest stored key that is a
// prefix of query.
func (t *sorted) LongestPrefixMatch(query []byte) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for n := len(query); n > 0; n-- {
		if pos, ok := t.search(query[:n]); ok {
			return t.order[pos], true
		}
	}
	return 0, false
}

func (t *sorted) Truncate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reset()
	t.order = nil
}

func (t *sorted) rebuild() {
	t.order = make([]uint32, 0, t.n)
	for i, ok := t.live.NextSet(1); ok; i, ok = t.live.NextSet(i + 1) {
		t.order = append(t.order, uint32(i))
	}
	slices.SortFunc(t.order, func(a, b uint32) int { return bytes.Compare(t.keys[a], t.keys[b]) })
}

// Pat is a sorted-key engine with an optional value slot.
type Pat struct {
	sorted
}

func (p *Pat) Kind() Kind { return KindPat }

func (p *Pat) MarshalBinary() ([]byte, error) {
	return p.marshal(KindPat)
}

func (p *Pat) UnmarshalBinary(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.unmarshal(KindPat, data); err != nil {
		return err
	}
	p.rebuild()
	return nil
}

// Dat is a sorted-key engine without a value slot that supports in-place
// key updates.
type Dat struct {
	sorted
}

func (d *Dat) Kind() Kind { return KindDat }

// UpdateKey replaces the key of id, keeping the id.
func (d *Dat) UpdateKey(id uint32, key []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.exists(id) {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if _, ok := d.search(key); ok {
		return fmt.Errorf("%w: %q", ErrExists, key)
	}

	if pos, ok := d.search(d.keys[id]); ok {
		d.order = slices.Delete(d.order, pos, pos+1)
	}
	d.keys[id] = bytes.Clone(key)

	pos, _ := d.search(key)
	d.order = slices.Insert(d.order, pos, id)
	return nil
}

func (d *Dat) MarshalBinary() ([]byte, error) {
	return d.marshal(KindDat)
}

func (d *Dat) UnmarshalBinary(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.unmarshal(KindDat, data); err != nil {
		return err
	}
	d.rebuild()
	return nil
}

package keyed

import (
	"bytes"
	"slices"

	"github.com/hupe1980/colgo/internal/hash"
)

// Hash is an unordered engine with O(1) key lookup.
type Hash struct {
	store
	buckets map[uint64][]uint32
}

func newHash(valueSize int) *Hash {
	return &Hash{
		store:   newStore(valueSize),
		buckets: make(map[uint64][]uint32),
	}
}

func (h *Hash) Kind() Kind { return KindHash }

func (h *Hash) lookup(key []byte) (uint32, uint64, bool) {
	sum := hash.Key64(key)
	for _, id := range h.buckets[sum] {
		if bytes.Equal(h.keys[id], key) {
			return id, sum, true
		}
	}
	return 0, sum, false
}

func (h *Hash) Add(key []byte) (uint32, bool, error) {
	if err := checkKey(key); err != nil {
		return 0, false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id, sum, ok := h.lookup(key)
	if ok {
		return id, false, nil
	}

	id = h.alloc(key)
	h.buckets[sum] = append(h.buckets[sum], id)
	return id, true, nil
}

func (h *Hash) Get(key []byte) (uint32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	id, _, ok := h.lookup(key)
	return id, ok
}

func (h *Hash) Delete(id uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.exists(id) {
		return false
	}

	sum := hash.Key64(h.keys[id])
	bucket := slices.DeleteFunc(h.buckets[sum], func(v uint32) bool { return v == id })
	if len(bucket) == 0 {
		delete(h.buckets, sum)
	} else {
		h.buckets[sum] = bucket
	}

	h.release(id)
	return true
}

// Cursor iterates in id order unless a key order is requested, in which
// case matching keys are sorted on the fly.
func (h *Hash) Cursor(opts CursorOptions) ([]uint32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.liveIDs(&opts)
	if !opts.ByID {
		slices.SortFunc(ids, func(a, b uint32) int { return bytes.Compare(h.keys[a], h.keys[b]) })
	}
	return opts.window(ids), nil
}

func (h *Hash) Truncate() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reset()
	h.buckets = make(map[uint64][]uint32)
}

func (h *Hash) MarshalBinary() ([]byte, error) {
	return h.marshal(KindHash)
}

func (h *Hash) UnmarshalBinary(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.unmarshal(KindHash, data); err != nil {
		return err
	}

	h.buckets = make(map[uint64][]uint32, h.n)
	for i, ok := h.live.NextSet(1); ok; i, ok = h.live.NextSet(i + 1) {
		sum := hash.Key64(h.keys[i])
		h.buckets[sum] = append(h.buckets[sum], uint32(i))
	}
	return nil
}

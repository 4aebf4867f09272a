package keyed

import "fmt"

// Array is a key-less engine: rows are identified by id only.
type Array struct {
	store
}

func (a *Array) Kind() Kind { return KindArray }

// Add appends a row. The key must be empty.
func (a *Array) Add(key []byte) (uint32, bool, error) {
	if len(key) != 0 {
		return 0, false, fmt.Errorf("%w: array tables have no key", ErrInvalidKey)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.alloc(nil), true, nil
}

func (a *Array) Get([]byte) (uint32, bool) { return 0, false }

func (a *Array) Key(uint32) ([]byte, bool) { return nil, false }

func (a *Array) Delete(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.exists(id) {
		return false
	}
	a.release(id)
	return true
}

func (a *Array) Cursor(opts CursorOptions) ([]uint32, error) {
	if opts.hasKeyFilter() {
		return nil, fmt.Errorf("%w: key range on array table", ErrUnsupported)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	return opts.window(a.liveIDs(&opts)), nil
}

func (a *Array) Truncate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *Array) MarshalBinary() ([]byte, error) {
	return a.marshal(KindArray)
}

func (a *Array) UnmarshalBinary(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unmarshal(KindArray, data)
}

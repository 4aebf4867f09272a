package colgo

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/colgo/internal/resource"
)

const (
	slotPageBits = 12
	slotPageSize = 1 << slotPageBits
	slotPageMask = slotPageSize - 1
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotMaterializing
	slotReady
)

// holder boxes an Object so that it can live behind an atomic pointer.
type holder struct {
	obj Object
}

// slot is the registry entry for one id. ready is read without locking;
// everything else is guarded by mu.
type slot struct {
	ready atomic.Pointer[holder]

	mu     sync.Mutex
	state  slotState
	gen    uint32
	trials atomic.Uint32
	done   chan struct{}
}

type slotPage struct {
	slots [slotPageSize]slot
}

var slotPageBytes = int64(unsafe.Sizeof(slotPage{}))

// slotArena is a paged array of slots indexed by id. Pages are allocated on
// demand and never freed while the database is open.
type slotArena struct {
	mu    sync.Mutex // Protects pages slice growth
	pages atomic.Pointer[[]*slotPage]
	res   *resource.Controller
}

func newSlotArena(res *resource.Controller) *slotArena {
	a := &slotArena{res: res}
	p := make([]*slotPage, 0, 16)
	a.pages.Store(&p)
	return a
}

// lookup returns the slot of id, or nil when its page does not exist yet.
func (a *slotArena) lookup(id ID) *slot {
	pageIdx := int(id >> slotPageBits)
	pages := *a.pages.Load()
	if pageIdx >= len(pages) {
		return nil
	}
	return &pages[pageIdx].slots[int(id)&slotPageMask]
}

// ensure returns the slot of id, growing the arena when needed.
func (a *slotArena) ensure(id ID) (*slot, error) {
	if s := a.lookup(id); s != nil {
		return s, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pageIdx := int(id >> slotPageBits)
	pages := *a.pages.Load()
	if pageIdx < len(pages) {
		return &pages[pageIdx].slots[int(id)&slotPageMask], nil
	}

	missing := int64(pageIdx + 1 - len(pages))
	if err := a.res.AcquireMemory(missing * slotPageBytes); err != nil {
		return nil, err
	}

	next := make([]*slotPage, pageIdx+1, max(2*len(pages), pageIdx+1))
	copy(next, pages)
	for i := len(pages); i <= pageIdx; i++ {
		next[i] = &slotPage{}
	}
	a.pages.Store(&next)

	return &next[pageIdx].slots[int(id)&slotPageMask], nil
}

// each calls fn for every Ready slot.
func (a *slotArena) each(fn func(id ID, obj Object)) {
	pages := *a.pages.Load()
	for p, page := range pages {
		for i := range page.slots {
			if h := page.slots[i].ready.Load(); h != nil {
				fn(ID(p<<slotPageBits|i), h.obj)
			}
		}
	}
}

func (a *slotArena) release() {
	pages := *a.pages.Load()
	a.res.ReleaseMemory(int64(len(pages)) * slotPageBytes)
	empty := make([]*slotPage, 0)
	a.pages.Store(&empty)
}

// install makes obj the Ready object of s.
func (s *slot) install(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready.Store(&holder{obj: obj})
	s.state = slotReady
}

// free empties s and bumps its generation so that outstanding Refs stop
// resolving.
func (s *slot) free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready.Store(nil)
	s.state = slotEmpty
	s.gen++
}

func (s *slot) generation() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

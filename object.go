package colgo

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/colgo/internal/spec"
)

// object holds what every materialized object shares: its id, its spec
// record and its I/O lock.
type object struct {
	db      *Database
	id      ID
	temp    bool
	builtin bool

	mu sync.RWMutex
	sp *spec.Spec

	io ioLock
}

func (o *object) init(db *Database, id ID, sp *spec.Spec) {
	o.db = db
	o.id = id
	o.sp = sp
	o.temp = id.IsTemporary()
	if !o.temp && db != nil {
		o.io.init(db.opts.lockTimeout)
	}
}

func (o *object) base() *object { return o }

// ID returns the object id.
func (o *object) ID() ID { return o.id }

// Name returns the object name. Temporary objects have no name.
func (o *object) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sp.Name
}

// Header returns the object header.
func (o *object) Header() Header {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Header{
		Kind:   Kind(o.sp.Kind),
		Flags:  Flags(o.sp.Flags),
		Domain: ID(o.sp.Domain),
		Range:  ID(o.sp.Range),
	}
}

func (o *object) flags() Flags {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Flags(o.sp.Flags)
}

// Path returns the engine file of the object, or "" when it has none.
func (o *object) Path() string {
	if o.temp || o.builtin || o.db == nil {
		return ""
	}
	return o.db.objectPath(o.id)
}

// Hooks returns a copy of the hook chain for ev.
func (o *object) Hooks(ev HookEvent) []Hook {
	if ev >= numHookEvents {
		return nil
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	hooks := make([]Hook, 0, len(o.sp.Hooks[ev]))
	for _, h := range o.sp.Hooks[ev] {
		if hk, err := hookFromSpec(h); err == nil {
			hooks = append(hooks, hk)
		}
	}
	return hooks
}

// AddHook inserts h into the chain for ev at pos. A negative or too large
// pos appends.
func (o *object) AddHook(ev HookEvent, pos int, h Hook) error {
	if ev >= numHookEvents || h == nil {
		return fmt.Errorf("%w: hook event %d", ErrInvalidArgument, ev)
	}

	o.db.ddl.Lock()
	defer o.db.ddl.Unlock()

	return o.updateSpec(func(sp *spec.Spec) {
		chain := sp.Hooks[ev]
		if pos < 0 || pos > len(chain) {
			pos = len(chain)
		}
		sp.Hooks[ev] = slices.Insert(chain, pos, h.spec())
	})
}

// DeleteHook removes the entry at pos from the chain for ev. Later entries
// move up.
func (o *object) DeleteHook(ev HookEvent, pos int) error {
	if ev >= numHookEvents {
		return fmt.Errorf("%w: hook event %d", ErrInvalidArgument, ev)
	}

	o.db.ddl.Lock()
	defer o.db.ddl.Unlock()

	o.mu.RLock()
	n := len(o.sp.Hooks[ev])
	o.mu.RUnlock()
	if pos < 0 || pos >= n {
		return fmt.Errorf("%w: hook position %d", ErrInvalidArgument, pos)
	}

	return o.updateSpec(func(sp *spec.Spec) {
		sp.Hooks[ev] = slices.Delete(sp.Hooks[ev], pos, pos+1)
	})
}

// specCopy returns a deep copy of the current spec.
func (o *object) specCopy() *spec.Spec {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cloneSpec(o.sp)
}

// updateSpec applies fn to a copy of the spec, persists it and installs it.
// The caller holds db.ddl.
func (o *object) updateSpec(fn func(sp *spec.Spec)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := cloneSpec(o.sp)
	fn(next)

	if !o.temp && !o.builtin {
		if !o.db.owns(o) {
			return fmt.Errorf("%w: object %d was removed", ErrNotFound, o.id)
		}
		if err := o.db.specs.Put(uint32(o.id), spec.Encode(next)); err != nil {
			return fmt.Errorf("persist spec %d: %w", o.id, err)
		}
	}

	o.sp = next
	return nil
}

func cloneSpec(sp *spec.Spec) *spec.Spec {
	c := *sp
	c.Sources = slices.Clone(sp.Sources)
	c.TokenFilters = slices.Clone(sp.TokenFilters)
	for ev := range sp.Hooks {
		if sp.Hooks[ev] == nil {
			continue
		}
		c.Hooks[ev] = make([]spec.Hook, len(sp.Hooks[ev]))
		for i, h := range sp.Hooks[ev] {
			h.Data = slices.Clone(h.Data)
			c.Hooks[ev][i] = h
		}
	}
	return &c
}

package colgo

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/colgo/internal/spec"
)

// Resolve returns the object with the given id, materializing it from its
// spec record on first access. An id without a record resolves to nil
// without error. A record that cannot be decoded returns an error wrapping
// ErrNeedsRepair and leaves the id retryable.
//
// When another caller is materializing the same id, Resolve waits for it a
// bounded number of times and then returns nil without error.
func (db *Database) Resolve(id ID) (Object, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	switch {
	case id == NilID:
		return nil, nil
	case id.IsTemporary():
		db.tempMu.RLock()
		defer db.tempMu.RUnlock()
		return db.temps[id], nil
	case id < FirstUserID:
		return db.builtins[id], nil
	}

	s := db.slots.lookup(id)
	if s != nil {
		if h := s.ready.Load(); h != nil {
			return h.obj, nil
		}
	}
	if !db.specs.Has(uint32(id)) {
		// absent ids must not grow the arena
		return nil, nil
	}
	if s == nil {
		var err error
		if s, err = db.slots.ensure(id); err != nil {
			return nil, translateError(err)
		}
	}

	return db.materialize(id, s)
}

// At is Resolve for callers that treat every failure as absence.
func (db *Database) At(id ID) Object {
	obj, err := db.Resolve(id)
	if err != nil {
		return nil
	}
	return obj
}

// Lookup resolves an object by name. Column names have the form
// "table.column".
func (db *Database) Lookup(name string) (Object, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	id, ok := db.names.Get([]byte(name))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	obj, err := db.Resolve(ID(id))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %q has no spec record", ErrNotFound, name)
	}
	return obj, nil
}

// Ref returns a generation-checked reference to obj.
func (db *Database) Ref(obj Object) Ref {
	id := obj.ID()
	if id < FirstUserID || id.IsTemporary() {
		return Ref{ID: id}
	}
	s := db.slots.lookup(id)
	if s == nil {
		return Ref{ID: id}
	}
	return Ref{ID: id, Gen: s.generation()}
}

// Deref resolves ref. It returns nil once the referenced object has been
// removed, even if its id was reused.
func (db *Database) Deref(ref Ref) (Object, error) {
	if ref.ID >= FirstUserID && !ref.ID.IsTemporary() {
		s := db.slots.lookup(ref.ID)
		if s == nil || s.generation() != ref.Gen {
			return nil, nil
		}
	}
	return db.Resolve(ref.ID)
}

func (db *Database) materialize(id ID, s *slot) (Object, error) {
	ctx := context.Background()

	for attempt := 0; ; attempt++ {
		s.mu.Lock()
		switch s.state {
		case slotReady:
			h := s.ready.Load()
			s.mu.Unlock()
			return h.obj, nil

		case slotEmpty:
			s.state = slotMaterializing
			done := make(chan struct{})
			s.done = done
			s.trials.Add(1)
			s.mu.Unlock()

			start := time.Now()
			obj, err := db.build(id)

			s.mu.Lock()
			if err != nil || obj == nil {
				s.state = slotEmpty
			} else {
				s.ready.Store(&holder{obj: obj})
				s.state = slotReady
			}
			s.done = nil
			close(done)
			s.mu.Unlock()

			if obj != nil || err != nil {
				kind := Kind(0)
				if obj != nil {
					kind = obj.Header().Kind
				}
				db.logger.LogMaterialize(ctx, id, kind, time.Since(start), err)
				db.metrics.RecordMaterialize(kind, time.Since(start), err)
			}
			if err != nil {
				return nil, err
			}
			return obj, nil

		case slotMaterializing:
			done := s.done
			trials := s.trials.Add(1)
			s.mu.Unlock()

			if attempt >= db.opts.materializeRetries {
				db.logger.LogMaterializeTimeout(ctx, id, trials)
				return nil, nil
			}

			timer := time.NewTimer(db.opts.materializeWait)
			select {
			case <-done:
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// build constructs the object described by id's spec record.
func (db *Database) build(id ID) (Object, error) {
	payload, ok, err := db.specs.Get(uint32(id))
	if err != nil {
		return nil, fmt.Errorf("%w: read spec %d: %w", ErrNeedsRepair, id, err)
	}
	if !ok {
		return nil, nil
	}

	sp, err := spec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: spec %d: %w", ErrNeedsRepair, id, err)
	}

	switch kind := Kind(sp.Kind); {
	case kind == KindType:
		t := &Type{size: sp.ValueSize}
		t.init(db, id, sp)
		return t, nil
	case kind == KindProc:
		return db.openProc(id, sp)
	case kind.IsTable():
		return db.openTable(id, sp)
	case kind.IsColumn():
		return db.openColumn(id, sp)
	default:
		return nil, fmt.Errorf("%w: spec %d has unknown kind %d", ErrNeedsRepair, id, sp.Kind)
	}
}

package colgo

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/colgo/internal/spec"
)

// Hook is an entry of a hook chain: an IndexHook or a ProcHook.
type Hook interface {
	spec() spec.Hook
}

// IndexHook propagates a mutation into an index column. Section is the
// 1-based position of the hooked source in the index's source list.
type IndexHook struct {
	Target  ID
	Section uint32
}

func (h IndexHook) spec() spec.Hook {
	return spec.Hook{Kind: spec.HookIndex, Target: uint32(h.Target), Section: h.Section}
}

// ProcHook invokes a procedure of kind ProcFunction with Data attached.
type ProcHook struct {
	Proc ID
	Data []byte
}

func (h ProcHook) spec() spec.Hook {
	return spec.Hook{Kind: spec.HookProc, Target: uint32(h.Proc), Data: slices.Clone(h.Data)}
}

func hookFromSpec(h spec.Hook) (Hook, error) {
	switch h.Kind {
	case spec.HookIndex:
		return IndexHook{Target: ID(h.Target), Section: h.Section}, nil
	case spec.HookProc:
		return ProcHook{Proc: ID(h.Target), Data: slices.Clone(h.Data)}, nil
	default:
		return nil, fmt.Errorf("%w: hook kind %d", ErrNeedsRepair, h.Kind)
	}
}

// HookContext is passed to procedures run from a ProcHook.
type HookContext struct {
	DB     *Database
	Object Object
	Event  HookEvent
	ID     ID
	// Old and New are the encoded values before and after the mutation.
	Old  []byte
	New  []byte
	Data []byte
}

// fire runs the chain for ev in order. The first failing entry aborts the
// rest of the chain.
func (o *object) fire(self Object, ev HookEvent, id ID, oldv, newv []byte) error {
	o.mu.RLock()
	chain := slices.Clone(o.sp.Hooks[ev])
	o.mu.RUnlock()

	for pos, h := range chain {
		if err := o.db.runHook(self, ev, h, id, oldv, newv); err != nil {
			herr := &HookError{Object: o.id, Event: ev, Position: pos, Err: err}
			o.db.logger.LogHookFailure(context.Background(), herr)
			o.db.metrics.RecordHookFailure(ev)
			return herr
		}
	}
	return nil
}

func (db *Database) runHook(src Object, ev HookEvent, h spec.Hook, id ID, oldv, newv []byte) error {
	switch h.Kind {
	case spec.HookIndex:
		target, err := db.Resolve(ID(h.Target))
		if err != nil {
			return err
		}
		col, ok := target.(*Column)
		if !ok || col.index == nil {
			return fmt.Errorf("%w: hook target %d is not an index column", ErrNeedsRepair, h.Target)
		}
		return col.updateIndex(src, h.Section, id, oldv, newv)

	case spec.HookProc:
		target, err := db.Resolve(ID(h.Target))
		if err != nil {
			return err
		}
		p, ok := target.(*Proc)
		if !ok || p.fn == nil {
			return fmt.Errorf("%w: hook target %d is not a function", ErrNeedsRepair, h.Target)
		}
		return p.fn(&HookContext{
			DB:     db,
			Object: src,
			Event:  ev,
			ID:     id,
			Old:    oldv,
			New:    newv,
			Data:   h.Data,
		})

	default:
		return fmt.Errorf("%w: hook kind %d", ErrNeedsRepair, h.Kind)
	}
}

// detachIndexHooks removes every IndexHook pointing at target from all of
// o's chains. The caller holds db.ddl.
func (o *object) detachIndexHooks(target ID) error {
	o.mu.RLock()
	found := false
	for ev := range o.sp.Hooks {
		for _, h := range o.sp.Hooks[ev] {
			if h.Kind == spec.HookIndex && ID(h.Target) == target {
				found = true
			}
		}
	}
	o.mu.RUnlock()
	if !found {
		return nil
	}

	return o.updateSpec(func(sp *spec.Spec) {
		for ev := range sp.Hooks {
			sp.Hooks[ev] = slices.DeleteFunc(sp.Hooks[ev], func(h spec.Hook) bool {
				return h.Kind == spec.HookIndex && ID(h.Target) == target
			})
		}
	})
}

// indexTargets returns the ids of index columns hooked on o.
func (o *object) indexTargets() []ID {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var ids []ID
	for ev := range o.sp.Hooks {
		for _, h := range o.sp.Hooks[ev] {
			if h.Kind == spec.HookIndex && !slices.Contains(ids, ID(h.Target)) {
				ids = append(ids, ID(h.Target))
			}
		}
	}
	return ids
}

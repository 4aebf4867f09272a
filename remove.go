package colgo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/spec"
)

// Remove deletes obj and its storage.
//
// A table is removed together with its columns, but only when no other
// object refers to it: no table keyed by it, no column of another table
// whose values are its records, and no index column indexing it. A data
// column cannot be removed while an index column uses it as a source; an
// index column detaches from its sources first. Types and procedures are
// removable once unused. Nothing is changed when the removal is refused;
// the returned *ReferenceError names the blocking object.
//
// Finding referrers scans every spec record, so Remove is linear in the
// number of objects.
func (db *Database) Remove(obj Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrInvalidArgument)
	}

	start := time.Now()
	id, name := obj.ID(), obj.Name()
	err := db.remove(obj)
	db.metrics.RecordRemove(time.Since(start), err)
	db.logger.LogRemove(context.Background(), id, name, err)
	return err
}

// RemoveDependent removes obj after first removing every object that
// blocks its removal, recursively.
func (db *Database) RemoveDependent(obj Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrInvalidArgument)
	}

	for range db.specs.Len() + 1 {
		err := db.Remove(obj)

		var rerr *ReferenceError
		if !errors.As(err, &rerr) {
			return err
		}
		blocker, rerr2 := db.Resolve(rerr.BlockedBy)
		if rerr2 != nil {
			return rerr2
		}
		if blocker == nil {
			return err
		}
		if err := db.RemoveDependent(blocker); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: dependency chain of %q does not shrink", ErrReferenced, obj.Name())
}

func (db *Database) remove(obj Object) error {
	if db.closed.Load() {
		return ErrClosed
	}

	o := obj.base()
	if o.builtin {
		return fmt.Errorf("%w: %q is built in", ErrInvalidArgument, o.Name())
	}
	if o.temp {
		if t, ok := obj.(*Table); ok {
			t.Close()
		}
		return nil
	}

	db.ddl.Lock()
	defer db.ddl.Unlock()

	if !db.owns(o) || !db.specs.Has(uint32(o.id)) {
		return fmt.Errorf("%w: object %d", ErrNotFound, o.id)
	}

	switch x := obj.(type) {
	case *Table:
		return db.removeTable(x)
	case *Column:
		if err := db.checkReferrers(x); err != nil {
			return err
		}
		return db.dropColumn(x)
	default:
		if err := db.checkReferrers(obj); err != nil {
			return err
		}
		return db.erase(obj)
	}
}

func (db *Database) removeTable(t *Table) error {
	if err := db.checkReferrers(t); err != nil {
		return err
	}

	cols, err := t.Columns()
	if err != nil {
		return err
	}

	// Index columns go first so that data columns have no hooks left.
	slices.SortStableFunc(cols, func(a, b *Column) int {
		switch {
		case a.index != nil && b.index == nil:
			return -1
		case a.index == nil && b.index != nil:
			return 1
		}
		return 0
	})
	for _, c := range cols {
		if err := db.dropColumn(c); err != nil {
			return err
		}
	}

	for _, target := range t.indexTargets() {
		if err := t.detachIndexHooks(target); err != nil {
			return err
		}
	}
	return db.erase(t)
}

func (db *Database) dropColumn(c *Column) error {
	if c.index != nil {
		for _, sid := range c.Sources() {
			if src := db.At(sid); src != nil {
				if err := src.base().detachIndexHooks(c.id); err != nil {
					return err
				}
			}
		}
	} else if targets := c.indexTargets(); len(targets) > 0 {
		return db.referenceError(c, targets[0])
	}
	return db.erase(c)
}

// checkReferrers scans all spec records for objects that refer to obj.
// Objects owned by obj do not count.
func (db *Database) checkReferrers(obj Object) error {
	target := uint32(obj.ID())

	for _, id := range db.specs.IDs() {
		if id == target {
			continue
		}
		payload, ok, err := db.specs.Get(id)
		if err != nil {
			return translateError(err)
		}
		if !ok {
			continue
		}
		sp, err := spec.Decode(payload)
		if err != nil {
			return fmt.Errorf("%w: spec %d: %w", ErrNeedsRepair, id, err)
		}
		if refersTo(sp, target) {
			return db.referenceError(obj, ID(id))
		}
	}
	return nil
}

func refersTo(sp *spec.Spec, target uint32) bool {
	owned := Kind(sp.Kind).IsColumn() && sp.Domain == target
	if owned {
		return false
	}
	if sp.Domain == target || sp.Range == target {
		return true
	}
	if slices.Contains(sp.Sources, target) || slices.Contains(sp.TokenFilters, target) {
		return true
	}
	if sp.Tokenizer == target || sp.Normalizer == target {
		return true
	}
	for _, chain := range sp.Hooks {
		for _, h := range chain {
			if h.Kind == spec.HookProc && h.Target == target {
				return true
			}
		}
	}
	return false
}

func (db *Database) referenceError(obj Object, blocker ID) error {
	name := ""
	if payload, ok, err := db.specs.Get(uint32(blocker)); err == nil && ok {
		if sp, err := spec.Decode(payload); err == nil {
			name = sp.Name
		}
	}
	return &ReferenceError{
		Object:        obj.ID(),
		ObjectName:    obj.Name(),
		BlockedBy:     blocker,
		BlockedByName: name,
	}
}

// erase drops the spec record, the slot, the name and the file of obj. The
// caller holds db.ddl.
func (db *Database) erase(obj Object) error {
	o := obj.base()
	id := uint32(o.id)
	path := o.Path()

	if err := db.specs.Erase(id); err != nil {
		return fmt.Errorf("erase spec %d: %w", id, translateError(err))
	}
	if s := db.slots.lookup(o.id); s != nil {
		s.free()
	}
	o.io.retire()

	db.names.Delete(id)
	if err := db.saveNames(); err != nil {
		db.namesDirty.Store(true)
		db.logger.Warn("names table snapshot failed", "error", err)
	}

	if path != "" {
		switch obj.(type) {
		case *Table, *Column:
			if err := fs.RemoveIfExists(db.fsys, path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
	}
	return nil
}

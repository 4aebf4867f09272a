package colgo

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hupe1980/colgo/internal/colstore"
	"github.com/hupe1980/colgo/internal/invert"
	"github.com/hupe1980/colgo/internal/spec"
)

// Column stores one value per record of its table, or, for index columns,
// the postings of its lexicon's tokens.
type Column struct {
	object
	store colstore.Store
	index *invert.Index
	dirty atomic.Bool
}

func compression(flags Flags) colstore.Compression {
	switch {
	case flags&FlagCompressZstd != 0:
		return colstore.CompressionZstd
	case flags&FlagCompressLZ4 != 0:
		return colstore.CompressionLZ4
	default:
		return colstore.CompressionNone
	}
}

func indexDetails(flags Flags) bool {
	return flags&(FlagWithSection|FlagWithPosition|FlagWithWeight) != 0
}

// CreateColumn creates the column "<table>.<name>".
//
// With FlagColumnIndex the column is an index column: t is its lexicon and
// valueType is the table whose records it indexes; sources are attached
// with SetSources. Otherwise valueType is the value type and the column is
// scalar unless FlagColumnVector is set.
func (t *Table) CreateColumn(name string, flags Flags, valueType ID) (*Column, error) {
	if t.temp {
		return nil, fmt.Errorf("%w: temporary tables have no named columns", ErrInvalidArgument)
	}
	if err := validName(name, false); err != nil {
		return nil, err
	}

	db := t.db
	vt, err := db.valueType(valueType)
	if err != nil {
		return nil, err
	}
	if vt.id == NilID {
		return nil, fmt.Errorf("%w: column %q needs a value type", ErrInvalidArgument, name)
	}

	var kind Kind
	switch {
	case flags&FlagColumnIndex != 0:
		if vt.table == nil {
			return nil, fmt.Errorf("%w: index column %q must index a table", ErrInvalidArgument, name)
		}
		if t.isArray() {
			return nil, fmt.Errorf("%w: array tables cannot be lexicons", ErrInvalidArgument)
		}
		kind = KindColumnIndex
		flags &^= FlagColumnScalar | FlagColumnVector
	case flags&FlagColumnVector != 0:
		kind = KindColumnVar
		flags &^= FlagColumnScalar
	default:
		flags |= FlagColumnScalar
		kind = KindColumnFixed
		if vt.variable {
			kind = KindColumnVar
		}
	}
	if kind != KindColumnVar && flags&(FlagCompressZstd|FlagCompressLZ4) != 0 {
		return nil, fmt.Errorf("%w: only variable-size columns are compressed", ErrInvalidArgument)
	}

	sp := &spec.Spec{
		Kind:      uint8(kind),
		Flags:     uint32(flags | FlagPersistent),
		Domain:    uint32(t.id),
		Range:     uint32(valueType),
		Name:      t.Name() + "." + name,
		ValueSize: vt.size,
	}

	c := &Column{}
	var create func(path string) error
	switch kind {
	case KindColumnIndex:
		c.index = invert.New(indexDetails(flags))
		create = func(path string) error { return invert.Save(db.fsys, path, c.index) }
	case KindColumnFixed:
		c.store = colstore.NewFixed(vt.size)
		create = func(path string) error { return colstore.Save(db.fsys, path, c.store) }
	default:
		c.store = colstore.NewVar(compression(flags))
		create = func(path string) error { return colstore.Save(db.fsys, path, c.store) }
	}

	if err := db.createPersistent(c, sp, create); err != nil {
		return nil, err
	}
	return c, nil
}

func (db *Database) openColumn(id ID, sp *spec.Spec) (*Column, error) {
	path := db.objectPath(id)
	flags := Flags(sp.Flags)

	c := &Column{}
	var err error
	switch Kind(sp.Kind) {
	case KindColumnIndex:
		c.index = invert.New(indexDetails(flags))
		err = invert.Load(db.fsys, path, c.index)
	case KindColumnFixed:
		c.store = colstore.NewFixed(sp.ValueSize)
		err = colstore.Load(db.fsys, path, c.store)
	default:
		c.store = colstore.NewVar(compression(flags))
		err = colstore.Load(db.fsys, path, c.store)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: column %q: %w", ErrNeedsRepair, sp.Name, err)
	}

	c.init(db, id, sp)
	return c, nil
}

func (c *Column) flush(ctx context.Context) error {
	if !c.dirty.Swap(false) {
		return nil
	}
	path := c.Path()

	var err error
	if c.index != nil {
		err = invert.Save(c.db.fsys, path, c.index)
	} else {
		err = colstore.Save(c.db.fsys, path, c.store)
	}
	if err != nil {
		c.dirty.Store(true)
		return fmt.Errorf("flush column %q: %w", c.Name(), err)
	}
	return c.db.throttle(ctx, path)
}

// Table returns the table owning c.
func (c *Column) Table() (*Table, error) {
	obj, err := c.db.Resolve(c.Header().Domain)
	if err != nil {
		return nil, err
	}
	t, ok := obj.(*Table)
	if !ok {
		return nil, fmt.Errorf("%w: column %q has no table", ErrNeedsRepair, c.Name())
	}
	return t, nil
}

// IsIndex reports whether c is an index column.
func (c *Column) IsIndex() bool { return c.index != nil }

func (c *Column) isVector() bool { return c.flags()&FlagColumnVector != 0 }

func (c *Column) rangeType() (valueType, error) {
	return c.db.valueType(c.Header().Range)
}

// GetValue returns the stored bytes of id. Get hooks run first.
func (c *Column) GetValue(id ID) ([]byte, error) {
	if c.index != nil {
		return nil, fmt.Errorf("%w: %q is an index column", ErrInvalidArgument, c.Name())
	}
	raw, err := c.store.Get(uint32(id))
	if err != nil {
		return nil, translateError(err)
	}
	if err := c.fire(c, HookGet, id, raw, nil); err != nil {
		return nil, err
	}
	return raw, nil
}

// Value returns the decoded value of id. Vector columns return []any;
// reference columns return record ids of the referenced table.
func (c *Column) Value(id ID) (any, error) {
	raw, err := c.GetValue(id)
	if err != nil {
		return nil, err
	}
	vt, err := c.rangeType()
	if err != nil {
		return nil, err
	}
	if c.isVector() {
		parts, err := decodeVector(vt, raw)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			v, err := decodeElem(vt, p)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return decodeElem(vt, raw)
}

func decodeElem(vt valueType, b []byte) (any, error) {
	if vt.table != nil {
		return decodeID(b), nil
	}
	return decodeScalar(vt, b)
}

func encodeElem(vt valueType, v any) ([]byte, error) {
	if vt.table != nil {
		id, err := vt.table.resolveRecord(v, true)
		if err != nil {
			return nil, err
		}
		return encodeID(id), nil
	}
	return encodeScalar(vt, v)
}

// SetValue writes the value of id. Values are cast to the column's type;
// vector columns take a slice. Values of reference columns are record ids
// or keys, which are added to the referenced table. A nil value clears.
//
// Set hooks run before the write with the old and new encoded values. A
// failing hook aborts the write.
func (c *Column) SetValue(id ID, v any, mode SetMode) error {
	start := time.Now()
	err := c.setValue(id, v, mode)
	c.db.metrics.RecordSetValue(time.Since(start), err)
	return err
}

func (c *Column) setValue(id ID, v any, mode SetMode) error {
	if c.index != nil {
		return fmt.Errorf("%w: %q is an index column", ErrInvalidArgument, c.Name())
	}

	t, err := c.Table()
	if err != nil {
		return err
	}
	if !t.Exists(id) {
		return fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
	}

	vt, err := c.rangeType()
	if err != nil {
		return err
	}

	if mode != SetReplace {
		if c.isVector() || vt.table != nil {
			return fmt.Errorf("%w: increment on %q", ErrInvalidArgument, c.Name())
		}
		return c.setRaw(id, func(old []byte) ([]byte, error) {
			return numericDelta(vt, old, v, mode)
		})
	}

	var enc []byte
	switch {
	case v == nil:
	case c.isVector():
		elems := toSlice(v)
		parts := make([][]byte, 0, len(elems))
		for _, e := range elems {
			b, err := encodeElem(vt, e)
			if err != nil {
				return err
			}
			parts = append(parts, b)
		}
		enc = encodeVector(vt, parts)
	default:
		if enc, err = encodeElem(vt, v); err != nil {
			return err
		}
	}

	return c.setRaw(id, func([]byte) ([]byte, error) { return enc, nil })
}

// setRaw computes the new value from the old one, runs the set hooks and
// writes. The I/O lock is held throughout, so a hook procedure must not
// write to the same column.
func (c *Column) setRaw(id ID, next func(old []byte) ([]byte, error)) error {
	release, err := c.io.acquire()
	if err != nil {
		return err
	}
	defer release()

	old, err := c.store.Get(uint32(id))
	if err != nil {
		return translateError(err)
	}
	newv, err := next(old)
	if err != nil {
		return err
	}

	if err := c.fire(c, HookSet, id, old, newv); err != nil {
		return err
	}

	if newv == nil {
		c.store.Delete(uint32(id))
	} else if err := c.store.Set(uint32(id), newv); err != nil {
		return translateError(err)
	}
	c.dirty.Store(true)
	return nil
}

// clearValue removes the value of id, running set hooks when it had one.
func (c *Column) clearValue(id ID) error {
	old, err := c.store.Get(uint32(id))
	if err != nil {
		return translateError(err)
	}
	if len(old) == 0 {
		return nil
	}
	return c.setRaw(id, func([]byte) ([]byte, error) { return nil, nil })
}

// removeReference drops target from the value of rid.
func (c *Column) removeReference(rid, target ID) error {
	vt, err := c.rangeType()
	if err != nil || vt.table == nil {
		return err
	}

	return c.setRaw(rid, func(old []byte) ([]byte, error) {
		if !c.isVector() {
			if decodeID(old) == target {
				return nil, nil
			}
			return old, nil
		}
		parts, err := decodeVector(vt, old)
		if err != nil {
			return nil, err
		}
		kept := slices.DeleteFunc(parts, func(p []byte) bool { return decodeID(p) == target })
		if len(kept) == 0 {
			return nil, nil
		}
		return encodeVector(vt, kept), nil
	})
}

func (c *Column) truncate() {
	if c.index != nil {
		c.index.Truncate()
	} else {
		c.store.Truncate()
	}
	c.dirty.Store(true)
}

// Rename changes the column name within its table.
func (c *Column) Rename(name string) error {
	if err := validName(name, false); err != nil {
		return err
	}
	t, err := c.Table()
	if err != nil {
		return err
	}
	full := t.Name() + "." + name

	db := c.db
	db.ddl.Lock()
	defer db.ddl.Unlock()

	if _, ok := db.names.Get([]byte(full)); ok {
		return fmt.Errorf("%w: %q", ErrExists, full)
	}
	if err := db.renameObject(&c.object, full); err != nil {
		return err
	}
	if err := db.saveNames(); err != nil {
		db.namesDirty.Store(true)
		return err
	}
	return nil
}

// Copy writes every value of c into dst. Records are matched by id when
// both columns belong to the same table and by key otherwise; missing keys
// are added to dst's table.
func (c *Column) Copy(dst *Column) error {
	if c.index != nil || dst.index != nil {
		return fmt.Errorf("%w: index columns cannot be copied", ErrInvalidArgument)
	}

	src, err := c.Table()
	if err != nil {
		return err
	}
	to, err := dst.Table()
	if err != nil {
		return err
	}

	cur, err := src.Cursor(WithOrderByID())
	if err != nil {
		return err
	}
	defer cur.Close()

	for cur.Next() {
		id := cur.ID()
		target := id
		if to.ID() != src.ID() {
			key, err := src.Key(id)
			if err != nil {
				return err
			}
			if target, _, err = to.Add(key); err != nil {
				return err
			}
		}

		v, err := c.Value(id)
		if err != nil {
			return err
		}
		if err := dst.SetValue(target, v, SetReplace); err != nil {
			return err
		}
	}
	return nil
}

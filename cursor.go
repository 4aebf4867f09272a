package colgo

import (
	"fmt"

	"github.com/hupe1980/colgo/internal/keyed"
)

type cursorOptions struct {
	min, max     any
	minExclusive bool
	maxExclusive bool
	prefix       any
	descending   bool
	byID         bool
	offset       int
	limit        int
}

// CursorOption restricts or orders a table cursor.
type CursorOption func(*cursorOptions)

// WithMin starts the cursor at key.
func WithMin(key any, exclusive bool) CursorOption {
	return func(o *cursorOptions) {
		o.min = key
		o.minExclusive = exclusive
	}
}

// WithMax ends the cursor at key.
func WithMax(key any, exclusive bool) CursorOption {
	return func(o *cursorOptions) {
		o.max = key
		o.maxExclusive = exclusive
	}
}

// WithPrefix keeps records whose text key starts with prefix.
func WithPrefix(prefix string) CursorOption {
	return func(o *cursorOptions) { o.prefix = prefix }
}

// WithDescending reverses the order.
func WithDescending() CursorOption {
	return func(o *cursorOptions) { o.descending = true }
}

// WithOrderByID orders by record id instead of key.
func WithOrderByID() CursorOption {
	return func(o *cursorOptions) { o.byID = true }
}

// WithOffset skips the first n records.
func WithOffset(n int) CursorOption {
	return func(o *cursorOptions) { o.offset = n }
}

// WithLimit returns at most n records.
func WithLimit(n int) CursorOption {
	return func(o *cursorOptions) { o.limit = n }
}

// TableCursor iterates over a snapshot of matching record ids. Records
// deleted after the cursor was opened are skipped.
type TableCursor struct {
	t   *Table
	ids []uint32
	pos int
	cur ID
}

// Cursor opens a cursor. Without options it visits every record in key
// order, or in id order for hash and array tables.
func (t *Table) Cursor(opts ...CursorOption) (*TableCursor, error) {
	var co cursorOptions
	for _, fn := range opts {
		fn(&co)
	}

	ko := keyed.CursorOptions{
		MinExclusive: co.minExclusive,
		MaxExclusive: co.maxExclusive,
		Descending:   co.descending,
		ByID:         co.byID || t.isArray(),
		Offset:       co.offset,
		Limit:        co.limit,
	}

	var err error
	if co.min != nil {
		if ko.Min, err = t.castKey(co.min, false); err != nil {
			return nil, err
		}
	}
	if co.max != nil {
		if ko.Max, err = t.castKey(co.max, false); err != nil {
			return nil, err
		}
	}
	if co.prefix != nil {
		kt, err := t.keyType()
		if err != nil {
			return nil, err
		}
		if !kt.isText() {
			return nil, fmt.Errorf("%w: prefix search needs a text key", ErrInvalidArgument)
		}
		ko.Prefix = []byte(t.normalize(co.prefix.(string)))
	}

	ids, err := t.engine.Cursor(ko)
	if err != nil {
		return nil, translateError(err)
	}
	return &TableCursor{t: t, ids: ids}, nil
}

// Next advances to the next live record.
func (c *TableCursor) Next() bool {
	for c.pos < len(c.ids) {
		id := ID(c.ids[c.pos])
		c.pos++
		if c.t.Exists(id) {
			c.cur = id
			return true
		}
	}
	c.cur = NilID
	return false
}

// ID returns the current record id.
func (c *TableCursor) ID() ID { return c.cur }

// Key returns the current key.
func (c *TableCursor) Key() (any, error) { return c.t.Key(c.cur) }

// Value returns the current value slot.
func (c *TableCursor) Value() (any, error) { return c.t.Value(c.cur) }

// Delete deletes the current record.
func (c *TableCursor) Delete() error { return c.t.DeleteID(c.cur) }

// Close releases the cursor.
func (c *TableCursor) Close() {
	c.ids = nil
	c.cur = NilID
}

// IDs drains the cursor.
func (c *TableCursor) IDs() []ID {
	var ids []ID
	for c.Next() {
		ids = append(ids, c.ID())
	}
	return ids
}

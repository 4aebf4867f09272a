package colgo

import (
	"fmt"
	"strconv"
	"strings"
)

type stepKind uint8

const (
	stepID stepKind = iota
	stepKey
	stepValue
	stepScore
	stepNSubrecs
	stepColumn
)

type accessStep struct {
	kind  stepKind
	table *Table
	col   *Column
	elem  int
}

// Accessor reads and writes values through a path of steps starting at a
// table. Steps are separated by dots: _id, _key, _value, _score,
// _nsubrecs or a column name, optionally followed by [n] to select an
// element of a vector column. A step yielding a record of another table
// (a reference key or column) may be followed by steps on that table.
type Accessor struct {
	path  string
	steps []accessStep
}

// Accessor compiles path against table.
func (db *Database) Accessor(table *Table, path string) (*Accessor, error) {
	if table == nil || path == "" {
		return nil, fmt.Errorf("%w: accessor needs a table and a path", ErrInvalidArgument)
	}

	a := &Accessor{path: path}
	cur := table
	parts := strings.Split(path, ".")

	for i, part := range parts {
		if cur == nil {
			return nil, fmt.Errorf("%w: %q: step %q follows a value that is not a record", ErrInvalidArgument, path, part)
		}

		name, elem, err := splitElem(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidArgument, path, err)
		}

		st := accessStep{table: cur, elem: elem}
		var next *Table

		switch name {
		case "_id":
			st.kind = stepID
		case "_key":
			st.kind = stepKey
			kt, err := cur.keyType()
			if err != nil {
				return nil, err
			}
			next = kt.table
		case "_value":
			st.kind = stepValue
			vt, err := cur.db.valueType(cur.Header().Range)
			if err != nil {
				return nil, err
			}
			next = vt.table
		case "_score":
			st.kind = stepScore
		case "_nsubrecs":
			st.kind = stepNSubrecs
		default:
			st.kind = stepColumn
			if st.col, err = cur.Column(name); err != nil {
				return nil, err
			}
			if st.col.index != nil {
				return nil, fmt.Errorf("%w: %q: index column %q has no values", ErrInvalidArgument, path, name)
			}
			vt, err := st.col.rangeType()
			if err != nil {
				return nil, err
			}
			if !st.col.isVector() || elem >= 0 {
				next = vt.table
			}
		}

		if elem >= 0 && (st.kind != stepColumn || !st.col.isVector()) {
			return nil, fmt.Errorf("%w: %q: %q is not a vector column", ErrInvalidArgument, path, name)
		}
		if i < len(parts)-1 && next == nil {
			cur = nil
		} else {
			cur = next
		}
		a.steps = append(a.steps, st)
	}
	return a, nil
}

func splitElem(part string) (string, int, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return part, -1, nil
	}
	if !strings.HasSuffix(part, "]") || open == 0 {
		return "", 0, fmt.Errorf("malformed step %q", part)
	}
	n, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("malformed element index in %q", part)
	}
	return part[:open], n, nil
}

// valueType returns the type of the values the path yields.
func (a *Accessor) valueType() ID {
	st := a.steps[len(a.steps)-1]
	switch st.kind {
	case stepID:
		return st.table.id
	case stepKey:
		return st.table.Header().Domain
	case stepValue:
		return st.table.Header().Range
	case stepScore:
		return TypeFloat
	case stepNSubrecs:
		return TypeInt64
	default:
		return st.col.Header().Range
	}
}

// Path returns the path a was compiled from.
func (a *Accessor) Path() string { return a.path }

// Get walks the path from record id. It returns nil when an intermediate
// reference is unset.
func (a *Accessor) Get(id ID) (any, error) {
	var v any = id
	for _, st := range a.steps {
		rid, ok := v.(ID)
		if !ok || rid == NilID {
			return nil, nil
		}

		var err error
		if v, err = st.get(rid); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (st accessStep) get(id ID) (any, error) {
	switch st.kind {
	case stepID:
		if !st.table.Exists(id) {
			return nil, fmt.Errorf("%w: record %d", ErrNotFound, id)
		}
		return id, nil
	case stepKey:
		return st.table.Key(id)
	case stepValue:
		return st.table.Value(id)
	case stepScore:
		return st.table.Score(id)
	case stepNSubrecs:
		return st.table.NSubrecs(id)
	}

	v, err := st.col.Value(id)
	if err != nil || st.elem < 0 {
		return v, err
	}
	elems, _ := v.([]any)
	if st.elem >= len(elems) {
		return nil, nil
	}
	return elems[st.elem], nil
}

// Set writes v through the path. The last step must be a column or
// _value; earlier steps are read to find the record to write.
func (a *Accessor) Set(id ID, v any, mode SetMode) error {
	last := a.steps[len(a.steps)-1]

	var target any = id
	for _, st := range a.steps[:len(a.steps)-1] {
		rid, ok := target.(ID)
		if !ok || rid == NilID {
			return fmt.Errorf("%w: %q: unset reference", ErrNotFound, a.path)
		}
		var err error
		if target, err = st.get(rid); err != nil {
			return err
		}
	}
	rid, ok := target.(ID)
	if !ok || rid == NilID {
		return fmt.Errorf("%w: %q: unset reference", ErrNotFound, a.path)
	}

	switch {
	case last.kind == stepValue:
		return last.table.SetValue(rid, v, mode)
	case last.kind == stepColumn && last.elem < 0:
		return last.col.SetValue(rid, v, mode)
	case last.kind == stepColumn:
		cur, err := last.col.Value(rid)
		if err != nil {
			return err
		}
		elems, _ := cur.([]any)
		if last.elem >= len(elems) {
			return fmt.Errorf("%w: %q: element %d of %d", ErrInvalidArgument, a.path, last.elem, len(elems))
		}
		if mode != SetReplace {
			return fmt.Errorf("%w: %q: vector elements only support replace", ErrInvalidArgument, a.path)
		}
		elems[last.elem] = v
		return last.col.SetValue(rid, elems, SetReplace)
	default:
		return fmt.Errorf("%w: %q is read-only", ErrInvalidArgument, a.path)
	}
}

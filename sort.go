package colgo

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// SortKey orders records by the value an accessor path yields.
type SortKey struct {
	Key        string
	Descending bool
}

// Sort returns a temporary array table whose records hold, in order, the
// ids of the records of t sorted by keys. Ties keep id order. offset and
// limit select a window of the sorted records; a limit of 0 keeps all.
// The caller closes the table.
func (t *Table) Sort(keys []SortKey, offset, limit int) (*Table, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: sort needs at least one key", ErrInvalidArgument)
	}
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative offset or limit", ErrInvalidArgument)
	}

	accs := make([]*Accessor, len(keys))
	for i, k := range keys {
		a, err := t.db.Accessor(t, k.Key)
		if err != nil {
			return nil, err
		}
		accs[i] = a
	}

	cur, err := t.Cursor(WithOrderByID())
	if err != nil {
		return nil, err
	}
	ids := cur.IDs()
	cur.Close()

	type row struct {
		id   ID
		vals []any
	}
	rows := make([]row, len(ids))
	for i, id := range ids {
		rows[i] = row{id: id, vals: make([]any, len(accs))}
		for j, a := range accs {
			if rows[i].vals[j], err = a.Get(id); err != nil {
				return nil, err
			}
		}
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		for j, k := range keys {
			c := compareValues(a.vals[j], b.vals[j])
			if k.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	if offset >= len(rows) {
		rows = nil
	} else {
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	res, err := t.db.CreateTable("", KindTableArray, WithValueType(t.id))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		id, _, err := res.Add(nil)
		if err == nil {
			err = res.SetValue(id, r.id, SetReplace)
		}
		if err != nil {
			res.Close()
			return nil, err
		}
	}
	return res, nil
}

// compareValues orders decoded values. nil sorts first; numbers compare
// numerically across widths.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case ID:
		if y, ok := b.(ID); ok {
			return cmp.Compare(x, y)
		}
	case []any:
		if y, ok := b.([]any); ok {
			for i := range min(len(x), len(y)) {
				if c := compareValues(x[i], y[i]); c != 0 {
					return c
				}
			}
			return cmp.Compare(len(x), len(y))
		}
	}

	fa, errA := cast.ToFloat64E(plain(a))
	fb, errB := cast.ToFloat64E(plain(b))
	if errA == nil && errB == nil {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

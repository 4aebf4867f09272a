package colgo

// Group returns a temporary hash table with one record per distinct value
// of key across the records of t. Each group's sub-record count is the
// number of records with that value; its score is the sum of their scores
// when t is itself a result table. Vector values contribute each element.
// Records whose value is unset are left out. The caller closes the table.
func (t *Table) Group(key string) (*Table, error) {
	a, err := t.db.Accessor(t, key)
	if err != nil {
		return nil, err
	}

	keyType := a.valueType()
	vt, err := t.db.valueType(keyType)
	if err != nil {
		return nil, err
	}
	if vt.isText() {
		keyType = TypeShortText
	}

	res, err := t.db.CreateTable("", KindTableHash, WithKeyType(keyType), WithTableFlags(FlagWithSubrec))
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*Table, error) {
		res.Close()
		return nil, err
	}

	scored := t.flags()&FlagWithSubrec != 0

	cur, err := t.Cursor(WithOrderByID())
	if err != nil {
		return fail(err)
	}
	defer cur.Close()

	for cur.Next() {
		id := cur.ID()
		v, err := a.Get(id)
		if err != nil {
			return fail(err)
		}

		score := 0.0
		if scored {
			if score, err = t.Score(id); err != nil {
				return fail(err)
			}
		}

		values := []any{v}
		if elems, ok := v.([]any); ok {
			values = elems
		}
		for _, gv := range values {
			if gv == nil || gv == NilID {
				continue
			}
			gid, _, err := res.Add(gv)
			if err != nil {
				return fail(err)
			}
			if err := res.accumulate(gid, score, 1); err != nil {
				return fail(err)
			}
		}
	}
	return res, nil
}

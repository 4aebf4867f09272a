package colgo

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTable_Validation(t *testing.T) {
	db, _ := newTestDB(t)

	tests := []struct {
		name string
		kind Kind
		opts []TableOption
		err  error
	}{
		{"", KindColumnFixed, nil, ErrInvalidArgument},
		{"bad name", KindTableHash, nil, ErrInvalidArgument},
		{"_reserved", KindTableHash, nil, ErrInvalidArgument},
		{"arr", KindTableArray, []TableOption{WithKeyType(TypeInt32)}, ErrInvalidArgument},
		{"vals", KindTableHash, []TableOption{WithValueType(TypeText)}, ErrInvalidArgument},
		{"ShortText", KindTableHash, nil, ErrExists},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.kind, tt.name), func(t *testing.T) {
			_, err := db.CreateTable(tt.name, tt.kind, tt.opts...)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	_, err = db.CreateTable("docs", KindTablePat)
	assert.ErrorIs(t, err, ErrExists)
}

func TestTable_AddGetDelete(t *testing.T) {
	for _, kind := range []Kind{KindTableHash, KindTablePat, KindTableDat} {
		t.Run(kind.String(), func(t *testing.T) {
			db, _ := newTestDB(t)

			tbl, err := db.CreateTable("users", kind)
			require.NoError(t, err)

			alice, added, err := tbl.Add("alice")
			require.NoError(t, err)
			assert.True(t, added)

			again, added, err := tbl.Add("alice")
			require.NoError(t, err)
			assert.False(t, added)
			assert.Equal(t, alice, again)

			bob, _, err := tbl.Add("bob")
			require.NoError(t, err)
			assert.NotEqual(t, alice, bob)
			assert.Equal(t, 2, tbl.Size())

			got, err := tbl.Get("bob")
			require.NoError(t, err)
			assert.Equal(t, bob, got)

			key, err := tbl.Key(alice)
			require.NoError(t, err)
			assert.Equal(t, "alice", key)

			require.NoError(t, tbl.Delete("alice"))
			assert.False(t, tbl.Exists(alice))
			assert.Equal(t, 1, tbl.Size())

			_, err = tbl.Get("alice")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, tbl.Delete("alice"), ErrNotFound)
			assert.ErrorIs(t, tbl.DeleteID(alice), ErrNotFound)
		})
	}
}

func TestTable_IntegerKeys(t *testing.T) {
	db, _ := newTestDB(t)

	tbl, err := db.CreateTable("years", KindTablePat, WithKeyType(TypeInt32))
	require.NoError(t, err)

	for _, y := range []int{2003, -5, 1999, 2024} {
		_, _, err := tbl.Add(y)
		require.NoError(t, err)
	}

	// string keys are cast to the key type
	id, err := tbl.Get("1999")
	require.NoError(t, err)
	key, err := tbl.Key(id)
	require.NoError(t, err)
	assert.Equal(t, int32(1999), key)

	cur, err := tbl.Cursor()
	require.NoError(t, err)
	defer cur.Close()

	var keys []any
	for cur.Next() {
		k, err := cur.Key()
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []any{int32(-5), int32(1999), int32(2003), int32(2024)}, keys)

	_, _, err = tbl.Add("not a number")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTable_Cursor(t *testing.T) {
	db, _ := newTestDB(t)

	tbl, err := db.CreateTable("words", KindTablePat)
	require.NoError(t, err)

	ids := map[string]ID{}
	for _, w := range []string{"car", "cart", "cat", "dog", "apple"} {
		id, _, err := tbl.Add(w)
		require.NoError(t, err)
		ids[w] = id
	}

	keysOf := func(opts ...CursorOption) []string {
		cur, err := tbl.Cursor(opts...)
		require.NoError(t, err)
		defer cur.Close()
		var out []string
		for cur.Next() {
			k, err := cur.Key()
			require.NoError(t, err)
			out = append(out, k.(string))
		}
		return out
	}

	assert.Equal(t, []string{"apple", "car", "cart", "cat", "dog"}, keysOf())
	assert.Equal(t, []string{"dog", "cat", "cart", "car", "apple"}, keysOf(WithDescending()))
	assert.Equal(t, []string{"car", "cart", "cat"}, keysOf(WithPrefix("ca")))
	assert.Equal(t, []string{"cart", "cat"}, keysOf(WithMin("car", true), WithMax("cat", false)))
	assert.Equal(t, []string{"car", "cart"}, keysOf(WithOffset(1), WithLimit(2)))

	cur, err := tbl.Cursor(WithOrderByID())
	require.NoError(t, err)
	assert.Equal(t, []ID{ids["car"], ids["cart"], ids["cat"], ids["dog"], ids["apple"]}, cur.IDs())

	// records deleted after the cursor was opened are skipped
	cur, err = tbl.Cursor()
	require.NoError(t, err)
	require.NoError(t, tbl.Delete("car"))
	assert.Len(t, cur.IDs(), 4)
}

func TestTable_CursorDelete(t *testing.T) {
	db, _ := newTestDB(t)

	tbl, err := db.CreateTable("words", KindTableHash)
	require.NoError(t, err)
	for i := range 10 {
		_, _, err := tbl.Add(fmt.Sprintf("w%d", i))
		require.NoError(t, err)
	}

	cur, err := tbl.Cursor()
	require.NoError(t, err)
	for cur.Next() {
		require.NoError(t, cur.Delete())
	}
	cur.Close()
	assert.Equal(t, 0, tbl.Size())
}

func TestTable_Array(t *testing.T) {
	db, _ := newTestDB(t)

	logs, err := db.CreateTable("logs", KindTableArray, WithValueType(TypeInt64))
	require.NoError(t, err)

	a, added, err := logs.Add(nil)
	require.NoError(t, err)
	assert.True(t, added)
	b, _, err := logs.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, a+1, b)

	_, _, err = logs.Add("key")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = logs.Get("key")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = logs.Key(a)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, logs.SetValue(a, 40, SetReplace))
	require.NoError(t, logs.SetValue(a, 2, SetIncrement))
	v, err := logs.Value(a)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	require.NoError(t, logs.DeleteID(a))
	assert.False(t, logs.Exists(a))
	assert.True(t, logs.Exists(b))
}

func TestTable_ValueReference(t *testing.T) {
	db, _ := newTestDB(t)

	users, err := db.CreateTable("users", KindTableHash)
	require.NoError(t, err)
	logins, err := db.CreateTable("logins", KindTableArray, WithValueType(users.ID()))
	require.NoError(t, err)

	id, _, err := logins.Add(nil)
	require.NoError(t, err)

	// unknown keys are added to the referenced table
	require.NoError(t, logins.SetValue(id, "carol", SetReplace))
	carol, err := users.Get("carol")
	require.NoError(t, err)

	v, err := logins.Value(id)
	require.NoError(t, err)
	assert.Equal(t, carol, v)

	assert.ErrorIs(t, logins.SetValue(id, 1, SetIncrement), ErrInvalidArgument)
}

func TestTable_KeyedByTable(t *testing.T) {
	db, _ := newTestDB(t)

	users, err := db.CreateTable("users", KindTableHash)
	require.NoError(t, err)
	profiles, err := db.CreateTable("profiles", KindTableHash, WithKeyType(users.ID()))
	require.NoError(t, err)

	dave, _, err := users.Add("dave")
	require.NoError(t, err)

	pid, _, err := profiles.Add(dave)
	require.NoError(t, err)
	key, err := profiles.Key(pid)
	require.NoError(t, err)
	assert.Equal(t, dave, key)

	// keys missing from the referenced table are added there
	_, _, err = profiles.Add("erin")
	require.NoError(t, err)
	_, err = users.Get("erin")
	require.NoError(t, err)

	_, err = profiles.Get("frank")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTable_Truncate(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	stars, err := docs.CreateColumn("stars", FlagColumnScalar, TypeInt32)
	require.NoError(t, err)

	for i := range 5 {
		id, _, err := docs.Add(fmt.Sprintf("d%d", i))
		require.NoError(t, err)
		require.NoError(t, stars.SetValue(id, i, SetReplace))
	}

	require.NoError(t, docs.Truncate())
	assert.Equal(t, 0, docs.Size())

	id, _, err := docs.Add("fresh")
	require.NoError(t, err)
	v, err := stars.Value(id)
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)
}

func TestTable_Rename(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	body, err := docs.CreateColumn("body", FlagColumnScalar, TypeText)
	require.NoError(t, err)
	_, err = db.CreateTable("other", KindTableHash)
	require.NoError(t, err)

	assert.ErrorIs(t, docs.Rename("other"), ErrExists)

	require.NoError(t, docs.Rename("articles"))
	assert.Equal(t, "articles", docs.Name())
	assert.Equal(t, "articles.body", body.Name())

	_, err = db.Lookup("docs")
	assert.ErrorIs(t, err, ErrNotFound)

	db = reopen(t, db)
	obj, err := db.Lookup("articles.body")
	require.NoError(t, err)
	assert.Equal(t, body.ID(), obj.ID())
}

func TestTable_Subrec(t *testing.T) {
	db, _ := newTestDB(t)

	res, err := db.CreateTable("", KindTableHash, WithTableFlags(FlagWithSubrec))
	require.NoError(t, err)
	defer res.Close()

	id, _, err := res.Add("x")
	require.NoError(t, err)
	require.NoError(t, res.accumulate(id, 1.5, 1))
	require.NoError(t, res.accumulate(id, 2, 3))

	score, err := res.Score(id)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, score, 1e-9)
	n, err := res.NSubrecs(id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	plain, err := db.CreateTable("plain", KindTableHash)
	require.NoError(t, err)
	pid, _, err := plain.Add("x")
	require.NoError(t, err)
	_, err = plain.Score(pid)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestColumn_ScalarTypes(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	id, _, err := docs.Add("d")
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		typ  ID
		in   any
		want any
	}{
		{TypeBool, true, true},
		{TypeInt8, -3, int8(-3)},
		{TypeUInt16, "65535", uint16(65535)},
		{TypeInt64, int64(-1 << 40), int64(-1 << 40)},
		{TypeFloat, 2.5, 2.5},
		{TypeTime, now, now},
		{TypeShortText, "hello", "hello"},
		{TypeLongText, "long text", "long text"},
	}

	for i, tt := range tests {
		col, err := docs.CreateColumn(fmt.Sprintf("c%d", i), FlagColumnScalar, tt.typ)
		require.NoError(t, err)
		require.NoError(t, col.SetValue(id, tt.in, SetReplace))

		got, err := col.Value(id)
		require.NoError(t, err)
		if want, ok := tt.want.(time.Time); ok {
			assert.True(t, want.Equal(got.(time.Time)), "type %d", tt.typ)
			continue
		}
		assert.Equal(t, tt.want, got, "type %d", tt.typ)
	}
}

func TestColumn_Vector(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	tags, err := docs.CreateColumn("tags", FlagColumnVector|FlagCompressZstd, TypeShortText)
	require.NoError(t, err)

	id, _, err := docs.Add("d")
	require.NoError(t, err)
	require.NoError(t, tags.SetValue(id, []string{"go", "db"}, SetReplace))

	v, err := tags.Value(id)
	require.NoError(t, err)
	assert.Equal(t, []any{"go", "db"}, v)

	db = reopen(t, db)
	obj, err := db.Lookup("docs.tags")
	require.NoError(t, err)
	v, err = obj.(*Column).Value(id)
	require.NoError(t, err)
	assert.Equal(t, []any{"go", "db"}, v)
}

func TestColumn_Copy(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	src, err := docs.CreateColumn("a", FlagColumnScalar, TypeInt32)
	require.NoError(t, err)
	dst, err := docs.CreateColumn("b", FlagColumnScalar, TypeInt32)
	require.NoError(t, err)

	id, _, err := docs.Add("d")
	require.NoError(t, err)
	require.NoError(t, src.SetValue(id, 9, SetReplace))
	require.NoError(t, src.Copy(dst))

	v, err := dst.Value(id)
	require.NoError(t, err)
	assert.Equal(t, int32(9), v)

	require.NoError(t, dst.Rename("c"))
	_, err = docs.Column("c")
	require.NoError(t, err)
	_, err = docs.Column("b")
	assert.ErrorIs(t, err, ErrNotFound)
}

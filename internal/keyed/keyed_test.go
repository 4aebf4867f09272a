package keyed

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/internal/fs"
)

func keyedKinds() []Kind {
	return []Kind{KindHash, KindPat, KindDat}
}

func TestEngine_AddGetDelete(t *testing.T) {
	for _, kind := range keyedKinds() {
		t.Run(kind.String(), func(t *testing.T) {
			e, err := New(kind, 0)
			require.NoError(t, err)

			id, added, err := e.Add([]byte("fox"))
			require.NoError(t, err)
			assert.True(t, added)
			assert.Equal(t, uint32(1), id)

			again, added, err := e.Add([]byte("fox"))
			require.NoError(t, err)
			assert.False(t, added)
			assert.Equal(t, id, again)

			got, ok := e.Get([]byte("fox"))
			require.True(t, ok)
			assert.Equal(t, id, got)

			key, ok := e.Key(id)
			require.True(t, ok)
			assert.Equal(t, "fox", string(key))

			jay, _, err := e.Add([]byte("jay"))
			require.NoError(t, err)
			assert.Equal(t, 2, e.Size())

			assert.True(t, e.Delete(id))
			assert.False(t, e.Delete(id))
			assert.False(t, e.Exists(id))
			_, ok = e.Get([]byte("fox"))
			assert.False(t, ok)
			assert.True(t, e.Exists(jay))

			// A freed id is reused only by an explicit add.
			reused, added, err := e.Add([]byte("owl"))
			require.NoError(t, err)
			assert.True(t, added)
			assert.Equal(t, id, reused)
			assert.Equal(t, uint32(2), e.MaxID())
		})
	}
}

func TestEngine_InvalidKey(t *testing.T) {
	e, err := New(KindHash, 0)
	require.NoError(t, err)

	_, _, err = e.Add(nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = e.Add(make([]byte, MaxKeySize+1))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEngine_Value(t *testing.T) {
	e, err := New(KindPat, 8)
	require.NoError(t, err)

	id, _, err := e.Add([]byte("k"))
	require.NoError(t, err)

	v, ok := e.Value(id)
	require.True(t, ok)
	assert.Equal(t, make([]byte, 8), v)

	require.NoError(t, e.SetValue(id, []byte{1, 2, 3}))
	v, _ = e.Value(id)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, v)

	assert.ErrorIs(t, e.SetValue(id, make([]byte, 9)), ErrValueSize)
	assert.ErrorIs(t, e.SetValue(99, []byte{1}), ErrNotFound)

	_, err = New(KindDat, 8)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSorted_Cursor(t *testing.T) {
	e, err := New(KindPat, 0)
	require.NoError(t, err)

	for _, k := range []string{"delta", "alpha", "charlie", "bravo", "echo", "alpine"} {
		_, _, err := e.Add([]byte(k))
		require.NoError(t, err)
	}

	keys := func(ids []uint32) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			k, _ := e.Key(id)
			out[i] = string(k)
		}
		return out
	}

	ids, err := e.Cursor(CursorOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "alpine", "bravo", "charlie", "delta", "echo"}, keys(ids))

	ids, _ = e.Cursor(CursorOptions{Min: []byte("bravo"), Max: []byte("delta"), MaxExclusive: true})
	assert.Equal(t, []string{"bravo", "charlie"}, keys(ids))

	ids, _ = e.Cursor(CursorOptions{Prefix: []byte("alp")})
	assert.Equal(t, []string{"alpha", "alpine"}, keys(ids))

	ids, _ = e.Cursor(CursorOptions{Descending: true, Offset: 1, Limit: 2})
	assert.Equal(t, []string{"delta", "charlie"}, keys(ids))

	ids, _ = e.Cursor(CursorOptions{ByID: true, Limit: 2})
	assert.Equal(t, []string{"delta", "alpha"}, keys(ids))

	pat := e.(*Pat)
	id, ok := pat.LongestPrefixMatch([]byte("alphabet"))
	require.True(t, ok)
	k, _ := e.Key(id)
	assert.Equal(t, "alpha", string(k))
}

func TestHash_Cursor(t *testing.T) {
	e, err := New(KindHash, 0)
	require.NoError(t, err)

	for _, k := range []string{"c", "a", "b"} {
		_, _, err := e.Add([]byte(k))
		require.NoError(t, err)
	}

	ids, err := e.Cursor(CursorOptions{ByID: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, ids)

	ids, err = e.Cursor(CursorOptions{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3, 1}, ids)
}

func TestDat_UpdateKey(t *testing.T) {
	e, err := New(KindDat, 0)
	require.NoError(t, err)

	a, _, _ := e.Add([]byte("docs"))
	_, _, _ = e.Add([]byte("docs.body"))

	u := e.(KeyUpdater)
	require.NoError(t, u.UpdateKey(a, []byte("articles")))

	got, ok := e.Get([]byte("articles"))
	require.True(t, ok)
	assert.Equal(t, a, got)
	_, ok = e.Get([]byte("docs"))
	assert.False(t, ok)

	assert.ErrorIs(t, u.UpdateKey(a, []byte("docs.body")), ErrExists)
	assert.ErrorIs(t, u.UpdateKey(42, []byte("x")), ErrNotFound)
}

func TestArray(t *testing.T) {
	e, err := New(KindArray, 4)
	require.NoError(t, err)

	id, added, err := e.Add(nil)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, uint32(1), id)

	_, _, err = e.Add([]byte("k"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = e.Cursor(CursorOptions{Prefix: []byte("x")})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()

	for _, kind := range []Kind{KindHash, KindPat, KindDat, KindArray} {
		t.Run(kind.String(), func(t *testing.T) {
			valueSize := 4
			if kind == KindDat {
				valueSize = 0
			}
			e, err := New(kind, valueSize)
			require.NoError(t, err)

			var keys [][]byte
			for _, k := range []string{"red", "fox", "blue", "jay"} {
				if kind != KindArray {
					keys = append(keys, []byte(k))
				}
				var key []byte
				if kind != KindArray {
					key = []byte(k)
				}
				id, _, err := e.Add(key)
				require.NoError(t, err)
				if valueSize > 0 {
					require.NoError(t, e.SetValue(id, []byte{byte(id)}))
				}
			}
			require.True(t, e.Delete(2))

			path := filepath.Join(dir, kind.String())
			require.NoError(t, Save(fs.Default, path, e))

			loaded, err := Load(fs.Default, path)
			require.NoError(t, err)
			assert.Equal(t, kind, loaded.Kind())
			assert.Equal(t, 3, loaded.Size())
			assert.False(t, loaded.Exists(2))

			if kind != KindArray {
				id, ok := loaded.Get(keys[3])
				require.True(t, ok)
				assert.Equal(t, uint32(4), id)
			}
			if valueSize > 0 {
				v, ok := loaded.Value(3)
				require.True(t, ok)
				assert.Equal(t, byte(3), v[0])
			}

			id, _, err := loaded.Add(func() []byte {
				if kind == KindArray {
					return nil
				}
				return []byte("owl")
			}())
			require.NoError(t, err)
			assert.Equal(t, uint32(2), id)
		})
	}
}

func TestTruncate(t *testing.T) {
	for _, kind := range keyedKinds() {
		e, err := New(kind, 0)
		require.NoError(t, err)
		_, _, _ = e.Add([]byte("a"))
		e.Truncate()
		assert.Zero(t, e.Size())
		_, ok := e.Get([]byte("a"))
		assert.False(t, ok)

		id, _, err := e.Add([]byte("b"))
		require.NoError(t, err)
		assert.Equal(t, uint32(1), id)
	}
}

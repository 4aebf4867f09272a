package speclog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/internal/fs"
)

func TestLog_PutGetErase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	l, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, l.Put(256, []byte("docs")))
	require.NoError(t, l.Put(257, []byte("docs.body")))
	require.NoError(t, l.Put(256, []byte("docs-v2")))

	got, ok, err := l.Get(256)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "docs-v2", string(got))

	assert.True(t, l.Has(257))
	require.NoError(t, l.Erase(257))
	_, ok, err = l.Get(257)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, l.Has(257))
	assert.False(t, l.Has(1<<30))

	assert.Equal(t, []uint32{256}, l.IDs())
	assert.Positive(t, l.Garbage())
	require.NoError(t, l.Close())
}

func TestLog_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	l, err := Open(nil, path, Options{Durability: DurabilityAsync})
	require.NoError(t, err)
	instance := l.Instance()

	for i := uint32(256); i < 300; i++ {
		require.NoError(t, l.Put(i, []byte{byte(i)}))
	}
	require.NoError(t, l.Erase(260))
	require.NoError(t, l.Close())

	l, err = Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, instance, l.Instance())
	assert.Equal(t, 43, l.Len())

	got, ok, err := l.Get(299)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(299 % 256)}, got)
}

func TestLog_TornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	l, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, l.Put(256, []byte("table")))
	require.NoError(t, l.Put(257, []byte("column")))
	size := l.Size()
	require.NoError(t, l.Close())

	require.NoError(t, os.Truncate(path, size-3))

	l, err = Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []uint32{256}, l.IDs())
	assert.Positive(t, l.Truncated())

	require.NoError(t, l.Put(258, []byte("after")))
	got, ok, err := l.Get(258)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "after", string(got))
}

func TestLog_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	l, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, l.Put(256, []byte("aaaa")))
	require.NoError(t, l.Put(257, []byte("bbbb")))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[logHeaderSize+recordHeaderSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(nil, path, DefaultOptions())
	require.ErrorIs(t, err, ErrCorrupt)

	l, err = Open(nil, path, Options{TruncateCorrupt: true})
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 0, l.Len())
}

func TestLog_InvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")
	require.NoError(t, os.WriteFile(path, []byte("NOTASPECLOGFILE-PADDING-XXXXXXX"), 0o644))

	_, err := Open(nil, path, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestLog_Compact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	l, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Put(256, []byte("version")))
	}
	require.NoError(t, l.Put(257, []byte("other")))
	require.NoError(t, l.Erase(257))

	before := l.Size()
	require.NoError(t, l.Compact())
	assert.Less(t, l.Size(), before)
	assert.Zero(t, l.Garbage())

	require.NoError(t, l.Put(258, []byte("new")))
	require.NoError(t, l.Close())

	l, err = Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, []uint32{256, 258}, l.IDs())
}

func TestLog_ConcurrentPut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	l, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				assert.NoError(t, l.Put(uint32(256+i*16+j), []byte("spec")))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 128, l.Len())
}

func TestLog_SyncFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.specs")

	ffs := fs.NewFaultyFS(nil)
	l, err := Open(ffs, path, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	ffs.AddRule(".specs", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	l, err = Open(ffs, path, DefaultOptions())
	require.NoError(t, err)

	err = l.Put(256, []byte("x"))
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.ErrorIs(t, l.Put(257, []byte("y")), fs.ErrInjected)
	_ = l.Close()
}

package colgo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colgo/internal/fs"
)

func newTestDB(t *testing.T, opts ...Option) (*Database, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "db")
	db, err := Create(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func reopen(t *testing.T, db *Database, opts ...Option) *Database {
	t.Helper()

	require.NoError(t, db.Close())
	db2, err := Open(context.Background(), db.Path(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })
	return db2
}

// crash leaves the database files as a killed process would: flushed data,
// but a lock file still in place.
func crash(t *testing.T, db *Database) {
	t.Helper()

	require.NoError(t, db.Flush(context.Background()))
	db.closed.Store(true)
	require.NoError(t, db.specs.Close())
	require.NoError(t, db.lock.Abandon())
}

func TestCreate(t *testing.T) {
	db, path := newTestDB(t)

	assert.Equal(t, path, db.Path())
	assert.False(t, db.NeedsRepair())
	assert.True(t, fs.Exists(fs.Default, path))
	assert.True(t, fs.Exists(fs.Default, path+".specs"))
	assert.True(t, fs.Exists(fs.Default, path+".lock"))

	_, err := Create(context.Background(), path)
	assert.ErrorIs(t, err, ErrExists)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_Locked(t *testing.T) {
	_, path := newTestDB(t)

	_, err := Open(context.Background(), path)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, ClearLockFile(path), ErrLocked)
}

func TestBuiltins(t *testing.T) {
	db, _ := newTestDB(t)

	obj, err := db.Resolve(TypeShortText)
	require.NoError(t, err)
	typ, ok := obj.(*Type)
	require.True(t, ok)
	assert.Equal(t, "ShortText", typ.Name())
	assert.True(t, typ.Variable())
	assert.Equal(t, 4095, typ.Size())
	assert.Empty(t, typ.Path())

	obj, err = db.Lookup("TokenBigram")
	require.NoError(t, err)
	assert.Equal(t, TokenBigram, obj.ID())
	assert.Equal(t, ProcTokenizer, obj.(*Proc).Kind())

	obj, err = db.Lookup("Sys01")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, obj)

	assert.ErrorIs(t, db.Remove(typ), ErrInvalidArgument)
}

func TestResolve_NilAndUnknown(t *testing.T) {
	db, _ := newTestDB(t)

	obj, err := db.Resolve(NilID)
	require.NoError(t, err)
	assert.Nil(t, obj)

	obj, err = db.Resolve(FirstUserID + 1000)
	require.NoError(t, err)
	assert.Nil(t, obj)
	assert.Nil(t, db.At(FirstUserID+1000))
}

func TestResolve_AbsentIDDoesNotGrowArena(t *testing.T) {
	db, _ := newTestDB(t)
	pages := len(*db.slots.pages.Load())

	for _, id := range []ID{1 << 22, 1 << 29, 0x80000000} {
		obj, err := db.Resolve(id)
		require.NoError(t, err)
		assert.Nil(t, obj)
		assert.Nil(t, db.slots.lookup(id))
	}
	assert.Equal(t, pages, len(*db.slots.pages.Load()))

	obj, err := db.Deref(Ref{ID: 1 << 22})
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestResolve_GivesUpWhileMaterializing(t *testing.T) {
	db, _ := newTestDB(t)
	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	id := docs.ID()

	db = reopen(t, db, WithMaterializeRetries(1, 5*time.Millisecond))

	s, err := db.slots.ensure(id)
	require.NoError(t, err)
	done := make(chan struct{})
	s.mu.Lock()
	s.state = slotMaterializing
	s.done = done
	s.mu.Unlock()

	start := time.Now()
	obj, err := db.Resolve(id)
	require.NoError(t, err)
	assert.Nil(t, obj)
	assert.Less(t, time.Since(start), time.Second)

	s.mu.Lock()
	s.state = slotEmpty
	s.done = nil
	close(done)
	s.mu.Unlock()

	obj, err = db.Resolve(id)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "docs", obj.Name())
}

func TestResolve_MalformedSpecIsRetryable(t *testing.T) {
	db, _ := newTestDB(t)
	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	id := docs.ID()

	db = reopen(t, db)

	good, ok, err := db.specs.Get(uint32(id))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, db.specs.Put(uint32(id), []byte{}))

	_, err = db.Resolve(id)
	require.ErrorIs(t, err, ErrNeedsRepair)

	s := db.slots.lookup(id)
	require.NotNil(t, s)
	s.mu.Lock()
	assert.Equal(t, slotEmpty, s.state)
	s.mu.Unlock()
	assert.Nil(t, s.ready.Load())

	require.NoError(t, db.specs.Put(uint32(id), good))
	obj, err := db.Resolve(id)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, KindTableHash, obj.Header().Kind)
}

func TestReopen_ReplaysObjects(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	stars, err := docs.CreateColumn("stars", FlagColumnScalar, TypeInt32)
	require.NoError(t, err)

	id, _, err := docs.Add("a")
	require.NoError(t, err)
	require.NoError(t, stars.SetValue(id, 5, SetReplace))
	require.NoError(t, stars.SetValue(id, 2, SetIncrement))

	db = reopen(t, db)
	assert.False(t, db.NeedsRepair())

	obj, err := db.Lookup("docs")
	require.NoError(t, err)
	docs2 := obj.(*Table)
	assert.Equal(t, docs.ID(), docs2.ID())
	assert.Equal(t, KindTableHash, docs2.Header().Kind)

	got, err := docs2.Get("a")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	stars2, err := docs2.Column("stars")
	require.NoError(t, err)
	v, err := stars2.Value(id)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)

	objs, err := db.Objects()
	require.NoError(t, err)
	assert.Len(t, objs, 2)
}

func TestCrash_NeedsRepair(t *testing.T) {
	db, path := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	_, _, err = docs.Add("a")
	require.NoError(t, err)

	crash(t, db)

	db2, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	assert.True(t, db2.NeedsRepair())
	require.NoError(t, db2.Repair(context.Background()))
	assert.False(t, db2.NeedsRepair())

	require.NoError(t, db2.Close())
	db3, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db3.Close()
	assert.False(t, db3.NeedsRepair())
}

func TestClearLockFile(t *testing.T) {
	db, path := newTestDB(t)
	crash(t, db)

	require.NoError(t, ClearLockFile(path))

	db2, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db2.Close()
	assert.False(t, db2.NeedsRepair())
}

func TestResolve_ConcurrentIdentity(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTablePat)
	require.NoError(t, err)
	_, err = docs.CreateColumn("body", FlagColumnScalar, TypeText)
	require.NoError(t, err)

	db = reopen(t, db)

	const n = 32
	objs := make([]Object, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			obj, err := db.Resolve(docs.ID())
			objs[i] = obj
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.NotNil(t, objs[0])
	for _, obj := range objs[1:] {
		assert.Same(t, objs[0], obj)
	}
}

func TestRef_Generation(t *testing.T) {
	db, _ := newTestDB(t)

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)

	ref := db.Ref(docs)
	obj, err := db.Deref(ref)
	require.NoError(t, err)
	assert.Same(t, docs, obj)

	require.NoError(t, db.Remove(docs))

	obj, err = db.Deref(ref)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestClosed(t *testing.T) {
	db, _ := newTestDB(t)
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Close(), ErrClosed)
	_, err := db.Resolve(FirstUserID)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.CreateTable("docs", KindTableHash)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Flush(context.Background()), ErrClosed)
}

func TestPreload(t *testing.T) {
	db, path := newTestDB(t)

	for i := range 5 {
		_, err := db.CreateTable(fmt.Sprintf("t%d", i), KindTableHash)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db2, err := Open(context.Background(), path, WithPreload(), WithWorkers(2))
	require.NoError(t, err)
	defer db2.Close()

	count := 0
	db2.slots.each(func(ID, Object) { count++ })
	assert.Equal(t, 5, count)
}

func TestFaultyFS_CreateRollsBack(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	db, _ := newTestDB(t, withFileSystem(faulty))

	next := fmt.Sprintf(".%07X", uint32(FirstUserID))
	faulty.AddRule(next, fs.Fault{FailAfterBytes: -1, FailOnRename: true})

	_, err := db.CreateTable("docs", KindTableHash)
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = db.Lookup("docs")
	assert.ErrorIs(t, err, ErrNotFound)

	faulty.ClearRules()

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)

	obj, err := db.Lookup("docs")
	require.NoError(t, err)
	assert.Same(t, docs, obj)
}

func TestFaultyFS_FlushRetries(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	db, _ := newTestDB(t, withFileSystem(faulty))

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)
	_, _, err = docs.Add("a")
	require.NoError(t, err)

	faulty.AddRule(fmt.Sprintf(".%07X", uint32(docs.ID())), fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	require.ErrorIs(t, db.Flush(context.Background()), fs.ErrInjected)

	faulty.ClearRules()
	require.NoError(t, db.Flush(context.Background()))

	db = reopen(t, db, withFileSystem(faulty))
	obj, err := db.Lookup("docs")
	require.NoError(t, err)
	assert.Equal(t, 1, obj.(*Table).Size())
}

func TestMetrics(t *testing.T) {
	mc := &BasicMetricsCollector{}
	db, _ := newTestDB(t, WithMetricsCollector(mc))

	docs, err := db.CreateTable("docs", KindTableHash)
	require.NoError(t, err)

	_, _, err = docs.Add("a")
	require.NoError(t, err)
	_, _, err = docs.Add("a")
	require.NoError(t, err)
	require.NoError(t, docs.Delete("a"))

	stats := mc.GetStats()
	assert.Equal(t, int64(2), stats.AddCount)
	assert.Equal(t, int64(1), stats.AddNew)
	assert.Equal(t, int64(1), stats.DeleteCount)
}

func TestTemporaryObjects(t *testing.T) {
	db, _ := newTestDB(t)

	tmp, err := db.CreateTable("", KindTableHash)
	require.NoError(t, err)
	assert.True(t, tmp.ID().IsTemporary())
	assert.Empty(t, tmp.Path())

	obj, err := db.Resolve(tmp.ID())
	require.NoError(t, err)
	assert.Same(t, tmp, obj)

	_, err = tmp.CreateColumn("c", FlagColumnScalar, TypeInt32)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	tmp.Close()
	obj, err = db.Resolve(tmp.ID())
	require.NoError(t, err)
	assert.Nil(t, obj)
}


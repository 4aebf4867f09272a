package colgo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colgo/internal/flock"
	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/keyed"
	"github.com/hupe1980/colgo/internal/resource"
	"github.com/hupe1980/colgo/internal/spec"
	"github.com/hupe1980/colgo/internal/speclog"
)

// Database owns the object registry of one database: the names table, the
// spec log and the slot arena holding materialized objects.
//
// Files at path P: P holds the names table, P.specs the spec log, P.lock
// the lock file, and P.%07X the engine file of each table and column.
type Database struct {
	path    string
	opts    options
	fsys    fs.FileSystem
	logger  *Logger
	metrics MetricsCollector
	res     *resource.Controller
	lock    *flock.Lock

	// ddl serializes changes to names and spec records.
	ddl        sync.Mutex
	names      *keyed.Dat
	namesDirty atomic.Bool
	specs      *speclog.Log
	slots      *slotArena
	builtins   map[ID]Object

	tempMu   sync.RWMutex
	temps    map[ID]Object
	nextTemp atomic.Uint32

	needsRepair atomic.Bool
	closed      atomic.Bool
}

func newDatabase(path string, o options) *Database {
	res := resource.NewController(resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		Workers:            o.workers,
		IOLimitBytesPerSec: o.ioLimit,
	})

	db := &Database{
		path:    path,
		opts:    o,
		fsys:    o.fsys,
		logger:  o.logger.WithPath(path),
		metrics: o.metricsCollector,
		res:     res,
		slots:   newSlotArena(res),
		temps:   make(map[ID]Object),
	}
	db.builtins = newBuiltins(db)
	return db
}

// Create creates a new database at path. It fails with ErrExists when path
// already exists.
func Create(ctx context.Context, path string, optFns ...Option) (*Database, error) {
	o := applyOptions(optFns)

	if fs.Exists(o.fsys, path) {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := o.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db := newDatabase(path, o)

	lock, err := flock.Acquire(path + ".lock")
	if err != nil {
		return nil, translateError(err)
	}
	db.lock = lock

	engine, err := keyed.New(keyed.KindDat, 0)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	db.names = engine.(*keyed.Dat)
	for _, name := range reservedNames(db.builtins) {
		if _, _, err := db.names.Add([]byte(name)); err != nil {
			_ = lock.Release()
			return nil, err
		}
	}

	fail := func(err error) (*Database, error) {
		if db.specs != nil {
			_ = db.specs.Close()
		}
		_ = fs.RemoveIfExists(o.fsys, path)
		_ = fs.RemoveIfExists(o.fsys, path+".specs")
		_ = lock.Release()
		db.logger.LogOpen(ctx, path, 0, false, err)
		return nil, err
	}

	if err := keyed.Save(o.fsys, path, db.names); err != nil {
		return fail(err)
	}
	if db.specs, err = speclog.Open(o.fsys, path+".specs", o.speclogOptions()); err != nil {
		return fail(err)
	}

	db.logger.LogOpen(ctx, path, 0, false, nil)
	return db, nil
}

// Open opens an existing database. A lock file left behind by a process
// that did not close the database makes NeedsRepair report true.
func Open(ctx context.Context, path string, optFns ...Option) (*Database, error) {
	o := applyOptions(optFns)

	if !fs.Exists(o.fsys, path) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	db := newDatabase(path, o)

	lock, err := flock.Acquire(path + ".lock")
	if err != nil {
		return nil, translateError(err)
	}
	db.lock = lock

	fail := func(err error) (*Database, error) {
		if db.specs != nil {
			_ = db.specs.Close()
		}
		_ = lock.Abandon()
		db.logger.LogOpen(ctx, path, 0, false, err)
		return nil, translateError(err)
	}

	engine, err := keyed.Load(o.fsys, path)
	if err != nil {
		return fail(fmt.Errorf("names table: %w", err))
	}
	names, ok := engine.(*keyed.Dat)
	if !ok {
		return fail(fmt.Errorf("%w: names table is %s", ErrNeedsRepair, engine.Kind()))
	}
	db.names = names

	if db.specs, err = speclog.Open(o.fsys, path+".specs", o.speclogOptions()); err != nil {
		return fail(err)
	}

	if lock.Stale() {
		db.needsRepair.Store(true)
	}
	if db.specs.Truncated() > 0 {
		db.logger.WarnContext(ctx, "spec log tail truncated", "bytes", db.specs.Truncated())
		db.needsRepair.Store(true)
	}
	if mismatched := db.verifyNames(false); mismatched > 0 {
		db.logger.WarnContext(ctx, "names table disagrees with spec log", "objects", mismatched)
		db.needsRepair.Store(true)
	}

	db.logger.LogOpen(ctx, path, db.specs.Len(), db.needsRepair.Load(), nil)

	if o.preload {
		if err := db.Preload(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

// Path returns the database path.
func (db *Database) Path() string { return db.path }

// NeedsRepair reports whether the database was not closed cleanly or its
// metadata disagrees. Index columns may be stale until Repair runs.
func (db *Database) NeedsRepair() bool { return db.needsRepair.Load() }

// Repair rebuilds every index column from its sources and reconciles the
// names table with the spec log. Tables are not repaired; a damaged table
// has to be truncated.
func (db *Database) Repair(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}

	objs, err := db.Objects()
	if err != nil {
		db.logger.LogRepair(ctx, 0, err)
		return err
	}

	db.ddl.Lock()
	mismatched := db.verifyNames(true)
	db.ddl.Unlock()
	if mismatched > 0 {
		err := fmt.Errorf("%w: %d names could not be reconciled", ErrNeedsRepair, mismatched)
		db.logger.LogRepair(ctx, 0, err)
		return err
	}

	indexes := 0
	for _, obj := range objs {
		col, ok := obj.(*Column)
		if !ok || col.index == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := col.Reindex(); err != nil {
			db.logger.LogRepair(ctx, indexes, err)
			return err
		}
		indexes++
	}

	db.needsRepair.Store(false)
	db.logger.LogRepair(ctx, indexes, nil)
	return nil
}

// verifyNames counts spec records whose name disagrees with the names
// table. With fix set it renames mismatched entries in place.
func (db *Database) verifyNames(fix bool) int {
	mismatched := 0
	for _, raw := range db.specs.IDs() {
		id := ID(raw)
		payload, ok, err := db.specs.Get(raw)
		if err != nil || !ok {
			mismatched++
			continue
		}
		sp, err := spec.Decode(payload)
		if err != nil {
			mismatched++
			continue
		}
		key, ok := db.names.Key(raw)
		if ok && string(key) == sp.Name {
			continue
		}
		if fix && ok {
			if err := db.names.UpdateKey(raw, []byte(sp.Name)); err == nil {
				db.namesDirty.Store(true)
				continue
			}
		}
		db.logger.Warn("name mismatch", "id", uint32(id), "spec", sp.Name, "names", string(key))
		mismatched++
	}
	return mismatched
}

// ClearLock resets the I/O lock of obj, which a crashed writer may have
// left held.
func (db *Database) ClearLock(obj Object) {
	if obj != nil {
		obj.base().io.clear()
	}
}

// ClearLockFile removes the lock file of the database at path. It fails
// with ErrLocked while a live process has the database open.
func ClearLockFile(path string) error {
	return translateError(flock.Clear(path + ".lock"))
}

// Objects returns every persistent user object in id order.
func (db *Database) Objects() ([]Object, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	ids := db.specs.IDs()
	objs := make([]Object, 0, len(ids))
	for _, id := range ids {
		obj, err := db.Resolve(ID(id))
		if err != nil {
			return nil, err
		}
		if obj != nil {
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

// Preload materializes every object concurrently.
func (db *Database) Preload(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.res.Workers())

	for _, id := range db.specs.IDs() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := db.Resolve(ID(id))
			return err
		})
	}
	return g.Wait()
}

// flusher is implemented by objects with an engine file.
type flusher interface {
	flush(ctx context.Context) error
}

// Flush writes the snapshots of all modified engines and syncs the spec
// log.
func (db *Database) Flush(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return db.flush(ctx)
}

func (db *Database) flush(ctx context.Context) error {
	var pending []flusher
	db.slots.each(func(_ ID, obj Object) {
		if f, ok := obj.(flusher); ok {
			pending = append(pending, f)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.res.Workers())
	for _, f := range pending {
		g.Go(func() error {
			return f.flush(gctx)
		})
	}
	err := g.Wait()

	if err == nil && db.namesDirty.Swap(false) {
		if err = db.saveNames(); err != nil {
			db.namesDirty.Store(true)
		}
	}
	if err == nil {
		err = db.specs.Sync()
	}

	db.logger.LogFlush(ctx, len(pending), err)
	return err
}

// saveNames writes the names table snapshot. The caller holds db.ddl.
func (db *Database) saveNames() error {
	return keyed.Save(db.fsys, db.path, db.names)
}

// throttle charges a written file against the I/O budget.
func (db *Database) throttle(ctx context.Context, path string) error {
	info, err := db.fsys.Stat(path)
	if err != nil {
		return err
	}
	return db.res.AcquireIO(ctx, int(info.Size()))
}

// Close flushes and closes the database. The lock file is removed, so the
// next Open does not report NeedsRepair.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	ctx := context.Background()
	err := db.flush(ctx)

	if err == nil && db.specs.Garbage() > db.specs.Size()/2 {
		err = db.specs.Compact()
	}
	if cerr := db.specs.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = errors.Join(err, cerr)
	}

	db.slots.release()

	db.tempMu.Lock()
	clear(db.temps)
	db.tempMu.Unlock()

	if err != nil {
		// Keep the lock file so that the next Open reports NeedsRepair.
		_ = db.lock.Abandon()
		return err
	}
	return db.lock.Release()
}

func (db *Database) objectPath(id ID) string {
	return fmt.Sprintf("%s.%07X", db.path, uint32(id))
}

func (db *Database) allocTempID() ID {
	return TemporaryIDBit | ID(db.nextTemp.Add(1))
}

func (db *Database) registerTemp(obj Object) {
	db.tempMu.Lock()
	defer db.tempMu.Unlock()
	db.temps[obj.ID()] = obj
}

func (db *Database) dropTemp(id ID) {
	db.tempMu.Lock()
	defer db.tempMu.Unlock()
	delete(db.temps, id)
}

// childIDs returns the ids of columns owned by the table named table, in
// name order.
func (db *Database) childIDs(table string) []ID {
	raw, err := db.names.Cursor(keyed.CursorOptions{Prefix: []byte(table + ".")})
	if err != nil {
		return nil
	}
	ids := make([]ID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, ID(id))
	}
	return slices.Clip(ids)
}

// owns reports whether o is the object installed for its id. Handles to
// removed objects fail this check even after the id has been reused.
func (db *Database) owns(o *object) bool {
	if o.temp || o.builtin {
		return true
	}
	s := db.slots.lookup(o.id)
	if s == nil {
		return false
	}
	h := s.ready.Load()
	return h != nil && h.obj.base() == o
}

// register installs a newly created persistent object in its slot.
func (db *Database) register(obj Object) error {
	s, err := db.slots.ensure(obj.ID())
	if err != nil {
		return translateError(err)
	}
	s.install(obj)
	return nil
}

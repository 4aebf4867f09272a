package colgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/spf13/cast"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/keyed"
	"github.com/hupe1980/colgo/internal/spec"
	"github.com/hupe1980/colgo/normalizer"
	"github.com/hupe1980/colgo/tokenizer"
)

// subrecSize is the prefix of the value slot holding a result record's
// score and sub-record count.
const subrecSize = 16

// Table is a keyed set of records. The engine variant is one of hash, pat
// (sorted), dat (sorted with key update) or array (no key).
type Table struct {
	object
	engine keyed.Engine
	dirty  atomic.Bool
}

type tableOptions struct {
	keyType    ID
	valueType  ID
	tokenizer  ID
	normalizer ID
	filters    []ID
	flags      Flags
}

// TableOption configures CreateTable.
type TableOption func(*tableOptions)

// WithKeyType sets the key type: a built-in fixed-size type, ShortText, or
// another table. Defaults to ShortText. Array tables have no key.
func WithKeyType(id ID) TableOption {
	return func(o *tableOptions) { o.keyType = id }
}

// WithValueType gives every record a value slot of the given fixed-size
// type or table reference.
func WithValueType(id ID) TableOption {
	return func(o *tableOptions) { o.valueType = id }
}

// WithDefaultTokenizer sets the tokenizer used when the table is the
// lexicon of an index column.
func WithDefaultTokenizer(id ID) TableOption {
	return func(o *tableOptions) { o.tokenizer = id }
}

// WithNormalizer normalizes text keys before they are stored or looked up.
func WithNormalizer(id ID) TableOption {
	return func(o *tableOptions) { o.normalizer = id }
}

// WithTokenFilters sets token filters applied after the tokenizer.
func WithTokenFilters(ids ...ID) TableOption {
	return func(o *tableOptions) { o.filters = append(o.filters, ids...) }
}

// WithTableFlags adds flags to the table header.
func WithTableFlags(flags Flags) TableOption {
	return func(o *tableOptions) { o.flags |= flags }
}

func engineKind(kind Kind) (keyed.Kind, error) {
	switch kind {
	case KindTableHash:
		return keyed.KindHash, nil
	case KindTablePat:
		return keyed.KindPat, nil
	case KindTableDat:
		return keyed.KindDat, nil
	case KindTableArray:
		return keyed.KindArray, nil
	default:
		return 0, fmt.Errorf("%w: %s is not a table kind", ErrInvalidArgument, kind)
	}
}

// CreateTable creates a table. An empty name creates a temporary table that
// is never persisted and is freed by Remove or Close.
func (db *Database) CreateTable(name string, kind Kind, opts ...TableOption) (*Table, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	to := tableOptions{}
	for _, fn := range opts {
		fn(&to)
	}

	ek, err := engineKind(kind)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if err := validName(name, false); err != nil {
			return nil, err
		}
	}

	if kind == KindTableArray {
		if to.keyType != NilID {
			return nil, fmt.Errorf("%w: array tables have no key", ErrInvalidArgument)
		}
	} else if to.keyType == NilID {
		to.keyType = TypeShortText
	}

	if err := db.checkKeyType(to.keyType); err != nil {
		return nil, err
	}

	valueSize := 0
	if to.valueType != NilID {
		vt, err := db.valueType(to.valueType)
		if err != nil {
			return nil, err
		}
		if vt.variable {
			return nil, fmt.Errorf("%w: value type %d has variable size", ErrInvalidArgument, to.valueType)
		}
		valueSize = vt.size
	}
	if to.flags&FlagWithSubrec != 0 {
		valueSize += subrecSize
	}

	if err := db.checkProc(to.tokenizer, ProcTokenizer); err != nil {
		return nil, err
	}
	if err := db.checkProc(to.normalizer, ProcNormalizer); err != nil {
		return nil, err
	}
	filters := make([]uint32, 0, len(to.filters))
	for _, f := range to.filters {
		if err := db.checkProc(f, ProcTokenFilter); err != nil {
			return nil, err
		}
		filters = append(filters, uint32(f))
	}

	engine, err := keyed.New(ek, valueSize)
	if err != nil {
		return nil, translateError(err)
	}

	flags := to.flags
	if name != "" {
		flags |= FlagPersistent
	}

	sp := &spec.Spec{
		Kind:         uint8(kind),
		Flags:        uint32(flags),
		Domain:       uint32(to.keyType),
		Range:        uint32(to.valueType),
		Name:         name,
		ValueSize:    valueSize,
		Tokenizer:    uint32(to.tokenizer),
		Normalizer:   uint32(to.normalizer),
		TokenFilters: filters,
	}

	t := &Table{engine: engine}
	if name == "" {
		t.init(db, db.allocTempID(), sp)
		db.registerTemp(t)
		return t, nil
	}

	if err := db.createPersistent(t, sp, func(path string) error {
		return keyed.Save(db.fsys, path, engine)
	}); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *Database) checkKeyType(id ID) error {
	if id == NilID {
		return nil
	}
	kt, err := db.valueType(id)
	if err != nil {
		return err
	}
	if kt.table != nil {
		return nil
	}
	if kt.variable && kt.id != TypeShortText {
		return fmt.Errorf("%w: %d cannot be a key type", ErrInvalidArgument, id)
	}
	if kt.size > keyed.MaxKeySize {
		return fmt.Errorf("%w: key type %d too large", ErrInvalidArgument, id)
	}
	return nil
}

// objectInit is implemented by every concrete object through the embedded
// object.
type objectInit interface {
	Object
	init(db *Database, id ID, sp *spec.Spec)
}

// createPersistent allocates a name and id for obj, creates its engine file
// with create, and persists its spec record. Everything is undone when a
// step fails.
func (db *Database) createPersistent(obj objectInit, sp *spec.Spec, create func(path string) error) error {
	db.ddl.Lock()
	defer db.ddl.Unlock()

	if db.closed.Load() {
		return ErrClosed
	}

	raw, added, err := db.names.Add([]byte(sp.Name))
	if err != nil {
		return translateError(err)
	}
	if !added {
		return fmt.Errorf("%w: %q", ErrExists, sp.Name)
	}
	id := ID(raw)

	undo := func(err error) error {
		db.names.Delete(raw)
		return err
	}

	obj.init(db, id, sp)

	path := ""
	if create != nil {
		path = db.objectPath(id)
		if err := create(path); err != nil {
			return undo(fmt.Errorf("create %s: %w", path, err))
		}
	}

	if err := db.specs.Put(raw, spec.Encode(sp)); err != nil {
		if path != "" {
			_ = fs.RemoveIfExists(db.fsys, path)
		}
		return undo(fmt.Errorf("persist spec %d: %w", id, err))
	}

	if err := db.saveNames(); err != nil {
		db.namesDirty.Store(true)
		db.logger.Warn("names table snapshot failed", "error", err)
	}

	return db.register(obj)
}

func validName(name string, column bool) error {
	if name == "" || len(name) > keyed.MaxKeySize {
		return fmt.Errorf("%w: name length %d", ErrInvalidArgument, len(name))
	}
	if name[0] == '_' {
		return fmt.Errorf("%w: name %q starts with '_'", ErrInvalidArgument, name)
	}
	for _, r := range name {
		switch {
		case r == '.' && column:
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-', r == '#', r == '@':
		default:
			return fmt.Errorf("%w: name %q contains %q", ErrInvalidArgument, name, r)
		}
	}
	return nil
}

func (db *Database) openTable(id ID, sp *spec.Spec) (*Table, error) {
	path := db.objectPath(id)
	engine, err := keyed.Load(db.fsys, path)
	if err != nil {
		return nil, fmt.Errorf("%w: table %q: %w", ErrNeedsRepair, sp.Name, err)
	}

	want, err := engineKind(Kind(sp.Kind))
	if err != nil || engine.Kind() != want {
		return nil, fmt.Errorf("%w: table %q has a %s engine", ErrNeedsRepair, sp.Name, engine.Kind())
	}

	t := &Table{engine: engine}
	t.init(db, id, sp)
	return t, nil
}

func (t *Table) flush(ctx context.Context) error {
	if t.temp || !t.dirty.Swap(false) {
		return nil
	}
	path := t.Path()
	if err := keyed.Save(t.db.fsys, path, t.engine); err != nil {
		t.dirty.Store(true)
		return fmt.Errorf("flush table %q: %w", t.Name(), err)
	}
	return t.db.throttle(ctx, path)
}

func (t *Table) isArray() bool { return t.engine.Kind() == keyed.KindArray }

func (t *Table) keyType() (valueType, error) {
	return t.db.valueType(t.Header().Domain)
}

// Normalizer returns the normalizer of text keys, if any.
func (t *Table) Normalizer() normalizer.Normalizer {
	t.mu.RLock()
	id := ID(t.sp.Normalizer)
	t.mu.RUnlock()

	if p, ok := t.db.At(id).(*Proc); ok {
		return p.norm
	}
	return nil
}

// Tokenizer returns the default tokenizer, if any.
func (t *Table) Tokenizer() tokenizer.Tokenizer {
	t.mu.RLock()
	id := ID(t.sp.Tokenizer)
	t.mu.RUnlock()

	if p, ok := t.db.At(id).(*Proc); ok {
		return p.tok
	}
	return nil
}

func (t *Table) tokenFilters() []tokenizer.Filter {
	t.mu.RLock()
	ids := t.sp.TokenFilters
	t.mu.RUnlock()

	var filters []tokenizer.Filter
	for _, id := range ids {
		if p, ok := t.db.At(ID(id)).(*Proc); ok && p.filter != nil {
			filters = append(filters, p.filter(t))
		}
	}
	return filters
}

func (t *Table) normalize(s string) string {
	if n := t.Normalizer(); n != nil {
		return n.Normalize(s)
	}
	return s
}

// castKey converts key to its stored form. With add set, keys of a
// referenced table are added to it.
func (t *Table) castKey(key any, add bool) ([]byte, error) {
	kt, err := t.keyType()
	if err != nil {
		return nil, err
	}
	if kt.table != nil {
		id, err := kt.table.resolveRecord(key, add)
		if err != nil {
			return nil, err
		}
		return encodeRefKey(id), nil
	}
	if kt.isText() {
		s, err := cast.ToStringE(plain(key))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		key = t.normalize(s)
	}
	return encodeKey(kt, key)
}

// resolveRecord maps v to a record id of t. An ID is taken as is; any other
// value is a key, added when add is set.
func (t *Table) resolveRecord(v any, add bool) (ID, error) {
	if id, ok := v.(ID); ok {
		if !t.Exists(id) {
			return NilID, fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
		}
		return id, nil
	}
	if add {
		id, _, err := t.Add(v)
		return id, err
	}
	return t.Get(v)
}

// Add returns the id of key, creating the record when it is new. Insert
// hooks run only for new records. Array tables take a nil key and always
// create a record.
func (t *Table) Add(key any) (ID, bool, error) {
	start := time.Now()
	id, added, err := t.add(key)
	t.db.metrics.RecordAdd(time.Since(start), added, err)
	return id, added, err
}

func (t *Table) add(key any) (ID, bool, error) {
	var (
		k   []byte
		err error
	)
	if t.isArray() {
		if key != nil {
			return NilID, false, fmt.Errorf("%w: array tables have no key", ErrInvalidArgument)
		}
	} else if k, err = t.castKey(key, true); err != nil {
		return NilID, false, err
	}

	release, err := t.io.acquire()
	if err != nil {
		return NilID, false, err
	}
	raw, added, err := t.engine.Add(k)
	release()
	if err != nil {
		return NilID, false, translateError(err)
	}

	id := ID(raw)
	if !added {
		return id, false, nil
	}

	t.dirty.Store(true)
	if err := t.fire(t, HookInsert, id, nil, k); err != nil {
		return id, true, err
	}
	return id, true, nil
}

// Get returns the id of key or ErrNotFound.
func (t *Table) Get(key any) (ID, error) {
	if t.isArray() {
		return NilID, fmt.Errorf("%w: array tables have no key", ErrInvalidArgument)
	}
	k, err := t.castKey(key, false)
	if err != nil {
		return NilID, err
	}
	id, ok := t.engine.Get(k)
	if !ok {
		return NilID, fmt.Errorf("%w: key %v in %q", ErrNotFound, key, t.Name())
	}
	return ID(id), nil
}

// Exists reports whether id is a live record.
func (t *Table) Exists(id ID) bool {
	return t.engine.Exists(uint32(id))
}

// Size returns the number of records.
func (t *Table) Size() int {
	return t.engine.Size()
}

// Key returns the decoded key of id. Keys of tables keyed by another table
// are record ids of that table.
func (t *Table) Key(id ID) (any, error) {
	if t.isArray() {
		return nil, fmt.Errorf("%w: array tables have no key", ErrInvalidArgument)
	}
	k, ok := t.engine.Key(uint32(id))
	if !ok {
		return nil, fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
	}
	kt, err := t.keyType()
	if err != nil {
		return nil, err
	}
	if kt.table != nil {
		return decodeRefKey(k), nil
	}
	return decodeKey(kt, k)
}

// Value returns the decoded value slot of id.
func (t *Table) Value(id ID) (any, error) {
	vt, err := t.db.valueType(t.Header().Range)
	if err != nil {
		return nil, err
	}
	if vt.id == NilID {
		return nil, fmt.Errorf("%w: table %q has no value", ErrInvalidArgument, t.Name())
	}
	raw, ok := t.engine.Value(uint32(id))
	if !ok {
		return nil, fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
	}
	raw = raw[t.subrecOffset():]
	if vt.table != nil {
		return decodeID(raw), nil
	}
	return decodeScalar(vt, raw)
}

// SetValue writes the value slot of id.
func (t *Table) SetValue(id ID, v any, mode SetMode) error {
	start := time.Now()
	err := t.setValue(id, v, mode)
	t.db.metrics.RecordSetValue(time.Since(start), err)
	return err
}

func (t *Table) setValue(id ID, v any, mode SetMode) error {
	vt, err := t.db.valueType(t.Header().Range)
	if err != nil {
		return err
	}
	if vt.id == NilID {
		return fmt.Errorf("%w: table %q has no value", ErrInvalidArgument, t.Name())
	}

	var enc []byte
	if vt.table != nil {
		if mode != SetReplace {
			return fmt.Errorf("%w: increment on a reference", ErrInvalidArgument)
		}
		ref, err := vt.table.resolveRecord(v, true)
		if err != nil {
			return err
		}
		enc = encodeID(ref)
	}

	release, err := t.io.acquire()
	if err != nil {
		return err
	}
	defer release()

	raw, ok := t.engine.Value(uint32(id))
	if !ok {
		return fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
	}
	off := t.subrecOffset()

	if enc == nil {
		if mode == SetReplace {
			enc, err = encodeScalar(vt, v)
		} else {
			enc, err = numericDelta(vt, raw[off:], v, mode)
		}
		if err != nil {
			return err
		}
	}

	if err := t.fire(t, HookSet, id, slices.Clone(raw[off:]), enc); err != nil {
		return err
	}

	copy(raw[off:], enc)
	if err := t.engine.SetValue(uint32(id), raw); err != nil {
		return translateError(err)
	}
	t.dirty.Store(true)
	return nil
}

func (t *Table) subrecOffset() int {
	if t.flags()&FlagWithSubrec != 0 {
		return subrecSize
	}
	return 0
}

// Score returns the score of a record of a result table.
func (t *Table) Score(id ID) (float64, error) {
	raw, err := t.subrec(id)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw[0:8])), nil
}

// NSubrecs returns the number of source records grouped into a record of a
// result table.
func (t *Table) NSubrecs(id ID) (int64, error) {
	raw, err := t.subrec(id)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(raw[8:16])), nil
}

func (t *Table) subrec(id ID) ([]byte, error) {
	if t.flags()&FlagWithSubrec == 0 {
		return nil, fmt.Errorf("%w: %q is not a result table", ErrInvalidArgument, t.Name())
	}
	raw, ok := t.engine.Value(uint32(id))
	if !ok {
		return nil, fmt.Errorf("%w: record %d", ErrNotFound, id)
	}
	return raw, nil
}

// accumulate adds score and n sub-records to a result record.
func (t *Table) accumulate(id ID, score float64, n int64) error {
	raw, err := t.subrec(id)
	if err != nil {
		return err
	}
	cur := math.Float64frombits(binary.LittleEndian.Uint64(raw[0:8]))
	binary.LittleEndian.PutUint64(raw[0:8], math.Float64bits(cur+score))
	binary.LittleEndian.PutUint64(raw[8:16], binary.LittleEndian.Uint64(raw[8:16])+uint64(n))
	return translateError(t.engine.SetValue(uint32(id), raw))
}

// Delete removes the record with the given key.
func (t *Table) Delete(key any) error {
	id, err := t.Get(key)
	if err != nil {
		return err
	}
	return t.DeleteID(id)
}

// DeleteID removes a record in two phases. The first runs delete hooks,
// clears the record's column values (running their set hooks) and clears
// references to the record found through index columns of this table. The
// second removes the record from the engine. A failure in the first phase
// leaves the record in place.
func (t *Table) DeleteID(id ID) error {
	start := time.Now()
	err := t.deleteID(id)
	t.db.metrics.RecordDelete(time.Since(start), err)
	return err
}

func (t *Table) deleteID(id ID) error {
	if !t.Exists(id) {
		return fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
	}

	var key []byte
	if !t.isArray() {
		key, _ = t.engine.Key(uint32(id))
	}

	if err := t.fire(t, HookDelete, id, key, nil); err != nil {
		return err
	}

	cols, err := t.Columns()
	if err != nil {
		return err
	}

	for _, c := range cols {
		if c.index != nil {
			continue
		}
		if err := c.clearValue(id); err != nil {
			return err
		}
	}

	for _, ix := range cols {
		if ix.index == nil {
			continue
		}
		if err := ix.clearReferences(id); err != nil {
			return err
		}
		ix.dropToken(id)
	}

	release, err := t.io.acquire()
	if err != nil {
		return err
	}
	defer release()

	if !t.engine.Delete(uint32(id)) {
		return fmt.Errorf("%w: record %d of %q", ErrNotFound, id, t.Name())
	}
	t.dirty.Store(true)
	return nil
}

// Columns returns the columns of t in name order.
func (t *Table) Columns() ([]*Column, error) {
	if t.temp {
		return nil, nil
	}
	var cols []*Column
	for _, id := range t.db.childIDs(t.Name()) {
		obj, err := t.db.Resolve(id)
		if err != nil {
			return nil, err
		}
		if c, ok := obj.(*Column); ok {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

// Column returns the column of t called name.
func (t *Table) Column(name string) (*Column, error) {
	obj, err := t.db.Lookup(t.Name() + "." + name)
	if err != nil {
		return nil, err
	}
	c, ok := obj.(*Column)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a column", ErrInvalidArgument, name)
	}
	return c, nil
}

// Truncate removes all records. Index columns fed by t or its columns and
// index columns owned by t are emptied too. Columns of other tables that
// reference t keep their now dangling ids.
func (t *Table) Truncate() error {
	cols, err := t.Columns()
	if err != nil {
		return err
	}

	targets := t.indexTargets()
	for _, c := range cols {
		targets = append(targets, c.indexTargets()...)
	}
	for _, id := range targets {
		if ix, ok := t.db.At(id).(*Column); ok && ix.index != nil {
			ix.truncate()
		}
	}
	for _, c := range cols {
		c.truncate()
	}

	release, err := t.io.acquire()
	if err != nil {
		return err
	}
	defer release()

	t.engine.Truncate()
	t.dirty.Store(true)
	return nil
}

// Rename changes the name of t and of its columns. Ids do not change.
func (t *Table) Rename(name string) error {
	if t.temp {
		return fmt.Errorf("%w: temporary tables have no name", ErrInvalidArgument)
	}
	if err := validName(name, false); err != nil {
		return err
	}

	db := t.db
	db.ddl.Lock()
	defer db.ddl.Unlock()

	if _, ok := db.names.Get([]byte(name)); ok {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}

	oldName := t.Name()
	children := db.childIDs(oldName)

	if err := db.renameObject(&t.object, name); err != nil {
		return err
	}
	for _, id := range children {
		obj, err := db.Resolve(id)
		if err != nil {
			return err
		}
		if obj == nil {
			continue
		}
		colName := name + strings.TrimPrefix(obj.Name(), oldName)
		if err := db.renameObject(obj.base(), colName); err != nil {
			return err
		}
	}

	if err := db.saveNames(); err != nil {
		db.namesDirty.Store(true)
		return err
	}
	return nil
}

// renameObject moves o to name in the names table and its spec record. The
// caller holds db.ddl.
func (db *Database) renameObject(o *object, name string) error {
	if !db.owns(o) {
		return fmt.Errorf("%w: object %d was removed", ErrNotFound, o.id)
	}
	oldName := o.Name()
	if err := db.names.UpdateKey(uint32(o.id), []byte(name)); err != nil {
		return translateError(err)
	}
	if err := o.updateSpec(func(sp *spec.Spec) { sp.Name = name }); err != nil {
		if rerr := db.names.UpdateKey(uint32(o.id), []byte(oldName)); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// Close frees a temporary table. It is a no-op for persistent tables.
func (t *Table) Close() {
	if t.temp {
		t.db.dropTemp(t.id)
	}
}

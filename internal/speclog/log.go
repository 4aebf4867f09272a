package speclog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/colgo/internal/fs"
)

// Durability controls when appended records reach stable storage.
type Durability int

const (
	// DurabilityAsync relies on the OS page cache.
	DurabilityAsync Durability = iota
	// DurabilitySync waits for fsync after every append. Concurrent appends
	// share one fsync (group commit).
	DurabilitySync
)

const (
	logMagic      = "COLGOSPC"
	logVersion    = 1
	logHeaderSize = 8 + 4 + 16
)

var (
	ErrIncompatibleVersion = errors.New("incompatible spec log version")
	ErrInvalidHeader       = errors.New("invalid spec log header")
	// ErrCorrupt reports a record that failed verification before the end
	// of the log.
	ErrCorrupt = errors.New("spec log corrupt")
)

// Options configures a Log.
type Options struct {
	Durability Durability
	// TruncateCorrupt drops everything from the first bad record on instead
	// of failing Open.
	TruncateCorrupt bool
}

// DefaultOptions returns synchronous durability.
func DefaultOptions() Options {
	return Options{Durability: DurabilitySync}
}

type entry struct {
	off  int64
	size int64
}

// Log is an append-only file holding one live spec record per object id.
// A later put for the same id supersedes the earlier one; an erase record
// removes it. Superseded bytes are reclaimed by Compact.
type Log struct {
	mu       sync.Mutex
	fs       fs.FileSystem
	file     fs.File
	cw       *countingWriter
	path     string
	opts     Options
	instance uuid.UUID

	index     map[uint32]entry
	garbage   int64
	truncated int64

	syncedOffset int64
	syncCond     *sync.Cond
	doneCond     *sync.Cond
	closed       bool
	lastErr      error
	wg           sync.WaitGroup
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Flush() error {
	return cw.w.Flush()
}

// Open opens or creates the spec log at path and replays it.
//
// A record cut short at the end of the file is a torn write and is
// truncated away. A record failing its checksum returns ErrCorrupt unless
// Options.TruncateCorrupt is set.
func Open(fsys fs.FileSystem, path string, opts Options) (*Log, error) {
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	l := &Log{
		fs:    fsys,
		file:  f,
		path:  path,
		opts:  opts,
		index: make(map[uint32]entry),
	}

	offset := stat.Size()
	if offset == 0 {
		l.instance = uuid.New()
		if err := writeHeader(f, l.instance); err != nil {
			_ = f.Close()
			return nil, err
		}
		offset = logHeaderSize
	} else {
		if l.instance, err = readHeader(f, offset); err != nil {
			_ = f.Close()
			return nil, err
		}
		if offset, err = l.replay(offset); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	l.cw = &countingWriter{w: bufio.NewWriter(f), n: offset}
	l.syncedOffset = offset
	l.syncCond = sync.NewCond(&l.mu)
	l.doneCond = sync.NewCond(&l.mu)

	if opts.Durability == DurabilitySync {
		l.wg.Add(1)
		go l.runSyncer()
	}

	return l, nil
}

func writeHeader(f fs.File, instance uuid.UUID) error {
	header := make([]byte, logHeaderSize)
	copy(header[0:8], logMagic)
	binary.LittleEndian.PutUint32(header[8:12], logVersion)
	copy(header[12:], instance[:])

	if _, err := f.Write(header); err != nil {
		return err
	}
	return f.Sync()
}

func readHeader(f fs.File, size int64) (uuid.UUID, error) {
	if size < logHeaderSize {
		return uuid.Nil, fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, logHeaderSize)
	}

	header := make([]byte, logHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return uuid.Nil, err
	}
	if string(header[0:8]) != logMagic {
		return uuid.Nil, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != logVersion {
		return uuid.Nil, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, v, logVersion)
	}

	return uuid.FromBytes(header[12:])
}

func (l *Log) replay(size int64) (int64, error) {
	r := bufio.NewReader(io.NewSectionReader(l.file, logHeaderSize, size-logHeaderSize))
	offset := int64(logHeaderSize)

	for {
		rec, n, err := Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) && n == 0 {
				return offset, nil
			}

			torn := errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
			if !torn && !l.opts.TruncateCorrupt {
				return 0, fmt.Errorf("%w: record at offset %d: %v", ErrCorrupt, offset, err)
			}

			l.truncated = size - offset
			if err := l.file.Truncate(offset); err != nil {
				return 0, err
			}
			return offset, nil
		}

		l.apply(rec, offset, n)
		offset += n
	}
}

func (l *Log) apply(rec *Record, off, size int64) {
	if old, ok := l.index[rec.ID]; ok {
		l.garbage += old.size
	}

	switch rec.Op {
	case OpPut:
		l.index[rec.ID] = entry{off: off, size: size}
	case OpErase:
		delete(l.index, rec.ID)
		l.garbage += size
	}
}

// Instance returns the id written into the log header at creation.
func (l *Log) Instance() uuid.UUID {
	return l.instance
}

// Truncated returns the number of bytes dropped from the tail during Open.
func (l *Log) Truncated() int64 {
	return l.truncated
}

func (l *Log) runSyncer() {
	defer l.wg.Done()
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		for l.cw.n <= l.syncedOffset && !l.closed {
			l.syncCond.Wait()
		}

		if l.closed && l.cw.n <= l.syncedOffset {
			return
		}

		target := l.cw.n
		f := l.file

		l.mu.Unlock()
		err := f.Sync()
		l.mu.Lock()

		if err != nil {
			l.lastErr = fmt.Errorf("spec log sync failed: %w", err)
			l.doneCond.Broadcast()
			return
		}

		if target > l.syncedOffset {
			l.syncedOffset = target
		}
		l.doneCond.Broadcast()
	}
}

// Put stores payload as the spec of id.
func (l *Log) Put(id uint32, payload []byte) error {
	return l.append(&Record{Op: OpPut, ID: id, Payload: payload})
}

// Erase removes the spec of id. Erasing an absent id is a no-op.
func (l *Log) Erase(id uint32) error {
	l.mu.Lock()
	_, ok := l.index[id]
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return l.append(&Record{Op: OpErase, ID: id})
}

func (l *Log) append(rec *Record) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return os.ErrClosed
	}
	if l.lastErr != nil {
		err := l.lastErr
		l.mu.Unlock()
		return err
	}

	off := l.cw.n
	if err := rec.Encode(l.cw); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.cw.Flush(); err != nil {
		l.mu.Unlock()
		return err
	}

	l.apply(rec, off, rec.Size())
	end := l.cw.n

	if l.opts.Durability == DurabilityAsync {
		l.mu.Unlock()
		return nil
	}

	l.syncCond.Signal()
	err := l.waitLocked(end)
	l.mu.Unlock()
	return err
}

func (l *Log) waitLocked(offset int64) error {
	for l.syncedOffset < offset && !l.closed && l.lastErr == nil {
		l.doneCond.Wait()
	}
	if l.lastErr != nil {
		return l.lastErr
	}
	if l.closed && l.syncedOffset < offset {
		return os.ErrClosed
	}
	return nil
}

// Get returns the live spec of id.
func (l *Log) Get(id uint32) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, false, os.ErrClosed
	}

	e, ok := l.index[id]
	if !ok {
		return nil, false, nil
	}

	rec, err := l.readLocked(e)
	if err != nil {
		return nil, false, err
	}
	return rec.Payload, true, nil
}

// Has reports whether id has a live spec without reading it.
func (l *Log) Has(id uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

func (l *Log) readLocked(e entry) (*Record, error) {
	buf := make([]byte, e.size)
	if _, err := l.file.ReadAt(buf, e.off); err != nil {
		return nil, err
	}

	rec, _, err := Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: record at offset %d: %v", ErrCorrupt, e.off, err)
	}
	return rec, nil
}

// IDs returns the ids with a live spec in ascending order.
func (l *Log) IDs() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]uint32, 0, len(l.index))
	for id := range l.index {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of live specs.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.index)
}

// Garbage returns the number of bytes held by superseded or erased records.
func (l *Log) Garbage() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.garbage
}

// Size returns the current size of the log in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cw.n
}

// Sync flushes and fsyncs pending records.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}
	if l.lastErr != nil {
		return l.lastErr
	}
	if err := l.cw.Flush(); err != nil {
		return err
	}

	if l.opts.Durability == DurabilityAsync {
		return l.file.Sync()
	}

	l.syncCond.Signal()
	return l.waitLocked(l.cw.n)
}

// Compact rewrites the log with only live records and atomically replaces
// the file.
func (l *Log) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return os.ErrClosed
	}
	if err := l.cw.Flush(); err != nil {
		return err
	}
	if l.opts.Durability == DurabilitySync {
		l.syncCond.Signal()
		if err := l.waitLocked(l.cw.n); err != nil {
			return err
		}
	}

	tmpPath := l.path + ".compact"
	tmp, err := l.fs.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}

	fail := func(err error) error {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpPath)
		return err
	}

	if err := writeHeader(tmp, l.instance); err != nil {
		return fail(err)
	}

	ids := make([]uint32, 0, len(l.index))
	for id := range l.index {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	w := bufio.NewWriter(tmp)
	index := make(map[uint32]entry, len(ids))
	offset := int64(logHeaderSize)

	for _, id := range ids {
		rec, err := l.readLocked(l.index[id])
		if err != nil {
			return fail(err)
		}
		if err := rec.Encode(w); err != nil {
			return fail(err)
		}
		index[id] = entry{off: offset, size: rec.Size()}
		offset += rec.Size()
	}

	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = l.fs.Remove(tmpPath)
		return err
	}

	if err := l.fs.Rename(tmpPath, l.path); err != nil {
		_ = l.fs.Remove(tmpPath)
		return err
	}

	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		l.lastErr = fmt.Errorf("spec log reopen after compaction: %w", err)
		return l.lastErr
	}

	_ = l.file.Close()
	l.file = f
	l.cw = &countingWriter{w: bufio.NewWriter(f), n: offset}
	l.syncedOffset = offset
	l.index = index
	l.garbage = 0

	return nil
}

// Close flushes pending records and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()
		return os.ErrClosed
	}

	if err := l.cw.Flush(); err != nil {
		l.closed = true
		l.syncCond.Signal()
		l.mu.Unlock()
		l.wg.Wait()
		_ = l.file.Close()
		return err
	}

	l.closed = true
	l.syncCond.Signal()
	l.mu.Unlock()

	l.wg.Wait()

	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

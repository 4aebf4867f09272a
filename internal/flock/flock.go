// Package flock guards a database directory with an advisory lock file.
//
// The lock file exists for as long as a process has the database open and
// is removed on a clean Release. Finding it on Acquire without a live
// holder means the previous owner did not shut down cleanly.
package flock

import (
	"errors"
	"fmt"
	"os"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("database is locked by another process")

// Lock is a held lock file.
type Lock struct {
	path  string
	file  *os.File
	stale bool
}

// Acquire creates or opens path and takes an exclusive, non-blocking lock.
func Acquire(path string) (*Lock, error) {
	_, statErr := os.Stat(path)
	stale := statErr == nil

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	}

	return &Lock{path: path, file: f, stale: stale}, nil
}

// Stale reports whether the lock file was left behind by an earlier owner.
func (l *Lock) Stale() bool {
	return l.stale
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	rmErr := os.Remove(l.path)
	_ = unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil

	if rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return rmErr
	}
	return closeErr
}

// Abandon closes the lock without removing the file, as a crashed process
// would. Used by tests and Clear.
func (l *Lock) Abandon() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unlockFile(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}

// Clear removes a stale lock file. It fails with ErrLocked when a live
// process still holds it.
func Clear(path string) error {
	l, err := Acquire(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return l.Release()
}

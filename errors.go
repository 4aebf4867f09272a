package colgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colgo/internal/colstore"
	"github.com/hupe1980/colgo/internal/flock"
	"github.com/hupe1980/colgo/internal/keyed"
	"github.com/hupe1980/colgo/internal/resource"
	"github.com/hupe1980/colgo/internal/snapshot"
	"github.com/hupe1980/colgo/internal/spec"
	"github.com/hupe1980/colgo/internal/speclog"
)

var (
	// ErrInvalidArgument is returned for malformed names, keys, values and
	// operations that do not apply to an object's kind.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned when a memory reservation fails.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNeedsRepair is returned when persisted metadata is inconsistent.
	ErrNeedsRepair = errors.New("database needs repair")

	// ErrLockTimeout is returned when an object's I/O lock could not be
	// acquired in time. The operation can be retried.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrLocked is returned when another process has the database open.
	ErrLocked = errors.New("database is locked")

	// ErrNotFound is returned when a record, object or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrExists is returned when creating an object whose name is taken.
	ErrExists = errors.New("already exists")

	// ErrReferenced is wrapped by ReferenceError.
	ErrReferenced = errors.New("object is referenced")
)

// ReferenceError reports that an object cannot be removed because another
// object still refers to it. Nothing was modified.
type ReferenceError struct {
	Object        ID
	ObjectName    string
	BlockedBy     ID
	BlockedByName string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("cannot remove %q (%d): referenced by %q (%d)",
		e.ObjectName, e.Object, e.BlockedByName, e.BlockedBy)
}

func (e *ReferenceError) Unwrap() error { return ErrReferenced }

// HookError reports a failing entry of a hook chain. Entries before
// Position already ran and are not rolled back.
type HookError struct {
	Object   ID
	Event    HookEvent
	Position int
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %d on object %d: %v", e.Event, e.Position, e.Object, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExists), errors.Is(err, ErrNeedsRepair):
		return err
	case errors.Is(err, keyed.ErrInvalidKey), errors.Is(err, keyed.ErrValueSize),
		errors.Is(err, keyed.ErrUnsupported), errors.Is(err, colstore.ErrWidth):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, keyed.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, keyed.ErrExists):
		return fmt.Errorf("%w: %w", ErrExists, err)
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	case errors.Is(err, flock.ErrLocked):
		return fmt.Errorf("%w: %w", ErrLocked, err)
	case errors.Is(err, spec.ErrMalformed), errors.Is(err, speclog.ErrCorrupt),
		errors.Is(err, speclog.ErrInvalidHeader), errors.Is(err, speclog.ErrIncompatibleVersion),
		errors.Is(err, snapshot.ErrChecksum), errors.Is(err, snapshot.ErrInvalidMagic),
		errors.Is(err, snapshot.ErrVersion):
		return fmt.Errorf("%w: %w", ErrNeedsRepair, err)
	}

	return err
}

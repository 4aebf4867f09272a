package colgo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ioLock serializes engine mutations of one persistent object. The zero
// value is a no-op lock, used for temporary objects.
type ioLock struct {
	sem     atomic.Pointer[semaphore.Weighted]
	retired atomic.Bool
	timeout time.Duration
}

func (l *ioLock) init(timeout time.Duration) {
	l.timeout = timeout
	l.sem.Store(semaphore.NewWeighted(1))
}

func (l *ioLock) acquire() (func(), error) {
	if l.retired.Load() {
		return nil, fmt.Errorf("%w: object was removed", ErrNotFound)
	}
	sem := l.sem.Load()
	if sem == nil {
		return func() {}, nil
	}

	if !sem.TryAcquire(1) {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w after %s", ErrLockTimeout, l.timeout)
		}
	}

	return func() { sem.Release(1) }, nil
}

// clear replaces a lock that a failed writer left held. Writers still
// holding the old lock release it harmlessly.
func (l *ioLock) clear() {
	if l.sem.Load() != nil {
		l.sem.Store(semaphore.NewWeighted(1))
	}
}

// retire makes every later acquire fail with ErrNotFound. Removal retires
// the lock of the removed object.
func (l *ioLock) retire() {
	l.retired.Store(true)
}

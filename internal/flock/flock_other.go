//go:build !unix

package flock

import (
	"errors"
	"os"
	"sync"
)

// Without flock, locks are only exclusive within this process.
var (
	errWouldBlock = errors.New("lock held")

	heldMu sync.Mutex
	held   = make(map[string]bool)
)

func lockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()

	if held[f.Name()] {
		return errWouldBlock
	}
	held[f.Name()] = true
	return nil
}

func unlockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()

	delete(held, f.Name())
	return nil
}

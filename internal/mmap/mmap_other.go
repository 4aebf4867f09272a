//go:build !unix && !windows

package mmap

import (
	"io"
	"os"
)

// osMap reads the file into memory where mapping is unavailable.
func osMap(f *os.File, size int) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}

func osAdvise([]byte, Advice) error { return nil }

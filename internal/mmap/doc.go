// Package mmap maps files read-only into memory.
//
// LocalStore hands out blobs backed by a Mapping so that restoring a
// backup reads snapshot files without an extra copy. A Mapping is safe for
// concurrent reads; Close is idempotent, and Bytes returns nil afterwards.
package mmap

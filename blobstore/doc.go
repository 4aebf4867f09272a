// Package blobstore abstracts the storage that database backups are
// written to.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local file system, read through mmap
//   - MemoryStore: in memory, for tests
//   - s3.Store: Amazon S3
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Custom Implementations
//
// Implement BlobStore to support another backend:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore

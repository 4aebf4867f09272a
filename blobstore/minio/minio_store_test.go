package minio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo"
	"github.com/hupe1980/colgo/blobstore"
)

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "backups/")
	assert.Equal(t, "backups/nightly/specs", s.key("nightly/specs"))

	s = NewStore(nil, "bucket", "")
	assert.Equal(t, "nightly/manifest.json", s.key("nightly/manifest.json"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("nightly/manifest.json"))
	assert.Equal(t, "application/octet-stream", contentType("nightly/objects/0000100"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("dial tcp: refused")))
}

// newTestStore connects to the server named by COLGO_MINIO_ENDPOINT
// (default localhost:9000) and skips when it is unreachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	endpoint := os.Getenv("COLGO_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	bucket := "test-colgo"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}
	return NewStore(client, bucket, "test-prefix/")
}

func TestStore_Integration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "blobs/test.txt", data))

	got, err := blobstore.ReadAll(ctx, store, "blobs/test.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	blob, err := store.Open(ctx, "blobs/test.txt")
	require.NoError(t, err)
	part := make([]byte, 5)
	n, err := blob.ReadAt(ctx, part, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part[:n]))
	require.NoError(t, blob.Close())

	names, err := store.List(ctx, "blobs/")
	require.NoError(t, err)
	assert.Contains(t, names, "blobs/test.txt")

	require.NoError(t, store.Delete(ctx, "blobs/test.txt"))
	require.NoError(t, store.Delete(ctx, "blobs/test.txt"))

	_, err = store.Open(ctx, "blobs/test.txt")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_BackupRestore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	db, err := colgo.Create(ctx, filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	docs, err := db.CreateTable("docs", colgo.KindTablePat)
	require.NoError(t, err)
	_, _, err = docs.Add("minio")
	require.NoError(t, err)

	prefix := "backup-" + t.Name()
	require.NoError(t, db.Backup(ctx, store, prefix))

	restored, err := colgo.Restore(ctx, store, prefix, filepath.Join(t.TempDir(), "restored"))
	require.NoError(t, err)
	defer restored.Close()

	obj, err := restored.Lookup("docs")
	require.NoError(t, err)
	_, err = obj.(*colgo.Table).Get("minio")
	require.NoError(t, err)
}

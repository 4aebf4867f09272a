package colgo

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/highwayhash"

	"github.com/hupe1980/colgo/blobstore"
	"github.com/hupe1980/colgo/internal/fs"
)

const (
	backupVersion  = 1
	backupManifest = "manifest.json"
)

var backupSumKey = []byte("colgo-backup-checksum-key-000001")

// BackupManifest describes a backup. It is written last, so a backup
// without a manifest is incomplete.
type BackupManifest struct {
	Version   int          `json:"version"`
	ID        uuid.UUID    `json:"id"`
	Instance  uuid.UUID    `json:"instance"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []BackupFile `json:"files"`
}

// BackupFile is one database file in a backup.
type BackupFile struct {
	// Suffix is appended to the database path on restore.
	Suffix string `json:"suffix"`
	Blob   string `json:"blob"`
	Size   int64  `json:"size"`
	Sum    uint64 `json:"sum"`
}

func backupBlobName(suffix string) string {
	switch {
	case suffix == "":
		return "names"
	case suffix == ".specs":
		return "specs"
	default:
		return "objects/" + strings.TrimPrefix(suffix, ".")
	}
}

// Backup flushes the database and copies its files, zstd-compressed, to
// store below prefix. Schema changes wait until the backup is done; record
// writes racing with it may or may not be included.
func (db *Database) Backup(ctx context.Context, store blobstore.BlobStore, prefix string) error {
	if db.closed.Load() {
		return ErrClosed
	}

	db.ddl.Lock()
	defer db.ddl.Unlock()

	m, err := db.backup(ctx, store, prefix)
	files := 0
	if m != nil {
		files = len(m.Files)
	}
	db.logger.LogBackup(ctx, "backup", prefix, files, err)
	return err
}

func (db *Database) backup(ctx context.Context, store blobstore.BlobStore, prefix string) (*BackupManifest, error) {
	if err := db.flush(ctx); err != nil {
		return nil, err
	}

	suffixes := []string{"", ".specs"}
	for _, id := range db.specs.IDs() {
		suffix := strings.TrimPrefix(db.objectPath(ID(id)), db.path)
		if fs.Exists(db.fsys, db.path+suffix) {
			suffixes = append(suffixes, suffix)
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	m := &BackupManifest{
		Version:   backupVersion,
		ID:        uuid.New(),
		Instance:  db.specs.Instance(),
		CreatedAt: time.Now().UTC(),
	}
	for _, suffix := range suffixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(db.fsys, db.path+suffix)
		if err != nil {
			return nil, err
		}
		f := BackupFile{
			Suffix: suffix,
			Blob:   backupBlobName(suffix),
			Size:   int64(len(data)),
			Sum:    highwayhash.Sum64(data, backupSumKey),
		}
		if err := store.Put(ctx, path.Join(prefix, f.Blob), enc.EncodeAll(data, nil)); err != nil {
			return nil, fmt.Errorf("backup %s: %w", f.Blob, err)
		}
		m.Files = append(m.Files, f)
	}

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, path.Join(prefix, backupManifest), payload); err != nil {
		return nil, fmt.Errorf("backup manifest: %w", err)
	}
	return m, nil
}

// ReadBackupManifest reads the manifest of the backup below prefix.
func ReadBackupManifest(ctx context.Context, store blobstore.BlobStore, prefix string) (*BackupManifest, error) {
	payload, err := blobstore.ReadAll(ctx, store, path.Join(prefix, backupManifest))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: no backup manifest below %q", ErrNotFound, prefix)
	}
	if err != nil {
		return nil, err
	}

	var m BackupManifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: backup manifest: %w", ErrInvalidArgument, err)
	}
	if m.Version != backupVersion {
		return nil, fmt.Errorf("%w: backup version %d", ErrInvalidArgument, m.Version)
	}
	return &m, nil
}

// Restore recreates the database of the backup below prefix at path and
// opens it. path must not exist.
func Restore(ctx context.Context, store blobstore.BlobStore, prefix, path string, optFns ...Option) (*Database, error) {
	o := applyOptions(optFns)

	err := restore(ctx, o.fsys, store, prefix, path)
	o.logger.LogBackup(ctx, "restore", prefix, 0, err)
	if err != nil {
		return nil, err
	}
	return Open(ctx, path, optFns...)
}

func restore(ctx context.Context, fsys fs.FileSystem, store blobstore.BlobStore, prefix, dbPath string) error {
	if fs.Exists(fsys, dbPath) {
		return fmt.Errorf("%w: %s", ErrExists, dbPath)
	}

	m, err := ReadBackupManifest(ctx, store, prefix)
	if err != nil {
		return err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	var written []string
	fail := func(err error) error {
		for _, p := range written {
			_ = fs.RemoveIfExists(fsys, p)
		}
		return err
	}

	for _, f := range m.Files {
		if strings.ContainsAny(f.Suffix, "/\\") {
			return fail(fmt.Errorf("%w: backup file suffix %q", ErrInvalidArgument, f.Suffix))
		}
		raw, err := blobstore.ReadAll(ctx, store, path.Join(prefix, f.Blob))
		if err != nil {
			return fail(fmt.Errorf("restore %s: %w", f.Blob, err))
		}
		data, err := dec.DecodeAll(raw, nil)
		if err != nil {
			return fail(fmt.Errorf("restore %s: %w", f.Blob, err))
		}
		if int64(len(data)) != f.Size || highwayhash.Sum64(data, backupSumKey) != f.Sum {
			return fail(fmt.Errorf("%w: backup file %s fails its checksum", ErrNeedsRepair, f.Blob))
		}

		target := dbPath + f.Suffix
		if err := fs.WriteFileAtomic(fsys, target, data); err != nil {
			return fail(err)
		}
		written = append(written, target)
	}
	return nil
}

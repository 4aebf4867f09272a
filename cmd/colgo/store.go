package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	flag "github.com/spf13/pflag"

	"github.com/hupe1980/colgo/blobstore"
	miniostore "github.com/hupe1980/colgo/blobstore/minio"
	s3store "github.com/hupe1980/colgo/blobstore/s3"
)

var (
	s3Region      = flag.String("s3-region", "", "region for s3:// stores (default: AWS config)")
	s3Endpoint    = flag.String("s3-endpoint", "", "endpoint override for s3:// stores")
	minioInsecure = flag.Bool("minio-insecure", false, "use plain HTTP for minio:// stores")
)

// openStore maps a backup location to a blob store:
//
//	/some/dir or file:///some/dir     local directory
//	s3://bucket/prefix                AWS S3, default credential chain
//	minio://endpoint/bucket/prefix    MinIO, credentials from MINIO_ROOT_USER/MINIO_ROOT_PASSWORD
func openStore(ctx context.Context, location string) (blobstore.BlobStore, error) {
	if !strings.Contains(location, "://") {
		return blobstore.NewLocalStore(location), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("store %q: %w", location, err)
	}
	rest := strings.Trim(u.Path, "/")

	switch u.Scheme {
	case "file":
		return blobstore.NewLocalStore(u.Path), nil

	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("store %q: missing bucket", location)
		}
		st, err := s3store.New(ctx, u.Host, func(o *s3store.Options) {
			o.Region = *s3Region
			o.Endpoint = *s3Endpoint
			o.Prefix = rest
		})
		if err != nil {
			return nil, err
		}
		return st, nil

	case "minio":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if u.Host == "" || bucket == "" {
			return nil, fmt.Errorf("store %q: want minio://endpoint/bucket[/prefix]", location)
		}
		client, err := minio.New(u.Host, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: !*minioInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", location, err)
		}
		return miniostore.NewStore(client, bucket, prefix), nil

	default:
		return nil, fmt.Errorf("store %q: unknown scheme %q", location, u.Scheme)
	}
}

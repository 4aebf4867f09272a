// Package s3 provides an S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", func(o *s3.Options) {
//	    o.Prefix = "backups/"
//	    o.Region = "us-east-1"
//	})
//
//	err = db.Backup(ctx, store, "nightly")
//
// Reads use range requests; uploads go through the S3 transfer manager.
package s3

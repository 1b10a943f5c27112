package storage

import (
	"context"
	"io"
)

// Object identifies a stored object and its size in bytes.
type Object struct {
	Name string
	Size int64
}

// ObjectStore is the artifact and shard store. Buckets map to directories in
// the local implementation and to real buckets in the S3 implementation.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	UploadDir(ctx context.Context, bucket, prefix, src string) error

	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error
}

package download

import (
	"context"
	"io"
	"time"

	"digitalstore/pkg/config"

	"github.com/minio/minio-go/v7"
)

// StoredObject is a readable object plus the metadata the gateway
// forwards to the client.
type StoredObject struct {
	Reader      io.ReadCloser
	Size        int64
	ContentType string
}

// ObjectStore abstracts the download bucket.
type ObjectStore interface {
	FetchObject(ctx context.Context, objectKey string, timeout time.Duration) (*StoredObject, error)
}

type minioStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(client *minio.Client, cfg *config.Config) ObjectStore {
	return &minioStore{client: client, bucket: cfg.Minio.BucketName}
}

// FetchObject stats the object under the given timeout before handing
// back a reader bound to the caller's context, so a slow or absent
// upstream fails fast while a healthy stream is not cut off mid-body.
func (s *minioStore) FetchObject(ctx context.Context, objectKey string, timeout time.Duration) (*StoredObject, error) {
	statCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stat, err := s.client.StatObject(statCtx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	return &StoredObject{
		Reader:      obj,
		Size:        stat.Size,
		ContentType: stat.ContentType,
	}, nil
}

package images

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"gocloud.dev/blob"
)

type blobImageStore struct {
	bucket *blob.Bucket
	logger *log.Entry
}

// NewBlobImageStore create an image store using a gocloud.dev/blob bucket
func NewBlobImageStore(bucket *blob.Bucket) ImageStore {
	return &blobImageStore{
		bucket: bucket,
		logger: log.WithField("module", "object-store"),
	}
}

func (s *blobImageStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.logger.Debugf("stored %s (%d bytes)", key, len(data))
	return nil
}

package images

import (
	"context"
	"fmt"
	"time"
)

const ContentTypeJPEG = "image/jpeg"

// ImageStore is a write-only sink for device images.
type ImageStore interface {
	// Put uploads data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Keys are the object names derived for one uploaded image.
type Keys struct {
	Original  string
	Annotated string
}

// ObjectKeys derives the storage keys of an image from the device and the
// message publish time. Keys are always computed in UTC so a redelivered
// message maps to the same objects.
func ObjectKeys(deviceID string, publishTime time.Time) Keys {
	suffix := fmt.Sprintf("%s/%s.jpg", deviceID, publishTime.UTC().Format("2006-01-02/15/0405"))
	return Keys{
		Original:  "original/" + suffix,
		Annotated: "annotated/" + suffix,
	}
}

// GCSURI formats an object location the way downstream flows expect it.
func GCSURI(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}

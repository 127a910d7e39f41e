package images

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func TestObjectKeysLayout(t *testing.T) {
	published := time.Date(2019, 7, 9, 4, 5, 6, 789000000, time.UTC)

	keys := ObjectKeys("cam-1", published)
	assert.Equal(t, "original/cam-1/2019-07-09/04/0506.jpg", keys.Original)
	assert.Equal(t, "annotated/cam-1/2019-07-09/04/0506.jpg", keys.Annotated)
}

func TestObjectKeysDeterministic(t *testing.T) {
	published := time.Date(2019, 12, 31, 23, 59, 58, 0, time.UTC)
	assert.Equal(t, ObjectKeys("d", published), ObjectKeys("d", published))
}

func TestObjectKeysUseUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	local := time.Date(2019, 7, 9, 13, 5, 6, 0, tokyo)
	utc := local.UTC()

	assert.Equal(t, ObjectKeys("d", utc), ObjectKeys("d", local))
	assert.Equal(t, "original/d/2019-07-09/04/0506.jpg", ObjectKeys("d", local).Original)
}

func TestGCSURI(t *testing.T) {
	assert.Equal(t, "gs://bkt/original/x.jpg", GCSURI("bkt", "original/x.jpg"))
}

func TestBlobImageStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	store := NewBlobImageStore(bucket)
	require.NoError(t, store.Put(ctx, "original/a.jpg", []byte("first"), ContentTypeJPEG))
	require.NoError(t, store.Put(ctx, "original/a.jpg", []byte("second"), ContentTypeJPEG))

	data, err := bucket.ReadAll(ctx, "original/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	attrs, err := bucket.Attributes(ctx, "original/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJPEG, attrs.ContentType)
}

func TestBlobImageStorePutSurfacesErrors(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	store := NewBlobImageStore(bucket)
	require.NoError(t, bucket.Close())

	err := store.Put(context.Background(), "original/a.jpg", []byte("x"), ContentTypeJPEG)
	require.Error(t, err)
}

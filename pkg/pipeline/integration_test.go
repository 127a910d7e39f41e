package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"com.aviebrantz.vision-router/pkg/core/messaging"
	"com.aviebrantz.vision-router/pkg/core/store/deviceconfig"
	"com.aviebrantz.vision-router/pkg/core/store/images"
	"com.aviebrantz.vision-router/pkg/inference"
	"com.aviebrantz.vision-router/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/docstore/memdocstore"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
)

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()

	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer sub.Shutdown(ctx)

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	coll, err := memdocstore.OpenCollection("id", nil)
	require.NoError(t, err)
	defer coll.Close()

	predictions := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[{"detection_classes":[52, 48],"detection_scores":[0.8, 0.1]}]}`))
	}))
	defer predictions.Close()

	flow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer flow.Close()

	configs := deviceconfig.NewConfigDocStore(coll)
	initial, err := deviceconfig.ParseDeviceConfig([]byte(`{"dashboard_url":"C","rotation":90}`))
	require.NoError(t, err)
	require.NoError(t, configs.Set(ctx, "cam-1", initial))

	p := NewPipeline(
		messaging.NewSubscriptionChannel(sub, messaging.Options{PullTimeout: 5 * time.Second}),
		images.NewBlobImageStore(bucket),
		notify.NewWebhook(flow.Client(), flow.URL, time.Second),
		configs,
		inference.NewClient(predictions.Client(), predictions.URL),
		testRules,
		Options{Project: "proj", Model: "detector", Bucket: "bkt", CallTimeout: 5 * time.Second},
	)
	// The initial config was written just now; pretend the debounce window passed.
	p.now = func() time.Time { return time.Now().Add(time.Minute) }

	published := time.Date(2020, 6, 1, 8, 30, 15, 0, time.UTC)
	require.NoError(t, topic.Send(ctx, &pubsub.Message{
		Body: []byte("jpeg-bytes"),
		Metadata: map[string]string{
			messaging.AttrDeviceID:    "cam-1",
			messaging.AttrPublishTime: published.Format(time.RFC3339),
		},
	}))

	outcomes := p.RunOnce(ctx)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "B", outcomes[0].TargetURL)
	assert.Equal(t, DecisionUpdate, outcomes[0].Decision)

	stored, err := bucket.ReadAll(ctx, "original/cam-1/2020-06-01/08/3015.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), stored)

	latest, err := configs.GetLatest(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, "B", latest.DashboardURL)
	blob, err := latest.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"dashboard_url":"B","rotation":90}`, string(blob))
}

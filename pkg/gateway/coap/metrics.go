package coap

import (
	"time"

	"github.com/apex/log"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	MLatencyMs = stats.Float64("gateway/coap/latency", "The latency in milliseconds per request", "ms")

	MRequests = stats.Int64("gateway/coap/requests", "Number of requests", "By")

	MImageBytes = stats.Int64("gateway/coap/image_bytes", "Size of uploaded images", "bytes")
)

var (
	LatencyView = &view.View{
		Name:        "gateway/coap/latency",
		Measure:     MLatencyMs,
		Description: "The distribution of the latencies",

		Aggregation: view.Distribution(0, 25, 50, 75, 100, 200, 400, 600, 800, 1000, 2000, 4000, 6000),
		TagKeys:     []tag.Key{KeyMethod},
	}

	RequestsCountView = &view.View{
		Name:        "gateway/coap/requests",
		Measure:     MRequests,
		Description: "Number of requests",
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KeyMethod, KeyStatus},
	}

	ImageSizeView = &view.View{
		Name:        "gateway/coap/image_bytes",
		Measure:     MImageBytes,
		Description: "Distribution of uploaded image sizes",
		Aggregation: view.Distribution(0, 16<<10, 64<<10, 256<<10, 1<<20, 4<<20),
		TagKeys:     []tag.Key{KeyFormat},
	}
)

var (
	KeyMethod, _ = tag.NewKey("method")
	KeyStatus, _ = tag.NewKey("status")
	KeyFormat, _ = tag.NewKey("format")
)

func registerMetrics() {
	err := view.Register(LatencyView, RequestsCountView, ImageSizeView)
	if err != nil {
		log.Fatalf("Failed to register views: %v", err)
	}
}

func sinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

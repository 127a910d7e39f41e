package metrics

import (
	"net/http"
	"strconv"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/apex/log"
)

// StartMetricsExporter serves the registered opencensus views on /metrics.
func StartMetricsExporter(port int) {
	logger := log.WithField("module", "metrics")
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "vision_router",
	})
	if err != nil {
		logger.Fatalf("Failed to create the Prometheus stats exporter: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", pe)
		if err := http.ListenAndServe(":"+strconv.Itoa(port), mux); err != nil {
			logger.Fatalf("Failed to run Prometheus scrape endpoint: %v", err)
		}
	}()
}

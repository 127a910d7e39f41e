package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	MMessages = stats.Int64("pipeline/messages", "Number of processed messages", stats.UnitDimensionless)

	MStageFailures = stats.Int64("pipeline/stage_failures", "Number of per message failures", stats.UnitDimensionless)

	MInferenceLatencyMs = stats.Float64("pipeline/inference_latency", "Latency of prediction requests", stats.UnitMilliseconds)

	MConfigDecisions = stats.Int64("pipeline/config_updates", "Device config update decisions", stats.UnitDimensionless)
)

var (
	KeyOutcome, _  = tag.NewKey("outcome")
	KeyStage, _    = tag.NewKey("stage")
	KeyDecision, _ = tag.NewKey("decision")
)

var (
	MessagesView = &view.View{
		Name:        "pipeline/messages",
		Measure:     MMessages,
		Description: "Processed messages by outcome",
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KeyOutcome},
	}

	StageFailuresView = &view.View{
		Name:        "pipeline/stage_failures",
		Measure:     MStageFailures,
		Description: "Failures by pipeline stage",
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KeyStage},
	}

	InferenceLatencyView = &view.View{
		Name:        "pipeline/inference_latency",
		Measure:     MInferenceLatencyMs,
		Description: "The distribution of prediction latencies",
		Aggregation: view.Distribution(0, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000),
	}

	ConfigDecisionsView = &view.View{
		Name:        "pipeline/config_updates",
		Measure:     MConfigDecisions,
		Description: "Device config decisions",
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KeyDecision},
	}
)

var registerOnce sync.Once

func registerMetrics() {
	registerOnce.Do(func() {
		err := view.Register(MessagesView, StageFailuresView, InferenceLatencyView, ConfigDecisionsView)
		if err != nil {
			log.Errorf("failed to register pipeline views: %v", err)
		}
	})
}

func recordOutcome(ctx context.Context, o Outcome) {
	outcome := "ok"
	if o.Failed() {
		outcome = "failed"
		_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(KeyStage, o.FailedStage().String())}, MStageFailures.M(1))
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(KeyOutcome, outcome)}, MMessages.M(1))

	if o.Decision != DecisionNone {
		_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(KeyDecision, o.Decision.String())}, MConfigDecisions.M(1))
	}
}

func sinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

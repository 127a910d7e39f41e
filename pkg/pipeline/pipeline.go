package pipeline

import (
	"context"
	"fmt"
	"time"

	"com.aviebrantz.vision-router/pkg/core/messaging"
	"com.aviebrantz.vision-router/pkg/core/store/deviceconfig"
	"com.aviebrantz.vision-router/pkg/core/store/images"
	"com.aviebrantz.vision-router/pkg/inference"
	"com.aviebrantz.vision-router/pkg/notify"
	"github.com/apex/log"
	"go.opencensus.io/stats"
)

// Predictor runs object detection on an image.
type Predictor interface {
	Predict(ctx context.Context, project, model string, image []byte) (*inference.PredictionResult, error)
}

type Options struct {
	Project     string
	Model       string
	Bucket      string
	NotifyToken string
	Labels      map[int]string
	MinScore    float64
	Debounce    time.Duration
	// CallTimeout bounds image uploads, and the other calls when their own
	// timeout is unset.
	CallTimeout    time.Duration
	PredictTimeout time.Duration
	ConfigTimeout  time.Duration
	// HoldFailed leaves messages whose processing failed unacknowledged so
	// the subscription redelivers them. By default the whole batch is acked.
	HoldFailed bool
}

// Pipeline pulls device images, stores them, runs detection and points
// the device dashboard at matching content.
type Pipeline struct {
	channel   messaging.MessageChannel
	images    images.ImageStore
	notifier  notify.Dispatcher
	configs   deviceconfig.Store
	predictor Predictor
	rules     DashboardRules
	opts      Options
	now       func() time.Time
	logger    *log.Entry
}

func NewPipeline(
	channel messaging.MessageChannel,
	imageStore images.ImageStore,
	notifier notify.Dispatcher,
	configs deviceconfig.Store,
	predictor Predictor,
	rules DashboardRules,
	opts Options,
) *Pipeline {
	if opts.Labels == nil {
		opts.Labels = inference.COCOLabels
	}
	if opts.MinScore <= 0 {
		opts.MinScore = inference.DefaultMinScore
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 20 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = opts.CallTimeout
	}
	if opts.ConfigTimeout <= 0 {
		opts.ConfigTimeout = opts.CallTimeout
	}
	return &Pipeline{
		channel:   channel,
		images:    imageStore,
		notifier:  notifier,
		configs:   configs,
		predictor: predictor,
		rules:     rules,
		opts:      opts,
		now:       time.Now,
		logger:    log.WithField("module", "pipeline"),
	}
}

// Run processes batches until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	registerMetrics()
	p.logger.Info("Starting pipeline...")
	for ctx.Err() == nil {
		p.RunOnce(ctx)
	}
	p.logger.Info("Pipeline stopped")
}

// RunOnce pulls one batch, processes every message in order and then
// acknowledges the batch. Cancelling ctx interrupts the pull only; a pulled
// batch is always finished.
func (p *Pipeline) RunOnce(ctx context.Context) []Outcome {
	msgs := p.channel.Pull(ctx)
	p.logger.Infof("%d messages pulled.", len(msgs))
	if len(msgs) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	outcomes := make([]Outcome, 0, len(msgs))
	ack := make([]*messaging.Message, 0, len(msgs))
	for _, m := range msgs {
		outcome := p.Process(ctx, m)
		recordOutcome(ctx, outcome)
		outcomes = append(outcomes, outcome)

		if p.opts.HoldFailed && outcome.Redeliverable() {
			p.logger.WithField("deviceID", m.DeviceID).Warnf("holding message back for redelivery after %s failed", outcome.FailedStage())
			continue
		}
		ack = append(ack, m)
	}

	p.channel.Ack(ctx, ack)
	return outcomes
}

// Process runs the per message workflow. Any failure ends the workflow for
// this message and is reported in the outcome.
func (p *Pipeline) Process(ctx context.Context, m *messaging.Message) Outcome {
	outcome := Outcome{DeviceID: m.DeviceID, Reached: StageReceived}
	if m.DeviceID == "" {
		outcome.Err = fmt.Errorf("%w: missing %s attribute", ErrInvalidMessage, messaging.AttrDeviceID)
		p.logger.WithError(outcome.Err).Warn("dropping message")
		return outcome
	}
	logger := p.logger.WithField("deviceID", m.DeviceID)

	outcome.Keys = images.ObjectKeys(m.DeviceID, m.PublishTime)
	err := p.withTimeout(ctx, p.opts.CallTimeout, func(ctx context.Context) error {
		return p.images.Put(ctx, outcome.Keys.Original, m.Payload, images.ContentTypeJPEG)
	})
	if err != nil {
		return p.fail(logger, outcome, err)
	}
	outcome.Reached = StageStored

	p.notifier.Notify(ctx, notify.ImageParams(
		p.opts.NotifyToken,
		m.DeviceID,
		m.PublishTime,
		images.GCSURI(p.opts.Bucket, outcome.Keys.Original),
		images.GCSURI(p.opts.Bucket, outcome.Keys.Annotated),
	))
	outcome.Reached = StageNotified

	var current *deviceconfig.DeviceConfig
	err = p.withTimeout(ctx, p.opts.ConfigTimeout, func(ctx context.Context) error {
		current, err = p.configs.GetLatest(ctx, m.DeviceID)
		return err
	})
	if err != nil {
		return p.fail(logger, outcome, err)
	}
	outcome.Reached = StageConfigRead

	var result *inference.PredictionResult
	startTime := time.Now()
	err = p.withTimeout(ctx, p.opts.PredictTimeout, func(ctx context.Context) error {
		result, err = p.predictor.Predict(ctx, p.opts.Project, p.opts.Model, m.Payload)
		return err
	})
	stats.Record(ctx, MInferenceLatencyMs.M(sinceInMilliseconds(startTime)))
	if err == nil && result == nil {
		err = fmt.Errorf("%w: empty prediction result", inference.ErrMalformedResponse)
	}
	if err != nil {
		return p.fail(logger, outcome, err)
	}
	if len(result.ClassIDs) != len(result.Scores) {
		logger.Warnf("prediction has %d classes and %d scores", len(result.ClassIDs), len(result.Scores))
	}
	outcome.Detections = inference.Detections(result, p.opts.Labels, p.opts.MinScore)
	outcome.Reached = StageInferred
	logger.Infof("detections: %v", outcome.Detections)

	outcome.TargetURL = p.rules.TargetURL(outcome.Detections)
	outcome.Decision = Decide(current, outcome.TargetURL, p.now(), p.opts.Debounce)
	if outcome.Decision == DecisionUpdate {
		logger.Infof("URL change : %s", outcome.TargetURL)
		current.DashboardURL = outcome.TargetURL
		err = p.withTimeout(ctx, p.opts.ConfigTimeout, func(ctx context.Context) error {
			return p.configs.Set(ctx, m.DeviceID, current)
		})
		if err != nil {
			return p.fail(logger, outcome, err)
		}
	} else {
		logger.Debugf("dashboard %s: %s", outcome.Decision, outcome.TargetURL)
	}
	outcome.Reached = StageConfigMaybeUpdated
	return outcome
}

func (p *Pipeline) fail(logger *log.Entry, outcome Outcome, err error) Outcome {
	outcome.Err = err
	logger.WithError(err).Errorf("%s failed, skipping message", outcome.FailedStage())
	return outcome
}

func (p *Pipeline) withTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

package pipeline

import (
	"errors"

	"com.aviebrantz.vision-router/pkg/core/store/images"
	"com.aviebrantz.vision-router/pkg/inference"
)

// ErrInvalidMessage marks messages that can never be processed.
var ErrInvalidMessage = errors.New("invalid message")

// Stage is a step of the per message workflow.
type Stage int

const (
	StageReceived Stage = iota
	StageStored
	StageNotified
	StageConfigRead
	StageInferred
	StageConfigMaybeUpdated
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageStored:
		return "stored"
	case StageNotified:
		return "notified"
	case StageConfigRead:
		return "config_read"
	case StageInferred:
		return "inferred"
	case StageConfigMaybeUpdated:
		return "config_maybe_updated"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one message. Reached is the last
// stage completed; when Err is set the stage after it failed and the rest
// of the workflow was skipped.
type Outcome struct {
	DeviceID   string
	Keys       images.Keys
	Reached    Stage
	Err        error
	Detections []inference.Detection
	TargetURL  string
	Decision   Decision
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// FailedStage is the stage that did not complete.
func (o Outcome) FailedStage() Stage {
	if errors.Is(o.Err, ErrInvalidMessage) {
		return StageReceived
	}
	return o.Reached + 1
}

// Redeliverable reports whether holding the message back for redelivery
// could lead to a different result.
func (o Outcome) Redeliverable() bool {
	return o.Err != nil && !errors.Is(o.Err, ErrInvalidMessage)
}

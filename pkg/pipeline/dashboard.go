package pipeline

import (
	"time"

	"com.aviebrantz.vision-router/pkg/core/store/deviceconfig"
	"com.aviebrantz.vision-router/pkg/inference"
)

type Rule struct {
	Label string
	URL   string
}

// DashboardRules map detections to the content a device displays. Rules
// are checked in order and the first label present wins, whatever its score.
type DashboardRules struct {
	Rules   []Rule
	Default string
}

func (r DashboardRules) TargetURL(detections []inference.Detection) string {
	for _, rule := range r.Rules {
		for _, d := range detections {
			if d.Label == rule.Label {
				return rule.URL
			}
		}
	}
	return r.Default
}

type Decision int

const (
	DecisionNone Decision = iota
	DecisionUnchanged
	DecisionDebounced
	DecisionUpdate
)

func (d Decision) String() string {
	switch d {
	case DecisionUnchanged:
		return "unchanged"
	case DecisionDebounced:
		return "debounced"
	case DecisionUpdate:
		return "updated"
	default:
		return "none"
	}
}

// Decide tells whether the device configuration must be rewritten to show
// target. Writes closer than debounce to the previous one are suppressed.
func Decide(current *deviceconfig.DeviceConfig, target string, now time.Time, debounce time.Duration) Decision {
	if current.DashboardURL == target {
		return DecisionUnchanged
	}
	if now.Sub(current.UpdatedAt) < debounce {
		return DecisionDebounced
	}
	return DecisionUpdate
}

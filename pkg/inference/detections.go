package inference

import (
	"fmt"
)

// DefaultMinScore is the score a detection must exceed to be kept.
const DefaultMinScore = 0.2

type Detection struct {
	Label string
	Score float64
}

// Detections pairs class ids with scores, keeps the pairs scoring strictly
// above minScore and names them with labels. Ids missing from the table
// are kept as "unknown-<id>".
func Detections(result *PredictionResult, labels map[int]string, minScore float64) []Detection {
	if result == nil {
		return nil
	}

	n := len(result.ClassIDs)
	if len(result.Scores) < n {
		n = len(result.Scores)
	}

	out := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		score := result.Scores[i]
		if score <= minScore {
			continue
		}
		out = append(out, Detection{
			Label: Label(labels, result.ClassIDs[i]),
			Score: score,
		})
	}
	return out
}

func Label(labels map[int]string, id int) string {
	if name, ok := labels[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown-%d", id)
}

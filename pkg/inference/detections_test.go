package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectionsFiltersByScore(t *testing.T) {
	result := &PredictionResult{
		ClassIDs: []int{53, 52, 48, 1},
		Scores:   []float64{0.9, 0.2, 0.2000001, 0.1},
	}

	got := Detections(result, COCOLabels, DefaultMinScore)
	assert.Equal(t, []Detection{
		{Label: "apple", Score: 0.9},
		{Label: "fork", Score: 0.2000001},
	}, got)
}

func TestDetectionsUnknownClassPassesThrough(t *testing.T) {
	result := &PredictionResult{
		ClassIDs: []int{12, 999},
		Scores:   []float64{0.5, 0.6},
	}

	got := Detections(result, COCOLabels, DefaultMinScore)
	assert.Equal(t, []Detection{
		{Label: "unknown-12", Score: 0.5},
		{Label: "unknown-999", Score: 0.6},
	}, got)
}

func TestDetectionsMismatchedLengths(t *testing.T) {
	result := &PredictionResult{
		ClassIDs: []int{53, 52, 1},
		Scores:   []float64{0.9, 0.8},
	}

	got := Detections(result, COCOLabels, DefaultMinScore)
	assert.Len(t, got, 2)
}

func TestDetectionsNilResult(t *testing.T) {
	assert.Empty(t, Detections(nil, COCOLabels, DefaultMinScore))
}

func TestLabelTable(t *testing.T) {
	assert.Equal(t, "apple", Label(COCOLabels, 53))
	assert.Equal(t, "banana", Label(COCOLabels, 52))
	assert.Equal(t, "toothbrush", Label(COCOLabels, 90))
	assert.Len(t, COCOLabels, 80)
}

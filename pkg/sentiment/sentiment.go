// Package sentiment implements the sentiment compatibility gate applied before
// any similarity comparison.
package sentiment

import "github.com/soundprediction/newsdedup/pkg/types"

// DefaultMaxIntensityDiff is the largest intensity gap two duplicates may have.
const DefaultMaxIntensityDiff = 2

// Gate decides whether two sentiments may belong to the same event.
// A compatible pair is only a precondition for a duplicate verdict.
type Gate struct {
	MaxIntensityDiff int
}

// NewGate returns a gate with the given tolerance; negative values use the default.
func NewGate(maxIntensityDiff int) Gate {
	if maxIntensityDiff < 0 {
		maxIntensityDiff = DefaultMaxIntensityDiff
	}
	return Gate{MaxIntensityDiff: maxIntensityDiff}
}

// Compatible reports equal polarity and an intensity gap within tolerance.
func (g Gate) Compatible(a, b types.Sentiment) bool {
	if a.Polarity != b.Polarity {
		return false
	}
	return IntensityDiff(a, b) <= g.MaxIntensityDiff
}

// IntensityDiff returns |a.Intensity - b.Intensity|.
func IntensityDiff(a, b types.Sentiment) int {
	d := a.Intensity - b.Intensity
	if d < 0 {
		return -d
	}
	return d
}

// NormalizedDiff maps the intensity gap onto [0, 1].
func NormalizedDiff(a, b types.Sentiment) float64 {
	return float64(IntensityDiff(a, b)) / float64(types.MaxIntensity)
}

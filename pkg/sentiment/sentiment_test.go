package sentiment

import (
	"testing"

	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestGateCompatible(t *testing.T) {
	pos := func(i int) types.Sentiment { return types.Sentiment{Polarity: types.PolarityPositive, Intensity: i} }
	neg := func(i int) types.Sentiment { return types.Sentiment{Polarity: types.PolarityNegative, Intensity: i} }

	tests := []struct {
		name string
		a, b types.Sentiment
		want bool
	}{
		{"same", pos(5), pos(5), true},
		{"within tolerance", pos(5), pos(7), true},
		{"within tolerance reversed", pos(7), pos(5), true},
		{"beyond tolerance", pos(5), pos(8), false},
		{"polarity differs", pos(5), neg(5), false},
		{"neutral vs positive", types.Sentiment{Polarity: types.PolarityNeutral, Intensity: 5}, pos(5), false},
	}

	g := NewGate(DefaultMaxIntensityDiff)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Compatible(tt.a, tt.b))
		})
	}
}

func TestNewGateDefault(t *testing.T) {
	assert.Equal(t, DefaultMaxIntensityDiff, NewGate(-1).MaxIntensityDiff)
	assert.Equal(t, 0, NewGate(0).MaxIntensityDiff)
}

func TestNormalizedDiff(t *testing.T) {
	a := types.Sentiment{Polarity: types.PolarityPositive, Intensity: 3}
	b := types.Sentiment{Polarity: types.PolarityPositive, Intensity: 5}
	assert.InDelta(t, 0.2, NormalizedDiff(a, b), 1e-9)
}

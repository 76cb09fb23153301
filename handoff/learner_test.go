package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/relaydesk/relay/types"
)

var routeAB = types.Route{Source: "A", Target: "B"}

func TestPatternLearner_InertBelowMinSamples(t *testing.T) {
	l := NewPatternLearner(DefaultLearnerConfig(), zap.NewNop())

	// 9 outcomes, all successful: still below the 10-sample minimum.
	for i := 0; i < 9; i++ {
		l.RecordOutcome(routeAB, true)
	}

	assert.Equal(t, 0.0, l.AdjustmentFor(routeAB))
	threshold, adjusted := l.EffectiveThreshold(routeAB)
	assert.False(t, adjusted)
	assert.Equal(t, l.BaseThreshold(routeAB), threshold)
}

func TestPatternLearner_LowersThresholdOnHighSuccess(t *testing.T) {
	l := NewPatternLearner(DefaultLearnerConfig(), zap.NewNop())

	// 11 outcomes for route (A,B) with 9 successes: 81.8% > 80%.
	for i := 0; i < 9; i++ {
		l.RecordOutcome(routeAB, true)
	}
	l.RecordOutcome(routeAB, false)
	l.RecordOutcome(routeAB, false)
	l.RecordOutcome(routeAB, true)
	l.RecordOutcome(routeAB, true)

	rate, samples := l.SuccessRate(routeAB)
	require.Equal(t, 13, samples)
	require.Greater(t, rate, 0.80)

	assert.Equal(t, -0.05, l.AdjustmentFor(routeAB))
	threshold, adjusted := l.EffectiveThreshold(routeAB)
	assert.True(t, adjusted)
	assert.InDelta(t, l.BaseThreshold(routeAB)-0.05, threshold, 1e-9)
}

func TestPatternLearner_NineOfElevenLowers(t *testing.T) {
	l := NewPatternLearner(DefaultLearnerConfig(), zap.NewNop())

	// 11 recorded outcomes with 9 successes: 81.8% success rate.
	for i := 0; i < 11; i++ {
		l.RecordOutcome(routeAB, i >= 2)
	}

	_, samples := l.SuccessRate(routeAB)
	require.Equal(t, 11, samples)
	threshold, adjusted := l.EffectiveThreshold(routeAB)
	assert.True(t, adjusted)
	assert.InDelta(t, l.BaseThreshold(routeAB)-0.05, threshold, 1e-9)
}

func TestPatternLearner_RaisesThresholdOnLowSuccess(t *testing.T) {
	l := NewPatternLearner(DefaultLearnerConfig(), zap.NewNop())

	for i := 0; i < 12; i++ {
		l.RecordOutcome(routeAB, i%3 == 0) // 33% success
	}

	assert.Equal(t, 0.10, l.AdjustmentFor(routeAB))
	threshold, adjusted := l.EffectiveThreshold(routeAB)
	assert.True(t, adjusted)
	assert.InDelta(t, l.BaseThreshold(routeAB)+0.10, threshold, 1e-9)
}

func TestPatternLearner_NoChangeInMiddleBand(t *testing.T) {
	l := NewPatternLearner(DefaultLearnerConfig(), zap.NewNop())

	for i := 0; i < 20; i++ {
		l.RecordOutcome(routeAB, i%3 != 0) // ~66% success
	}

	assert.Equal(t, 0.0, l.AdjustmentFor(routeAB))
}

func TestPatternLearner_RollingWindowEvictsOldOutcomes(t *testing.T) {
	cfg := DefaultLearnerConfig()
	cfg.WindowSize = 10
	l := NewPatternLearner(cfg, zap.NewNop())

	// Fill the window with failures, then push them out with successes.
	for i := 0; i < 10; i++ {
		l.RecordOutcome(routeAB, false)
	}
	for i := 0; i < 10; i++ {
		l.RecordOutcome(routeAB, true)
	}

	rate, samples := l.SuccessRate(routeAB)
	assert.Equal(t, 10, samples)
	assert.Equal(t, 1.0, rate)
}

func TestPatternLearner_Reset(t *testing.T) {
	l := NewPatternLearner(DefaultLearnerConfig(), zap.NewNop())
	for i := 0; i < 15; i++ {
		l.RecordOutcome(routeAB, true)
	}
	l.Reset()

	_, samples := l.SuccessRate(routeAB)
	assert.Equal(t, 0, samples)
	assert.Equal(t, 0.0, l.AdjustmentFor(routeAB))
}

// The effective threshold must stay within [0,1] for any base threshold and
// any outcome sequence.
func TestPatternLearner_EffectiveThresholdBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultLearnerConfig()
		cfg.DefaultBase = rapid.Float64Range(0, 1).Draw(t, "base")
		cfg.Bases = nil
		l := NewPatternLearner(cfg, zap.NewNop())

		n := rapid.IntRange(0, 60).Draw(t, "outcomes")
		for i := 0; i < n; i++ {
			l.RecordOutcome(routeAB, rapid.Bool().Draw(t, "success"))
		}

		threshold, _ := l.EffectiveThreshold(routeAB)
		if threshold < 0 || threshold > 1 {
			t.Fatalf("effective threshold %v outside [0,1]", threshold)
		}
	})
}

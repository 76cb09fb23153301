package handoff

import (
	"sync"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/types"
)

// LearnerConfig configures the pattern learner and the route threshold table.
type LearnerConfig struct {
	// DefaultBase is the base threshold for routes without an explicit entry.
	DefaultBase float64 `yaml:"default_base" json:"default_base"`

	// Bases maps "source->target" routes to base thresholds. Cross-domain
	// transfers should carry higher bases than natural reverse flows.
	Bases map[string]float64 `yaml:"bases" json:"bases"`

	// MinSamples is the number of recorded outcomes a route needs before
	// any learned adjustment applies.
	MinSamples int `yaml:"min_samples" json:"min_samples"`

	// WindowSize bounds the per-route outcome log (rolling window).
	WindowSize int `yaml:"window_size" json:"window_size"`

	// LowerAbove / LowerBy: success rate above which the threshold drops,
	// and by how much.
	LowerAbove float64 `yaml:"lower_above" json:"lower_above"`
	LowerBy    float64 `yaml:"lower_by" json:"lower_by"`

	// RaiseBelow / RaiseBy: success rate below which the threshold rises,
	// and by how much.
	RaiseBelow float64 `yaml:"raise_below" json:"raise_below"`
	RaiseBy    float64 `yaml:"raise_by" json:"raise_by"`
}

// DefaultLearnerConfig returns the default learner configuration.
// Cross-domain routes (buyer->seller) are harder to get right than natural
// flows ("finished selling, now wants to buy"), so they carry higher bases.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		DefaultBase: 0.70,
		Bases: map[string]float64{
			"intake->seller": 0.70,
			"intake->buyer":  0.70,
			"seller->buyer":  0.65,
			"buyer->seller":  0.75,
			"seller->intake": 0.80,
			"buyer->intake":  0.80,
		},
		MinSamples: 10,
		WindowSize: 50,
		LowerAbove: 0.80,
		LowerBy:    0.05,
		RaiseBelow: 0.50,
		RaiseBy:    0.10,
	}
}

// routeState is the mutable per-route learning state. Outcomes form a ring
// so the success rate reflects only the recent window.
type routeState struct {
	outcomes  []bool
	next      int
	filled    bool
	successes int
}

func (s *routeState) record(success bool, window int) {
	if len(s.outcomes) < window && !s.filled {
		s.outcomes = append(s.outcomes, success)
		if success {
			s.successes++
		}
		if len(s.outcomes) == window {
			s.filled = true
		}
		return
	}
	if s.outcomes[s.next] {
		s.successes--
	}
	s.outcomes[s.next] = success
	if success {
		s.successes++
	}
	s.next = (s.next + 1) % len(s.outcomes)
}

func (s *routeState) stats() (rate float64, samples int) {
	samples = len(s.outcomes)
	if samples == 0 {
		return 0, 0
	}
	return float64(s.successes) / float64(samples), samples
}

// PatternLearner computes threshold adjustments from historical handoff
// outcomes. It is a deliberately interpretable reinforcement signal — a pure
// function over an explicit outcome log, not a trained model. What counts as
// a "successful" handoff is judged by the caller and supplied as a boolean
// per outcome.
type PatternLearner struct {
	config LearnerConfig
	routes map[types.Route]*routeState
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewPatternLearner creates a pattern learner.
func NewPatternLearner(config LearnerConfig, logger *zap.Logger) *PatternLearner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 10
	}
	if config.WindowSize < config.MinSamples {
		config.WindowSize = config.MinSamples * 5
	}
	return &PatternLearner{
		config: config,
		routes: make(map[types.Route]*routeState),
		logger: logger.With(zap.String("component", "pattern_learner")),
	}
}

// RecordOutcome records an externally judged handoff outcome for a route.
func (l *PatternLearner) RecordOutcome(route types.Route, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.routes[route]
	if !ok {
		state = &routeState{}
		l.routes[route] = state
	}
	state.record(success, l.config.WindowSize)

	rate, samples := state.stats()
	l.logger.Debug("handoff outcome recorded",
		zap.String("route", route.String()),
		zap.Bool("success", success),
		zap.Float64("success_rate", rate),
		zap.Int("samples", samples),
	)
}

// SuccessRate returns the rolling success rate and sample count for a route.
func (l *PatternLearner) SuccessRate(route types.Route) (rate float64, samples int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	state, ok := l.routes[route]
	if !ok {
		return 0, 0
	}
	return state.stats()
}

// AdjustmentFor returns the learned threshold adjustment for a route.
// Below MinSamples recorded outcomes the adjustment is zero: the base
// threshold is authoritative.
func (l *PatternLearner) AdjustmentFor(route types.Route) float64 {
	rate, samples := l.SuccessRate(route)
	if samples < l.config.MinSamples {
		return 0
	}
	switch {
	case rate > l.config.LowerAbove:
		return -l.config.LowerBy
	case rate < l.config.RaiseBelow:
		return l.config.RaiseBy
	default:
		return 0
	}
}

// BaseThreshold returns the configured base threshold for a route.
func (l *PatternLearner) BaseThreshold(route types.Route) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if base, ok := l.config.Bases[route.String()]; ok {
		return base
	}
	return l.config.DefaultBase
}

// EffectiveThreshold returns the base threshold with any learned adjustment
// applied, clamped to [0,1]. The second return reports whether an adjustment
// was in effect.
func (l *PatternLearner) EffectiveThreshold(route types.Route) (float64, bool) {
	base := l.BaseThreshold(route)
	adj := l.AdjustmentFor(route)
	if adj == 0 {
		return clamp01(base), false
	}
	return clamp01(base + adj), true
}

// Reset drops all recorded outcomes. For test isolation.
func (l *PatternLearner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes = make(map[types.Route]*routeState)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package handoff

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/types"
)

// SignalProfile is a weighted keyword set describing intent markers for one
// target domain. Phrase matching is case-insensitive substring matching over
// recent message content.
type SignalProfile struct {
	Target   string             `yaml:"target" json:"target"`
	Keywords map[string]float64 `yaml:"keywords" json:"keywords"`
}

// DefaultSignalProfiles returns the built-in intent marker sets for the
// standard agent domains.
func DefaultSignalProfiles() map[string]SignalProfile {
	return map[string]SignalProfile{
		"seller": {
			Target: "seller",
			Keywords: map[string]float64{
				"sell my":             0.35,
				"selling my":          0.35,
				"list my":             0.30,
				"home value":          0.25,
				"what's it worth":     0.25,
				"worth today":         0.20,
				"thinking of selling": 0.35,
				"put on the market":   0.30,
			},
		},
		"buyer": {
			Target: "buyer",
			Keywords: map[string]float64{
				"looking to buy":  0.35,
				"want to buy":     0.35,
				"buy a":           0.20,
				"pre-approved":    0.30,
				"preapproved":     0.30,
				"mortgage":        0.20,
				"schedule a tour": 0.30,
				"see the house":   0.25,
				"bedrooms":        0.15,
				"my budget":       0.20,
			},
		},
		"intake": {
			Target: "intake",
			Keywords: map[string]float64{
				"start over":         0.40,
				"different question": 0.25,
				"someone else":       0.25,
			},
		},
	}
}

// EvaluatorConfig configures handoff evaluation.
type EvaluatorConfig struct {
	// HistoryDepth is how many recent messages contribute intent signals.
	HistoryDepth int `yaml:"history_depth" json:"history_depth"`

	// SignalWeight is the blend weight of the computed intent signal score;
	// the candidate's raw confidence carries the remainder.
	SignalWeight float64 `yaml:"signal_weight" json:"signal_weight"`
}

// DefaultEvaluatorConfig returns the default evaluator configuration:
// the last 5 messages, blended 50/50 with the raw confidence.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		HistoryDepth: 5,
		SignalWeight: 0.5,
	}
}

// Evaluator computes a blended confidence score for a candidate handoff and
// compares it against the route's effective threshold.
type Evaluator struct {
	config   EvaluatorConfig
	learner  *PatternLearner
	profiles map[string]SignalProfile
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewEvaluator creates an evaluator backed by the given pattern learner.
func NewEvaluator(config EvaluatorConfig, learner *PatternLearner, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HistoryDepth <= 0 {
		config.HistoryDepth = 5
	}
	if config.SignalWeight <= 0 || config.SignalWeight >= 1 {
		config.SignalWeight = 0.5
	}
	return &Evaluator{
		config:   config,
		learner:  learner,
		profiles: DefaultSignalProfiles(),
		logger:   logger.With(zap.String("component", "handoff_evaluator")),
	}
}

// SetProfile installs or replaces the signal profile for a target domain.
func (e *Evaluator) SetProfile(profile SignalProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles[profile.Target] = profile
}

// Evaluate scores a candidate against the conversation history and decides
// whether the handoff should proceed. Malformed input fails closed: the
// returned decision always has ShouldHandoff=false alongside the error, so a
// caller that ignores the error still keeps the current owner.
func (e *Evaluator) Evaluate(candidate types.HandoffCandidate, history []types.Message) (types.Decision, error) {
	decision := types.Decision{}

	if err := validateCandidate(candidate); err != nil {
		e.logger.Warn("rejecting malformed candidate",
			zap.String("source", candidate.Source),
			zap.String("target", candidate.Target),
			zap.Error(err),
		)
		return decision, err
	}
	if err := validateHistory(history); err != nil {
		e.logger.Warn("rejecting malformed conversation history",
			zap.String("conversation_id", candidate.ConversationID),
			zap.Error(err),
		)
		return decision, err
	}

	signalScore, signals := e.signalScore(candidate.Target, history)

	w := e.config.SignalWeight
	blended := w*signalScore + (1-w)*candidate.Confidence

	route := candidate.Route()
	threshold, adjusted := e.learner.EffectiveThreshold(route)

	decision = types.Decision{
		ShouldHandoff: blended >= threshold,
		BlendedScore:  blended,
		ThresholdUsed: threshold,
		SignalScore:   signalScore,
		Signals:       signals,
	}

	e.logger.Debug("candidate evaluated",
		zap.String("route", route.String()),
		zap.Float64("raw_confidence", candidate.Confidence),
		zap.Float64("signal_score", signalScore),
		zap.Float64("blended_score", blended),
		zap.Float64("threshold", threshold),
		zap.Bool("threshold_adjusted", adjusted),
		zap.Bool("should_handoff", decision.ShouldHandoff),
	)
	return decision, nil
}

// signalScore scans the most recent messages for the target domain's intent
// markers. Matched weights accumulate and are capped at 1.
func (e *Evaluator) signalScore(target string, history []types.Message) (float64, []string) {
	e.mu.RLock()
	profile, ok := e.profiles[target]
	e.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	start := len(history) - e.config.HistoryDepth
	if start < 0 {
		start = 0
	}

	var score float64
	var matched []string
	seen := make(map[string]bool)
	for _, msg := range history[start:] {
		if msg.Role != types.RoleUser {
			continue
		}
		content := strings.ToLower(msg.Content)
		for phrase, weight := range profile.Keywords {
			if seen[phrase] {
				continue
			}
			if strings.Contains(content, phrase) {
				seen[phrase] = true
				matched = append(matched, phrase)
				score += weight
			}
		}
	}
	if score > 1 {
		score = 1
	}
	return score, matched
}

func validateCandidate(c types.HandoffCandidate) error {
	switch {
	case c.Source == "" || c.Target == "":
		return types.NewError(types.ErrInvalidCandidate, "candidate missing source or target agent")
	case c.Source == c.Target:
		return types.NewError(types.ErrInvalidCandidate, "candidate source and target are the same agent")
	case math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1:
		return types.NewError(types.ErrInvalidCandidate, "candidate confidence outside [0,1]")
	}
	return nil
}

// validateHistory checks the user turns the signal scorer reads. Agent turns
// may legitimately be empty (an agent can decline to reply) and are ignored.
func validateHistory(history []types.Message) error {
	for i, msg := range history {
		if msg.Role != types.RoleUser {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			return types.NewError(types.ErrEvaluationFailed,
				fmt.Sprintf("conversation history contains an empty user message at index %d", i))
		}
	}
	return nil
}

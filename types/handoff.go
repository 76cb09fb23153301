package types

import (
	"fmt"
	"time"
)

// HandoffDecision classifies the outcome of a handoff attempt.
type HandoffDecision string

const (
	// DecisionExecuted means the conversation was transferred to the target.
	DecisionExecuted HandoffDecision = "executed"
	// DecisionRejected means the evaluator scored the candidate below the
	// effective threshold.
	DecisionRejected HandoffDecision = "rejected"
	// DecisionBlocked means the safety guard refused the transfer.
	DecisionBlocked HandoffDecision = "blocked"
	// DecisionFailed means the target agent invocation failed; ownership
	// stayed with the source agent.
	DecisionFailed HandoffDecision = "failed"
)

// Route identifies a directed (source, target) agent pair.
type Route struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (r Route) String() string {
	return r.Source + "->" + r.Target
}

// ParseRoute parses a "source->target" string into a Route.
func ParseRoute(s string) (Route, error) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '-' && s[i+1] == '>' {
			if i == 0 || i+2 >= len(s) {
				break
			}
			return Route{Source: s[:i], Target: s[i+2:]}, nil
		}
	}
	return Route{}, fmt.Errorf("invalid route %q, want \"source->target\"", s)
}

// HandoffCandidate is an ephemeral proposal to transfer a conversation.
// It is produced by intent-detection logic, consumed immediately by the
// evaluator and never persisted.
type HandoffCandidate struct {
	ConversationID string    `json:"conversation_id"`
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	Confidence     float64   `json:"confidence"`
	Signals        []string  `json:"signals,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Route returns the directed route of the candidate.
func (c HandoffCandidate) Route() Route {
	return Route{Source: c.Source, Target: c.Target}
}

// HandoffRecord is the durable, append-only outcome of an executed or
// refused handoff. Records are never mutated after creation.
type HandoffRecord struct {
	ID             string          `json:"id" gorm:"primaryKey;size:64"`
	ConversationID string          `json:"conversation_id" gorm:"index;size:64"`
	Source         string          `json:"source" gorm:"size:64"`
	Target         string          `json:"target" gorm:"size:64"`
	BlendedScore   float64         `json:"blended_score"`
	ThresholdUsed  float64         `json:"threshold_used"`
	Decision       HandoffDecision `json:"decision" gorm:"index;size:16"`
	Reason         string          `json:"reason,omitempty" gorm:"size:255"`
	DurationMS     int64           `json:"duration_ms,omitempty"`
	Timestamp      time.Time       `json:"timestamp" gorm:"index"`
}

// Executed reports whether the record describes a completed transfer.
func (r *HandoffRecord) Executed() bool {
	return r.Decision == DecisionExecuted
}

// Temperature is the categorical qualification state carried to the
// receiving agent. The vocabulary follows lead-qualification convention.
type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

// TemperatureForScore maps a 0-100 qualification score to a band.
func TemperatureForScore(score float64) Temperature {
	switch {
	case score >= 70:
		return TemperatureHot
	case score >= 40:
		return TemperatureWarm
	default:
		return TemperatureCold
	}
}

// EnrichedHandoffContext is the payload delivered to the target agent on a
// successful handoff. It is built fresh per handoff by the executor and is
// owned by the receiving agent once delivered.
type EnrichedHandoffContext struct {
	ConversationID     string            `json:"conversation_id"`
	SourceAgent        string            `json:"source_agent"`
	TargetAgent        string            `json:"target_agent"`
	QualificationScore float64           `json:"qualification_score"`
	Temperature        Temperature       `json:"temperature"`
	Qualification      map[string]string `json:"qualification,omitempty"`
	Summary            string            `json:"summary,omitempty"`
	KeyInsights        []string          `json:"key_insights,omitempty"`
	Urgent             bool              `json:"urgent"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Decision is the evaluator's verdict on a candidate.
type Decision struct {
	ShouldHandoff bool     `json:"should_handoff"`
	BlendedScore  float64  `json:"blended_score"`
	ThresholdUsed float64  `json:"threshold_used"`
	SignalScore   float64  `json:"signal_score"`
	Signals       []string `json:"signals,omitempty"`
}

// Authorization is the safety guard's verdict on a candidate. A disallowed
// authorization is an expected outcome, not an error: the conversation simply
// stays with its current owner.
type Authorization struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	release func()
}

// NewAuthorization builds an allowed authorization holding the given lock
// release function.
func NewAuthorization(release func()) Authorization {
	return Authorization{Allowed: true, release: release}
}

// DenyAuthorization builds a refused authorization with a reason code.
func DenyAuthorization(reason string) Authorization {
	return Authorization{Allowed: false, Reason: reason}
}

// Release frees the per-conversation lock held by an allowed authorization.
// It is safe to call on a denied authorization and safe to call twice.
func (a *Authorization) Release() {
	if a.release != nil {
		a.release()
		a.release = nil
	}
}

// Guard rejection reason codes.
const (
	ReasonCircular     = "circular_handoff"
	ReasonRateLimited  = "rate_limited"
	ReasonBusy         = "busy"
	ReasonBelowScore   = "below_threshold"
	ReasonAgentFailure = "agent_invocation_failed"
)

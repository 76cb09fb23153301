package alerting

import (
	"time"
)

// AlertState is the lifecycle state of a firing rule instance.
type AlertState string

const (
	StateOpen         AlertState = "open"
	StateAcknowledged AlertState = "acknowledged"
	StateEscalated    AlertState = "escalated"
	StateResolved     AlertState = "resolved"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one firing instance of a rule. Fields are mutated only by the
// alerting service under its lock; callers receive copies.
type Alert struct {
	ID       string     `json:"id"`
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	State    AlertState `json:"state"`

	OpenedAt       time.Time `json:"opened_at"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	EscalatedAt    time.Time `json:"escalated_at,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`

	// maxLevelSent is the highest escalation level already dispatched,
	// guarding each level against duplicate sends.
	maxLevelSent int
}

// Active reports whether the alert still demands attention.
func (a *Alert) Active() bool {
	return a.State != StateResolved
}

// Age is how long the alert has been open relative to now.
func (a *Alert) Age(now time.Time) time.Duration {
	return now.Sub(a.OpenedAt)
}

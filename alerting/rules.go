package alerting

import (
	"fmt"
	"time"

	"github.com/relaydesk/relay/monitor"
	"github.com/relaydesk/relay/types"
)

// EvalContext is what a rule condition sees on each evaluation pass: the
// current metrics snapshot, the snapshot from the previous pass (for spike
// detection), and the performance tracker for SLA queries.
type EvalContext struct {
	Current  monitor.Snapshot
	Previous monitor.Snapshot
	Tracker  *monitor.PerformanceTracker
	Elapsed  time.Duration
}

// Rule describes one alert condition. Condition returns whether the rule is
// firing and a human-readable message for the alert.
type Rule struct {
	Name      string
	Severity  Severity
	Cooldown  time.Duration
	Condition func(EvalContext) (bool, string)
}

// RuleThresholds tunes the default rule set.
type RuleThresholds struct {
	ErrorRate        float64       `yaml:"error_rate" json:"error_rate"`
	MinInteractions  int64         `yaml:"min_interactions" json:"min_interactions"`
	CacheHitRate     float64       `yaml:"cache_hit_rate" json:"cache_hit_rate"`
	MinCacheLookups  int64         `yaml:"min_cache_lookups" json:"min_cache_lookups"`
	FailureSpike     int64         `yaml:"failure_spike" json:"failure_spike"`
	CircularSpike    int64         `yaml:"circular_spike" json:"circular_spike"`
	RateLimitBreach  int64         `yaml:"rate_limit_breach" json:"rate_limit_breach"`
	AgentErrorStreak int64         `yaml:"agent_error_streak" json:"agent_error_streak"`
	DefaultCooldown  time.Duration `yaml:"default_cooldown" json:"default_cooldown"`
}

// DefaultRuleThresholds returns the default tuning.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		ErrorRate:        0.25,
		MinInteractions:  20,
		CacheHitRate:     0.85,
		MinCacheLookups:  20,
		FailureSpike:     3,
		CircularSpike:    3,
		RateLimitBreach:  5,
		AgentErrorStreak: 5,
		DefaultCooldown:  5 * time.Minute,
	}
}

// DefaultRules builds the standard rule set for the handoff pipeline.
func DefaultRules(th RuleThresholds) []Rule {
	if th.DefaultCooldown <= 0 {
		th.DefaultCooldown = 5 * time.Minute
	}
	return []Rule{
		{
			Name:     "sla_violation",
			Severity: SeverityCritical,
			Cooldown: th.DefaultCooldown,
			Condition: func(ec EvalContext) (bool, string) {
				if ec.Tracker == nil {
					return false, ""
				}
				violated := ec.Tracker.CheckAllSLAs()
				if len(violated) == 0 {
					return false, ""
				}
				v := violated[0]
				return true, fmt.Sprintf("sla violated for %s/%s: %s %v over target %v (%d series total)",
					v.Agent, v.Operation,
					v.Violations[0].Percentile, v.Violations[0].Observed, v.Violations[0].Target,
					len(violated))
			},
		},
		{
			Name:     "elevated_error_rate",
			Severity: SeverityCritical,
			Cooldown: th.DefaultCooldown,
			Condition: func(ec EvalContext) (bool, string) {
				if ec.Current.Interactions < th.MinInteractions {
					return false, ""
				}
				rate := ec.Current.AgentErrorRate()
				if rate <= th.ErrorRate {
					return false, ""
				}
				return true, fmt.Sprintf("agent error rate %.0f%% over %d interactions", rate*100, ec.Current.Interactions)
			},
		},
		{
			Name:     "low_cache_hit_rate",
			Severity: SeverityWarning,
			Cooldown: 10 * time.Minute,
			Condition: func(ec EvalContext) (bool, string) {
				lookups := ec.Current.CacheHits + ec.Current.CacheMisses
				if lookups < th.MinCacheLookups {
					return false, ""
				}
				rate := ec.Current.CacheHitRate()
				if rate >= th.CacheHitRate {
					return false, ""
				}
				return true, fmt.Sprintf("context cache hit rate %.0f%% over %d lookups", rate*100, lookups)
			},
		},
		{
			Name:     "handoff_failure_spike",
			Severity: SeverityCritical,
			Cooldown: th.DefaultCooldown,
			Condition: func(ec EvalContext) (bool, string) {
				delta := ec.Current.HandoffsFailed - ec.Previous.HandoffsFailed
				if delta < th.FailureSpike {
					return false, ""
				}
				return true, fmt.Sprintf("%d handoff invocation failures since last evaluation", delta)
			},
		},
		{
			Name:     "unresponsive_agent",
			Severity: SeverityCritical,
			Cooldown: th.DefaultCooldown,
			Condition: func(ec EvalContext) (bool, string) {
				for agent, errs := range ec.Current.AgentErrors {
					if errs-ec.Previous.AgentErrors[agent] >= th.AgentErrorStreak {
						return true, fmt.Sprintf("agent %q errored %d times since last evaluation", agent, errs-ec.Previous.AgentErrors[agent])
					}
				}
				return false, ""
			},
		},
		{
			Name:     "circular_handoff_spike",
			Severity: SeverityWarning,
			Cooldown: 10 * time.Minute,
			Condition: func(ec EvalContext) (bool, string) {
				cur := ec.Current.GuardRejections[types.ReasonCircular]
				prev := ec.Previous.GuardRejections[types.ReasonCircular]
				if cur-prev < th.CircularSpike {
					return false, ""
				}
				return true, fmt.Sprintf("%d circular-handoff rejections since last evaluation", cur-prev)
			},
		},
		{
			Name:     "rate_limit_breach",
			Severity: SeverityWarning,
			Cooldown: 10 * time.Minute,
			Condition: func(ec EvalContext) (bool, string) {
				cur := ec.Current.GuardRejections[types.ReasonRateLimited]
				prev := ec.Previous.GuardRejections[types.ReasonRateLimited]
				if cur-prev < th.RateLimitBreach {
					return false, ""
				}
				return true, fmt.Sprintf("%d rate-limited handoffs since last evaluation", cur-prev)
			},
		},
	}
}

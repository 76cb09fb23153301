package handoff

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

// GuardConfig configures the safety guard.
type GuardConfig struct {
	// SamePairWindow is how far back a repeated (source,target) pair for
	// the same conversation counts as circular.
	SamePairWindow time.Duration `yaml:"same_pair_window" json:"same_pair_window"`

	// CycleWindow is how far back the conversation's handoff chain is
	// inspected for cycles (e.g. A->B->C->A).
	CycleWindow time.Duration `yaml:"cycle_window" json:"cycle_window"`

	// HourlyLimit / DailyLimit cap executed handoffs per conversation in
	// the trailing hour and day.
	HourlyLimit int `yaml:"hourly_limit" json:"hourly_limit"`
	DailyLimit  int `yaml:"daily_limit" json:"daily_limit"`

	// LockWait bounds how long to wait for the per-conversation lock.
	LockWait time.Duration `yaml:"lock_wait" json:"lock_wait"`
}

// DefaultGuardConfig returns the default guard configuration.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		SamePairWindow: 30 * time.Minute,
		CycleWindow:    30 * time.Minute,
		HourlyLimit:    3,
		DailyLimit:     10,
		LockWait:       30 * time.Second,
	}
}

// SafetyGuard authorizes candidate handoffs. Three independent checks must
// all pass: circular prevention, per-conversation rate limits, and per-
// conversation mutual exclusion. Every rejection is non-fatal: the
// conversation stays with its current owner and processing continues.
type SafetyGuard struct {
	config GuardConfig
	store  persistence.RecordStore
	locks  *LockManager
	logger *zap.Logger
}

// NewSafetyGuard creates a safety guard backed by the handoff history store.
func NewSafetyGuard(config GuardConfig, store persistence.RecordStore, locks *LockManager, logger *zap.Logger) *SafetyGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = NewLockManager()
	}
	return &SafetyGuard{
		config: config,
		store:  store,
		locks:  locks,
		logger: logger.With(zap.String("component", "safety_guard")),
	}
}

// Locks exposes the lock manager so callers sharing the guard can inspect
// or reset lock state in tests.
func (g *SafetyGuard) Locks() *LockManager {
	return g.locks
}

// Authorize runs the three safety checks for a candidate. On success the
// returned authorization holds the per-conversation lock; the caller (the
// executor) must release it. A store failure fails closed.
func (g *SafetyGuard) Authorize(ctx context.Context, candidate types.HandoffCandidate) (types.Authorization, error) {
	now := time.Now()
	lookback := 24 * time.Hour

	history, err := g.store.ForConversation(ctx, candidate.ConversationID, now.Add(-lookback))
	if err != nil {
		return types.DenyAuthorization(types.ReasonBusy),
			types.NewError(types.ErrStoreFailure, "failed to read handoff history").WithCause(err)
	}

	executed := make([]*types.HandoffRecord, 0, len(history))
	for _, r := range history {
		if r.Executed() {
			executed = append(executed, r)
		}
	}

	if reason := g.checkCircular(candidate, executed, now); reason != "" {
		g.logger.Info("handoff blocked: circular",
			zap.String("conversation_id", candidate.ConversationID),
			zap.String("route", candidate.Route().String()),
			zap.String("detail", reason),
		)
		return types.DenyAuthorization(types.ReasonCircular), nil
	}

	if reason := g.checkRate(executed, now); reason != "" {
		g.logger.Info("handoff blocked: rate limited",
			zap.String("conversation_id", candidate.ConversationID),
			zap.String("detail", reason),
		)
		return types.DenyAuthorization(types.ReasonRateLimited), nil
	}

	release, ok := g.locks.TryAcquire(ctx, candidate.ConversationID, g.config.LockWait)
	if !ok {
		g.logger.Info("handoff blocked: conversation busy",
			zap.String("conversation_id", candidate.ConversationID),
		)
		return types.DenyAuthorization(types.ReasonBusy), nil
	}

	return types.NewAuthorization(release), nil
}

// checkCircular rejects a repeat of the same (source,target) pair within
// SamePairWindow, and any handoff whose target already appears in the
// conversation's chain within CycleWindow.
func (g *SafetyGuard) checkCircular(candidate types.HandoffCandidate, executed []*types.HandoffRecord, now time.Time) string {
	pairCutoff := now.Add(-g.config.SamePairWindow)
	cycleCutoff := now.Add(-g.config.CycleWindow)

	visited := make(map[string]bool)
	for _, r := range executed {
		if !r.Timestamp.Before(pairCutoff) &&
			r.Source == candidate.Source && r.Target == candidate.Target {
			return fmt.Sprintf("pair %s repeated within %s", candidate.Route(), g.config.SamePairWindow)
		}
		if !r.Timestamp.Before(cycleCutoff) {
			visited[r.Source] = true
			visited[r.Target] = true
		}
	}
	if visited[candidate.Target] {
		return fmt.Sprintf("target %q already visited in handoff chain", candidate.Target)
	}
	return ""
}

// checkRate enforces the sliding-window per-conversation limits.
func (g *SafetyGuard) checkRate(executed []*types.HandoffRecord, now time.Time) string {
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	var lastHour, lastDay int
	for _, r := range executed {
		if !r.Timestamp.Before(dayAgo) {
			lastDay++
		}
		if !r.Timestamp.Before(hourAgo) {
			lastHour++
		}
	}
	if lastHour >= g.config.HourlyLimit {
		return fmt.Sprintf("%d handoffs in trailing hour (limit %d)", lastHour, g.config.HourlyLimit)
	}
	if lastDay >= g.config.DailyLimit {
		return fmt.Sprintf("%d handoffs in trailing day (limit %d)", lastDay, g.config.DailyLimit)
	}
	return ""
}

// Reset drops lock state. The history store is reset separately.
func (g *SafetyGuard) Reset() {
	g.locks.Reset()
}

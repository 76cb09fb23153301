package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

func newTestGuard(t *testing.T) (*SafetyGuard, persistence.RecordStore) {
	t.Helper()
	store := persistence.NewMemoryRecordStore(persistence.DefaultStoreConfig())
	t.Cleanup(func() { _ = store.Close() })
	return NewSafetyGuard(DefaultGuardConfig(), store, NewLockManager(), nil), store
}

func appendExecuted(t *testing.T, store persistence.RecordStore, conv, source, target string, age time.Duration) {
	t.Helper()
	err := store.Append(context.Background(), &types.HandoffRecord{
		ConversationID: conv,
		Source:         source,
		Target:         target,
		Decision:       types.DecisionExecuted,
		Timestamp:      time.Now().Add(-age),
	})
	require.NoError(t, err)
}

func authorize(t *testing.T, g *SafetyGuard, conv, source, target string) types.Authorization {
	t.Helper()
	auth, err := g.Authorize(context.Background(), types.HandoffCandidate{
		ConversationID: conv,
		Source:         source,
		Target:         target,
		Confidence:     0.9,
		Timestamp:      time.Now(),
	})
	require.NoError(t, err)
	return auth
}

func TestSafetyGuard_AllowsFirstHandoff(t *testing.T) {
	g, _ := newTestGuard(t)

	auth := authorize(t, g, "conv-1", "intake", "seller")
	assert.True(t, auth.Allowed)
	auth.Release()
}

func TestSafetyGuard_RejectsSamePairRepeat(t *testing.T) {
	g, store := newTestGuard(t)
	appendExecuted(t, store, "conv-1", "intake", "seller", 5*time.Minute)

	auth := authorize(t, g, "conv-1", "intake", "seller")
	assert.False(t, auth.Allowed)
	assert.Equal(t, types.ReasonCircular, auth.Reason)
}

func TestSafetyGuard_SamePairAllowedAfterWindow(t *testing.T) {
	g, store := newTestGuard(t)
	appendExecuted(t, store, "conv-1", "intake", "seller", 45*time.Minute)

	auth := authorize(t, g, "conv-1", "intake", "seller")
	assert.True(t, auth.Allowed)
	auth.Release()
}

func TestSafetyGuard_RejectsChainCycle(t *testing.T) {
	g, store := newTestGuard(t)
	// A -> B -> C, then C -> A closes the cycle.
	appendExecuted(t, store, "conv-1", "agent-a", "agent-b", 20*time.Minute)
	appendExecuted(t, store, "conv-1", "agent-b", "agent-c", 10*time.Minute)

	auth := authorize(t, g, "conv-1", "agent-c", "agent-a")
	assert.False(t, auth.Allowed)
	assert.Equal(t, types.ReasonCircular, auth.Reason)
}

func TestSafetyGuard_IgnoresRejectedRecordsForCircular(t *testing.T) {
	g, store := newTestGuard(t)
	err := store.Append(context.Background(), &types.HandoffRecord{
		ConversationID: "conv-1",
		Source:         "intake",
		Target:         "seller",
		Decision:       types.DecisionRejected,
		Timestamp:      time.Now().Add(-5 * time.Minute),
	})
	require.NoError(t, err)

	auth := authorize(t, g, "conv-1", "intake", "seller")
	assert.True(t, auth.Allowed)
	auth.Release()
}

func TestSafetyGuard_HourlyRateLimit(t *testing.T) {
	g, store := newTestGuard(t)
	// Three executed handoffs in the last hour; distinct pairs to keep the
	// circular check out of the way.
	appendExecuted(t, store, "conv-1", "agent-a", "agent-b", 50*time.Minute)
	appendExecuted(t, store, "conv-1", "agent-c", "agent-d", 40*time.Minute)
	appendExecuted(t, store, "conv-1", "agent-e", "agent-f", 35*time.Minute)

	auth := authorize(t, g, "conv-1", "agent-g", "agent-h")
	assert.False(t, auth.Allowed)
	assert.Equal(t, types.ReasonRateLimited, auth.Reason)
}

func TestSafetyGuard_RateLimitRollsOver(t *testing.T) {
	g, store := newTestGuard(t)
	// All three are older than an hour, so the hourly window is clear.
	appendExecuted(t, store, "conv-1", "agent-a", "agent-b", 3*time.Hour)
	appendExecuted(t, store, "conv-1", "agent-c", "agent-d", 2*time.Hour)
	appendExecuted(t, store, "conv-1", "agent-e", "agent-f", 90*time.Minute)

	auth := authorize(t, g, "conv-1", "agent-g", "agent-h")
	assert.True(t, auth.Allowed)
	auth.Release()
}

func TestSafetyGuard_DailyRateLimit(t *testing.T) {
	g, store := newTestGuard(t)
	for i := 0; i < 10; i++ {
		age := time.Duration(2+i) * time.Hour
		appendExecuted(t, store, "conv-1", "agent-a", "agent-b", age)
	}

	auth := authorize(t, g, "conv-1", "agent-x", "agent-y")
	assert.False(t, auth.Allowed)
	assert.Equal(t, types.ReasonRateLimited, auth.Reason)
}

func TestSafetyGuard_RateLimitIsPerConversation(t *testing.T) {
	g, store := newTestGuard(t)
	appendExecuted(t, store, "conv-1", "agent-a", "agent-b", 50*time.Minute)
	appendExecuted(t, store, "conv-1", "agent-c", "agent-d", 40*time.Minute)
	appendExecuted(t, store, "conv-1", "agent-e", "agent-f", 35*time.Minute)

	auth := authorize(t, g, "conv-2", "agent-a", "agent-b")
	assert.True(t, auth.Allowed)
	auth.Release()
}

func TestSafetyGuard_BusyWhenConversationLocked(t *testing.T) {
	store := persistence.NewMemoryRecordStore(persistence.DefaultStoreConfig())
	t.Cleanup(func() { _ = store.Close() })

	config := DefaultGuardConfig()
	config.LockWait = 50 * time.Millisecond
	g := NewSafetyGuard(config, store, NewLockManager(), nil)

	first := authorize(t, g, "conv-1", "intake", "seller")
	require.True(t, first.Allowed)

	second := authorize(t, g, "conv-1", "intake", "buyer")
	assert.False(t, second.Allowed)
	assert.Equal(t, types.ReasonBusy, second.Reason)

	first.Release()

	third := authorize(t, g, "conv-1", "intake", "buyer")
	assert.True(t, third.Allowed)
	third.Release()
}

type failingStore struct {
	persistence.RecordStore
	err error
}

func (f *failingStore) ForConversation(ctx context.Context, conversationID string, since time.Time) ([]*types.HandoffRecord, error) {
	return nil, f.err
}

func TestSafetyGuard_FailsClosedOnStoreError(t *testing.T) {
	store := &failingStore{err: errors.New("connection refused")}
	g := NewSafetyGuard(DefaultGuardConfig(), store, NewLockManager(), nil)

	auth, err := g.Authorize(context.Background(), types.HandoffCandidate{
		ConversationID: "conv-1",
		Source:         "intake",
		Target:         "seller",
		Confidence:     0.9,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreFailure, types.GetErrorCode(err))
	assert.False(t, auth.Allowed)
	assert.False(t, g.Locks().Held("conv-1"))
}

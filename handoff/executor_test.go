package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

type capturingCache struct {
	mu     sync.Mutex
	stored []*types.EnrichedHandoffContext
	err    error
}

func (c *capturingCache) StoreContext(ctx context.Context, hctx *types.EnrichedHandoffContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.stored = append(c.stored, hctx)
	return nil
}

func (c *capturingCache) LoadContext(ctx context.Context, conversationID, targetAgent string) (*types.EnrichedHandoffContext, error) {
	return nil, errors.New("not implemented")
}

type capturingPerf struct {
	mu      sync.Mutex
	entries []perfEntry
}

type perfEntry struct {
	agent     string
	operation string
	success   bool
}

func (p *capturingPerf) Record(agent, operation string, duration time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, perfEntry{agent: agent, operation: operation, success: success})
}

func newTestExecutor(t *testing.T, agents ...types.Agent) (*Executor, *Registry, persistence.RecordStore) {
	t.Helper()
	store := persistence.NewMemoryRecordStore(persistence.DefaultStoreConfig())
	t.Cleanup(func() { _ = store.Close() })

	registry := NewRegistry(zap.NewNop())
	for _, a := range agents {
		registry.Register(a)
	}
	return NewExecutor(DefaultExecutorConfig(), registry, store, zap.NewNop()), registry, store
}

func executedCandidate(conv *types.Conversation, target string) types.HandoffCandidate {
	return types.HandoffCandidate{
		ConversationID: conv.ID,
		Source:         conv.Owner(),
		Target:         target,
		Confidence:     0.9,
		Timestamp:      time.Now(),
	}
}

func passDecision() types.Decision {
	return types.Decision{ShouldHandoff: true, BlendedScore: 0.82, ThresholdUsed: 0.70}
}

func TestExecutor_TransfersOwnershipOnSuccess(t *testing.T) {
	seller := &mockAgent{id: "seller", acceptFn: func(ctx context.Context, hctx *types.EnrichedHandoffContext) (string, error) {
		return "hi, I hear you're thinking of selling", nil
	}}
	x, _, store := newTestExecutor(t, seller)

	conv := types.NewConversation("conv-1", "intake")
	auth := types.NewAuthorization(nil)

	record, reply, err := x.Execute(context.Background(), conv, executedCandidate(conv, "seller"), passDecision(), auth)
	require.NoError(t, err)

	assert.Equal(t, "seller", conv.Owner())
	assert.Equal(t, "hi, I hear you're thinking of selling", reply)
	assert.Equal(t, types.DecisionExecuted, record.Decision)
	assert.NotEmpty(t, record.ID)

	records, err := store.ForConversation(context.Background(), "conv-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.DecisionExecuted, records[0].Decision)
	assert.Equal(t, 0.82, records[0].BlendedScore)
}

func TestExecutor_KeepsOwnerOnInvocationFailure(t *testing.T) {
	seller := &mockAgent{id: "seller", acceptFn: func(ctx context.Context, hctx *types.EnrichedHandoffContext) (string, error) {
		return "", errors.New("model unavailable")
	}}
	x, _, store := newTestExecutor(t, seller)

	conv := types.NewConversation("conv-1", "intake")

	record, reply, err := x.Execute(context.Background(), conv, executedCandidate(conv, "seller"), passDecision(), types.NewAuthorization(nil))
	require.Error(t, err)

	assert.Equal(t, "intake", conv.Owner(), "ownership must not transfer on failure")
	assert.Empty(t, reply)
	assert.Equal(t, types.DecisionFailed, record.Decision)
	assert.Equal(t, types.ReasonAgentFailure, record.Reason)
	assert.Equal(t, types.ErrAgentUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	records, err := store.ForConversation(context.Background(), "conv-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.DecisionFailed, records[0].Decision)
}

func TestExecutor_UnknownTargetRecordsFailure(t *testing.T) {
	x, _, _ := newTestExecutor(t)

	conv := types.NewConversation("conv-1", "intake")
	record, _, err := x.Execute(context.Background(), conv, executedCandidate(conv, "ghost"), passDecision(), types.NewAuthorization(nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
	assert.Equal(t, types.DecisionFailed, record.Decision)
	assert.Equal(t, "intake", conv.Owner())
}

func TestExecutor_ReleasesAuthorizationEvenOnFailure(t *testing.T) {
	x, _, _ := newTestExecutor(t)
	released := false

	conv := types.NewConversation("conv-1", "intake")
	auth := types.NewAuthorization(func() { released = true })

	_, _, err := x.Execute(context.Background(), conv, executedCandidate(conv, "ghost"), passDecision(), auth)
	require.Error(t, err)
	assert.True(t, released)
}

func TestExecutor_StoresEnrichedContext(t *testing.T) {
	seller := &mockAgent{id: "seller"}
	x, _, _ := newTestExecutor(t, seller)
	cache := &capturingCache{}
	x.WithContextCache(cache)

	conv := types.NewConversation("conv-1", "intake")
	conv.SetFact("qualification_score", "85")
	conv.SetFact("timeline", "3 months")
	conv.SetFact("address", "12 Elm St")
	conv.SetSummary("owner exploring a quick sale")

	_, _, err := x.Execute(context.Background(), conv, executedCandidate(conv, "seller"), passDecision(), types.NewAuthorization(nil))
	require.NoError(t, err)

	require.Len(t, cache.stored, 1)
	hctx := cache.stored[0]
	assert.Equal(t, "conv-1", hctx.ConversationID)
	assert.Equal(t, "intake", hctx.SourceAgent)
	assert.Equal(t, "seller", hctx.TargetAgent)
	assert.Equal(t, 85.0, hctx.QualificationScore)
	assert.Equal(t, types.TemperatureHot, hctx.Temperature)
	assert.True(t, hctx.Urgent)
	assert.Equal(t, "owner exploring a quick sale", hctx.Summary)
	assert.Equal(t, []string{"address: 12 Elm St", "timeline: 3 months"}, hctx.KeyInsights)
	// Seller behavior skips re-qualification, so the facts travel along.
	assert.Equal(t, "85", hctx.Qualification["qualification_score"])
}

func TestExecutor_CacheFailureDoesNotFailHandoff(t *testing.T) {
	seller := &mockAgent{id: "seller"}
	x, _, _ := newTestExecutor(t, seller)
	x.WithContextCache(&capturingCache{err: errors.New("redis down")})

	conv := types.NewConversation("conv-1", "intake")
	_, _, err := x.Execute(context.Background(), conv, executedCandidate(conv, "seller"), passDecision(), types.NewAuthorization(nil))
	require.NoError(t, err)
	assert.Equal(t, "seller", conv.Owner())
}

func TestExecutor_RecordsPerformance(t *testing.T) {
	seller := &mockAgent{id: "seller"}
	x, _, _ := newTestExecutor(t, seller)
	perf := &capturingPerf{}
	x.WithPerfRecorder(perf)

	conv := types.NewConversation("conv-1", "intake")
	_, _, err := x.Execute(context.Background(), conv, executedCandidate(conv, "seller"), passDecision(), types.NewAuthorization(nil))
	require.NoError(t, err)

	require.Len(t, perf.entries, 1)
	assert.Equal(t, perfEntry{agent: "seller", operation: "handoff_execute", success: true}, perf.entries[0])
}

func TestExecutor_RecordRefusal(t *testing.T) {
	x, _, store := newTestExecutor(t)

	cand := types.HandoffCandidate{ConversationID: "conv-1", Source: "intake", Target: "seller", Confidence: 0.4}
	dec := types.Decision{ShouldHandoff: false, BlendedScore: 0.45, ThresholdUsed: 0.70}

	record := x.RecordRefusal(context.Background(), cand, dec, types.DecisionRejected, types.ReasonBelowScore)
	assert.Equal(t, types.DecisionRejected, record.Decision)
	assert.Equal(t, types.ReasonBelowScore, record.Reason)

	records, err := store.ForConversation(context.Background(), "conv-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

// Stress: many concurrent attempts on one conversation must serialize through
// the guard's lock, with at most one invocation in flight at a time.
func TestExecutor_ConcurrentAttemptsSerialize(t *testing.T) {
	var inFlight, maxInFlight int64
	slow := &mockAgent{id: "seller", acceptFn: func(ctx context.Context, hctx *types.EnrichedHandoffContext) (string, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "ok", nil
	}}

	store := persistence.NewMemoryRecordStore(persistence.DefaultStoreConfig())
	t.Cleanup(func() { _ = store.Close() })

	registry := NewRegistry(zap.NewNop())
	registry.Register(slow)

	locks := NewLockManager()
	guardConfig := DefaultGuardConfig()
	// Very wide limits so the lock is the only serializer under test.
	guardConfig.HourlyLimit = 1000
	guardConfig.DailyLimit = 1000
	guardConfig.SamePairWindow = 0
	guardConfig.CycleWindow = 0
	guard := NewSafetyGuard(guardConfig, store, locks, zap.NewNop())
	executor := NewExecutor(DefaultExecutorConfig(), registry, store, zap.NewNop())

	conv := types.NewConversation("conv-1", "intake")

	const attempts = 16
	var wg sync.WaitGroup
	var executed int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cand := types.HandoffCandidate{
				ConversationID: "conv-1",
				Source:         "intake",
				Target:         "seller",
				Confidence:     0.9,
			}
			auth, err := guard.Authorize(context.Background(), cand)
			if err != nil || !auth.Allowed {
				return
			}
			if _, _, err := executor.Execute(context.Background(), conv, cand, passDecision(), auth); err == nil {
				atomic.AddInt64(&executed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&maxInFlight), "invocations must never overlap")
	assert.GreaterOrEqual(t, atomic.LoadInt64(&executed), int64(1))
	assert.False(t, locks.Held("conv-1"), "all locks released")
}

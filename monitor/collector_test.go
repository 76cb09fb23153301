package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relay/types"
)

func newTestCollector(t *testing.T) *MetricsCollector {
	t.Helper()
	c := NewMetricsCollector(DefaultCollectorConfig(), nil)
	t.Cleanup(c.Close)
	return c
}

// waitSnapshot polls until the buffered events have been aggregated.
func waitSnapshot(t *testing.T, c *MetricsCollector, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = c.Snapshot()
		return ok(snap)
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestCollector_CountsHandoffOutcomes(t *testing.T) {
	c := newTestCollector(t)

	for _, d := range []types.HandoffDecision{
		types.DecisionExecuted, types.DecisionExecuted,
		types.DecisionRejected,
		types.DecisionFailed,
	} {
		c.RecordHandoff(&types.HandoffRecord{ConversationID: "conv-1", Decision: d})
	}
	c.RecordHandoff(&types.HandoffRecord{
		ConversationID: "conv-1",
		Decision:       types.DecisionBlocked,
		Reason:         types.ReasonCircular,
	})

	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.HandoffAttempts() == 5 })
	assert.Equal(t, int64(2), snap.HandoffsExecuted)
	assert.Equal(t, int64(1), snap.HandoffsRejected)
	assert.Equal(t, int64(1), snap.HandoffsBlocked)
	assert.Equal(t, int64(1), snap.HandoffsFailed)
	assert.Equal(t, int64(1), snap.GuardRejections[types.ReasonCircular])
	assert.InDelta(t, 0.2, snap.HandoffFailureRate(), 1e-9)
}

func TestCollector_CacheHitRate(t *testing.T) {
	c := newTestCollector(t)

	assert.Equal(t, 1.0, c.Snapshot().CacheHitRate(), "no lookups yet")

	for i := 0; i < 9; i++ {
		c.RecordContextCache(true)
	}
	c.RecordContextCache(false)

	snap := waitSnapshot(t, c, func(s Snapshot) bool { return s.CacheHits+s.CacheMisses == 10 })
	assert.InDelta(t, 0.9, snap.CacheHitRate(), 1e-9)
}

func TestCollector_AgentErrorRate(t *testing.T) {
	c := newTestCollector(t)

	for i := 0; i < 10; i++ {
		c.RecordInteraction("conv-1", "seller")
	}
	c.RecordAgentError("seller")
	c.RecordAgentError("seller")

	snap := waitSnapshot(t, c, func(s Snapshot) bool {
		return s.Interactions == 10 && s.AgentErrors["seller"] == 2
	})
	assert.InDelta(t, 0.2, snap.AgentErrorRate(), 1e-9)
}

func TestCollector_DropsUnderBackpressure(t *testing.T) {
	// Tiny buffer, collector stopped so nothing drains.
	c := NewMetricsCollector(CollectorConfig{BufferSize: 2}, nil)
	c.Close()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			c.RecordInteraction("conv-1", "seller")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recording blocked under backpressure")
	}
	assert.Positive(t, c.Snapshot().Dropped)
}

func TestCollector_Reset(t *testing.T) {
	c := newTestCollector(t)
	c.RecordInteraction("conv-1", "seller")
	waitSnapshot(t, c, func(s Snapshot) bool { return s.Interactions == 1 })

	c.Reset()
	snap := c.Snapshot()
	assert.Zero(t, snap.Interactions)
	assert.Zero(t, snap.Dropped)
	assert.Empty(t, snap.GuardRejections)
}

func TestCollector_NilRecordIgnored(t *testing.T) {
	c := newTestCollector(t)
	c.RecordHandoff(nil)
	assert.Zero(t, c.Snapshot().HandoffAttempts())
}

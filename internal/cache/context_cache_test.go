package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relay/types"
)

type countingRecorder struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (r *countingRecorder) RecordContextCache(hit bool) {
	if hit {
		r.hits.Add(1)
	} else {
		r.misses.Add(1)
	}
}

func newTestCache(t *testing.T) (*ContextCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0

	c, err := New(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func testContext() *types.EnrichedHandoffContext {
	return &types.EnrichedHandoffContext{
		ConversationID:     "conv-1",
		SourceAgent:        "intake",
		TargetAgent:        "seller",
		QualificationScore: 85,
		Temperature:        types.TemperatureHot,
		Summary:            "owner exploring a quick sale",
		KeyInsights:        []string{"timeline: 3 months"},
		Urgent:             true,
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
	}
}

func TestContextCache_StoreAndLoad(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.StoreContext(ctx, testContext()))

	got, err := c.LoadContext(ctx, "conv-1", "seller")
	require.NoError(t, err)
	assert.Equal(t, "intake", got.SourceAgent)
	assert.Equal(t, types.TemperatureHot, got.Temperature)
	assert.Equal(t, 85.0, got.QualificationScore)
	assert.True(t, got.Urgent)
}

func TestContextCache_MissIsSentinel(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.LoadContext(context.Background(), "conv-x", "seller")
	require.Error(t, err)
	assert.True(t, IsContextMiss(err))
}

func TestContextCache_EntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.StoreContext(ctx, testContext()))
	mr.FastForward(3 * time.Hour)

	_, err := c.LoadContext(ctx, "conv-1", "seller")
	assert.True(t, IsContextMiss(err))
}

func TestContextCache_KeysAreScopedPerTarget(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.StoreContext(ctx, testContext()))

	_, err := c.LoadContext(ctx, "conv-1", "buyer")
	assert.True(t, IsContextMiss(err))
}

func TestContextCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	first := testContext()
	second := testContext()
	second.TargetAgent = "buyer"
	require.NoError(t, c.StoreContext(ctx, first))
	require.NoError(t, c.StoreContext(ctx, second))

	require.NoError(t, c.Invalidate(ctx, "conv-1"))

	_, err := c.LoadContext(ctx, "conv-1", "seller")
	assert.True(t, IsContextMiss(err))
	_, err = c.LoadContext(ctx, "conv-1", "buyer")
	assert.True(t, IsContextMiss(err))
}

func TestContextCache_RecordsLookups(t *testing.T) {
	c, _ := newTestCache(t)
	recorder := &countingRecorder{}
	c.WithHitRecorder(recorder)
	ctx := context.Background()

	require.NoError(t, c.StoreContext(ctx, testContext()))
	_, err := c.LoadContext(ctx, "conv-1", "seller")
	require.NoError(t, err)
	_, _ = c.LoadContext(ctx, "conv-2", "seller")

	assert.Equal(t, int64(1), recorder.hits.Load())
	assert.Equal(t, int64(1), recorder.misses.Load())
}

func TestContextCache_RejectsIncompleteContext(t *testing.T) {
	c, _ := newTestCache(t)
	assert.Error(t, c.StoreContext(context.Background(), nil))
	assert.Error(t, c.StoreContext(context.Background(), &types.EnrichedHandoffContext{ConversationID: "conv-1"}))
}

func TestContextCache_ClosedErrors(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Close())

	assert.Error(t, c.StoreContext(context.Background(), testContext()))
	_, err := c.LoadContext(context.Background(), "conv-1", "seller")
	assert.Error(t, err)
	assert.False(t, IsContextMiss(err))
}

package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/types"
)

// Snapshot is a point-in-time aggregate of pipeline events, consumed by the
// alerting service. Counters are cumulative since the last Reset.
type Snapshot struct {
	Interactions     int64            `json:"interactions"`
	HandoffsExecuted int64            `json:"handoffs_executed"`
	HandoffsRejected int64            `json:"handoffs_rejected"`
	HandoffsBlocked  int64            `json:"handoffs_blocked"`
	HandoffsFailed   int64            `json:"handoffs_failed"`
	GuardRejections  map[string]int64 `json:"guard_rejections"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	AgentErrors      map[string]int64 `json:"agent_errors"`
	Dropped          int64            `json:"dropped"`
	TakenAt          time.Time        `json:"taken_at"`
}

// HandoffAttempts is the total number of handoff decisions recorded.
func (s Snapshot) HandoffAttempts() int64 {
	return s.HandoffsExecuted + s.HandoffsRejected + s.HandoffsBlocked + s.HandoffsFailed
}

// HandoffFailureRate is the share of attempts that failed at invocation.
// Zero when nothing has been attempted.
func (s Snapshot) HandoffFailureRate() float64 {
	total := s.HandoffAttempts()
	if total == 0 {
		return 0
	}
	return float64(s.HandoffsFailed) / float64(total)
}

// CacheHitRate is the context cache hit ratio, or 1 when the cache has not
// been consulted.
func (s Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 1
	}
	return float64(s.CacheHits) / float64(total)
}

// AgentErrorRate is the share of interactions that ended in an agent error.
func (s Snapshot) AgentErrorRate() float64 {
	if s.Interactions == 0 {
		return 0
	}
	var errors int64
	for _, n := range s.AgentErrors {
		errors += n
	}
	return float64(errors) / float64(s.Interactions)
}

type eventKind int

const (
	evInteraction eventKind = iota
	evHandoff
	evGuardRejection
	evCacheHit
	evCacheMiss
	evAgentError
)

type event struct {
	kind    eventKind
	label   string
	outcome types.HandoffDecision
}

// CollectorConfig configures the metrics collector.
type CollectorConfig struct {
	// BufferSize is the event channel capacity. Events beyond it are
	// dropped rather than blocking the caller.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultCollectorConfig returns the default collector configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{BufferSize: 4096}
}

// MetricsCollector is a non-blocking event recorder. Recording never stalls
// conversation processing: events flow through a buffered channel to a single
// aggregation goroutine, and are dropped (counted) when the buffer is full.
type MetricsCollector struct {
	events    chan event
	dropped   atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMetricsCollector creates and starts a collector. Call Close to stop the
// aggregation goroutine.
func NewMetricsCollector(config CollectorConfig, logger *zap.Logger) *MetricsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}
	c := &MetricsCollector{
		events: make(chan event, config.BufferSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "metrics_collector")),
	}
	c.snapshot = emptySnapshot()
	go c.run()
	return c
}

func emptySnapshot() Snapshot {
	return Snapshot{
		GuardRejections: make(map[string]int64),
		AgentErrors:     make(map[string]int64),
	}
}

func (c *MetricsCollector) run() {
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
		case <-c.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case ev := <-c.events:
					c.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *MetricsCollector) apply(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.kind {
	case evInteraction:
		c.snapshot.Interactions++
	case evHandoff:
		switch ev.outcome {
		case types.DecisionExecuted:
			c.snapshot.HandoffsExecuted++
		case types.DecisionRejected:
			c.snapshot.HandoffsRejected++
		case types.DecisionBlocked:
			c.snapshot.HandoffsBlocked++
		case types.DecisionFailed:
			c.snapshot.HandoffsFailed++
		}
	case evGuardRejection:
		c.snapshot.GuardRejections[ev.label]++
	case evCacheHit:
		c.snapshot.CacheHits++
	case evCacheMiss:
		c.snapshot.CacheMisses++
	case evAgentError:
		c.snapshot.AgentErrors[ev.label]++
	}
}

// offer enqueues an event without blocking; a full buffer drops it.
func (c *MetricsCollector) offer(ev event) {
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// RecordInteraction counts one processed conversation turn.
func (c *MetricsCollector) RecordInteraction(conversationID, agent string) {
	c.offer(event{kind: evInteraction, label: agent})
}

// RecordHandoff counts a handoff outcome. Blocked outcomes also count as a
// guard rejection under the record's reason code.
func (c *MetricsCollector) RecordHandoff(record *types.HandoffRecord) {
	if record == nil {
		return
	}
	c.offer(event{kind: evHandoff, outcome: record.Decision})
	if record.Decision == types.DecisionBlocked && record.Reason != "" {
		c.offer(event{kind: evGuardRejection, label: record.Reason})
	}
}

// RecordGuardRejection counts a guard refusal by reason code.
func (c *MetricsCollector) RecordGuardRejection(reason string) {
	c.offer(event{kind: evGuardRejection, label: reason})
}

// RecordContextCache counts a context cache lookup.
func (c *MetricsCollector) RecordContextCache(hit bool) {
	if hit {
		c.offer(event{kind: evCacheHit})
	} else {
		c.offer(event{kind: evCacheMiss})
	}
}

// RecordAgentError counts an agent-level processing error.
func (c *MetricsCollector) RecordAgentError(agent string) {
	c.offer(event{kind: evAgentError, label: agent})
}

// Snapshot returns a copy of the current aggregate. Pending buffered events
// may not yet be reflected.
func (c *MetricsCollector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.snapshot
	out.GuardRejections = copyCounts(c.snapshot.GuardRejections)
	out.AgentErrors = copyCounts(c.snapshot.AgentErrors)
	out.Dropped = c.dropped.Load()
	out.TakenAt = time.Now()
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Reset zeroes all counters.
func (c *MetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = emptySnapshot()
	c.dropped.Store(0)
}

// Close stops the aggregation goroutine after draining buffered events.
func (c *MetricsCollector) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

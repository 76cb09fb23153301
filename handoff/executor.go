package handoff

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

// ContextCache stores enriched handoff contexts so a receiving agent can
// recover them after a restart. Implementations are best-effort: a cache
// failure never fails the handoff.
type ContextCache interface {
	StoreContext(ctx context.Context, hctx *types.EnrichedHandoffContext) error
	LoadContext(ctx context.Context, conversationID, targetAgent string) (*types.EnrichedHandoffContext, error)
}

// PerfRecorder receives latency samples for executed operations.
// Satisfied by monitor.Tracker.
type PerfRecorder interface {
	Record(agent, operation string, duration time.Duration, success bool)
}

// EventRecorder receives discrete handoff events. Satisfied by
// monitor.Collector.
type EventRecorder interface {
	RecordHandoff(record *types.HandoffRecord)
}

// ContextBuilder builds the enriched payload delivered to the target agent.
// The default builder derives qualification, temperature and urgency from
// the conversation's structured facts.
type ContextBuilder func(conv *types.Conversation, candidate types.HandoffCandidate, behavior Behavior) *types.EnrichedHandoffContext

// ExecutorConfig configures handoff execution.
type ExecutorConfig struct {
	// InvokeTimeout bounds the target agent invocation. On timeout the
	// invocation counts as failed and ownership stays with the source.
	InvokeTimeout time.Duration `yaml:"invoke_timeout" json:"invoke_timeout"`
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{InvokeTimeout: 10 * time.Second}
}

// Executor performs authorized transfers: it builds the enriched context,
// invokes the target agent's intake entry point, updates ownership and
// appends the durable record. Ownership transfers atomically only after a
// successful invocation, so an abandoned attempt leaves no partial state.
type Executor struct {
	config    ExecutorConfig
	registry  *Registry
	store     persistence.RecordStore
	behaviors BehaviorTable
	builder   ContextBuilder

	cache   ContextCache  // optional
	perf    PerfRecorder  // optional
	events  EventRecorder // optional
	logger  *zap.Logger
}

// NewExecutor creates a handoff executor.
func NewExecutor(config ExecutorConfig, registry *Registry, store persistence.RecordStore, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 10 * time.Second
	}
	return &Executor{
		config:    config,
		registry:  registry,
		store:     store,
		behaviors: DefaultBehaviorTable(),
		builder:   BuildEnrichedContext,
		logger:    logger.With(zap.String("component", "handoff_executor")),
	}
}

// WithContextCache attaches a best-effort context cache.
func (x *Executor) WithContextCache(cache ContextCache) *Executor {
	x.cache = cache
	return x
}

// WithPerfRecorder attaches a latency sample sink.
func (x *Executor) WithPerfRecorder(perf PerfRecorder) *Executor {
	x.perf = perf
	return x
}

// WithEventRecorder attaches a handoff event sink.
func (x *Executor) WithEventRecorder(events EventRecorder) *Executor {
	x.events = events
	return x
}

// WithBehaviorTable replaces the category behavior table.
func (x *Executor) WithBehaviorTable(table BehaviorTable) *Executor {
	x.behaviors = table
	return x
}

// WithContextBuilder replaces the enriched context builder.
func (x *Executor) WithContextBuilder(builder ContextBuilder) *Executor {
	x.builder = builder
	return x
}

// Execute transfers the conversation to the candidate's target agent under
// the lock held by the authorization. It returns the appended record and the
// target agent's opening reply. If the invocation fails the conversation
// ownership is NOT transferred and the failure is recorded; the caller may
// retry or continue with the current agent.
func (x *Executor) Execute(ctx context.Context, conv *types.Conversation, candidate types.HandoffCandidate, decision types.Decision, auth types.Authorization) (*types.HandoffRecord, string, error) {
	defer auth.Release()

	start := time.Now()

	target, err := x.registry.Get(candidate.Target)
	if err != nil {
		record := x.appendRecord(ctx, conv, candidate, decision, types.DecisionFailed, err.Error(), time.Since(start))
		return record, "", err
	}

	behavior := x.behaviors.Resolve(candidate.Target)
	hctx := x.builder(conv, candidate, behavior)

	invokeCtx, cancel := context.WithTimeout(ctx, x.config.InvokeTimeout)
	reply, err := target.AcceptHandoff(invokeCtx, hctx)
	cancel()

	elapsed := time.Since(start)
	if x.perf != nil {
		x.perf.Record(candidate.Target, "handoff_execute", elapsed, err == nil)
	}

	if err != nil {
		x.logger.Warn("target agent invocation failed, keeping current owner",
			zap.String("conversation_id", conv.ID),
			zap.String("route", candidate.Route().String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		record := x.appendRecord(ctx, conv, candidate, decision, types.DecisionFailed, types.ReasonAgentFailure, elapsed)
		return record, "", types.NewError(types.ErrAgentUnavailable, "target agent invocation failed").
			WithCause(err).
			WithRetryable(true).
			WithAgent(candidate.Target)
	}

	// Invocation succeeded: transfer ownership and persist.
	conv.SetOwner(candidate.Target)

	if x.cache != nil {
		if cacheErr := x.cache.StoreContext(ctx, hctx); cacheErr != nil {
			x.logger.Warn("failed to cache handoff context", zap.Error(cacheErr))
		}
	}

	record := x.appendRecord(ctx, conv, candidate, decision, types.DecisionExecuted, "", elapsed)

	x.logger.Info("handoff executed",
		zap.String("conversation_id", conv.ID),
		zap.String("route", candidate.Route().String()),
		zap.Float64("blended_score", decision.BlendedScore),
		zap.Float64("threshold", decision.ThresholdUsed),
		zap.Duration("elapsed", elapsed),
	)
	return record, reply, nil
}

// RecordRefusal appends a rejected or blocked record for a candidate that
// never reached execution.
func (x *Executor) RecordRefusal(ctx context.Context, candidate types.HandoffCandidate, decision types.Decision, outcome types.HandoffDecision, reason string) *types.HandoffRecord {
	record := &types.HandoffRecord{
		ConversationID: candidate.ConversationID,
		Source:         candidate.Source,
		Target:         candidate.Target,
		BlendedScore:   decision.BlendedScore,
		ThresholdUsed:  decision.ThresholdUsed,
		Decision:       outcome,
		Reason:         reason,
		Timestamp:      time.Now(),
	}
	x.persist(ctx, record)
	return record
}

func (x *Executor) appendRecord(ctx context.Context, conv *types.Conversation, candidate types.HandoffCandidate, decision types.Decision, outcome types.HandoffDecision, reason string, elapsed time.Duration) *types.HandoffRecord {
	record := &types.HandoffRecord{
		ConversationID: conv.ID,
		Source:         candidate.Source,
		Target:         candidate.Target,
		BlendedScore:   decision.BlendedScore,
		ThresholdUsed:  decision.ThresholdUsed,
		Decision:       outcome,
		Reason:         reason,
		DurationMS:     elapsed.Milliseconds(),
		Timestamp:      time.Now(),
	}
	x.persist(ctx, record)
	return record
}

func (x *Executor) persist(ctx context.Context, record *types.HandoffRecord) {
	if err := x.store.Append(ctx, record); err != nil {
		// A record write failure must not lose the conversation; log and
		// continue.
		x.logger.Error("failed to append handoff record",
			zap.String("conversation_id", record.ConversationID),
			zap.Error(err),
		)
	}
	if x.events != nil {
		x.events.RecordHandoff(record)
	}
}

// BuildEnrichedContext is the default context builder. Qualification score
// is read from the conversation's "qualification_score" fact; key insights
// are the remaining structured facts rendered as "key: value" pairs.
func BuildEnrichedContext(conv *types.Conversation, candidate types.HandoffCandidate, behavior Behavior) *types.EnrichedHandoffContext {
	facts := conv.FactsCopy()

	score := 0.0
	if raw, ok := facts["qualification_score"]; ok {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			score = parsed
		}
	}

	insights := make([]string, 0, len(facts))
	for k, v := range facts {
		if k == "qualification_score" {
			continue
		}
		insights = append(insights, k+": "+v)
	}
	sort.Strings(insights)

	var qualification map[string]string
	if behavior.SkipQualification {
		qualification = facts
	}

	return &types.EnrichedHandoffContext{
		ConversationID:     conv.ID,
		SourceAgent:        candidate.Source,
		TargetAgent:        candidate.Target,
		QualificationScore: score,
		Temperature:        types.TemperatureForScore(score),
		Qualification:      qualification,
		Summary:            conv.GetSummary(),
		KeyInsights:        insights,
		Urgent:             score >= behavior.UrgentAtScore,
		CreatedAt:          time.Now(),
	}
}

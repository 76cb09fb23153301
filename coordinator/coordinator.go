package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/handoff"
	"github.com/relaydesk/relay/monitor"
	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

// Lifecycle tags delivered by the messaging layer.
const (
	TagStopAutomation  = "stop_automation"
	TagStartQualifying = "start_qualifying"
)

// InboundMessage is the normalized shape of one conversation turn.
type InboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// OutboundMessage is the reply emitted back to the messaging layer.
type OutboundMessage struct {
	ConversationID string `json:"conversation_id"`
	Agent          string `json:"agent"`
	Text           string `json:"text"`

	// HandoffExecuted marks replies produced by a freshly transferred
	// agent rather than the previous owner.
	HandoffExecuted bool `json:"handoff_executed,omitempty"`
}

// TagEvent is a lifecycle tag mutation from the messaging layer.
type TagEvent struct {
	ConversationID string `json:"conversation_id"`
	Tag            string `json:"tag"`
	Added          bool   `json:"added"`
}

// Config configures the coordinator.
type Config struct {
	// DefaultOwner is the agent that owns brand-new conversations.
	DefaultOwner string `yaml:"default_owner" json:"default_owner"`

	// HistoryWindow is how many recent turns are handed to the evaluator.
	HistoryWindow int `yaml:"history_window" json:"history_window"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultOwner:  "intake",
		HistoryWindow: 20,
	}
}

// EvaluationRecorder receives evaluation and handoff observations for
// exported metrics. Satisfied by the Prometheus metrics collector.
type EvaluationRecorder interface {
	RecordEvaluation(route types.Route, decision types.Decision)
	RecordHandoff(record *types.HandoffRecord)
}

// Deps are the injected pipeline services.
type Deps struct {
	Registry  *handoff.Registry
	Evaluator *handoff.Evaluator
	Learner   *handoff.PatternLearner
	Guard     *handoff.SafetyGuard
	Executor  *handoff.Executor
	Store     persistence.RecordStore
	Tracker   *monitor.PerformanceTracker
	Collector *monitor.MetricsCollector
	Detector  CandidateDetector

	// Metrics is the optional Prometheus observation sink.
	Metrics EvaluationRecorder
}

// Coordinator drives conversation processing through the handoff pipeline.
type Coordinator struct {
	config Config
	deps   Deps
	logger *zap.Logger

	mu            sync.RWMutex
	conversations map[string]*types.Conversation
	stopped       map[string]bool
}

// New creates a coordinator. Registry, Evaluator, Guard, and Executor are
// required; the rest degrade gracefully when nil.
func New(config Config, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Registry == nil || deps.Evaluator == nil || deps.Guard == nil || deps.Executor == nil {
		return nil, errors.New("coordinator requires registry, evaluator, guard, and executor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultOwner == "" {
		config.DefaultOwner = "intake"
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = 20
	}
	if deps.Detector == nil {
		deps.Detector = NewKeywordDetector(nil)
	}
	return &Coordinator{
		config:        config,
		deps:          deps,
		logger:        logger.With(zap.String("component", "coordinator")),
		conversations: make(map[string]*types.Conversation),
		stopped:       make(map[string]bool),
	}, nil
}

// Conversation returns the tracked conversation, if any.
func (c *Coordinator) Conversation(id string) (*types.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[id]
	return conv, ok
}

func (c *Coordinator) conversation(id string) *types.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.conversations[id]; ok {
		return conv
	}
	conv := types.NewConversation(id, c.config.DefaultOwner)
	c.conversations[id] = conv
	return conv
}

func (c *Coordinator) automationStopped(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped[id]
}

// ProcessMessage routes one inbound turn to the owning agent, then runs
// candidate detection and, when warranted, the full handoff pipeline. A nil
// reply means automation is stopped for the conversation.
func (c *Coordinator) ProcessMessage(ctx context.Context, msg InboundMessage) (*OutboundMessage, error) {
	if msg.ConversationID == "" || msg.Text == "" {
		return nil, types.NewError(types.ErrInvalidCandidate, "message missing conversation id or text")
	}

	conv := c.conversation(msg.ConversationID)
	if c.automationStopped(msg.ConversationID) {
		c.logger.Debug("automation stopped, ignoring message",
			zap.String("conversation_id", msg.ConversationID))
		return nil, nil
	}

	turn := types.NewMessage(types.RoleUser, msg.Text)
	turn.Sender = msg.Sender
	if !msg.Timestamp.IsZero() {
		turn.Timestamp = msg.Timestamp
	}
	conv.AppendMessage(turn)

	if c.deps.Collector != nil {
		c.deps.Collector.RecordInteraction(conv.ID, conv.Owner())
	}

	owner := conv.Owner()
	agent, err := c.deps.Registry.Get(owner)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := agent.HandleMessage(ctx, conv, msg.Text)
	elapsed := time.Since(start)
	if c.deps.Tracker != nil {
		c.deps.Tracker.Record(owner, "message_handle", elapsed, err == nil)
	}
	if err != nil {
		if c.deps.Collector != nil {
			c.deps.Collector.RecordAgentError(owner)
		}
		return nil, types.NewError(types.ErrAgentUnavailable, "owning agent failed to handle message").
			WithCause(err).
			WithRetryable(true).
			WithAgent(owner)
	}

	out := &OutboundMessage{ConversationID: conv.ID, Agent: owner, Text: reply}

	if candidate, ok := c.deps.Detector.Detect(conv, msg.Text); ok {
		if handoffReply, executed := c.attemptHandoff(ctx, conv, candidate); executed {
			out.Agent = conv.Owner()
			out.Text = handoffReply
			out.HandoffExecuted = true
		}
	}

	agentTurn := types.NewMessage(types.RoleAgent, out.Text)
	agentTurn.Sender = out.Agent
	conv.AppendMessage(agentTurn)

	return out, nil
}

// attemptHandoff runs evaluate → authorize → execute for one candidate.
// Every refusal path records a HandoffRecord and leaves the conversation
// with its current owner.
func (c *Coordinator) attemptHandoff(ctx context.Context, conv *types.Conversation, candidate types.HandoffCandidate) (string, bool) {
	history := conv.RecentMessages(c.config.HistoryWindow)

	decision, err := c.deps.Evaluator.Evaluate(candidate, history)
	if err != nil {
		// Fail closed: bad input never hands off.
		c.logger.Warn("handoff evaluation failed",
			zap.String("conversation_id", conv.ID),
			zap.String("route", candidate.Route().String()),
			zap.Error(err),
		)
		c.deps.Executor.RecordRefusal(ctx, candidate, decision, types.DecisionRejected,
			string(types.GetErrorCode(err)))
		return "", false
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordEvaluation(candidate.Route(), decision)
	}

	if !decision.ShouldHandoff {
		c.deps.Executor.RecordRefusal(ctx, candidate, decision, types.DecisionRejected, types.ReasonBelowScore)
		return "", false
	}

	auth, err := c.deps.Guard.Authorize(ctx, candidate)
	if err != nil {
		c.logger.Error("safety guard failed closed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
	if !auth.Allowed {
		c.deps.Executor.RecordRefusal(ctx, candidate, decision, types.DecisionBlocked, auth.Reason)
		return "", false
	}

	record, reply, err := c.deps.Executor.Execute(ctx, conv, candidate, decision, auth)
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordHandoff(record)
	}
	if err != nil {
		return "", false
	}
	return reply, true
}

// HandleTag applies a lifecycle tag mutation.
func (c *Coordinator) HandleTag(ctx context.Context, ev TagEvent) error {
	if ev.ConversationID == "" || ev.Tag == "" {
		return types.NewError(types.ErrInvalidCandidate, "tag event missing conversation id or tag")
	}

	switch ev.Tag {
	case TagStopAutomation:
		c.mu.Lock()
		c.stopped[ev.ConversationID] = ev.Added
		c.mu.Unlock()
		c.logger.Info("automation toggled",
			zap.String("conversation_id", ev.ConversationID),
			zap.Bool("stopped", ev.Added),
		)
	case TagStartQualifying:
		if ev.Added {
			c.conversation(ev.ConversationID).SetFact("qualifying", "true")
		}
	default:
		c.logger.Debug("ignoring unknown tag",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("tag", ev.Tag),
		)
	}
	return nil
}

// RecordOutcome feeds the pattern learner with an externally judged handoff
// outcome: whether the target agent kept the conversation without an
// immediate reversal or complaint.
func (c *Coordinator) RecordOutcome(route types.Route, success bool) {
	if c.deps.Learner != nil {
		c.deps.Learner.RecordOutcome(route, success)
	}
}

// Reset clears all conversation and pipeline state for test isolation.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.conversations = make(map[string]*types.Conversation)
	c.stopped = make(map[string]bool)
	c.mu.Unlock()

	if c.deps.Learner != nil {
		c.deps.Learner.Reset()
	}
	c.deps.Guard.Reset()
	if c.deps.Tracker != nil {
		c.deps.Tracker.Reset()
	}
	if c.deps.Collector != nil {
		c.deps.Collector.Reset()
	}
	if c.deps.Store != nil {
		return c.deps.Store.Reset(ctx)
	}
	return nil
}

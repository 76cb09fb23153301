// Package relay provides a top-level convenience entry point wiring the full
// handoff coordination pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/relaydesk/relay"
//
//	r, err := relay.New(nil, relay.WithAgents(intake, seller, buyer))
//	out, err := r.ProcessMessage(ctx, coordinator.InboundMessage{...})
//
// A nil config uses defaults: in-memory record store, best-effort context
// cache against a local Redis, no alert channels. Production deployments pass
// a loaded config.Config and run the alert evaluation loop via [Relay.Run].
package relay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/alerting"
	"github.com/relaydesk/relay/config"
	"github.com/relaydesk/relay/coordinator"
	"github.com/relaydesk/relay/handoff"
	"github.com/relaydesk/relay/internal/cache"
	"github.com/relaydesk/relay/monitor"
	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

// Relay bundles the fully wired handoff coordination pipeline.
type Relay struct {
	Registry    *handoff.Registry
	Learner     *handoff.PatternLearner
	Evaluator   *handoff.Evaluator
	Guard       *handoff.SafetyGuard
	Executor    *handoff.Executor
	Store       persistence.RecordStore
	Tracker     *monitor.PerformanceTracker
	Collector   *monitor.MetricsCollector
	Alerts      *alerting.Service
	Coordinator *coordinator.Coordinator

	cfg          *config.Config
	logger       *zap.Logger
	contextCache *cache.ContextCache
	ownStore     bool
}

type options struct {
	logger    *zap.Logger
	agents    []types.Agent
	detector  coordinator.CandidateDetector
	store     persistence.RecordStore
	notifiers []alerting.Notifier
	metrics   coordinator.EvaluationRecorder
}

// Option configures the pipeline created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAgents registers agents at construction time.
func WithAgents(agents ...types.Agent) Option {
	return func(o *options) { o.agents = append(o.agents, agents...) }
}

// WithDetector replaces the default keyword candidate detector.
func WithDetector(d coordinator.CandidateDetector) Option {
	return func(o *options) { o.detector = d }
}

// WithStore injects a pre-built record store. The caller keeps ownership;
// [Relay.Close] will not close it.
func WithStore(s persistence.RecordStore) Option {
	return func(o *options) { o.store = s }
}

// WithNotifiers adds alert notifiers on top of the config's channels.
func WithNotifiers(ns ...alerting.Notifier) Option {
	return func(o *options) { o.notifiers = append(o.notifiers, ns...) }
}

// WithMetrics attaches a Prometheus-style observation sink for evaluations
// and handoff outcomes.
func WithMetrics(m coordinator.EvaluationRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// New wires the complete pipeline from configuration.
func New(cfg *config.Config, opts ...Option) (*Relay, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := o.store
	ownStore := false
	if store == nil {
		var err error
		store, err = persistence.NewRecordStore(cfg.StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create record store: %w", err)
		}
		ownStore = true
	}

	registry := handoff.NewRegistry(logger)
	for _, a := range o.agents {
		registry.Register(a)
	}

	learner := handoff.NewPatternLearner(cfg.Handoff.Learner, logger)
	evaluator := handoff.NewEvaluator(cfg.Handoff.Evaluator, learner, logger)
	guard := handoff.NewSafetyGuard(cfg.Handoff.Guard, store, handoff.NewLockManager(), logger)

	tracker := monitor.NewPerformanceTracker(cfg.Monitor, logger)
	collector := monitor.NewMetricsCollector(monitor.DefaultCollectorConfig(), logger)

	executor := handoff.NewExecutor(cfg.Handoff.Executor, registry, store, logger).
		WithPerfRecorder(tracker).
		WithEventRecorder(collector)

	// Context cache is best-effort: without Redis the pipeline still works,
	// target agents just cannot recover contexts across restarts.
	var contextCache *cache.ContextCache
	if cfg.Redis.Addr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cacheCfg.DB = cfg.Redis.DB
		cacheCfg.PoolSize = cfg.Redis.PoolSize
		if cfg.Redis.ContextTTL > 0 {
			cacheCfg.TTL = cfg.Redis.ContextTTL
		}
		cc, err := cache.New(cacheCfg, logger)
		if err != nil {
			logger.Warn("context cache unavailable, handoffs will not cache contexts",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
		} else {
			contextCache = cc.WithHitRecorder(collector)
			executor = executor.WithContextCache(contextCache)
		}
	}

	notifiers, err := alerting.BuildNotifiers(cfg.Alerting.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to build alert channels: %w", err)
	}
	notifiers = append(notifiers, o.notifiers...)

	alerts := alerting.NewService(
		cfg.Alerting.Service,
		tracker,
		collector,
		alerting.DefaultRules(cfg.Alerting.Service.Thresholds),
		notifiers,
		logger,
	)

	coord, err := coordinator.New(coordinator.DefaultConfig(), coordinator.Deps{
		Registry:  registry,
		Evaluator: evaluator,
		Learner:   learner,
		Guard:     guard,
		Executor:  executor,
		Store:     store,
		Tracker:   tracker,
		Collector: collector,
		Detector:  o.detector,
		Metrics:   o.metrics,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Relay{
		Registry:     registry,
		Learner:      learner,
		Evaluator:    evaluator,
		Guard:        guard,
		Executor:     executor,
		Store:        store,
		Tracker:      tracker,
		Collector:    collector,
		Alerts:       alerts,
		Coordinator:  coord,
		cfg:          cfg,
		logger:       logger,
		contextCache: contextCache,
		ownStore:     ownStore,
	}, nil
}

// RegisterAgent adds an agent after construction.
func (r *Relay) RegisterAgent(a types.Agent) {
	r.Registry.Register(a)
}

// ProcessMessage routes one inbound turn through the pipeline.
func (r *Relay) ProcessMessage(ctx context.Context, msg coordinator.InboundMessage) (*coordinator.OutboundMessage, error) {
	return r.Coordinator.ProcessMessage(ctx, msg)
}

// HandleTag applies a conversation lifecycle tag.
func (r *Relay) HandleTag(ctx context.Context, ev coordinator.TagEvent) error {
	return r.Coordinator.HandleTag(ctx, ev)
}

// RecordOutcome reports an externally judged handoff outcome to the learner.
func (r *Relay) RecordOutcome(route types.Route, success bool) {
	r.Coordinator.RecordOutcome(route, success)
}

// Run blocks evaluating alert rules until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.Alerts.Run(ctx)
}

// Close releases pipeline resources. A store injected via [WithStore] stays
// open.
func (r *Relay) Close() error {
	r.Collector.Close()
	if r.contextCache != nil {
		if err := r.contextCache.Close(); err != nil {
			r.logger.Warn("context cache close failed", zap.Error(err))
		}
	}
	if r.ownStore {
		return r.Store.Close()
	}
	return nil
}

package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relay/monitor"
)

var (
	// ErrAlertNotFound is returned for operations on an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrAlertResolved is returned when acknowledging an alert that has
	// already been resolved.
	ErrAlertResolved = errors.New("alert already resolved")
)

// ServiceConfig configures the alerting service.
type ServiceConfig struct {
	// EvalInterval is how often Run evaluates the rule set.
	EvalInterval time.Duration `yaml:"eval_interval" json:"eval_interval"`

	// EscalateAfterL2 and EscalateAfterL3 are how long an alert may stay
	// unacknowledged before level-2 (re-send all channels) and level-3
	// (paging channels only) escalation.
	EscalateAfterL2 time.Duration `yaml:"escalate_after_l2" json:"escalate_after_l2"`
	EscalateAfterL3 time.Duration `yaml:"escalate_after_l3" json:"escalate_after_l3"`

	// DispatchTimeout bounds each channel send.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" json:"dispatch_timeout"`

	// HistoryLimit caps how many alerts History retains. When exceeded the
	// oldest resolved alerts are dropped first; unresolved alerts are never
	// dropped.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`

	Thresholds RuleThresholds `yaml:"thresholds" json:"thresholds"`
}

// DefaultServiceConfig returns the default alerting configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		EvalInterval:    30 * time.Second,
		EscalateAfterL2: 5 * time.Minute,
		EscalateAfterL3: 15 * time.Minute,
		DispatchTimeout: 10 * time.Second,
		HistoryLimit:    500,
		Thresholds:      DefaultRuleThresholds(),
	}
}

// Service evaluates alert rules against the tracker and collector and drives
// each alert's state machine. One alert per rule may be active at a time.
type Service struct {
	config    ServiceConfig
	rules     []Rule
	notifiers []Notifier
	tracker   *monitor.PerformanceTracker
	collector *monitor.MetricsCollector
	logger    *zap.Logger

	mu           sync.Mutex
	active       map[string]*Alert // keyed by rule name
	lastResolved map[string]time.Time
	history      []*Alert
	prev         monitor.Snapshot
	prevAt       time.Time

	// now is swappable for escalation tests.
	now func() time.Time
}

// NewService creates an alerting service over the given observability
// sources. A nil rule slice installs the default rule set.
func NewService(config ServiceConfig, tracker *monitor.PerformanceTracker, collector *monitor.MetricsCollector, rules []Rule, notifiers []Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EvalInterval <= 0 {
		config.EvalInterval = 30 * time.Second
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 500
	}
	if rules == nil {
		rules = DefaultRules(config.Thresholds)
	}
	return &Service{
		config:       config,
		rules:        rules,
		notifiers:    notifiers,
		tracker:      tracker,
		collector:    collector,
		logger:       logger.With(zap.String("component", "alerting")),
		active:       make(map[string]*Alert),
		lastResolved: make(map[string]time.Time),
		now:          time.Now,
	}
}

// Run evaluates rules on the configured interval until the context ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs one evaluation pass: check every rule, open alerts for
// newly firing conditions, and advance escalation for unacknowledged alerts.
func (s *Service) EvaluateOnce(ctx context.Context) {
	now := s.now()

	var snap monitor.Snapshot
	if s.collector != nil {
		snap = s.collector.Snapshot()
	}

	s.mu.Lock()
	ec := EvalContext{
		Current:  snap,
		Previous: s.prev,
		Tracker:  s.tracker,
		Elapsed:  now.Sub(s.prevAt),
	}
	s.prev = snap
	s.prevAt = now

	var dispatches []dispatch
	for _, rule := range s.rules {
		firing, message := rule.Condition(ec)
		if !firing {
			continue
		}
		if _, exists := s.active[rule.Name]; exists {
			continue
		}
		if resolved, ok := s.lastResolved[rule.Name]; ok && now.Sub(resolved) < rule.Cooldown {
			continue
		}

		alert := &Alert{
			ID:           uuid.New().String(),
			Rule:         rule.Name,
			Severity:     rule.Severity,
			Message:      message,
			State:        StateOpen,
			OpenedAt:     now,
			maxLevelSent: 1,
		}
		s.active[rule.Name] = alert
		s.history = append(s.history, alert)
		s.logger.Warn("alert opened",
			zap.String("rule", rule.Name),
			zap.String("severity", string(rule.Severity)),
			zap.String("message", message),
		)
		dispatches = append(dispatches, dispatch{alert: *alert, pagingOnly: false})
	}

	dispatches = append(dispatches, s.escalateLocked(now)...)
	s.trimHistoryLocked()
	s.mu.Unlock()

	for _, d := range dispatches {
		s.dispatch(ctx, d)
	}
}

// escalateLocked advances unacknowledged alerts through the escalation
// schedule. Level 3 marks the alert escalated and pages exactly once.
func (s *Service) escalateLocked(now time.Time) []dispatch {
	var out []dispatch
	for _, alert := range s.active {
		if alert.State != StateOpen && alert.State != StateEscalated {
			continue
		}
		if alert.State == StateOpen && alert.maxLevelSent < 2 && alert.Age(now) >= s.config.EscalateAfterL2 {
			alert.maxLevelSent = 2
			s.logger.Warn("alert unacknowledged, re-notifying all channels",
				zap.String("rule", alert.Rule),
				zap.Duration("age", alert.Age(now)),
			)
			out = append(out, dispatch{alert: *alert, pagingOnly: false})
		}
		if alert.maxLevelSent < 3 && alert.Age(now) >= s.config.EscalateAfterL3 {
			alert.maxLevelSent = 3
			alert.State = StateEscalated
			alert.EscalatedAt = now
			s.logger.Error("alert escalated to paging",
				zap.String("rule", alert.Rule),
				zap.Duration("age", alert.Age(now)),
			)
			out = append(out, dispatch{alert: *alert, pagingOnly: true})
		}
	}
	return out
}

// trimHistoryLocked drops the oldest resolved alerts once the history exceeds
// the configured limit. Unresolved alerts stay so they remain addressable by
// id even when the log is full.
func (s *Service) trimHistoryLocked() {
	excess := len(s.history) - s.config.HistoryLimit
	if excess <= 0 {
		return
	}
	kept := make([]*Alert, 0, s.config.HistoryLimit)
	for _, alert := range s.history {
		if excess > 0 && alert.State == StateResolved {
			excess--
			continue
		}
		kept = append(kept, alert)
	}
	s.history = kept
}

type dispatch struct {
	alert      Alert
	pagingOnly bool
}

// dispatch fans an alert out to its channels concurrently. A channel failure
// never blocks other channels or the state machine; it is logged and the
// remaining channels are still attempted.
func (s *Service) dispatch(ctx context.Context, d dispatch) {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range s.notifiers {
		if d.pagingOnly && !n.Paging() {
			continue
		}
		n := n
		g.Go(func() error {
			sendCtx := gctx
			if s.config.DispatchTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(gctx, s.config.DispatchTimeout)
				defer cancel()
			}
			if err := n.Send(sendCtx, &d.alert); err != nil {
				s.logger.Error("alert delivery failed",
					zap.String("rule", d.alert.Rule),
					zap.String("channel", n.Name()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Acknowledge marks an active alert as seen, halting further escalation.
func (s *Service) Acknowledge(alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert := s.findLocked(alertID)
	if alert == nil {
		return ErrAlertNotFound
	}
	if alert.State == StateResolved {
		return ErrAlertResolved
	}
	alert.State = StateAcknowledged
	alert.AcknowledgedAt = s.now()
	s.logger.Info("alert acknowledged", zap.String("rule", alert.Rule))
	return nil
}

// Resolve closes an active alert and starts its rule's cooldown.
func (s *Service) Resolve(alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert := s.findLocked(alertID)
	if alert == nil {
		return ErrAlertNotFound
	}
	if alert.State == StateResolved {
		return nil
	}
	alert.State = StateResolved
	alert.ResolvedAt = s.now()
	delete(s.active, alert.Rule)
	s.lastResolved[alert.Rule] = alert.ResolvedAt
	s.logger.Info("alert resolved", zap.String("rule", alert.Rule))
	return nil
}

func (s *Service) findLocked(alertID string) *Alert {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == alertID {
			return s.history[i]
		}
	}
	return nil
}

// ActiveAlerts returns copies of all unresolved alerts.
func (s *Service) ActiveAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0, len(s.active))
	for _, alert := range s.active {
		out = append(out, *alert)
	}
	return out
}

// History returns copies of retained alerts, newest last. Retention is
// bounded by HistoryLimit.
func (s *Service) History() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0, len(s.history))
	for _, alert := range s.history {
		out = append(out, *alert)
	}
	return out
}

// Reset drops all alert state and the snapshot baseline.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]*Alert)
	s.lastResolved = make(map[string]time.Time)
	s.history = nil
	s.prev = monitor.Snapshot{}
	s.prevAt = time.Time{}
}

package monitor

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Window is a rolling time window over which latency statistics are kept.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
)

// Windows lists all tracked windows. Each is maintained independently, so
// samples age out of each window on its own schedule.
func Windows() []Window {
	return []Window{Window1h, Window24h, Window7d}
}

// Duration returns the span covered by the window.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Stats are the percentile statistics of one (agent, operation, window)
// series. NoData marks a query over an empty window; the percentile fields
// are zero and must not be read as measurements.
type Stats struct {
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	P99       time.Duration `json:"p99"`
	Count     int           `json:"count"`
	ErrorRate float64       `json:"error_rate"`
	NoData    bool          `json:"no_data"`
}

// SLATarget declares latency ceilings for one operation. A zero field means
// that percentile is not constrained.
type SLATarget struct {
	P50 time.Duration `yaml:"p50" json:"p50"`
	P95 time.Duration `yaml:"p95" json:"p95"`
	P99 time.Duration `yaml:"p99" json:"p99"`
}

// Violation is one percentile breaching its declared target.
type Violation struct {
	Percentile string        `json:"percentile"`
	Observed   time.Duration `json:"observed"`
	Target     time.Duration `json:"target"`
}

// ComplianceResult reports an SLA check for one (agent, operation).
type ComplianceResult struct {
	Agent      string      `json:"agent"`
	Operation  string      `json:"operation"`
	Window     Window      `json:"window"`
	Compliant  bool        `json:"compliant"`
	NoData     bool        `json:"no_data"`
	Stats      Stats       `json:"stats"`
	Violations []Violation `json:"violations,omitempty"`
}

// TrackerConfig configures the performance tracker.
type TrackerConfig struct {
	// Capacity caps each (agent, operation, window) buffer. Oldest samples
	// are evicted first once the cap is reached.
	Capacity int `yaml:"capacity" json:"capacity"`

	// SLATargets maps operation name to its latency targets. Targets apply
	// to every agent performing the operation.
	SLATargets map[string]SLATarget `yaml:"sla_targets" json:"sla_targets"`

	// SLAWindow is the window compliance checks evaluate against.
	SLAWindow Window `yaml:"sla_window" json:"sla_window"`
}

// DefaultTrackerConfig returns the default tracker configuration, including
// the handoff execution SLA (p50 < 100ms, p95 < 500ms, p99 < 800ms).
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Capacity: 10000,
		SLATargets: map[string]SLATarget{
			"handoff_execute": {
				P50: 100 * time.Millisecond,
				P95: 500 * time.Millisecond,
				P99: 800 * time.Millisecond,
			},
		},
		SLAWindow: Window1h,
	}
}

type sample struct {
	at       time.Time
	duration time.Duration
	success  bool
}

// series is one (agent, operation, window) buffer with its own lock, so
// recording for one agent never contends with another.
type series struct {
	mu       sync.Mutex
	window   Window
	capacity int
	samples  []sample
}

func (s *series) add(sm sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(sm.at)
	if len(s.samples) >= s.capacity {
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:len(s.samples)-1]
	}
	s.samples = append(s.samples, sm)
}

// evictLocked drops samples that have aged out of the window.
func (s *series) evictLocked(now time.Time) {
	cutoff := now.Add(-s.window.Duration())
	drop := 0
	for drop < len(s.samples) && s.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		s.samples = append(s.samples[:0], s.samples[drop:]...)
	}
}

func (s *series) stats(now time.Time) Stats {
	s.mu.Lock()
	s.evictLocked(now)
	durations := make([]time.Duration, 0, len(s.samples))
	failures := 0
	for _, sm := range s.samples {
		durations = append(durations, sm.duration)
		if !sm.success {
			failures++
		}
	}
	s.mu.Unlock()

	if len(durations) == 0 {
		return Stats{NoData: true}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	return Stats{
		P50:       percentile(durations, 0.50),
		P95:       percentile(durations, 0.95),
		P99:       percentile(durations, 0.99),
		Count:     len(durations),
		ErrorRate: float64(failures) / float64(len(durations)),
	}
}

// percentile uses the nearest-rank method over a sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(float64(len(sorted)) * q)
	if float64(rank) < float64(len(sorted))*q {
		rank++
	}
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

type seriesKey struct {
	agent     string
	operation string
	window    Window
}

// PerformanceTracker records latency samples per (agent, operation) into
// independent rolling windows and answers percentile and SLA queries by
// sorting the bounded window buffer at query time.
type PerformanceTracker struct {
	config TrackerConfig
	series map[seriesKey]*series
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewPerformanceTracker creates a tracker.
func NewPerformanceTracker(config TrackerConfig, logger *zap.Logger) *PerformanceTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Capacity <= 0 {
		config.Capacity = 10000
	}
	if config.SLAWindow == "" {
		config.SLAWindow = Window1h
	}
	return &PerformanceTracker{
		config: config,
		series: make(map[seriesKey]*series),
		logger: logger.With(zap.String("component", "performance_tracker")),
	}
}

// Record stores one latency sample into every window for the series.
func (t *PerformanceTracker) Record(agent, operation string, duration time.Duration, success bool) {
	if agent == "" || operation == "" {
		return
	}
	sm := sample{at: time.Now(), duration: duration, success: success}
	for _, w := range Windows() {
		t.seriesFor(agent, operation, w).add(sm)
	}
}

func (t *PerformanceTracker) seriesFor(agent, operation string, w Window) *series {
	key := seriesKey{agent: agent, operation: operation, window: w}

	t.mu.RLock()
	s, ok := t.series[key]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.series[key]; ok {
		return s
	}
	s = &series{window: w, capacity: t.config.Capacity}
	t.series[key] = s
	return s
}

// Percentiles computes the statistics of one series over the given window.
// An empty window yields Stats{NoData: true}.
func (t *PerformanceTracker) Percentiles(agent, operation string, w Window) Stats {
	t.mu.RLock()
	s, ok := t.series[seriesKey{agent: agent, operation: operation, window: w}]
	t.mu.RUnlock()
	if !ok {
		return Stats{NoData: true}
	}
	return s.stats(time.Now())
}

// CheckSLA compares live percentiles for (agent, operation) against the
// declared targets. An operation without a declared target, or one with no
// samples yet, is compliant by definition.
func (t *PerformanceTracker) CheckSLA(agent, operation string) ComplianceResult {
	result := ComplianceResult{
		Agent:     agent,
		Operation: operation,
		Window:    t.config.SLAWindow,
		Compliant: true,
	}

	target, ok := t.config.SLATargets[operation]
	if !ok {
		return result
	}

	stats := t.Percentiles(agent, operation, t.config.SLAWindow)
	result.Stats = stats
	if stats.NoData {
		result.NoData = true
		return result
	}

	checks := []struct {
		name     string
		observed time.Duration
		target   time.Duration
	}{
		{"p50", stats.P50, target.P50},
		{"p95", stats.P95, target.P95},
		{"p99", stats.P99, target.P99},
	}
	for _, c := range checks {
		if c.target > 0 && c.observed >= c.target {
			result.Violations = append(result.Violations, Violation{
				Percentile: c.name,
				Observed:   c.observed,
				Target:     c.target,
			})
		}
	}
	if len(result.Violations) > 0 {
		result.Compliant = false
		t.logger.Warn("sla violated",
			zap.String("agent", agent),
			zap.String("operation", operation),
			zap.Int("violations", len(result.Violations)),
		)
	}
	return result
}

// CheckAllSLAs evaluates every tracked (agent, operation) that has a
// declared target and returns the non-compliant results.
func (t *PerformanceTracker) CheckAllSLAs() []ComplianceResult {
	t.mu.RLock()
	tracked := make(map[[2]string]bool)
	for key := range t.series {
		if _, ok := t.config.SLATargets[key.operation]; ok {
			tracked[[2]string{key.agent, key.operation}] = true
		}
	}
	t.mu.RUnlock()

	var violated []ComplianceResult
	for pair := range tracked {
		if r := t.CheckSLA(pair[0], pair[1]); !r.Compliant {
			violated = append(violated, r)
		}
	}
	return violated
}

// Agents returns the distinct agent ids with recorded samples.
func (t *PerformanceTracker) Agents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	for key := range t.series {
		seen[key.agent] = true
	}
	out := make([]string, 0, len(seen))
	for agent := range seen {
		out = append(out, agent)
	}
	sort.Strings(out)
	return out
}

// Reset drops all recorded samples.
func (t *PerformanceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series = make(map[seriesKey]*series)
}

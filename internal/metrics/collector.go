package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/relaydesk/relay/types"
)

// Collector holds the pipeline's Prometheus metric vectors.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 交接指标
	handoffsTotal    *prometheus.CounterVec
	handoffDuration  *prometheus.HistogramVec
	blendedScore     *prometheus.HistogramVec
	guardRejections  *prometheus.CounterVec
	thresholdCurrent *prometheus.GaugeVec

	// Agent 指标
	agentInvocationsTotal   *prometheus.CounterVec
	agentInvocationDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 告警指标
	alertsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the metric vectors under the given namespace.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 交接指标
	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoff attempts by route and outcome",
		},
		[]string{"source", "target", "decision"},
	)

	c.handoffDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_duration_seconds",
			Help:      "Handoff execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 0.8, 1, 2, 5, 10},
		},
		[]string{"source", "target"},
	)

	c.blendedScore = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_blended_score",
			Help:      "Blended confidence score of evaluated candidates",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"source", "target"},
	)

	c.guardRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Total number of guard rejections by reason",
		},
		[]string{"reason"},
	)

	c.thresholdCurrent = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "route_threshold_current",
			Help:      "Current effective confidence threshold per route",
		},
		[]string{"source", "target"},
	)

	// Agent 指标
	c.agentInvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocations_total",
			Help:      "Total number of agent invocations",
		},
		[]string{"agent", "operation", "status"},
	)

	c.agentInvocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_invocation_duration_seconds",
			Help:      "Agent invocation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent", "operation"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 告警指标
	c.alertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of alerts opened by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordHandoff 记录一次交接结果
func (c *Collector) RecordHandoff(record *types.HandoffRecord) {
	if record == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(record.Source, record.Target, string(record.Decision)).Inc()
	if record.Executed() {
		c.handoffDuration.WithLabelValues(record.Source, record.Target).
			Observe(float64(record.DurationMS) / 1000)
	}
	if record.Decision == types.DecisionBlocked && record.Reason != "" {
		c.guardRejections.WithLabelValues(record.Reason).Inc()
	}
}

// RecordEvaluation 记录评估得分与当前阈值
func (c *Collector) RecordEvaluation(route types.Route, decision types.Decision) {
	c.blendedScore.WithLabelValues(route.Source, route.Target).Observe(decision.BlendedScore)
	c.thresholdCurrent.WithLabelValues(route.Source, route.Target).Set(decision.ThresholdUsed)
}

// RecordGuardRejection 记录安全拦截
func (c *Collector) RecordGuardRejection(reason string) {
	c.guardRejections.WithLabelValues(reason).Inc()
}

// RecordAgentInvocation 记录 Agent 调用
func (c *Collector) RecordAgentInvocation(agent, operation string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.agentInvocationsTotal.WithLabelValues(agent, operation, status).Inc()
	c.agentInvocationDuration.WithLabelValues(agent, operation).Observe(duration.Seconds())
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordAlert 记录新开告警
func (c *Collector) RecordAlert(rule, severity string) {
	c.alertsTotal.WithLabelValues(rule, severity).Inc()
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

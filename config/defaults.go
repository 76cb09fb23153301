package config

import (
	"time"

	"github.com/relaydesk/relay/alerting"
	"github.com/relaydesk/relay/handoff"
	"github.com/relaydesk/relay/monitor"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Store:     DefaultStoreConfig(),
		Handoff:   DefaultHandoffConfig(),
		Monitor:   monitor.DefaultTrackerConfig(),
		Alerting:  DefaultAlertingConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		DB:         0,
		PoolSize:   10,
		ContextTTL: 2 * time.Hour,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:       "memory",
		Retention:  7 * 24 * time.Hour,
		MaxRecords: 100000,
	}
}

// DefaultHandoffConfig 返回默认交接管道配置
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		Evaluator: handoff.DefaultEvaluatorConfig(),
		Learner:   handoff.DefaultLearnerConfig(),
		Guard:     handoff.DefaultGuardConfig(),
		Executor:  handoff.DefaultExecutorConfig(),
	}
}

// DefaultAlertingConfig 返回默认告警配置
func DefaultAlertingConfig() AlertingConfig {
	return AlertingConfig{
		Service: alerting.DefaultServiceConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "relay",
		SampleRate:   1.0,
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaydesk/relay"
	"github.com/relaydesk/relay/config"
	"github.com/relaydesk/relay/internal/metrics"
	"github.com/relaydesk/relay/internal/server"
	"github.com/relaydesk/relay/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Relay 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 管道
	pipeline *relay.Relay

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Prometheus 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// 告警循环与限流器生命周期
	alertCancel       context.CancelFunc
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例并完成管道装配
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	// 1. 遥测
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otelProviders = providers

	// 2. Prometheus 指标
	s.metricsCollector = metrics.NewCollector("relay", prometheus.DefaultRegisterer, logger)

	// 3. 交接管道。代理在部署侧通过 relay 库注册；
	//    空注册表下服务仍可提供健康检查、统计与告警接口。
	pipeline, err := relay.New(cfg,
		relay.WithLogger(logger),
		relay.WithMetrics(s.metricsCollector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.pipeline = pipeline

	if s.pipeline.Registry != nil && len(s.pipeline.Registry.IDs()) == 0 {
		logger.Warn("no agents registered, message processing will fail until agents are added")
	}

	return s, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 告警评估循环
	alertCtx, alertCancel := context.WithCancel(context.Background())
	s.alertCancel = alertCancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pipeline.Run(alertCtx); err != nil && alertCtx.Err() == nil {
			s.logger.Error("alert loop exited", zap.Error(err))
		}
	}()

	// 2. webhook HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 3. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	return nil
}

// startHTTPServer 启动 webhook HTTP 服务器
func (s *Server) startHTTPServer() error {
	api := server.NewAPI(server.RouterDeps{
		Coordinator: s.pipeline.Coordinator,
		Alerts:      s.pipeline.Alerts,
		Collector:   s.pipeline.Collector,
		Tracker:     s.pipeline.Tracker,
		Store:       s.pipeline.Store,
		Version: server.VersionInfo{
			Version:   Version,
			GitCommit: GitCommit,
			BuildTime: BuildTime,
		},
		Logger: s.logger,
	})
	mux := api.Routes()

	// 构建中间件链
	skipAuthPaths := []string{"/healthz", "/readyz", "/version"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []server.Middleware{
		server.Recovery(s.logger),
		server.RequestLogger(s.logger),
		server.MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares, server.RateLimiter(
			rateLimiterCtx,
			float64(s.cfg.Server.RateLimitRPS),
			s.cfg.Server.RateLimitBurst,
			s.logger,
		))
	}
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, server.JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	}
	handler := server.Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止限流器清理与告警循环
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.alertCancel != nil {
		s.alertCancel()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 等待后台 goroutine 完成
	s.wg.Wait()

	// 5. 关闭管道资源
	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			s.logger.Error("Pipeline close error", zap.Error(err))
		}
	}

	// 6. 关闭遥测
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

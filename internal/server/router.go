package server

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaydesk/relay/alerting"
	"github.com/relaydesk/relay/coordinator"
	"github.com/relaydesk/relay/monitor"
	"github.com/relaydesk/relay/persistence"
	"github.com/relaydesk/relay/types"
)

// =============================================================================
// 🌐 HTTP 路由与处理器
// =============================================================================

// RouterDeps 路由依赖注入
type RouterDeps struct {
	Coordinator *coordinator.Coordinator
	Alerts      *alerting.Service
	Collector   *monitor.MetricsCollector
	Tracker     *monitor.PerformanceTracker
	Store       persistence.RecordStore
	Version     VersionInfo
	Logger      *zap.Logger
}

// VersionInfo 构建期注入的版本信息
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// API 聚合所有 HTTP 处理器
type API struct {
	deps    RouterDeps
	logger  *zap.Logger
	started time.Time
}

// NewAPI 创建 API 处理器集合
func NewAPI(deps RouterDeps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		deps:    deps,
		logger:  logger.With(zap.String("component", "api")),
		started: time.Now(),
	}
}

// Routes 注册所有路由
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("GET /version", a.handleVersion)

	mux.HandleFunc("POST /v1/messages", a.handleMessage)
	mux.HandleFunc("POST /v1/tags", a.handleTag)
	mux.HandleFunc("POST /v1/outcomes", a.handleOutcome)
	mux.HandleFunc("GET /v1/conversations/{id}/handoffs", a.handleConversationHandoffs)
	mux.HandleFunc("GET /v1/stats", a.handleStats)

	mux.HandleFunc("GET /v1/alerts", a.handleAlerts)
	mux.HandleFunc("POST /v1/alerts/{id}/ack", a.handleAlertAck)
	mux.HandleFunc("POST /v1/alerts/{id}/resolve", a.handleAlertResolve)

	return mux
}

// -----------------------------------------------------------------------------
// 健康检查
// -----------------------------------------------------------------------------

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(a.started).String(),
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.deps.Store != nil {
		if err := a.deps.Store.Ping(r.Context()); err != nil {
			WriteError(w, types.NewError(types.ErrStoreFailure, "record store unreachable").WithCause(err), a.logger)
			return
		}
	}
	WriteSuccess(w, map[string]string{"status": "ready"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := a.deps.Version
	if info.Version == "" {
		info.Version = "dev"
	}
	WriteSuccess(w, info)
}

// -----------------------------------------------------------------------------
// 会话消息入口
// -----------------------------------------------------------------------------

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg coordinator.InboundMessage
	if err := DecodeJSONBody(w, r, &msg, a.logger); err != nil {
		return
	}

	out, err := a.deps.Coordinator.ProcessMessage(r.Context(), msg)
	if err != nil {
		WriteError(w, err, a.logger)
		return
	}
	if out == nil {
		// 自动化已停用：确认收到但不回复
		WriteJSON(w, http.StatusAccepted, Response{Success: true, Timestamp: time.Now()})
		return
	}
	WriteSuccess(w, out)
}

func (a *API) handleTag(w http.ResponseWriter, r *http.Request) {
	var ev coordinator.TagEvent
	if err := DecodeJSONBody(w, r, &ev, a.logger); err != nil {
		return
	}
	if err := a.deps.Coordinator.HandleTag(r.Context(), ev); err != nil {
		WriteError(w, err, a.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "applied"})
}

// outcomeRequest 外部判定的交接结果回传
type outcomeRequest struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Success bool   `json:"success"`
}

func (a *API) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := DecodeJSONBody(w, r, &req, a.logger); err != nil {
		return
	}
	if req.Source == "" || req.Target == "" {
		WriteErrorMessage(w, types.ErrInvalidCandidate, "outcome requires source and target", a.logger)
		return
	}
	a.deps.Coordinator.RecordOutcome(types.Route{Source: req.Source, Target: req.Target}, req.Success)
	WriteSuccess(w, map[string]string{"status": "recorded"})
}

// -----------------------------------------------------------------------------
// 查询接口
// -----------------------------------------------------------------------------

func (a *API) handleConversationHandoffs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, types.ErrInvalidCandidate, "conversation id required", a.logger)
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteErrorMessage(w, types.ErrInvalidCandidate, "since must be RFC3339", a.logger)
			return
		}
		since = parsed
	}

	records, err := a.deps.Store.ForConversation(r.Context(), id, since)
	if err != nil {
		WriteError(w, types.NewError(types.ErrStoreFailure, "failed to read handoff history").WithCause(err), a.logger)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"conversation_id": id,
		"records":         records,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{}
	if a.deps.Collector != nil {
		payload["counters"] = a.deps.Collector.Snapshot()
	}
	if a.deps.Tracker != nil {
		payload["sla"] = a.deps.Tracker.CheckAllSLAs()
	}
	WriteSuccess(w, payload)
}

// -----------------------------------------------------------------------------
// 告警管理
// -----------------------------------------------------------------------------

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if a.deps.Alerts == nil {
		WriteSuccess(w, []alerting.Alert{})
		return
	}
	if r.URL.Query().Get("history") == "true" {
		WriteSuccess(w, a.deps.Alerts.History())
		return
	}
	WriteSuccess(w, a.deps.Alerts.ActiveAlerts())
}

func (a *API) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	a.mutateAlert(w, r, a.deps.Alerts.Acknowledge)
}

func (a *API) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	a.mutateAlert(w, r, a.deps.Alerts.Resolve)
}

func (a *API) mutateAlert(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, types.ErrInvalidCandidate, "alert id required", a.logger)
		return
	}
	if err := op(id); err != nil {
		switch {
		case errors.Is(err, alerting.ErrAlertNotFound):
			WriteJSON(w, http.StatusNotFound, Response{
				Success:   false,
				Error:     &ErrorInfo{Code: "ALERT_NOT_FOUND", Message: err.Error()},
				Timestamp: time.Now(),
			})
		default:
			WriteJSON(w, http.StatusConflict, Response{
				Success:   false,
				Error:     &ErrorInfo{Code: "ALERT_STATE", Message: err.Error()},
				Timestamp: time.Now(),
			})
		}
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "status": "updated"})
}

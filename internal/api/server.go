package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SettleFlow-Chain/internal/action"
	"SettleFlow-Chain/internal/auth"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/observability/metrics"
	"SettleFlow-Chain/internal/orchestrator"
	"SettleFlow-Chain/internal/tools"
	"SettleFlow-Chain/pkg/logger"
)

// Server 暴露动作提交与队列观测的 REST 接口。
type Server struct {
	addr        string
	validator   ActionValidator
	dispatcher  Dispatcher
	handlers    *tools.Service
	accounts    *auth.Service
	collector   *metrics.Collector
	queueDriver string
}

// ActionValidator 将原始请求体规整为类型化动作。
type ActionValidator interface {
	Validate(raw map[string]any) (*action.Action, error)
}

// Dispatcher 执行一个经过校验的动作。
type Dispatcher interface {
	Dispatch(ctx context.Context, act *action.Action, actorID string) (*orchestrator.Result, error)
	ListSupportedActions() []string
}

// Option 定义服务器的可选配置。
type Option func(*Server)

// WithMetricsCollector 配置请求指标收集器。
func WithMetricsCollector(collector *metrics.Collector) Option {
	return func(s *Server) {
		s.collector = collector
	}
}

// WithQueueDriver 在健康检查中上报队列驱动类型。
func WithQueueDriver(driver string) Option {
	return func(s *Server) {
		s.queueDriver = driver
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, validator ActionValidator, dispatcher Dispatcher,
	handlers *tools.Service, accounts *auth.Service, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		validator:  validator,
		dispatcher: dispatcher,
		handlers:   handlers,
		accounts:   accounts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由处理器，测试可直接对其发请求。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/actions", s.instrument("actions", s.handleActions))
	mux.HandleFunc("/api/v1/health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("/api/v1/queues/", s.instrument("queues", s.handleQueues))
	if s.collector != nil {
		mux.Handle("/metrics", s.collector.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, xerrors.New(xerrors.CodeValidation, "请求体解析失败"))
		return
	}

	act, err := s.validator.Validate(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	actorID, err := s.resolveActor(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.dispatcher.Dispatch(auth.WithActor(ctx, actorID), act, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		Success: true,
		Message: "动作处理成功",
		Kind:    result.Kind,
		Data:    result.Data,
	})
}

// resolveActor 解析 Authorization 头。无头部的请求按匿名处理，需要身份
// 的动作由处理器自行拒绝；携带非法令牌的请求直接拒绝。
func (s *Server) resolveActor(ctx context.Context, r *http.Request) (string, error) {
	authorization := r.Header.Get("Authorization")
	if strings.TrimSpace(authorization) == "" {
		return "", nil
	}
	return s.accounts.VerifyAuthorization(ctx, authorization)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"actions":      s.dispatcher.ListSupportedActions(),
		"queue_driver": s.queueDriver,
	})
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	category := job.Category(strings.TrimPrefix(r.URL.Path, "/api/v1/queues/"))
	snapshot, err := s.handlers.QueueMetrics(r.Context(), category)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{"metrics": snapshot}
	if r.URL.Query().Get("dead") == "true" {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		dead, err := s.handlers.DeadJobs(r.Context(), category, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		response["dead_jobs"] = dead
	}
	writeJSON(w, http.StatusOK, response)
}

// instrument 记录每个端点的请求计数与时延。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		if s.collector != nil {
			s.collector.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// actionResponse 是动作提交的成功载荷，与 errorResponse 成对。
type actionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Kind    action.Kind `json:"kind"`
	Data    any         `json:"data,omitempty"`
}

// errorResponse 是跨边界的错误载荷：机器可读的码 + 人类可读的消息，
// 不携带内部堆栈细节。
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	code := xerrors.CodeOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err))
		// 内部错误细节不外泄。
		message = xerrors.AttributesOf(code).Message
		if message == "" {
			message = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Code: string(code), Message: message})
}

func statusForError(err error) int {
	switch {
	case stdErrors.Is(err, auth.ErrInvalidCredentials),
		stdErrors.Is(err, auth.ErrInvalidToken),
		stdErrors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeValidation, xerrors.CodeUnknownAction:
		return http.StatusBadRequest
	case xerrors.CodePrecondition:
		return http.StatusPreconditionFailed
	case xerrors.CodeAliasNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case job.CodeJobPublish, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	stderrors "errors"

	"SwarmGate/internal/auth"
	"SwarmGate/internal/errors"
	"SwarmGate/internal/ratelimit"
	"SwarmGate/internal/requestlog"
	"SwarmGate/internal/swarm"
	"SwarmGate/pkg/logger"
)

// Server 负责暴露 REST 接口，是整个服务的外部入口。
type Server struct {
	addr         string
	orchestrator *swarm.Orchestrator
	auth         *auth.Service
	limiter      *ratelimit.Limiter
	logs         requestlog.Sink
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orchestrator *swarm.Orchestrator, authSvc *auth.Service, limiter *ratelimit.Limiter, logs requestlog.Sink) *Server {
	return &Server{
		addr:         addr,
		orchestrator: orchestrator,
		auth:         authSvc,
		limiter:      limiter,
		logs:         logs,
	}
}

// Handler 返回组装好的路由，便于测试直接挂到 httptest 上。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/swarms/available", s.handleTopologies)
	mux.HandleFunc("/v1/models/available", s.handleModels)
	mux.HandleFunc("/v1/swarm/completions", s.protected(s.handleSwarmCompletion))
	mux.HandleFunc("/v1/swarm/batch/completions", s.protected(s.handleBatchCompletions))
	mux.HandleFunc("/v1/agent/completions", s.protected(s.handleAgentCompletion))
	mux.HandleFunc("/v1/swarm/logs", s.protected(s.handleLogs))
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
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.L().Info("API 服务已启动", "addr", s.addr)
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

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, errors.New(errors.CodeNotFound, "接口不存在"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "Welcome to SwarmGate. See /v1/swarms/available for supported topologies.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTopologies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"swarms":  swarm.Topologies,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"models":  swarm.Models,
	})
}

// handleSwarmCompletion 处理一次多智能体任务。
func (s *Server) handleSwarmCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var job swarm.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, errors.New(errors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	resp, err := s.orchestrator.RunSwarm(r.Context(), accountFrom(r.Context()), &job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBatchCompletions 并行处理一批任务。
func (s *Server) handleBatchCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var jobs []*swarm.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&jobs); err != nil {
		writeError(w, errors.New(errors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	if len(jobs) == 0 {
		writeError(w, errors.New(errors.CodeValidationFailed, "批量请求不能为空"))
		return
	}

	responses := s.orchestrator.RunBatch(r.Context(), accountFrom(r.Context()), jobs)
	writeJSON(w, http.StatusOK, responses)
}

// handleAgentCompletion 处理单智能体补全。
func (s *Server) handleAgentCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req swarm.AgentCompletion
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	resp, err := s.orchestrator.RunAgent(r.Context(), accountFrom(r.Context()), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogs 返回当前账户最近的 API 请求记录。
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "count": 0, "logs": []any{}})
		return
	}

	entries, err := s.logs.List(r.Context(), accountFrom(r.Context()), 100)
	if err != nil {
		writeError(w, errors.Wrap(errors.CodeStorageFailure, err, "读取请求记录失败"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(entries),
		"logs":   entries,
	})
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
		handler.ServeHTTP(w, r.WithContext(r.Context()))
	})
}

package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"SwarmGate/internal/errors"
	"SwarmGate/internal/observability/metrics"
	"SwarmGate/internal/requestlog"
	"SwarmGate/pkg/logger"
)

type contextKey string

const accountKey contextKey = "account_id"

// accountFrom 取出鉴权中间件写入的账户 ID。
func accountFrom(ctx context.Context) string {
	if v, ok := ctx.Value(accountKey).(string); ok {
		return v
	}
	return ""
}

// protected 组合限流、鉴权、指标与请求日志，包住需要认证的处理器。
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		clientIP := clientAddr(r)
		if s.limiter != nil && !s.limiter.Allow(clientIP) {
			writeError(recorder, errors.New(errors.CodeRateLimited, "请求频率超限，请稍后重试"))
			s.observe(r, recorder, clientIP, "", started)
			return
		}

		accountID, err := s.auth.Verify(r.Context(), r.Header.Get("x-api-key"))
		if err != nil {
			writeError(recorder, err)
			s.observe(r, recorder, clientIP, "", started)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, accountID)
		next(recorder, r.WithContext(ctx))
		s.observe(r, recorder, clientIP, accountID, started)
	}
}

func (s *Server) observe(r *http.Request, recorder *statusRecorder, clientIP, accountID string, started time.Time) {
	duration := time.Since(started)
	metrics.ObserveHTTPRequest(r.URL.Path, r.Method, recorder.status, duration)

	if s.logs == nil || accountID == "" {
		return
	}
	entry := requestlog.Entry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Method:    r.Method,
		Path:      r.URL.Path,
		Status:    recorder.status,
		ClientIP:  clientIP,
		Duration:  duration.String(),
		CreatedAt: time.Now(),
	}
	if err := s.logs.Append(r.Context(), entry); err != nil {
		logger.L().Warn("写入请求记录失败", "error", err)
	}
}

// clientAddr 解析请求来源地址，优先取 X-Forwarded-For 的第一跳。
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeJSON 输出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Warn("写出响应失败", "error", err)
	}
}

// writeError 把统一错误码映射为 HTTP 状态并输出标准错误体。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.CodeRateLimited, errors.CodeResourceExhausted, errors.CodeRetriesExhausted:
		status = http.StatusTooManyRequests
	case errors.CodeUnauthorized:
		status = http.StatusForbidden
	case errors.CodeValidationFailed, errors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case errors.CodeInsufficientCredit:
		status = http.StatusPaymentRequired
	case errors.CodeAccountNotFound, errors.CodeNotFound:
		status = http.StatusNotFound
	}

	message := err.Error()
	if e, ok := errors.From(err); ok {
		message = e.Message()
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(errors.CodeOf(err)),
			"message": message,
		},
	})
}

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/internal/ctxkeys"
	"github.com/BaSui01/a2abridge/internal/metrics"
	"github.com/BaSui01/a2abridge/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decodeProtocolError(t *testing.T, w *httptest.ResponseRecorder) a2a.ErrorPayload {
	t.Helper()
	var payload a2a.ErrorPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	return payload
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders()(okHandler()), http.MethodGet, "/")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	w := serve(h, http.MethodGet, "/")
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req-"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)

	// 客户端提供的 ID 保留
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-42")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-42", seen)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestID(), Recovery(zap.New(core)))

	w := serve(h, http.MethodPost, "/a2a/messages")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, types.ErrInternalError, decodeProtocolError(t, w).ErrorCode)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "panic recovered", entry.Message)
	assert.Contains(t, entry.ContextMap(), "request_id")
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}), RequestLogger(zap.New(core)))

	serve(h, http.MethodPost, "/api/v1/tasks")
	serve(h, http.MethodGet, "/healthz") // debug 级别, 不输出

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/v1/tasks", fields["path"])
	assert.EqualValues(t, http.StatusAccepted, fields["status"])
}

func TestRateLimiter(t *testing.T) {
	h := RateLimiter(1, 2, zap.NewNop())(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/").Code)
	w := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, types.ErrRateLimited, decodeProtocolError(t, w).ErrorCode)

	// 其他 IP 不受影响
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	h := RateLimiter(0, 0, zap.NewNop())(okHandler())
	for range 50 {
		require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/").Code)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith(reg, "test", zap.NewNop())
	h := MetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	serve(h, http.MethodGet, "/api/v1/tasks/t-1")
	serve(h, http.MethodGet, "/api/v1/tasks/t-2")
	serve(h, http.MethodPost, "/api/v1/agents/missing")

	// 任务 id 归一后只有两条序列
	n, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a2a/messages", "/a2a/messages"},
		{"/.well-known/agent-card.json", "/.well-known/agent-card.json"},
		{"/health", "/health"},
		{"/api/v1/tasks", "/api/v1/tasks"},
		{"/api/v1/tasks/task-42", "/api/v1/tasks/:id"},
		{"/api/v1/tasks/task-42/assign", "/api/v1/tasks/:id/assign"},
		{"/api/v1/agents/discover", "/api/v1/agents/discover"},
		{"/api/v1/agents/researcher/ping", "/api/v1/agents/:id/ping"},
		{"/wp-admin/login.php", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

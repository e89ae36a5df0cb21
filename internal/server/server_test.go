package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paylabs/reportflow/internal/agent"
	"github.com/paylabs/reportflow/internal/auth"
	"github.com/paylabs/reportflow/internal/model"
	"github.com/paylabs/reportflow/internal/ratelimit"
	"github.com/paylabs/reportflow/internal/server"
)

type stubRunner struct {
	result  agent.Result
	lastReq model.ReportRequest
	calls   int
}

func (s *stubRunner) Run(_ context.Context, req model.ReportRequest) agent.Result {
	s.calls++
	s.lastReq = req
	return s.result
}

type stubTools struct{ n int }

func (s stubTools) Count() int { return s.n }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Tools == nil {
		cfg.Tools = stubTools{n: 6}
	}
	cfg.Version = "test"
	return server.New(cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, server.Config{Runner: &stubRunner{}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	data := env["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "test", data["version"])
	assert.Equal(t, float64(6), data["tools_loaded"])

	meta := env["meta"].(map[string]any)
	assert.NotEmpty(t, meta["request_id"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), meta["request_id"])
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, server.Config{Runner: &stubRunner{}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestAuthTokenExchange(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	hash, err := auth.HashAPIKey("top-secret")
	require.NoError(t, err)

	srv := newTestServer(t, server.Config{
		Runner:     &stubRunner{result: agent.Result{OK: true, ReportID: "r-1"}},
		JWTManager: jwtMgr,
		APIKeyHash: hash,
	})
	h := srv.Handler()

	// Wrong key is rejected.
	rec := doJSON(t, h, http.MethodPost, "/auth/token", "", map[string]string{"api_key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Missing key is a validation error.
	rec = doJSON(t, h, http.MethodPost, "/auth/token", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Correct key yields a usable bearer token.
	rec = doJSON(t, h, http.MethodPost, "/auth/token", "", map[string]string{
		"api_key":  "top-secret",
		"agent_id": "worker-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	data := env["data"].(map[string]any)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "Bearer", data["token_type"])
	assert.NotEmpty(t, data["expires_at"])

	claims, err := jwtMgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", claims.AgentID)
}

func TestGenerateReportRequiresToken(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	hash, err := auth.HashAPIKey("top-secret")
	require.NoError(t, err)

	runner := &stubRunner{result: agent.Result{OK: true, ReportID: "r-1", ToolCalls: 5}}
	srv := newTestServer(t, server.Config{Runner: runner, JWTManager: jwtMgr, APIKeyHash: hash})
	h := srv.Handler()

	body := map[string]string{
		"report_id":   "r-1",
		"merchant_id": "M1",
		"start_date":  "2026-01-01",
		"end_date":    "2026-01-31",
	}

	rec := doJSON(t, h, http.MethodPost, "/generate-report", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/generate-report", "not-a-jwt", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := jwtMgr.IssueToken("worker-1")
	require.NoError(t, err)

	rec = doJSON(t, h, http.MethodPost, "/generate-report", token, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r-1", runner.lastReq.ReportID)
	assert.Equal(t, "M1", runner.lastReq.MerchantID)

	env := decodeEnvelope(t, rec)
	data := env["data"].(map[string]any)
	assert.Equal(t, true, data["ok"])
	assert.Equal(t, "r-1", data["report_id"])
	assert.Equal(t, float64(5), data["tool_calls_count"])
}

func TestGenerateReportAuthDisabled(t *testing.T) {
	runner := &stubRunner{result: agent.Result{OK: true, ReportID: "r-2"}}
	srv := newTestServer(t, server.Config{Runner: runner})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/generate-report", "", map[string]string{
		"report_id":   "r-2",
		"merchant_id": "M2",
		"start_date":  "2026-02-01",
		"end_date":    "2026-02-28",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r-2", runner.lastReq.ReportID)
}

func TestGenerateReportRunFailure(t *testing.T) {
	runner := &stubRunner{result: agent.Result{
		OK:        false,
		ReportID:  "r-3",
		Error:     "report_id not found: r-3",
		ToolCalls: 2,
	}}
	srv := newTestServer(t, server.Config{Runner: runner})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/generate-report", "", map[string]string{
		"report_id":   "r-3",
		"merchant_id": "M3",
		"start_date":  "2026-01-01",
		"end_date":    "2026-01-31",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeRunFailed, errObj["code"])
	assert.Equal(t, "report_id not found: r-3", errObj["message"])

	details := errObj["details"].(map[string]any)
	assert.Equal(t, false, details["ok"])
	assert.Equal(t, float64(2), details["tool_calls_count"])
}

func TestGenerateReportRejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
		want string
	}{
		{
			name: "inverted date range",
			body: map[string]string{
				"report_id":   "r-4",
				"merchant_id": "M4",
				"start_date":  "2026-01-31",
				"end_date":    "2026-01-01",
			},
			want: "end_date must be >= start_date",
		},
		{
			name: "unparseable start date",
			body: map[string]string{
				"report_id":   "r-4",
				"merchant_id": "M4",
				"start_date":  "01/31/2026",
				"end_date":    "2026-02-01",
			},
			want: "invalid start_date",
		},
		{
			name: "blank report id",
			body: map[string]string{
				"report_id":   "   ",
				"merchant_id": "M4",
				"start_date":  "2026-01-01",
				"end_date":    "2026-01-31",
			},
			want: "report_id cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{result: agent.Result{OK: true}}
			srv := newTestServer(t, server.Config{Runner: runner})

			rec := doJSON(t, srv.Handler(), http.MethodPost, "/generate-report", "", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			env := decodeEnvelope(t, rec)
			errObj := env["error"].(map[string]any)
			assert.Equal(t, model.ErrCodeInvalidInput, errObj["code"])
			assert.Contains(t, errObj["message"], tt.want)

			// A request that fails construction never reaches the workflow,
			// so no tools are invoked.
			assert.Equal(t, 0, runner.calls)
		})
	}
}

func TestGenerateReportInvalidBody(t *testing.T) {
	srv := newTestServer(t, server.Config{Runner: &stubRunner{}})

	req := httptest.NewRequest(http.MethodPost, "/generate-report", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	errObj := env["error"].(map[string]any)
	assert.Equal(t, model.ErrCodeInvalidInput, errObj["code"])
}

func TestAuthTokenDisabledStillUnauthorized(t *testing.T) {
	srv := newTestServer(t, server.Config{Runner: &stubRunner{}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/auth/token", "", map[string]string{"api_key": "anything"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitOnTokenEndpoint(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer limiter.Close()

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	hash, err := auth.HashAPIKey("top-secret")
	require.NoError(t, err)

	srv := newTestServer(t, server.Config{
		Runner:     &stubRunner{},
		JWTManager: jwtMgr,
		APIKeyHash: hash,
		Limiter:    limiter,
	})
	h := srv.Handler()

	body := map[string]string{"api_key": "top-secret"}

	rec := doJSON(t, h, http.MethodPost, "/auth/token", "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/auth/token", "", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t, server.Config{Runner: &stubRunner{}})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

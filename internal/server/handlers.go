package server

import (
	"context"
	"net/http"

	"github.com/paylabs/reportflow/internal/agent"
	"github.com/paylabs/reportflow/internal/auth"
	"github.com/paylabs/reportflow/internal/model"
)

// HandleHealth returns service health and the number of remote tools
// discovered at startup.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
	}
	if s.cfg.Tools != nil {
		status["tools_loaded"] = s.cfg.Tools.Count()
	}
	writeJSON(w, r, http.StatusOK, status)
}

type tokenRequest struct {
	APIKey  string `json:"api_key"`
	AgentID string `json:"agent_id"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

// HandleAuthToken exchanges a configured API key for a short-lived JWT.
func (s *Server) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	if s.cfg.JWTManager == nil || s.cfg.APIKeyHash == "" {
		// Burn comparable time so a probe cannot tell a disabled
		// endpoint from a wrong key.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication is not enabled")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, s.cfg.APIKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = "report-client"
	}

	token, expiresAt, err := s.cfg.JWTManager.IssueToken(agentID)
	if err != nil {
		s.logger.Error("token issuance failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// HandleGenerateReport runs the report workflow for the requested
// staging row and returns the terminal result. A request that fails
// construction (blank identifiers, unparseable dates, end before start)
// is rejected here with zero tool calls; only constructed requests
// reach the workflow, whose own failures land in the staging table.
func (s *Server) HandleGenerateReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyBytes)

	var req model.ReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	result := s.cfg.Runner.Run(r.Context(), req)
	if !result.OK {
		writeErrorDetails(w, r, http.StatusInternalServerError, model.ErrCodeRunFailed, result.Error, result)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ReportRunner runs the report workflow. Satisfied by *agent.Runner.
type ReportRunner interface {
	Run(ctx context.Context, req model.ReportRequest) agent.Result
}

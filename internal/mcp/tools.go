package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/paylabs/reportflow/internal/model"
	"github.com/paylabs/reportflow/internal/sqlguard"
	"github.com/paylabs/reportflow/internal/storage"
)

// Envelope error codes.
const (
	codeValidationError = "VALIDATION_ERROR"
	codeDatabaseError   = "DATABASE_ERROR"
	codeConfigError     = "CONFIG_ERROR"
)

func (s *Server) handleRunReadQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sql := request.GetString("sql", "")
	limit := request.GetInt("limit", sqlguard.DefaultLimit)

	result, err := s.db.RunReadQuery(ctx, sql, limit)
	if err != nil {
		return s.errorResult(err, map[string]any{"tool": "run_read_query"}), nil
	}
	return okResult(result), nil
}

func (s *Server) handleGetReportContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	reportID := request.GetString("report_id", "")
	details := map[string]any{"tool": "get_report_context", "report_id": reportID}

	if reportID == "" {
		return errResult(codeValidationError, "report_id is required", details), nil
	}

	rctx, err := s.db.GetReportContext(ctx, reportID)
	if err != nil {
		return s.errorResult(err, details), nil
	}
	return okResult(rctx), nil
}

func (s *Server) handleGetReportMetrics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	merchantID := request.GetString("merchant_id", "")
	startDate := request.GetString("start_date", "")
	endDate := request.GetString("end_date", "")
	details := map[string]any{
		"tool":        "get_report_metrics",
		"merchant_id": merchantID,
		"start_date":  startDate,
		"end_date":    endDate,
	}

	if merchantID == "" {
		return errResult(codeValidationError, "merchant_id is required", details), nil
	}

	metrics, err := s.db.GetReportMetrics(ctx, merchantID, startDate, endDate)
	if err != nil {
		return s.errorResult(err, details), nil
	}
	return okResult(metrics), nil
}

func (s *Server) handleUpdateReportStaging(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	reportID := request.GetString("report_id", "")
	status := request.GetString("status", "")
	details := map[string]any{"tool": "update_report_staging", "report_id": reportID}

	if reportID == "" {
		return errResult(codeValidationError, "report_id is required", details), nil
	}
	if status == "" {
		return errResult(codeValidationError, "status is required", details), nil
	}

	// Only fields actually present in the call are merged; absent fields
	// keep their persisted values.
	args := request.GetArguments()
	fields := model.StagingFields{
		TotalRevenue:       optFloat(args, "total_revenue"),
		TransactionCount:   optInt(args, "transaction_count"),
		TopSellingItemName: optString(args, "top_selling_item_name"),
		TopSellingItemQty:  optInt(args, "top_selling_item_qty"),
		FinancialSummary:   optString(args, "financial_summary"),
		PatternAnalysis:    optString(args, "pattern_analysis"),
		StrategicAdvice:    optString(args, "strategic_advice"),
	}

	upd, err := s.db.UpdateReportStaging(ctx, reportID, status, fields)
	if err != nil {
		return s.errorResult(err, details), nil
	}
	return okResult(upd), nil
}

func (s *Server) handleMarkReportFailed(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	reportID := request.GetString("report_id", "")
	reason := request.GetString("reason", "")
	details := map[string]any{"tool": "mark_report_failed", "report_id": reportID}

	if reportID == "" {
		return errResult(codeValidationError, "report_id is required", details), nil
	}

	upd, err := s.db.MarkReportFailed(ctx, reportID, reason)
	if err != nil {
		return s.errorResult(err, details), nil
	}
	return okResult(upd), nil
}

func (s *Server) handleIsReportFinished(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	details := map[string]any{"tool": "is_report_finished"}

	if s.activeReportID == "" {
		return errResult(codeConfigError, "ACTIVE_REPORT_ID is not set", details), nil
	}

	rctx, err := s.db.GetReportContext(ctx, s.activeReportID)
	if err != nil {
		return s.errorResult(err, details), nil
	}

	if !rctx.Found {
		return okResult(map[string]any{
			"configured": true,
			"found":      false,
			"report_id":  s.activeReportID,
		}), nil
	}

	return okResult(map[string]any{
		"configured":      true,
		"found":           true,
		"report_id":       rctx.ReportID,
		"status":          rctx.Status,
		"finished":        rctx.Status == string(model.StatusReady) || rctx.Status == string(model.StatusFailed),
		"generation_date": rctx.GenerationDate,
	}), nil
}

// errorResult maps a storage error to an envelope: validation failures
// become VALIDATION_ERROR, everything else DATABASE_ERROR.
func (s *Server) errorResult(err error, details map[string]any) *mcplib.CallToolResult {
	code := codeDatabaseError
	if errors.Is(err, sqlguard.ErrValidation) || errors.Is(err, storage.ErrInvalidInput) {
		code = codeValidationError
	} else {
		s.logger.Error("tool failed", "tool", details["tool"], "error", err)
	}
	return errResult(code, err.Error(), details)
}

func okResult(data any) *mcplib.CallToolResult {
	return envelopeResult(map[string]any{"ok": true, "data": data, "error": nil})
}

func errResult(code, message string, details map[string]any) *mcplib.CallToolResult {
	if details == nil {
		details = map[string]any{}
	}
	return envelopeResult(map[string]any{
		"ok":   false,
		"data": nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func envelopeResult(envelope map[string]any) *mcplib.CallToolResult {
	data, err := json.Marshal(envelope)
	if err != nil {
		// Envelope values are built from JSON-safe types only.
		data = []byte(fmt.Sprintf(`{"ok":false,"data":null,"error":{"code":"INTERNAL_ERROR","message":%q,"details":{}}}`, err.Error()))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func optString(args map[string]any, key string) *string {
	if v, ok := args[key].(string); ok {
		return &v
	}
	return nil
}

func optFloat(args map[string]any, key string) *float64 {
	if v, ok := args[key].(float64); ok {
		return &v
	}
	return nil
}

func optInt(args map[string]any, key string) *int {
	if v, ok := args[key].(float64); ok {
		n := int(v)
		return &n
	}
	return nil
}

// Package model defines the core domain types for reportflow.
//
// Types correspond to the reporting database tables and to the payloads
// exchanged across the tool boundary. Dates travel as ISO strings
// (YYYY-MM-DD) because that is what the staging schema and the tool
// contracts use; parsing happens at validation time only.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for report period dates.
const DateLayout = "2006-01-02"

// ReportStatus is the lifecycle state of a staged report.
type ReportStatus string

const (
	StatusProcessing ReportStatus = "PROCESSING"
	StatusReady      ReportStatus = "READY"
	StatusFailed     ReportStatus = "FAILED"
)

// ParseReportStatus normalizes and validates a status string.
func ParseReportStatus(s string) (ReportStatus, error) {
	switch st := ReportStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusProcessing, StatusReady, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("model: status must be one of PROCESSING, READY, FAILED (got %q)", s)
	}
}

// ReportRequest is the input for one report generation run.
// Immutable once validated; a new value is constructed per incoming request.
type ReportRequest struct {
	ReportID   string `json:"report_id"`
	MerchantID string `json:"merchant_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

// Validate checks the request invariants: non-blank identifiers, parseable
// dates, and end_date >= start_date. Identifier fields are trimmed in place
// so downstream steps never see padded values.
func (r *ReportRequest) Validate() error {
	r.ReportID = strings.TrimSpace(r.ReportID)
	r.MerchantID = strings.TrimSpace(r.MerchantID)

	if r.ReportID == "" {
		return fmt.Errorf("model: report_id cannot be empty")
	}
	if r.MerchantID == "" {
		return fmt.Errorf("model: merchant_id cannot be empty")
	}

	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return fmt.Errorf("model: invalid start_date: %w", err)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return fmt.Errorf("model: invalid end_date: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("model: end_date must be >= start_date")
	}
	return nil
}

// ReportContext is the staging row metadata resolved for a report_id.
type ReportContext struct {
	Found          bool    `json:"found"`
	ReportID       string  `json:"report_id"`
	MerchantID     string  `json:"merchant_id,omitempty"`
	GenerationDate *string `json:"generation_date,omitempty"`
	Status         string  `json:"status,omitempty"`
}

// PaymentMethodCount is one entry of the payment method breakdown.
type PaymentMethodCount struct {
	PaymentMethod    string `json:"payment_method"`
	TransactionCount int    `json:"transaction_count"`
}

// ReportMetrics holds the aggregated figures for a merchant and period,
// including the comparison window immediately preceding it.
type ReportMetrics struct {
	MerchantID             string               `json:"merchant_id"`
	StartDate              string               `json:"start_date"`
	EndDate                string               `json:"end_date"`
	TotalRevenue           float64              `json:"total_revenue"`
	TransactionCount       int                  `json:"transaction_count"`
	TopSellingItemName     *string              `json:"top_selling_item_name"`
	TopSellingItemQty      int                  `json:"top_selling_item_qty"`
	PeakSalesHour          *string              `json:"peak_sales_hour"`
	PaymentMethodBreakdown []PaymentMethodCount `json:"payment_method_breakdown"`
	PreviousPeriodStart    string               `json:"previous_period_start"`
	PreviousPeriodEnd      string               `json:"previous_period_end"`
	PreviousPeriodRevenue  float64              `json:"previous_period_revenue"`
	RevenueChangePct       *float64             `json:"revenue_change_pct"`
}

// QueryResult is the sanitized result set of one read-only evidence query.
type QueryResult struct {
	RowCount int              `json:"row_count"`
	Limit    int              `json:"limit"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
}

// StagingUpdate is the outcome of an update_report_staging call.
type StagingUpdate struct {
	Updated        bool    `json:"updated"`
	ReportID       string  `json:"report_id"`
	Status         string  `json:"status,omitempty"`
	GenerationDate *string `json:"generation_date,omitempty"`
}

// StagingFields carries the optional columns of an update_report_staging
// call. Nil fields leave the persisted value unchanged (COALESCE semantics).
type StagingFields struct {
	TotalRevenue       *float64 `json:"total_revenue,omitempty"`
	TransactionCount   *int     `json:"transaction_count,omitempty"`
	TopSellingItemName *string  `json:"top_selling_item_name,omitempty"`
	TopSellingItemQty  *int     `json:"top_selling_item_qty,omitempty"`
	FinancialSummary   *string  `json:"financial_summary,omitempty"`
	PatternAnalysis    *string  `json:"pattern_analysis,omitempty"`
	StrategicAdvice    *string  `json:"strategic_advice,omitempty"`
}

// Narratives are the three narrative fields of a finished report.
// Either all three are populated (model path or fallback path) or the
// value is absent from the run state; partial population never occurs.
type Narratives struct {
	FinancialSummary string `json:"financial_summary"`
	PatternAnalysis  string `json:"pattern_analysis"`
	StrategicAdvice  string `json:"strategic_advice"`
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/paylabs/reportflow/internal/model"
	"github.com/paylabs/reportflow/internal/sqlguard"
)

// GetReportContext resolves the staging row for a report_id. A missing row
// is not an error: the result carries found=false.
func (db *DB) GetReportContext(ctx context.Context, reportID string) (model.ReportContext, error) {
	var (
		rctx    model.ReportContext
		genDate *time.Time
	)
	err := db.pool.QueryRow(ctx,
		`SELECT report_id, merchant_id, generation_date, status
		 FROM report_generation_staging
		 WHERE report_id = $1`, reportID,
	).Scan(&rctx.ReportID, &rctx.MerchantID, &genDate, &rctx.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReportContext{Found: false, ReportID: reportID}, nil
		}
		return model.ReportContext{}, fmt.Errorf("storage: get report context: %w", err)
	}

	rctx.Found = true
	rctx.GenerationDate = formatTimestamp(genDate)
	return rctx, nil
}

// GetReportMetrics aggregates revenue, volume, top item, peak hour and the
// payment method breakdown for one merchant and period. The comparison
// window is the same number of days immediately preceding start_date.
func (db *DB) GetReportMetrics(ctx context.Context, merchantID, startDate, endDate string) (model.ReportMetrics, error) {
	start, err := time.Parse(model.DateLayout, startDate)
	if err != nil {
		return model.ReportMetrics{}, fmt.Errorf("%w: invalid start_date %q", ErrInvalidInput, startDate)
	}
	end, err := time.Parse(model.DateLayout, endDate)
	if err != nil {
		return model.ReportMetrics{}, fmt.Errorf("%w: invalid end_date %q", ErrInvalidInput, endDate)
	}
	if end.Before(start) {
		return model.ReportMetrics{}, fmt.Errorf("%w: end_date must be >= start_date", ErrInvalidInput)
	}

	days := int(end.Sub(start).Hours()/24) + 1
	prevStart := start.AddDate(0, 0, -days)
	prevEnd := start.AddDate(0, 0, -1)

	m := model.ReportMetrics{
		MerchantID:             merchantID,
		StartDate:              startDate,
		EndDate:                endDate,
		PaymentMethodBreakdown: []model.PaymentMethodCount{},
		PreviousPeriodStart:    prevStart.Format(model.DateLayout),
		PreviousPeriodEnd:      prevEnd.Format(model.DateLayout),
	}

	// The aggregates are independent, so each gets its own pool
	// connection and they run concurrently. Goroutines write to
	// disjoint fields of m.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := db.pool.QueryRow(gctx,
			`SELECT COALESCE(SUM(net_amount), 0), COUNT(*)
			 FROM transactions
			 WHERE merchant_id = $1 AND status = 'SUCCESS'
			   AND created_at::date BETWEEN $2 AND $3`,
			merchantID, start, end,
		).Scan(&m.TotalRevenue, &m.TransactionCount)
		if err != nil {
			return fmt.Errorf("storage: total revenue: %w", err)
		}
		m.TotalRevenue = round2(m.TotalRevenue)
		return nil
	})

	g.Go(func() error {
		err := db.pool.QueryRow(gctx,
			`SELECT ti.item_name, SUM(ti.quantity)
			 FROM transaction_items ti
			 JOIN transactions t ON t.transaction_id = ti.transaction_id
			 WHERE t.merchant_id = $1 AND t.status = 'SUCCESS'
			   AND t.created_at::date BETWEEN $2 AND $3
			 GROUP BY ti.item_name
			 ORDER BY SUM(ti.quantity) DESC, ti.item_name ASC
			 LIMIT 1`,
			merchantID, start, end,
		).Scan(&m.TopSellingItemName, &m.TopSellingItemQty)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: top selling item: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var peakHour int
		err := db.pool.QueryRow(gctx,
			`SELECT EXTRACT(HOUR FROM created_at)::int AS hour_of_day, COUNT(*) AS tx_count
			 FROM transactions
			 WHERE merchant_id = $1 AND status = 'SUCCESS'
			   AND created_at::date BETWEEN $2 AND $3
			 GROUP BY hour_of_day
			 ORDER BY tx_count DESC, hour_of_day ASC
			 LIMIT 1`,
			merchantID, start, end,
		).Scan(&peakHour, new(int))
		switch {
		case err == nil:
			window := fmt.Sprintf("%02d:00-%02d:00", peakHour, (peakHour+1)%24)
			m.PeakSalesHour = &window
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("storage: peak sales hour: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		rows, err := db.pool.Query(gctx,
			`SELECT payment_method, COUNT(*) AS tx_count
			 FROM transactions
			 WHERE merchant_id = $1 AND status = 'SUCCESS'
			   AND created_at::date BETWEEN $2 AND $3
			 GROUP BY payment_method
			 ORDER BY tx_count DESC`,
			merchantID, start, end,
		)
		if err != nil {
			return fmt.Errorf("storage: payment breakdown: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var pm model.PaymentMethodCount
			if err := rows.Scan(&pm.PaymentMethod, &pm.TransactionCount); err != nil {
				return fmt.Errorf("storage: scan payment breakdown: %w", err)
			}
			m.PaymentMethodBreakdown = append(m.PaymentMethodBreakdown, pm)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("storage: payment breakdown rows: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := db.pool.QueryRow(gctx,
			`SELECT COALESCE(SUM(net_amount), 0)
			 FROM transactions
			 WHERE merchant_id = $1 AND status = 'SUCCESS'
			   AND created_at::date BETWEEN $2 AND $3`,
			merchantID, prevStart, prevEnd,
		).Scan(&m.PreviousPeriodRevenue)
		if err != nil {
			return fmt.Errorf("storage: previous period revenue: %w", err)
		}
		m.PreviousPeriodRevenue = round2(m.PreviousPeriodRevenue)
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.ReportMetrics{}, err
	}

	m.RevenueChangePct = pctChange(m.TotalRevenue, m.PreviousPeriodRevenue)
	return m, nil
}

// RunReadQuery executes one guarded SELECT, wrapped in a subquery that
// enforces the row limit server-side. Row values are converted to
// JSON-safe types before they cross the tool boundary.
func (db *DB) RunReadQuery(ctx context.Context, sql string, limit int) (model.QueryResult, error) {
	query, err := sqlguard.Validate(sql)
	if err != nil {
		return model.QueryResult{}, err
	}
	if err := sqlguard.ValidateLimit(limit); err != nil {
		return model.QueryResult{}, err
	}

	rows, err := db.pool.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT $1", query), limit)
	if err != nil {
		return model.QueryResult{}, fmt.Errorf("storage: run read query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := model.QueryResult{Limit: limit, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return model.QueryResult{}, fmt.Errorf("storage: read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = jsonSafe(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return model.QueryResult{}, fmt.Errorf("storage: read rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// UpdateReportStaging sets the status of a staging row and merges the
// provided optional fields. Nil fields keep the persisted value. A missing
// row is not an error: the result carries updated=false.
func (db *DB) UpdateReportStaging(ctx context.Context, reportID, status string, fields model.StagingFields) (model.StagingUpdate, error) {
	st, err := model.ParseReportStatus(status)
	if err != nil {
		return model.StagingUpdate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var (
		upd     model.StagingUpdate
		genDate *time.Time
	)
	err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx,
			`UPDATE report_generation_staging
			 SET status = $1,
			     total_revenue = COALESCE($2, total_revenue),
			     transaction_count = COALESCE($3, transaction_count),
			     top_selling_item_name = COALESCE($4, top_selling_item_name),
			     top_selling_item_qty = COALESCE($5, top_selling_item_qty),
			     financial_summary = COALESCE($6, financial_summary),
			     pattern_analysis = COALESCE($7, pattern_analysis),
			     strategic_advice = COALESCE($8, strategic_advice),
			     generation_date = CURRENT_TIMESTAMP
			 WHERE report_id = $9
			 RETURNING report_id, status, generation_date`,
			string(st),
			fields.TotalRevenue, fields.TransactionCount,
			fields.TopSellingItemName, fields.TopSellingItemQty,
			fields.FinancialSummary, fields.PatternAnalysis, fields.StrategicAdvice,
			reportID,
		).Scan(&upd.ReportID, &upd.Status, &genDate)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StagingUpdate{Updated: false, ReportID: reportID}, nil
		}
		return model.StagingUpdate{}, fmt.Errorf("storage: update report staging: %w", err)
	}

	upd.Updated = true
	upd.GenerationDate = formatTimestamp(genDate)
	return upd, nil
}

// MarkReportFailed transitions a staging row to FAILED and records the
// failure reason in the financial summary. Repeating the call with the
// same reason converges to the same persisted state.
func (db *DB) MarkReportFailed(ctx context.Context, reportID, reason string) (model.StagingUpdate, error) {
	summary := "Report generation failed: " + reason
	return db.UpdateReportStaging(ctx, reportID, string(model.StatusFailed), model.StagingFields{
		FinancialSummary: &summary,
	})
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// pctChange returns the period-over-period change rounded to two decimals,
// or nil when the previous period has no revenue.
func pctChange(current, previous float64) *float64 {
	if previous == 0 {
		return nil
	}
	pct := round2((current - previous) / previous * 100)
	return &pct
}

// jsonSafe converts database values to types that survive JSON encoding:
// timestamps become RFC 3339 strings, numerics become float64, UUIDs
// become their canonical text form.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err == nil && f.Valid {
			return f.Float64
		}
		return nil
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}

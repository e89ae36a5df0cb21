// Package agent implements the report generation workflow.
//
// A run is a single linear chain of steps, each with signature
// (State) -> State: validate, context, metrics, evidence, narratives,
// write_ready, and a terminal failure branch. Steps communicate only
// through the State value, which makes each one testable in isolation.
//
// Two invariants hold across the chain. Short-circuit: once a step records
// an error, every later step passes the state through untouched — except
// the failure branch, which performs the single mark_report_failed call.
// Counting: the tool call counter is incremented before a result is
// interpreted, so it reflects attempted calls even when the call fails.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paylabs/reportflow/internal/model"
	"github.com/paylabs/reportflow/internal/narrative"
	"github.com/paylabs/reportflow/internal/skill"
	"github.com/paylabs/reportflow/internal/sqlguard"
	"github.com/paylabs/reportflow/internal/tool"
)

// Caller invokes a named tool and returns the normalized envelope.
// tool.Adapter is the production implementation.
type Caller interface {
	Call(ctx context.Context, name string, payload map[string]any) tool.Envelope
}

// State is the mutable record threaded through one run. It is owned
// exclusively by that run and never shared across concurrent requests.
type State struct {
	Input      model.ReportRequest
	Context    map[string]any
	Metrics    map[string]any
	Evidence   map[string]any
	Narratives model.Narratives

	UpdateResult map[string]any

	// Err is the terminal error message; empty means the run is healthy.
	Err string

	// ToolCalls counts attempted tool invocations, including the one in
	// the failure branch.
	ToolCalls int
}

// failed reports whether a terminal error has been recorded.
func (s State) failed() bool { return s.Err != "" }

// Result is the only shape a caller of Run observes.
type Result struct {
	OK        bool           `json:"ok"`
	ReportID  string         `json:"report_id"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ToolCalls int            `json:"tool_calls_count"`
}

// Runner executes report generation runs. It is read-only after
// construction and safe for concurrent use; all per-run mutability lives
// in State.
type Runner struct {
	tools      Caller
	narratives *narrative.Generator
	queries    []skill.EvidenceQuery
	logger     *slog.Logger
}

// New creates a Runner over the given tool caller, narrative generator,
// and configured evidence queries.
func New(tools Caller, gen *narrative.Generator, queries []skill.EvidenceQuery, logger *slog.Logger) *Runner {
	return &Runner{tools: tools, narratives: gen, queries: queries, logger: logger}
}

// Run executes the workflow for one request and returns the terminal
// envelope. Run never returns an error: every failure is captured into the
// state and converted into a failure Result.
func (r *Runner) Run(ctx context.Context, req model.ReportRequest) Result {
	r.logger.Info("run start", "report_id", req.ReportID, "merchant_id", req.MerchantID)

	st := State{Input: req}
	for _, step := range []func(context.Context, State) State{
		r.validate,
		r.resolveContext,
		r.fetchMetrics,
		r.fetchEvidence,
		r.draftNarratives,
		r.writeReady,
	} {
		st = step(ctx, st)
	}

	if st.failed() {
		st = r.markFailed(ctx, st)
		r.logger.Error("run failed", "report_id", req.ReportID, "error", st.Err, "tool_calls", st.ToolCalls)
		return Result{OK: false, ReportID: req.ReportID, Error: st.Err, ToolCalls: st.ToolCalls}
	}

	r.logger.Info("run success", "report_id", req.ReportID, "tool_calls", st.ToolCalls)
	return Result{OK: true, ReportID: req.ReportID, Result: st.UpdateResult, ToolCalls: st.ToolCalls}
}

// validate checks the request identifiers. It performs no tool calls and
// is the only step that runs without a short-circuit check.
func (r *Runner) validate(_ context.Context, st State) State {
	if st.Input.ReportID == "" || st.Input.MerchantID == "" {
		st.Err = "Missing report_id or merchant_id"
	}
	return st
}

// resolveContext loads the staging row for the report and cross-checks the
// merchant. A mismatch is a distinct, explicit failure — never silently
// corrected.
func (r *Runner) resolveContext(ctx context.Context, st State) State {
	if st.failed() {
		return st
	}

	st.ToolCalls++
	env := r.tools.Call(ctx, "get_report_context", map[string]any{
		"report_id": st.Input.ReportID,
	})
	if !env.OK {
		st.Err = "get_report_context failed: " + env.ErrorMessage()
		return st
	}

	found, _ := env.Data["found"].(bool)
	if !found {
		st.Err = "report_id not found: " + st.Input.ReportID
		return st
	}
	if merchantID, _ := env.Data["merchant_id"].(string); merchantID != "" && merchantID != st.Input.MerchantID {
		st.Err = "merchant_id mismatch between request and staging context"
		return st
	}

	st.Context = env.Data
	return st
}

// fetchMetrics loads the aggregated figures for the requested period.
func (r *Runner) fetchMetrics(ctx context.Context, st State) State {
	if st.failed() {
		return st
	}

	st.ToolCalls++
	env := r.tools.Call(ctx, "get_report_metrics", map[string]any{
		"merchant_id": st.Input.MerchantID,
		"start_date":  st.Input.StartDate,
		"end_date":    st.Input.EndDate,
	})
	if !env.OK {
		st.Err = "get_report_metrics failed: " + env.ErrorMessage()
		return st
	}

	st.Metrics = env.Data
	return st
}

// fetchEvidence executes the configured evidence queries strictly one after
// another. Results accumulate only when every query succeeds; the first
// failure skips the rest.
func (r *Runner) fetchEvidence(ctx context.Context, st State) State {
	if st.failed() {
		return st
	}

	if len(r.queries) < 2 {
		st.Err = "skill config must provide at least 2 evidence_queries"
		return st
	}

	evidence := make(map[string]any, len(r.queries))
	for _, q := range r.queries {
		name := q.Name
		if name == "" {
			name = "query"
		}
		if q.SQL == "" {
			st.Err = "missing SQL template for evidence query: " + name
			return st
		}

		limit := q.Limit
		if limit == 0 {
			limit = sqlguard.DefaultLimit
		}

		st.ToolCalls++
		env := r.tools.Call(ctx, "run_read_query", map[string]any{
			"sql":   skill.RenderSQL(q.SQL, st.Input),
			"limit": limit,
		})
		if !env.OK {
			st.Err = fmt.Sprintf("run_read_query failed (%s): %s", name, env.ErrorMessage())
			return st
		}
		evidence[name] = env.Data
	}

	st.Evidence = evidence
	return st
}

// draftNarratives produces the three narrative fields. The generator's
// fallback path guarantees a result, so this step cannot fail on its own.
func (r *Runner) draftNarratives(ctx context.Context, st State) State {
	if st.failed() {
		return st
	}
	st.Narratives = r.narratives.Generate(ctx, st.Metrics, st.Evidence)
	return st
}

// writeReady persists the computed metrics and narratives with status READY.
func (r *Runner) writeReady(ctx context.Context, st State) State {
	if st.failed() {
		return st
	}

	st.ToolCalls++
	env := r.tools.Call(ctx, "update_report_staging", map[string]any{
		"report_id":             st.Input.ReportID,
		"status":                string(model.StatusReady),
		"total_revenue":         st.Metrics["total_revenue"],
		"transaction_count":     st.Metrics["transaction_count"],
		"top_selling_item_name": st.Metrics["top_selling_item_name"],
		"top_selling_item_qty":  st.Metrics["top_selling_item_qty"],
		"financial_summary":     st.Narratives.FinancialSummary,
		"pattern_analysis":      st.Narratives.PatternAnalysis,
		"strategic_advice":      st.Narratives.StrategicAdvice,
	})
	if !env.OK {
		st.Err = "update_report_staging failed: " + env.ErrorMessage()
		return st
	}

	st.UpdateResult = env.Data
	return st
}

// markFailed is the compensating action of the failure branch: it records
// the terminal reason in the staging row. It is best-effort by contract —
// its own failure is logged but never overwrites or suppresses the primary
// error already held in the state.
func (r *Runner) markFailed(ctx context.Context, st State) State {
	if st.Input.ReportID == "" {
		return st
	}

	st.ToolCalls++
	env := r.tools.Call(ctx, "mark_report_failed", map[string]any{
		"report_id": st.Input.ReportID,
		"reason":    st.Err,
	})
	if !env.OK {
		r.logger.Warn("mark_report_failed did not succeed",
			"report_id", st.Input.ReportID, "error", env.ErrorMessage())
	}
	return st
}

// Package narrative produces the three narrative fields of a report.
//
// Two paths exist: a language-model path (when a model transport is
// configured) and a deterministic template path. The template path is the
// guaranteed floor — any model failure, parse failure, or missing field
// silently degrades to it, so narrative generation never fails a run.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/paylabs/reportflow/internal/jsonx"
	"github.com/paylabs/reportflow/internal/model"
	"github.com/paylabs/reportflow/internal/skill"
)

// Model is the chat transport used for narrative drafting.
type Model interface {
	// Complete sends one system+user exchange and returns the raw text reply.
	Complete(ctx context.Context, system, user string) (string, error)
}

// Built-in fallback templates. The skill document may override any of them
// via the fallback_templates config key.
const (
	defaultFinancialTemplate = "Total net revenue is IDR {total_revenue} from {transaction_count} successful transactions."
	defaultPatternTemplate   = "Evidence queries executed: {evidence_count}. Use current metrics and evidence for pattern interpretation."
	defaultAdviceTemplate    = "Prioritize top-demand items and validate impact weekly using the same query scope."
)

// requiredFields are the keys the model reply must populate.
var requiredFields = []string{"financial_summary", "pattern_analysis", "strategic_advice"}

// Generator drafts narratives from metrics and evidence.
type Generator struct {
	model  Model // nil disables the model path
	skill  skill.Skill
	logger *slog.Logger
}

// New creates a Generator. A nil model routes every call straight to the
// fallback path.
func New(m Model, sk skill.Skill, logger *slog.Logger) *Generator {
	return &Generator{model: m, skill: sk, logger: logger}
}

// Generate produces the three narrative fields. It never returns an error:
// the fallback path cannot fail, and model-path failures degrade to it.
func (g *Generator) Generate(ctx context.Context, metrics map[string]any, evidence map[string]any) model.Narratives {
	if g.model == nil {
		return g.fallback(metrics, evidence)
	}

	reply, err := g.model.Complete(ctx, g.systemPrompt(), userPrompt(metrics, evidence))
	if err != nil {
		g.logger.Error("narrative model call failed, using fallback templates", "error", err)
		return g.fallback(metrics, evidence)
	}

	parsed := jsonx.ExtractObject(reply)
	if parsed == nil {
		g.logger.Warn("narrative reply not parseable, using fallback templates")
		return g.fallback(metrics, evidence)
	}

	fields := make(map[string]string, len(requiredFields))
	for _, key := range requiredFields {
		s, ok := parsed[key].(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" {
			g.logger.Warn("narrative reply missing required field, using fallback templates", "field", key)
			return g.fallback(metrics, evidence)
		}
		fields[key] = s
	}

	return model.Narratives{
		FinancialSummary: fields["financial_summary"],
		PatternAnalysis:  fields["pattern_analysis"],
		StrategicAdvice:  fields["strategic_advice"],
	}
}

// systemPrompt embeds the skill instruction text verbatim. Slot substitution
// is a single pass over an enumerated slot set, so braces inside the
// instruction text are inert — they can never be re-interpreted as
// placeholders for the metrics or evidence data.
func (g *Generator) systemPrompt() string {
	return "Follow these instructions strictly:\n" +
		g.skill.Text +
		"\nReturn valid JSON with exactly these keys: financial_summary, pattern_analysis, strategic_advice."
}

func userPrompt(metrics map[string]any, evidence map[string]any) string {
	metricsJSON, _ := json.Marshal(metrics)
	evidenceJSON, _ := json.Marshal(evidence)
	return fmt.Sprintf("Metrics:\n%s\n\nEvidence from run_read_query:\n%s", metricsJSON, evidenceJSON)
}

// fallback renders the three templates from a fixed slot set derived from
// the metrics payload. Missing metric fields substitute neutral defaults,
// so this path cannot fail.
func (g *Generator) fallback(metrics map[string]any, evidence map[string]any) model.Narratives {
	slots := map[string]string{
		"total_revenue":           formatAmount(numberField(metrics, "total_revenue")),
		"transaction_count":       strconv.Itoa(intField(metrics, "transaction_count")),
		"evidence_count":          strconv.Itoa(len(evidence)),
		"top_selling_item_name":   stringField(metrics, "top_selling_item_name", "N/A"),
		"top_selling_item_qty":    strconv.Itoa(intField(metrics, "top_selling_item_qty")),
		"peak_sales_hour":         stringField(metrics, "peak_sales_hour", "N/A"),
		"revenue_change_pct":      pctField(metrics, "revenue_change_pct"),
		"previous_period_revenue": formatAmount(numberField(metrics, "previous_period_revenue")),
	}

	overrides := g.skill.Config.FallbackTemplates

	return model.Narratives{
		FinancialSummary: renderSlots(templateOr(overrides, "financial_summary", defaultFinancialTemplate), slots),
		PatternAnalysis:  renderSlots(templateOr(overrides, "pattern_analysis", defaultPatternTemplate), slots),
		StrategicAdvice:  renderSlots(templateOr(overrides, "strategic_advice", defaultAdviceTemplate), slots),
	}
}

func templateOr(overrides map[string]string, key, fallback string) string {
	if t, ok := overrides[key]; ok && strings.TrimSpace(t) != "" {
		return t
	}
	return fallback
}

// renderSlots substitutes {name} placeholders from the fixed slot set in a
// single pass. Substituted values are never re-scanned, so data containing
// braces cannot inject further substitutions.
func renderSlots(template string, slots map[string]string) string {
	pairs := make([]string, 0, len(slots)*2)
	for name, value := range slots {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// formatAmount renders a monetary amount with thousands separators and two
// decimals (e.g. 1234567.8 -> "1,234,567.80").
func formatAmount(v float64) string {
	neg := math.Signbit(v)
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func intField(m map[string]any, key string) int {
	return int(numberField(m, key))
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// pctField renders revenue_change_pct, which is null when the previous
// period had no revenue to compare against.
func pctField(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return strconv.FormatFloat(numberField(m, key), 'f', 2, 64)
	}
	return "N/A"
}

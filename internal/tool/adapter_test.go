package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paylabs/reportflow/internal/testutil"
)

// fakeSource returns canned native results per tool name.
type fakeSource struct {
	results map[string]any
	errs    map[string]error
	calls   []string
}

func (f *fakeSource) Has(name string) bool {
	_, okR := f.results[name]
	_, okE := f.errs[name]
	return okR || okE
}

func (f *fakeSource) Invoke(_ context.Context, name string, _ map[string]any) (any, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.results[name], nil
}

func (f *fakeSource) Count() int { return len(f.results) + len(f.errs) }

func newTestAdapter(src Source) *Adapter {
	return NewAdapter(src, testutil.TestLogger())
}

func TestCallUnknownTool(t *testing.T) {
	src := &fakeSource{}
	env := newTestAdapter(src).Call(context.Background(), "nope", nil)

	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeToolNotFound, env.Error.Code)
	assert.Equal(t, "nope", env.Error.Message)
	assert.Empty(t, src.calls, "unknown tool must not be invoked")
}

func TestCallMappingResult(t *testing.T) {
	src := &fakeSource{results: map[string]any{
		"get_report_context": map[string]any{
			"ok":   true,
			"data": map[string]any{"found": true, "merchant_id": "M1"},
		},
	}}

	env := newTestAdapter(src).Call(context.Background(), "get_report_context", map[string]any{"report_id": "r-1"})
	require.True(t, env.OK)
	assert.Equal(t, "M1", env.Data["merchant_id"])
}

func TestCallJSONStringResult(t *testing.T) {
	src := &fakeSource{results: map[string]any{
		"get_report_metrics": `{"ok": true, "data": {"total_revenue": 12.5}}`,
	}}

	env := newTestAdapter(src).Call(context.Background(), "get_report_metrics", nil)
	require.True(t, env.OK)
	assert.Equal(t, 12.5, env.Data["total_revenue"])
}

func TestCallFragmentListResult(t *testing.T) {
	src := &fakeSource{results: map[string]any{
		"run_read_query": []any{
			map[string]any{"type": "text", "text": "not json"},
			map[string]any{"type": "text", "text": `{"ok": true, "data": {"row_count": 3}}`},
		},
	}}

	env := newTestAdapter(src).Call(context.Background(), "run_read_query", nil)
	require.True(t, env.OK)
	assert.Equal(t, float64(3), env.Data["row_count"])
}

func TestCallErrorEnvelopePropagates(t *testing.T) {
	src := &fakeSource{results: map[string]any{
		"update_report_staging": map[string]any{
			"ok":    false,
			"error": map[string]any{"code": "DATABASE_ERROR", "message": "connection refused"},
		},
	}}

	env := newTestAdapter(src).Call(context.Background(), "update_report_staging", nil)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DATABASE_ERROR", env.Error.Code)
	assert.Equal(t, "connection refused", env.ErrorMessage())
}

func TestCallUnrecognizableResult(t *testing.T) {
	tests := []struct {
		name   string
		result any
	}{
		{"scalar", 42},
		{"non-json string", "plain text"},
		{"fragments without parseable text", []any{map[string]any{"type": "image"}}},
		{"nil result", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{results: map[string]any{"t": tt.result}}
			env := newTestAdapter(src).Call(context.Background(), "t", nil)
			assert.False(t, env.OK)
			require.NotNil(t, env.Error)
			assert.Equal(t, CodeInvalidResponse, env.Error.Code)
		})
	}
}

func TestCallTransportError(t *testing.T) {
	src := &fakeSource{errs: map[string]error{"t": errors.New("dial tcp: refused")}}
	env := newTestAdapter(src).Call(context.Background(), "t", nil)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeInvalidResponse, env.Error.Code)
	assert.Contains(t, env.Error.Message, "refused")
}

func TestRedact(t *testing.T) {
	in := map[string]any{
		"merchant_id": "M1",
		"api_key":     "sk-123",
		"AuthToken":   "t",
		"db_password": "p",
		"SECRET_ref":  "s",
		"limit":       200,
	}
	got := Redact(in)

	assert.Equal(t, "M1", got["merchant_id"])
	assert.Equal(t, 200, got["limit"])
	for _, k := range []string{"api_key", "AuthToken", "db_password", "SECRET_ref"} {
		assert.Equal(t, "***", got[k], k)
	}

	// Original payload is untouched.
	assert.Equal(t, "sk-123", in["api_key"])
}

func TestEnvelopeErrorMessage(t *testing.T) {
	assert.Equal(t, "unknown", Envelope{}.ErrorMessage())
	assert.Equal(t, "unknown", Envelope{Error: &ErrorDetail{}}.ErrorMessage())
	assert.Equal(t, "boom", Envelope{Error: &ErrorDetail{Message: "boom"}}.ErrorMessage())
}

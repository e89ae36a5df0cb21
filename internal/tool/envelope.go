// Package tool invokes the remote reporting tools and normalizes their
// results into a canonical envelope.
//
// Remote tools answer in heterogeneous shapes: a structured object, a
// JSON-encoded string, or a list of content fragments (the MCP wire shape).
// The adapter folds all of them into Envelope so the orchestrator never
// branches on transport details.
package tool

import "encoding/json"

// Error codes produced by the adapter itself (as opposed to codes
// propagated from the remote tool).
const (
	CodeToolNotFound    = "TOOL_NOT_FOUND"
	CodeInvalidResponse = "INVALID_TOOL_RESPONSE"
)

// Envelope is the canonical result of any tool call. Exactly one of
// Data/Error is meaningful depending on OK.
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a tool failure.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorMessage returns the error message, or "unknown" when the envelope
// carries no error detail. Used to build run failure reasons.
func (e Envelope) ErrorMessage() string {
	if e.Error == nil || e.Error.Message == "" {
		return "unknown"
	}
	return e.Error.Message
}

// errEnvelope builds a failure envelope with an adapter-level code.
func errEnvelope(code, message string) Envelope {
	return Envelope{OK: false, Error: &ErrorDetail{Code: code, Message: message}}
}

// decodeEnvelope unmarshals raw JSON into an Envelope. Any JSON object
// decodes successfully; objects without an "ok" field come out as failed
// envelopes with no error detail, which callers surface as "unknown".
//
// Typing Data as a map deliberately tightens the contract: an object
// whose "data" is an array or scalar fails to decode and is reported as
// INVALID_TOOL_RESPONSE rather than passed through. Every reporting
// tool answers with an object payload, so only malformed servers hit
// this path.
func decodeEnvelope(raw []byte) (Envelope, bool) {
	// Probe first: only JSON objects qualify, not arrays or scalars.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

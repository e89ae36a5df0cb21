package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// secretKeyMarkers flag payload keys whose values must never reach logs.
var secretKeyMarkers = []string{"key", "token", "password", "secret"}

// Adapter invokes tools through a Source and normalizes every native
// result shape into an Envelope. It owns the before/after call logging
// with redacted payloads.
type Adapter struct {
	src    Source
	logger *slog.Logger
}

// NewAdapter creates an Adapter over the given Source.
func NewAdapter(src Source, logger *slog.Logger) *Adapter {
	return &Adapter{src: src, logger: logger}
}

// Call invokes the named tool with payload and returns the normalized
// envelope. Call never returns an error: unknown tools, transport
// failures, and unrecognizable results all come back as failed envelopes
// so the orchestrator has a single failure channel.
func (a *Adapter) Call(ctx context.Context, name string, payload map[string]any) Envelope {
	a.logger.Info("tool call start", "tool", name, "payload", Redact(payload))

	if !a.src.Has(name) {
		env := errEnvelope(CodeToolNotFound, name)
		a.logger.Error("tool call failed", "tool", name, "code", env.Error.Code)
		return env
	}

	result, err := a.src.Invoke(ctx, name, payload)
	if err != nil {
		env := errEnvelope(CodeInvalidResponse, err.Error())
		a.logger.Error("tool call failed", "tool", name, "code", env.Error.Code, "error", err)
		return env
	}

	env, ok := normalize(result)
	if !ok {
		env = errEnvelope(CodeInvalidResponse, fmt.Sprintf("%v", result))
		a.logger.Error("tool call failed", "tool", name, "code", env.Error.Code)
		return env
	}

	a.logger.Info("tool call end", "tool", name, "ok", env.OK)
	return env
}

// normalize folds the accepted native result shapes into an Envelope,
// in priority order: a mapping is passed through; a string is parsed as
// JSON; a sequence is scanned for the first fragment whose text field
// parses as a JSON object. Anything else is unrecognizable.
func normalize(result any) (Envelope, bool) {
	switch v := result.(type) {
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, false
		}
		return decodeEnvelope(raw)

	case string:
		return decodeEnvelope([]byte(v))

	case []any:
		for _, item := range v {
			frag, ok := item.(map[string]any)
			if !ok {
				continue
			}
			text, ok := frag["text"].(string)
			if !ok {
				continue
			}
			if env, ok := decodeEnvelope([]byte(text)); ok {
				return env, true
			}
		}
	}
	return Envelope{}, false
}

// Redact returns a copy of payload with the value of any key containing
// "key", "token", "password", or "secret" (case-insensitive) replaced by a
// mask, so structured logs never leak credentials.
func Redact(payload map[string]any) map[string]any {
	redacted := make(map[string]any, len(payload))
	for k, v := range payload {
		lower := strings.ToLower(k)
		masked := false
		for _, marker := range secretKeyMarkers {
			if strings.Contains(lower, marker) {
				masked = true
				break
			}
		}
		if masked {
			redacted[k] = "***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// Package jsonx extracts structured JSON objects from free-form model output.
//
// Language models frequently wrap JSON in markdown fences or prose. The
// extractor tries progressively looser strategies and reports nil when none
// of them yields an object — callers treat nil as "use the fallback path",
// never as a fatal error.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedBlock matches a markdown code fence, optionally tagged json,
// capturing the first brace-delimited object inside it.
var fencedBlock = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")

// ExtractObject returns the first JSON object found in text, or nil.
//
// Strategies, in order: (1) the whole trimmed text is a JSON object;
// (2) a fenced code block contains one; (3) the substring between the
// first '{' and the last '}' parses as one.
func ExtractObject(text string) map[string]any {
	content := strings.TrimSpace(text)

	if obj := parseObject(content); obj != nil {
		return obj
	}

	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		if obj := parseObject(m[1]); obj != nil {
			return obj
		}
	}

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first != -1 && last > first {
		if obj := parseObject(content[first : last+1]); obj != nil {
			return obj
		}
	}

	return nil
}

// parseObject unmarshals s and returns it only when it is a JSON object.
// Scalars, arrays, and invalid JSON all yield nil.
func parseObject(s string) map[string]any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}

// Package parser implements the post-stream tool call parser: JSON hygiene
// over the accumulated text, {name,arguments} validation, and
// platform/consumer tool classification.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// PlatformTools is the fixed set of tool names with an in-process handler.
// Every other tool name is a consumer tool dispatched to the caller.
var PlatformTools = map[string]bool{
	"code_interpreter":    true,
	"web_search":          true,
	"vector_store_search": true,
	"computer":            true,
}

// IsPlatformTool reports whether name is routed to an in-process handler.
func IsPlatformTool(name string) bool { return PlatformTools[name] }

// FunctionCall is the parsed {name, arguments} shape of a tool invocation.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

var (
	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	codeFence       = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	trailingComma   = regexp.MustCompile(`,(\s*[}\]])`)
	embeddedCallRgx = regexp.MustCompile(`(?s)\{[^{}]*"name"\s*:\s*"[^"]*"[^{}]*"arguments"\s*:\s*\{.*?\}[^{}]*\}`)
)

// normalize applies the JSON hygiene steps in order.
func normalize(text string) string {
	out := strings.TrimSpace(text)
	out = smartQuotes.Replace(out)
	if m := codeFence.FindStringSubmatch(out); m != nil {
		out = strings.TrimSpace(m[1])
	}
	if !strings.Contains(out, `"`) && strings.Contains(out, "'") {
		out = strings.ReplaceAll(out, "'", `"`)
	}
	out = trailingComma.ReplaceAllString(out, "$1")
	return out
}

// Parse attempts to extract a single function call from accumulated
// post-stream text. It returns ok=false if no valid call is found —
// callers should then finalize the text as a plain assistant reply.
func Parse(accumulated string) (call FunctionCall, ok bool) {
	text := normalize(accumulated)
	if text == "" {
		return FunctionCall{}, false
	}

	if fc, valid := tryDecode(text); valid {
		return fc, true
	}

	for _, candidate := range embeddedCallRgx.FindAllString(text, -1) {
		if fc, valid := tryDecode(normalize(candidate)); valid {
			return fc, true
		}
	}

	return FunctionCall{}, false
}

func tryDecode(text string) (FunctionCall, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return FunctionCall{}, false
	}
	if !IsValidFunctionCallResponse(raw) {
		return FunctionCall{}, false
	}

	var fc FunctionCall
	if err := json.Unmarshal([]byte(text), &fc); err != nil {
		return FunctionCall{}, false
	}
	return fc, true
}

// IsValidFunctionCallResponse reports whether a decoded top-level object is
// a well-formed function call: it must have exactly the keys "name" (non-empty
// string) and "arguments" (object), and every argument value must be a
// scalar — unless the call targets vector_store_search, whose nested
// $-operator filters are permitted by IsComplexVectorSearch instead.
func IsValidFunctionCallResponse(raw map[string]json.RawMessage) bool {
	if len(raw) != 2 {
		return false
	}
	nameRaw, hasName := raw["name"]
	argsRaw, hasArgs := raw["arguments"]
	if !hasName || !hasArgs {
		return false
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || strings.TrimSpace(name) == "" {
		return false
	}

	var args map[string]json.RawMessage
	if err := json.Unmarshal(argsRaw, &args); err != nil {
		return false
	}

	for _, v := range args {
		if isScalar(v) {
			continue
		}
		if name == "vector_store_search" && IsComplexVectorSearch(v) {
			continue
		}
		return false
	}
	return true
}

func isScalar(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v.(type) {
	case string, float64, bool, nil:
		return true
	default:
		return false
	}
}

// IsComplexVectorSearch accepts a nested object value iff every non-leaf
// key (one whose value is itself an object) is a "$"-prefixed operator; a
// key whose value is a scalar is exempt from the prefix requirement. It
// rejects any list at any depth.
func IsComplexVectorSearch(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	if _, isList := v.([]any); isList {
		return false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return true
	}
	return isOperatorFilter(m)
}

func isOperatorFilter(m map[string]any) bool {
	for key, nested := range m {
		switch nv := nested.(type) {
		case []any:
			return false
		case map[string]any:
			if !strings.HasPrefix(key, "$") {
				return false
			}
			if !isOperatorFilter(nv) {
				return false
			}
		default:
			// leaf scalar value: no prefix requirement.
		}
	}
	return true
}

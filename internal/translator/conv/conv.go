// Package conv holds the field-mapping helpers shared by every protocol
// translator: reasoning effort, built-in tool names, stop sequences,
// max-token and temperature clamping, data-URL handling, finish reasons.
package conv

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// ClaudeDefaultMaxTokens is injected when the source request carries no
// max-token value; the Claude API requires a positive one.
const ClaudeDefaultMaxTokens = 8192

// ClaudeThinkingBudget is the nominal budget emitted whenever reasoning
// effort is above none.
const ClaudeThinkingBudget = 1024

// Effort normalises a reasoning effort value.
type Effort string

const (
	EffortNone    Effort = "none"
	EffortMinimal Effort = "minimal"
	EffortLow     Effort = "low"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
	EffortXHigh   Effort = "xhigh"
)

// ParseEffort returns the effort and whether the value was recognised.
func ParseEffort(value string) (Effort, bool) {
	switch Effort(strings.ToLower(strings.TrimSpace(value))) {
	case EffortNone:
		return EffortNone, true
	case EffortMinimal:
		return EffortMinimal, true
	case EffortLow:
		return EffortLow, true
	case EffortMedium:
		return EffortMedium, true
	case EffortHigh:
		return EffortHigh, true
	case EffortXHigh:
		return EffortXHigh, true
	}
	return "", false
}

// GeminiThinkingBudget maps effort onto the token budget used by the
// gemini-2.5 family.
func GeminiThinkingBudget(effort Effort) int64 {
	switch effort {
	case EffortNone:
		return 0
	case EffortMinimal, EffortLow:
		return 1024
	case EffortMedium:
		return 8192
	default:
		return 24576
	}
}

// GeminiThinkingLevel maps effort onto the thinking_level enum used by the
// gemini-3 family. The Pro variant does not accept "none" or "medium"; those
// are promoted to the nearest accepted level.
func GeminiThinkingLevel(effort Effort, model string) string {
	level := "high"
	switch effort {
	case EffortNone:
		level = "none"
	case EffortMinimal, EffortLow:
		level = "low"
	case EffortMedium:
		level = "medium"
	}
	if strings.Contains(model, "-pro") {
		switch level {
		case "none":
			level = "low"
		case "medium":
			level = "high"
		}
	}
	return level
}

// Gemini25Family reports whether model belongs to the gemini-2.5 family.
func Gemini25Family(model string) bool {
	return strings.HasPrefix(model, "gemini-2.5")
}

// Gemini3Family reports whether model belongs to the gemini-3 family.
func Gemini3Family(model string) bool {
	return strings.HasPrefix(model, "gemini-3")
}

// builtinTools maps source built-in tool types to deterministic target names.
var builtinTools = map[string]string{
	"web_search":              "web_search",
	"web_search_preview":      "web_search",
	"web_search_20250305":     "web_search",
	"code_execution":          "code_execution",
	"code_interpreter":        "code_execution",
	"code_execution_20250522": "code_execution",
	"computer":                "computer",
	"computer_use_preview":    "computer",
	"computer_20250124":       "computer",
	"text_editor":             "text_editor",
	"text_editor_20250728":    "text_editor",
	"bash":                    "bash",
	"bash_20250124":           "bash",
	"file_search":             "file_search",
	"image_generation":        "image_generation",
	"mcp":                     "mcp",
}

// BuiltinToolName returns the deterministic target-side name for a built-in
// tool type, or ok=false for unrecognised tools (which become generic custom
// tools with empty object schemas).
func BuiltinToolName(sourceType string) (string, bool) {
	name, ok := builtinTools[strings.ToLower(sourceType)]
	return name, ok
}

// StopSequences flattens the source stop field to trimmed, non-empty strings.
func StopSequences(stop gjson.Result) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if stop.IsArray() {
		stop.ForEach(func(_, v gjson.Result) bool {
			add(v.String())
			return true
		})
	} else if stop.Type == gjson.String {
		add(stop.String())
	}
	return out
}

// MaxTokens resolves the OpenAI max-token pair: max_completion_tokens
// overrides max_tokens; the result is clamped to [0, math.MaxUint32].
func MaxTokens(root gjson.Result) (int64, bool) {
	v := root.Get("max_completion_tokens")
	if !v.Exists() {
		v = root.Get("max_tokens")
	}
	if !v.Exists() {
		return 0, false
	}
	n := v.Int()
	if n < 0 {
		n = 0
	}
	if n > math.MaxUint32 {
		n = math.MaxUint32
	}
	return n, true
}

// ClampTemperature bounds a temperature to Claude's accepted [0.0, 1.0].
func ClampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// SplitDataURL splits a data: URL into its MIME type and base64 payload.
func SplitDataURL(url string) (mime, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	head, payload, found := strings.Cut(url[len("data:"):], ",")
	if !found {
		return "", "", false
	}
	mime, _, _ = strings.Cut(head, ";")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return mime, payload, true
}

// DefaultFileMIME is assumed for file-data blocks without an explicit type.
const DefaultFileMIME = "application/pdf"

// Finish-reason maps between the three vendor vocabularies.

func OpenAIFinishToClaude(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

func ClaudeStopToOpenAI(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}

func GeminiFinishToOpenAI(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return "stop"
	}
}

func OpenAIFinishToGemini(reason string) string {
	switch reason {
	case "length":
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

func ClaudeStopToGemini(reason string) string {
	switch reason {
	case "max_tokens":
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

func GeminiFinishToClaude(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// TextOfContent collapses an OpenAI message content value (string or part
// array) to plain text; multi-part content collapses when every part is text.
func TextOfContent(content gjson.Result) (string, bool) {
	if content.Type == gjson.String {
		return content.String(), true
	}
	if !content.IsArray() {
		return "", false
	}
	var b strings.Builder
	allText := true
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text", "input_text", "output_text":
			b.WriteString(part.Get("text").String())
		default:
			allText = false
			return false
		}
		return true
	})
	return b.String(), allText
}

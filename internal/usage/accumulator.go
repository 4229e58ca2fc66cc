package usage

import (
	"github.com/tidwall/gjson"
)

// Kind selects which protocol's stream events an Accumulator understands.
type Kind int

const (
	KindNone Kind = iota
	KindClaudeMessage
	KindOpenAIChat
	KindOpenAIResponses
	KindGeminiGenerate
)

// Accumulator merges usage fields out of streamed events for one request.
// Malformed frames are dropped silently; a stream must not fail because one
// frame could not be parsed.
type Accumulator struct {
	kind    Kind
	state   Summary
	touched bool
}

// NewAccumulator returns an accumulator for the given protocol kind.
func NewAccumulator(kind Kind) *Accumulator {
	return &Accumulator{kind: kind}
}

// Push parses one SSE data payload and merges any usage fields it carries.
// It returns the running summary when the event contributed a value.
func (a *Accumulator) Push(data []byte) *Summary {
	if a == nil || a.kind == KindNone || len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return nil
	}
	root := gjson.ParseBytes(data)
	var incoming Summary
	var ok bool
	switch a.kind {
	case KindClaudeMessage:
		incoming, ok = claudeStreamUsage(root)
	case KindOpenAIChat:
		incoming, ok = openaiChatStreamUsage(root)
	case KindOpenAIResponses:
		incoming, ok = openaiResponsesStreamUsage(root)
	case KindGeminiGenerate:
		incoming, ok = geminiStreamUsage(root)
	}
	if !ok {
		return nil
	}
	a.state.Merge(incoming)
	a.touched = true
	snapshot := a.state
	return &snapshot
}

// Finalize returns the merged summary, or nil when no event ever reported usage.
func (a *Accumulator) Finalize() *Summary {
	if a == nil || !a.touched {
		return nil
	}
	snapshot := a.state
	return &snapshot
}

// claudeStreamUsage reads usage out of message_start and message_delta events.
func claudeStreamUsage(root gjson.Result) (Summary, bool) {
	node := root.Get("message.usage")
	if !node.Exists() {
		node = root.Get("usage")
	}
	if !node.Exists() {
		return Summary{}, false
	}
	return usageFromClaudeNode(node), true
}

func usageFromClaudeNode(node gjson.Result) Summary {
	var s Summary
	if v := node.Get("input_tokens"); v.Exists() {
		s.InputTokens = ptr(v.Int())
	}
	if v := node.Get("output_tokens"); v.Exists() {
		s.OutputTokens = ptr(v.Int())
	}
	if v := node.Get("cache_read_input_tokens"); v.Exists() {
		s.CacheReadTokens = ptr(v.Int())
	}
	if v := node.Get("cache_creation_input_tokens"); v.Exists() {
		s.CacheCreationTokens = ptr(v.Int())
	}
	return s
}

// openaiChatStreamUsage reads the usage object emitted on the final chunk
// when stream_options.include_usage is set.
func openaiChatStreamUsage(root gjson.Result) (Summary, bool) {
	node := root.Get("usage")
	if !node.Exists() || node.Type == gjson.Null {
		return Summary{}, false
	}
	var s Summary
	if v := node.Get("prompt_tokens"); v.Exists() {
		s.InputTokens = ptr(v.Int())
	}
	if v := node.Get("completion_tokens"); v.Exists() {
		s.OutputTokens = ptr(v.Int())
	}
	if v := node.Get("prompt_tokens_details.cached_tokens"); v.Exists() {
		s.CacheReadTokens = ptr(v.Int())
	}
	return s, true
}

// openaiResponsesStreamUsage reads response.usage from the lifecycle events
// (response.created/in_progress/completed/failed/incomplete). A buffered
// response object carries usage at the top level instead.
func openaiResponsesStreamUsage(root gjson.Result) (Summary, bool) {
	node := root.Get("response.usage")
	if !node.Exists() || node.Type == gjson.Null {
		node = root.Get("usage")
	}
	if !node.Exists() || node.Type == gjson.Null {
		return Summary{}, false
	}
	var s Summary
	if v := node.Get("input_tokens"); v.Exists() {
		s.InputTokens = ptr(v.Int())
	}
	if v := node.Get("output_tokens"); v.Exists() {
		s.OutputTokens = ptr(v.Int())
	}
	if v := node.Get("input_tokens_details.cached_tokens"); v.Exists() {
		s.CacheReadTokens = ptr(v.Int())
	}
	return s, true
}

// geminiStreamUsage reads usageMetadata from any chunk.
func geminiStreamUsage(root gjson.Result) (Summary, bool) {
	node := root.Get("usageMetadata")
	if !node.Exists() {
		node = root.Get("usage_metadata")
	}
	if !node.Exists() {
		return Summary{}, false
	}
	var s Summary
	if v := node.Get("promptTokenCount"); v.Exists() {
		s.InputTokens = ptr(v.Int())
	}
	if v := node.Get("candidatesTokenCount"); v.Exists() {
		s.OutputTokens = ptr(v.Int())
	}
	if v := node.Get("cachedContentTokenCount"); v.Exists() {
		s.CacheReadTokens = ptr(v.Int())
	}
	return s, true
}

package usage

import (
	"strings"

	"github.com/tidwall/gjson"
)

// OutputAccumulator concatenates the output text seen across streamed events.
// It is a fallback signal for token counting when the upstream declines to
// report usage; non-text parts are kept as their JSON form so the tokenizer
// has something to measure.
type OutputAccumulator struct {
	kind Kind
	buf  strings.Builder
}

// NewOutputAccumulator returns an output accumulator for the given protocol kind.
func NewOutputAccumulator(kind Kind) *OutputAccumulator {
	return &OutputAccumulator{kind: kind}
}

// Push extracts output fragments from one SSE data payload.
func (o *OutputAccumulator) Push(data []byte) {
	if o == nil || o.kind == KindNone || len(data) == 0 || !gjson.ValidBytes(data) {
		return
	}
	root := gjson.ParseBytes(data)
	switch o.kind {
	case KindClaudeMessage:
		o.pushClaude(root)
	case KindOpenAIChat:
		o.pushOpenAIChat(root)
	case KindOpenAIResponses:
		o.pushOpenAIResponses(root)
	case KindGeminiGenerate:
		o.pushGemini(root)
	}
}

// Text returns everything accumulated so far.
func (o *OutputAccumulator) Text() string {
	if o == nil {
		return ""
	}
	return o.buf.String()
}

// EstimateSummary derives a summary from the accumulated text when the
// upstream never reported usage: one token per four characters of output.
// Returns nil when nothing was seen.
func (o *OutputAccumulator) EstimateSummary() *Summary {
	if o == nil || o.buf.Len() == 0 {
		return nil
	}
	tokens := int64(o.buf.Len() / 4)
	if tokens < 1 {
		tokens = 1
	}
	return &Summary{OutputTokens: ptr(tokens)}
}

func (o *OutputAccumulator) pushClaude(root gjson.Result) {
	delta := root.Get("delta")
	switch delta.Get("type").String() {
	case "text_delta":
		o.buf.WriteString(delta.Get("text").String())
	case "input_json_delta":
		o.buf.WriteString(delta.Get("partial_json").String())
	case "thinking_delta":
		o.buf.WriteString(delta.Get("thinking").String())
	}
}

func (o *OutputAccumulator) pushOpenAIChat(root gjson.Result) {
	root.Get("choices").ForEach(func(_, choice gjson.Result) bool {
		delta := choice.Get("delta")
		if v := delta.Get("content"); v.Exists() && v.Type == gjson.String {
			o.buf.WriteString(v.String())
		}
		if v := delta.Get("refusal"); v.Exists() && v.Type == gjson.String {
			o.buf.WriteString(v.String())
		}
		delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			if args := call.Get("function.arguments"); args.Exists() {
				o.buf.WriteString(args.String())
			}
			return true
		})
		return true
	})
}

func (o *OutputAccumulator) pushOpenAIResponses(root gjson.Result) {
	switch root.Get("type").String() {
	case "response.output_text.delta", "response.refusal.delta", "response.function_call_arguments.delta":
		o.buf.WriteString(root.Get("delta").String())
	}
}

func (o *OutputAccumulator) pushGemini(root gjson.Result) {
	root.Get("candidates").ForEach(func(_, candidate gjson.Result) bool {
		candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Exists() {
				o.buf.WriteString(text.String())
			} else {
				o.buf.WriteString(part.Raw)
			}
			return true
		})
		return true
	})
}

package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// chatStreamState tracks one Claude stream being replayed as OpenAI chunks.
type chatStreamState struct {
	MessageID    string
	Created      int64
	StopReason   string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	// ToolIndex maps Claude content block index to OpenAI tool call index.
	ToolIndex map[int64]int
	NextTool  int
}

// ConvertClaudeResponseToOpenAI replays Claude Messages stream events as
// OpenAI Chat Completions chunks. The final usage chunk and [DONE] marker
// are emitted when the upstream signals end of stream.
func ConvertClaudeResponseToOpenAI(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &chatStreamState{
			MessageID: fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
			Created:   time.Now().Unix(),
			ToolIndex: make(map[int64]int),
		}
	}
	state := (*param).(*chatStreamState)

	if string(rawJSON) == "[DONE]" {
		finish := conv.ClaudeStopToOpenAI(state.StopReason)
		final := chatChunkBase(state, modelName)
		final, _ = sjson.SetRaw(final, "choices.0.delta", `{}`)
		final, _ = sjson.Set(final, "choices.0.finish_reason", finish)
		final, _ = sjson.Set(final, "usage.prompt_tokens", state.InputTokens)
		final, _ = sjson.Set(final, "usage.completion_tokens", state.OutputTokens)
		final, _ = sjson.Set(final, "usage.total_tokens", state.InputTokens+state.OutputTokens)
		if state.CachedTokens > 0 {
			final, _ = sjson.Set(final, "usage.prompt_tokens_details.cached_tokens", state.CachedTokens)
		}
		return []string{"data: " + final + "\n\n", "data: [DONE]\n\n"}
	}

	root := gjson.ParseBytes(rawJSON)
	switch root.Get("type").String() {
	case "message_start":
		if id := root.Get("message.id").String(); id != "" {
			state.MessageID = id
		}
		state.InputTokens = root.Get("message.usage.input_tokens").Int()
		state.CachedTokens = root.Get("message.usage.cache_read_input_tokens").Int()
		chunk := chatChunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
		return []string{"data: " + chunk + "\n\n"}

	case "content_block_start":
		block := root.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil
		}
		index := root.Get("index").Int()
		toolIndex := state.NextTool
		state.ToolIndex[index] = toolIndex
		state.NextTool++
		chunk := chatChunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.index", toolIndex)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.id", block.Get("id").String())
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.type", "function")
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.name", block.Get("name").String())
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.arguments", "")
		return []string{"data: " + chunk + "\n\n"}

	case "content_block_delta":
		delta := root.Get("delta")
		chunk := chatChunkBase(state, modelName)
		switch delta.Get("type").String() {
		case "text_delta":
			chunk, _ = sjson.Set(chunk, "choices.0.delta.content", delta.Get("text").String())
		case "thinking_delta":
			chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", delta.Get("thinking").String())
		case "input_json_delta":
			toolIndex, ok := state.ToolIndex[root.Get("index").Int()]
			if !ok {
				return nil
			}
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.index", toolIndex)
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.arguments", delta.Get("partial_json").String())
		default:
			return nil
		}
		return []string{"data: " + chunk + "\n\n"}

	case "message_delta":
		if reason := root.Get("delta.stop_reason").String(); reason != "" {
			state.StopReason = reason
		}
		if v := root.Get("usage.output_tokens"); v.Exists() {
			state.OutputTokens = v.Int()
		}
		return nil
	}
	return nil
}

// ConvertClaudeResponseToOpenAINonStream converts a buffered Claude Messages
// response into one OpenAI Chat Completions object.
func ConvertClaudeResponseToOpenAINonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "created", time.Now().Unix())

	var text, reasoning string
	toolCount := 0
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text += block.Get("text").String()
		case "thinking":
			reasoning += block.Get("thinking").String()
		case "tool_use":
			prefix := fmt.Sprintf("choices.0.message.tool_calls.%d", toolCount)
			out, _ = sjson.Set(out, prefix+".index", toolCount)
			out, _ = sjson.Set(out, prefix+".id", block.Get("id").String())
			out, _ = sjson.Set(out, prefix+".type", "function")
			out, _ = sjson.Set(out, prefix+".function.name", block.Get("name").String())
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			out, _ = sjson.Set(out, prefix+".function.arguments", args)
			toolCount++
		}
		return true
	})
	out, _ = sjson.Set(out, "choices.0.message.content", text)
	if reasoning != "" {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning)
	}
	out, _ = sjson.Set(out, "choices.0.finish_reason",
		conv.ClaudeStopToOpenAI(root.Get("stop_reason").String()))

	input := root.Get("usage.input_tokens").Int()
	output := root.Get("usage.output_tokens").Int()
	out, _ = sjson.Set(out, "usage.prompt_tokens", input)
	out, _ = sjson.Set(out, "usage.completion_tokens", output)
	out, _ = sjson.Set(out, "usage.total_tokens", input+output)
	if cached := root.Get("usage.cache_read_input_tokens").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usage.prompt_tokens_details.cached_tokens", cached)
	}
	return out
}

func chatChunkBase(state *chatStreamState, modelName string) string {
	chunk := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
	chunk, _ = sjson.Set(chunk, "id", state.MessageID)
	chunk, _ = sjson.Set(chunk, "model", modelName)
	chunk, _ = sjson.Set(chunk, "created", state.Created)
	return chunk
}

package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type chatStreamState struct {
	MessageID    string
	Created      int64
	FinishReason string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	// ToolIndex maps Responses item ids to OpenAI tool call indexes.
	ToolIndex map[string]int
	SentRole  bool
}

// ConvertOpenAIResponsesResponseToOpenAI replays OpenAI Responses stream
// events as OpenAI Chat Completions chunks.
func ConvertOpenAIResponsesResponseToOpenAI(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &chatStreamState{
			MessageID: fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
			Created:   time.Now().Unix(),
			ToolIndex: make(map[string]int),
		}
	}
	state := (*param).(*chatStreamState)

	if string(rawJSON) == "[DONE]" {
		final := chunkBase(state, modelName)
		final, _ = sjson.SetRaw(final, "choices.0.delta", `{}`)
		reason := "stop"
		switch {
		case state.FinishReason == "max_output_tokens":
			reason = "length"
		case len(state.ToolIndex) > 0:
			reason = "tool_calls"
		}
		final, _ = sjson.Set(final, "choices.0.finish_reason", reason)
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
	case "response.created":
		if id := root.Get("response.id").String(); id != "" {
			state.MessageID = id
		}
		chunk := chunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
		state.SentRole = true
		return []string{"data: " + chunk + "\n\n"}

	case "response.output_item.added":
		item := root.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil
		}
		toolIndex := len(state.ToolIndex)
		state.ToolIndex[item.Get("id").String()] = toolIndex
		chunk := chunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.index", toolIndex)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.id", item.Get("call_id").String())
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.type", "function")
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.name", item.Get("name").String())
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.arguments", "")
		return []string{"data: " + chunk + "\n\n"}

	case "response.output_text.delta":
		chunk := chunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.content", root.Get("delta").String())
		return []string{"data: " + chunk + "\n\n"}

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		chunk := chunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", root.Get("delta").String())
		return []string{"data: " + chunk + "\n\n"}

	case "response.function_call_arguments.delta":
		toolIndex, ok := state.ToolIndex[root.Get("item_id").String()]
		if !ok {
			return nil
		}
		chunk := chunkBase(state, modelName)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.index", toolIndex)
		chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.arguments", root.Get("delta").String())
		return []string{"data: " + chunk + "\n\n"}

	case "response.completed", "response.incomplete":
		response := root.Get("response")
		state.InputTokens = response.Get("usage.input_tokens").Int()
		state.OutputTokens = response.Get("usage.output_tokens").Int()
		state.CachedTokens = response.Get("usage.input_tokens_details.cached_tokens").Int()
		if reason := response.Get("incomplete_details.reason").String(); reason != "" {
			state.FinishReason = reason
		}
		return nil
	}
	return nil
}

// ConvertOpenAIResponsesResponseToOpenAINonStream converts a buffered OpenAI
// Responses object into one OpenAI Chat Completions object.
func ConvertOpenAIResponsesResponseToOpenAINonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`
	out, _ = sjson.Set(out, "id", root.Get("id").String())
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "created", root.Get("created_at").Int())

	var text, reasoning string
	toolCount := 0
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "message":
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					text += part.Get("text").String()
				}
				return true
			})
		case "reasoning":
			item.Get("summary").ForEach(func(_, part gjson.Result) bool {
				reasoning += part.Get("text").String()
				return true
			})
		case "function_call":
			prefix := fmt.Sprintf("choices.0.message.tool_calls.%d", toolCount)
			out, _ = sjson.Set(out, prefix+".index", toolCount)
			out, _ = sjson.Set(out, prefix+".id", item.Get("call_id").String())
			out, _ = sjson.Set(out, prefix+".type", "function")
			out, _ = sjson.Set(out, prefix+".function.name", item.Get("name").String())
			out, _ = sjson.Set(out, prefix+".function.arguments", item.Get("arguments").String())
			toolCount++
		}
		return true
	})
	out, _ = sjson.Set(out, "choices.0.message.content", text)
	if reasoning != "" {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning)
	}
	reason := "stop"
	switch {
	case root.Get("incomplete_details.reason").String() == "max_output_tokens":
		reason = "length"
	case toolCount > 0:
		reason = "tool_calls"
	}
	out, _ = sjson.Set(out, "choices.0.finish_reason", reason)

	input := root.Get("usage.input_tokens").Int()
	output := root.Get("usage.output_tokens").Int()
	out, _ = sjson.Set(out, "usage.prompt_tokens", input)
	out, _ = sjson.Set(out, "usage.completion_tokens", output)
	out, _ = sjson.Set(out, "usage.total_tokens", input+output)
	if cached := root.Get("usage.input_tokens_details.cached_tokens").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usage.prompt_tokens_details.cached_tokens", cached)
	}
	return out
}

func chunkBase(state *chatStreamState, modelName string) string {
	chunk := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
	chunk, _ = sjson.Set(chunk, "id", state.MessageID)
	chunk, _ = sjson.Set(chunk, "model", modelName)
	chunk, _ = sjson.Set(chunk, "created", state.Created)
	return chunk
}

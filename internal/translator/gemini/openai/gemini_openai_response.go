package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

type chatStreamState struct {
	MessageID    string
	Created      int64
	FinishReason string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	ToolCalls    int
}

// ConvertGeminiResponseToOpenAI replays Gemini GenerateContent stream chunks
// as OpenAI Chat Completions chunks.
func ConvertGeminiResponseToOpenAI(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &chatStreamState{
			MessageID: fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
			Created:   time.Now().Unix(),
		}
	}
	state := (*param).(*chatStreamState)

	if string(rawJSON) == "[DONE]" {
		final := chunkBase(state, modelName)
		final, _ = sjson.SetRaw(final, "choices.0.delta", `{}`)
		final, _ = sjson.Set(final, "choices.0.finish_reason", finishReason(state))
		final, _ = sjson.Set(final, "usage.prompt_tokens", state.InputTokens)
		final, _ = sjson.Set(final, "usage.completion_tokens", state.OutputTokens)
		final, _ = sjson.Set(final, "usage.total_tokens", state.InputTokens+state.OutputTokens)
		if state.CachedTokens > 0 {
			final, _ = sjson.Set(final, "usage.prompt_tokens_details.cached_tokens", state.CachedTokens)
		}
		return []string{"data: " + final + "\n\n", "data: [DONE]\n\n"}
	}

	root := gjson.ParseBytes(rawJSON)
	if usage := root.Get("usageMetadata"); usage.Exists() {
		if v := usage.Get("promptTokenCount"); v.Exists() {
			state.InputTokens = v.Int()
		}
		if v := usage.Get("candidatesTokenCount"); v.Exists() {
			state.OutputTokens = v.Int()
		}
		if v := usage.Get("cachedContentTokenCount"); v.Exists() {
			state.CachedTokens = v.Int()
		}
	}
	candidate := root.Get("candidates.0")
	if reason := candidate.Get("finishReason").String(); reason != "" {
		state.FinishReason = reason
	}

	var out []string
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		chunk := chunkBase(state, modelName)
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			index := state.ToolCalls
			state.ToolCalls++
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.index", index)
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.id",
				fmt.Sprintf("call_%s_%d", state.MessageID, index))
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.type", "function")
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.name", call.Get("name").String())
			chunk, _ = sjson.Set(chunk, "choices.0.delta.tool_calls.0.function.arguments", args)
		case part.Get("text").Exists():
			if part.Get("thought").Bool() {
				chunk, _ = sjson.Set(chunk, "choices.0.delta.reasoning_content", part.Get("text").String())
			} else {
				chunk, _ = sjson.Set(chunk, "choices.0.delta.content", part.Get("text").String())
			}
		default:
			return true
		}
		out = append(out, "data: "+chunk+"\n\n")
		return true
	})
	return out
}

// ConvertGeminiResponseToOpenAINonStream converts a buffered Gemini
// GenerateContent response into one OpenAI Chat Completions object.
func ConvertGeminiResponseToOpenAINonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`
	out, _ = sjson.Set(out, "id", fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()))
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "created", time.Now().Unix())

	var text, reasoning string
	toolCount := 0
	hadToolCall := false
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			prefix := fmt.Sprintf("choices.0.message.tool_calls.%d", toolCount)
			out, _ = sjson.Set(out, prefix+".index", toolCount)
			out, _ = sjson.Set(out, prefix+".id", fmt.Sprintf("call_%d", toolCount))
			out, _ = sjson.Set(out, prefix+".type", "function")
			out, _ = sjson.Set(out, prefix+".function.name", call.Get("name").String())
			out, _ = sjson.Set(out, prefix+".function.arguments", args)
			toolCount++
			hadToolCall = true
		case part.Get("text").Exists():
			if part.Get("thought").Bool() {
				reasoning += part.Get("text").String()
			} else {
				text += part.Get("text").String()
			}
		}
		return true
	})
	out, _ = sjson.Set(out, "choices.0.message.content", text)
	if reasoning != "" {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning)
	}
	reason := conv.GeminiFinishToOpenAI(root.Get("candidates.0.finishReason").String())
	if hadToolCall && reason == "stop" {
		reason = "tool_calls"
	}
	out, _ = sjson.Set(out, "choices.0.finish_reason", reason)

	usage := root.Get("usageMetadata")
	input := usage.Get("promptTokenCount").Int()
	output := usage.Get("candidatesTokenCount").Int()
	out, _ = sjson.Set(out, "usage.prompt_tokens", input)
	out, _ = sjson.Set(out, "usage.completion_tokens", output)
	out, _ = sjson.Set(out, "usage.total_tokens", input+output)
	if cached := usage.Get("cachedContentTokenCount").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usage.prompt_tokens_details.cached_tokens", cached)
	}
	return out
}

func finishReason(state *chatStreamState) string {
	reason := conv.GeminiFinishToOpenAI(state.FinishReason)
	if state.ToolCalls > 0 && reason == "stop" {
		reason = "tool_calls"
	}
	return reason
}

func chunkBase(state *chatStreamState, modelName string) string {
	chunk := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
	chunk, _ = sjson.Set(chunk, "id", state.MessageID)
	chunk, _ = sjson.Set(chunk, "model", modelName)
	chunk, _ = sjson.Set(chunk, "created", state.Created)
	return chunk
}

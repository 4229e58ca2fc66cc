package gemini

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

type pendingCall struct {
	Name string
	Args string
}

type geminiStreamState struct {
	FinishReason string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	// Calls accumulate partial arguments per OpenAI tool call index; Gemini
	// needs complete objects, so they flush at end of stream.
	Calls map[int64]*pendingCall
}

// ConvertOpenAIResponseToGemini replays OpenAI Chat Completions chunks as
// Gemini GenerateContent stream chunks. Tool call arguments are buffered
// until end of stream because they arrive as partial JSON.
func ConvertOpenAIResponseToGemini(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &geminiStreamState{Calls: make(map[int64]*pendingCall)}
	}
	state := (*param).(*geminiStreamState)

	if string(rawJSON) == "[DONE]" {
		var frames []string
		indexes := make([]int64, 0, len(state.Calls))
		for index := range state.Calls {
			indexes = append(indexes, index)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for _, index := range indexes {
			call := state.Calls[index]
			part := map[string]any{"functionCall": functionCallValue(call.Name, call.Args)}
			frames = append(frames, "data: "+chunkWithPart(modelName, part)+"\n\n")
		}
		final := chunkWithPart(modelName, nil)
		final, _ = sjson.Set(final, "candidates.0.finishReason",
			conv.OpenAIFinishToGemini(state.FinishReason))
		final, _ = sjson.Set(final, "usageMetadata.promptTokenCount", state.InputTokens)
		final, _ = sjson.Set(final, "usageMetadata.candidatesTokenCount", state.OutputTokens)
		final, _ = sjson.Set(final, "usageMetadata.totalTokenCount", state.InputTokens+state.OutputTokens)
		if state.CachedTokens > 0 {
			final, _ = sjson.Set(final, "usageMetadata.cachedContentTokenCount", state.CachedTokens)
		}
		return append(frames, "data: "+final+"\n\n")
	}

	root := gjson.ParseBytes(rawJSON)
	if usage := root.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
		if v := usage.Get("prompt_tokens"); v.Exists() {
			state.InputTokens = v.Int()
		}
		if v := usage.Get("completion_tokens"); v.Exists() {
			state.OutputTokens = v.Int()
		}
		if v := usage.Get("prompt_tokens_details.cached_tokens"); v.Exists() {
			state.CachedTokens = v.Int()
		}
	}
	choice := root.Get("choices.0")
	if reason := choice.Get("finish_reason").String(); reason != "" {
		state.FinishReason = reason
	}
	delta := choice.Get("delta")

	var frames []string
	if reasoning := delta.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		part := map[string]any{"text": reasoning.String(), "thought": true}
		frames = append(frames, "data: "+chunkWithPart(modelName, part)+"\n\n")
	}
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		part := map[string]any{"text": content.String()}
		frames = append(frames, "data: "+chunkWithPart(modelName, part)+"\n\n")
	}
	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		index := call.Get("index").Int()
		pending, ok := state.Calls[index]
		if !ok {
			pending = &pendingCall{}
			state.Calls[index] = pending
		}
		if name := call.Get("function.name").String(); name != "" {
			pending.Name = name
		}
		pending.Args += call.Get("function.arguments").String()
		return true
	})
	return frames
}

// ConvertOpenAIResponseToGeminiNonStream converts a buffered OpenAI Chat
// Completions response into one Gemini GenerateContent response.
func ConvertOpenAIResponseToGeminiNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	message := root.Get("choices.0.message")

	var parts []any
	if reasoning := message.Get("reasoning_content").String(); reasoning != "" {
		parts = append(parts, map[string]any{"text": reasoning, "thought": true})
	}
	if content := message.Get("content").String(); content != "" {
		parts = append(parts, map[string]any{"text": content})
	}
	message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		parts = append(parts, map[string]any{
			"functionCall": functionCallValue(
				call.Get("function.name").String(),
				call.Get("function.arguments").String()),
		})
		return true
	})

	out := `{"candidates":[{"content":{"role":"model","parts":[]},"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	if partsJSON, err := json.Marshal(parts); err == nil && len(parts) > 0 {
		out, _ = sjson.SetRaw(out, "candidates.0.content.parts", string(partsJSON))
	}
	out, _ = sjson.Set(out, "candidates.0.finishReason",
		conv.OpenAIFinishToGemini(root.Get("choices.0.finish_reason").String()))

	usage := root.Get("usage")
	input := usage.Get("prompt_tokens").Int()
	output := usage.Get("completion_tokens").Int()
	out, _ = sjson.Set(out, "usageMetadata.promptTokenCount", input)
	out, _ = sjson.Set(out, "usageMetadata.candidatesTokenCount", output)
	out, _ = sjson.Set(out, "usageMetadata.totalTokenCount", input+output)
	if cached := usage.Get("prompt_tokens_details.cached_tokens").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usageMetadata.cachedContentTokenCount", cached)
	}
	return out
}

func functionCallValue(name, args string) map[string]any {
	call := map[string]any{"name": name}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(args), &parsed); err == nil {
		call["args"] = parsed
	} else {
		call["args"] = map[string]any{}
	}
	return call
}

func chunkWithPart(modelName string, part map[string]any) string {
	out := `{"candidates":[{"content":{"role":"model","parts":[]},"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	if part != nil {
		out, _ = sjson.Set(out, "candidates.0.content.parts.0", part)
	}
	return out
}

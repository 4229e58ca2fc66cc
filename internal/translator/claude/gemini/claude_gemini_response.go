package gemini

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

type geminiStreamState struct {
	StopReason   string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	// ToolNames and ToolArgs accumulate per Claude content block index;
	// Gemini functionCall parts need complete argument objects.
	ToolNames map[int64]string
	ToolArgs  map[int64]string
}

// ConvertClaudeResponseToGemini replays Claude Messages stream events as
// Gemini GenerateContent stream chunks. Tool calls are buffered until their
// block closes because Gemini carries arguments as one complete object.
func ConvertClaudeResponseToGemini(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &geminiStreamState{
			ToolNames: make(map[int64]string),
			ToolArgs:  make(map[int64]string),
		}
	}
	state := (*param).(*geminiStreamState)

	if string(rawJSON) == "[DONE]" {
		chunk := geminiChunk(modelName, nil)
		chunk, _ = sjson.Set(chunk, "candidates.0.finishReason",
			conv.ClaudeStopToGemini(state.StopReason))
		chunk = setGeminiUsage(chunk, state)
		return []string{"data: " + chunk + "\n\n"}
	}

	root := gjson.ParseBytes(rawJSON)
	switch root.Get("type").String() {
	case "message_start":
		state.InputTokens = root.Get("message.usage.input_tokens").Int()
		state.CachedTokens = root.Get("message.usage.cache_read_input_tokens").Int()
		return nil

	case "content_block_start":
		block := root.Get("content_block")
		if block.Get("type").String() == "tool_use" {
			index := root.Get("index").Int()
			state.ToolNames[index] = block.Get("name").String()
			state.ToolArgs[index] = ""
		}
		return nil

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			part := map[string]any{"text": delta.Get("text").String()}
			return []string{"data: " + geminiChunk(modelName, part) + "\n\n"}
		case "thinking_delta":
			part := map[string]any{"text": delta.Get("thinking").String(), "thought": true}
			return []string{"data: " + geminiChunk(modelName, part) + "\n\n"}
		case "input_json_delta":
			index := root.Get("index").Int()
			if _, ok := state.ToolArgs[index]; ok {
				state.ToolArgs[index] += delta.Get("partial_json").String()
			}
		}
		return nil

	case "content_block_stop":
		index := root.Get("index").Int()
		name, ok := state.ToolNames[index]
		if !ok {
			return nil
		}
		delete(state.ToolNames, index)
		args := state.ToolArgs[index]
		delete(state.ToolArgs, index)
		part := map[string]any{"functionCall": functionCallValue(name, args)}
		return []string{"data: " + geminiChunk(modelName, part) + "\n\n"}

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

// ConvertClaudeResponseToGeminiNonStream converts a buffered Claude Messages
// response into one Gemini GenerateContent response.
func ConvertClaudeResponseToGeminiNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	var parts []any
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": block.Get("text").String()})
		case "thinking":
			parts = append(parts, map[string]any{"text": block.Get("thinking").String(), "thought": true})
		case "tool_use":
			parts = append(parts, map[string]any{
				"functionCall": functionCallValue(block.Get("name").String(), block.Get("input").Raw),
			})
		}
		return true
	})

	out := `{"candidates":[{"content":{"role":"model","parts":[]},"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	if partsJSON, err := json.Marshal(parts); err == nil {
		out, _ = sjson.SetRaw(out, "candidates.0.content.parts", string(partsJSON))
	}
	out, _ = sjson.Set(out, "candidates.0.finishReason",
		conv.ClaudeStopToGemini(root.Get("stop_reason").String()))

	state := &geminiStreamState{
		InputTokens:  root.Get("usage.input_tokens").Int(),
		OutputTokens: root.Get("usage.output_tokens").Int(),
		CachedTokens: root.Get("usage.cache_read_input_tokens").Int(),
	}
	return setGeminiUsage(out, state)
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

func geminiChunk(modelName string, part map[string]any) string {
	out := `{"candidates":[{"content":{"role":"model","parts":[]},"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	if part != nil {
		out, _ = sjson.Set(out, "candidates.0.content.parts.0", part)
	}
	return out
}

func setGeminiUsage(out string, state *geminiStreamState) string {
	out, _ = sjson.Set(out, "usageMetadata.promptTokenCount", state.InputTokens)
	out, _ = sjson.Set(out, "usageMetadata.candidatesTokenCount", state.OutputTokens)
	out, _ = sjson.Set(out, "usageMetadata.totalTokenCount", state.InputTokens+state.OutputTokens)
	if state.CachedTokens > 0 {
		out, _ = sjson.Set(out, "usageMetadata.cachedContentTokenCount", state.CachedTokens)
	}
	return out
}

package gemini

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type geminiStreamState struct {
	StopReason   string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

// ConvertOpenAIResponsesResponseToGemini replays OpenAI Responses stream
// events as Gemini GenerateContent stream chunks. Function calls flush on
// output_item.done, which carries the complete argument object.
func ConvertOpenAIResponsesResponseToGemini(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &geminiStreamState{}
	}
	state := (*param).(*geminiStreamState)

	if string(rawJSON) == "[DONE]" {
		reason := "STOP"
		if state.StopReason == "max_output_tokens" {
			reason = "MAX_TOKENS"
		}
		final := chunkWithPart(modelName, nil)
		final, _ = sjson.Set(final, "candidates.0.finishReason", reason)
		final, _ = sjson.Set(final, "usageMetadata.promptTokenCount", state.InputTokens)
		final, _ = sjson.Set(final, "usageMetadata.candidatesTokenCount", state.OutputTokens)
		final, _ = sjson.Set(final, "usageMetadata.totalTokenCount", state.InputTokens+state.OutputTokens)
		if state.CachedTokens > 0 {
			final, _ = sjson.Set(final, "usageMetadata.cachedContentTokenCount", state.CachedTokens)
		}
		return []string{"data: " + final + "\n\n"}
	}

	root := gjson.ParseBytes(rawJSON)
	switch root.Get("type").String() {
	case "response.output_text.delta":
		part := map[string]any{"text": root.Get("delta").String()}
		return []string{"data: " + chunkWithPart(modelName, part) + "\n\n"}

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		part := map[string]any{"text": root.Get("delta").String(), "thought": true}
		return []string{"data: " + chunkWithPart(modelName, part) + "\n\n"}

	case "response.output_item.done":
		item := root.Get("item")
		if item.Get("type").String() != "function_call" {
			return nil
		}
		call := map[string]any{"name": item.Get("name").String()}
		var args map[string]any
		if err := json.Unmarshal([]byte(item.Get("arguments").String()), &args); err == nil {
			call["args"] = args
		} else {
			call["args"] = map[string]any{}
		}
		part := map[string]any{"functionCall": call}
		return []string{"data: " + chunkWithPart(modelName, part) + "\n\n"}

	case "response.completed", "response.incomplete":
		response := root.Get("response")
		state.InputTokens = response.Get("usage.input_tokens").Int()
		state.OutputTokens = response.Get("usage.output_tokens").Int()
		state.CachedTokens = response.Get("usage.input_tokens_details.cached_tokens").Int()
		if reason := response.Get("incomplete_details.reason").String(); reason != "" {
			state.StopReason = reason
		}
		return nil
	}
	return nil
}

// ConvertOpenAIResponsesResponseToGeminiNonStream converts a buffered OpenAI
// Responses object into one Gemini GenerateContent response.
func ConvertOpenAIResponsesResponseToGeminiNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	var parts []any
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "message":
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					parts = append(parts, map[string]any{"text": part.Get("text").String()})
				}
				return true
			})
		case "reasoning":
			item.Get("summary").ForEach(func(_, part gjson.Result) bool {
				parts = append(parts, map[string]any{
					"text": part.Get("text").String(), "thought": true,
				})
				return true
			})
		case "function_call":
			call := map[string]any{"name": item.Get("name").String()}
			var args map[string]any
			if err := json.Unmarshal([]byte(item.Get("arguments").String()), &args); err == nil {
				call["args"] = args
			} else {
				call["args"] = map[string]any{}
			}
			parts = append(parts, map[string]any{"functionCall": call})
		}
		return true
	})

	out := `{"candidates":[{"content":{"role":"model","parts":[]},"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	if partsJSON, err := json.Marshal(parts); err == nil && len(parts) > 0 {
		out, _ = sjson.SetRaw(out, "candidates.0.content.parts", string(partsJSON))
	}
	reason := "STOP"
	if root.Get("incomplete_details.reason").String() == "max_output_tokens" {
		reason = "MAX_TOKENS"
	}
	out, _ = sjson.Set(out, "candidates.0.finishReason", reason)

	input := root.Get("usage.input_tokens").Int()
	output := root.Get("usage.output_tokens").Int()
	out, _ = sjson.Set(out, "usageMetadata.promptTokenCount", input)
	out, _ = sjson.Set(out, "usageMetadata.candidatesTokenCount", output)
	out, _ = sjson.Set(out, "usageMetadata.totalTokenCount", input+output)
	if cached := root.Get("usage.input_tokens_details.cached_tokens").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usageMetadata.cachedContentTokenCount", cached)
	}
	return out
}

func chunkWithPart(modelName string, part map[string]any) string {
	out := `{"candidates":[{"content":{"role":"model","parts":[]},"index":0}]}`
	out, _ = sjson.Set(out, "modelVersion", modelName)
	if part != nil {
		out, _ = sjson.Set(out, "candidates.0.content.parts.0", part)
	}
	return out
}

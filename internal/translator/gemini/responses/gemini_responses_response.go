package responses

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type outputItem struct {
	Kind string // "message", "function_call" or "reasoning"
	ID   string
	Name string
	Text string
	Args string
}

type responsesStreamState struct {
	ResponseID   string
	Created      int64
	FinishReason string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	Items        []*outputItem
	Started      bool
}

func (s *responsesStreamState) frame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertGeminiResponseToOpenAIResponses replays Gemini GenerateContent
// stream chunks as OpenAI Responses stream events. Consecutive text parts
// extend one message item; each functionCall opens and closes its own item.
func ConvertGeminiResponseToOpenAIResponses(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &responsesStreamState{
			ResponseID: fmt.Sprintf("resp_%d", time.Now().UnixNano()),
			Created:    time.Now().Unix(),
		}
	}
	state := (*param).(*responsesStreamState)

	if string(rawJSON) == "[DONE]" {
		var frames []string
		if n := len(state.Items); n > 0 {
			last := state.Items[n-1]
			if last.Kind == "message" || last.Kind == "reasoning" {
				done, _ := sjson.Set(`{"type":"response.output_item.done"}`, "output_index", n-1)
				done, _ = sjson.SetRaw(done, "item", itemJSON(last, true))
				frames = append(frames, state.frame("response.output_item.done", done))
			}
		}
		frames = append(frames, state.frame("response.completed",
			responseEnvelope(state, modelName, "completed")))
		return frames
	}

	root := gjson.ParseBytes(rawJSON)
	var frames []string

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
	if !state.Started {
		state.Started = true
		envelope := responseEnvelope(state, modelName, "in_progress")
		frames = append(frames,
			state.frame("response.created", envelope),
			state.frame("response.in_progress", envelope),
		)
	}

	candidate := root.Get("candidates.0")
	if reason := candidate.Get("finishReason").String(); reason != "" {
		state.FinishReason = reason
	}
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			item := &outputItem{
				Kind: "function_call",
				ID:   fmt.Sprintf("call_%s_%d", state.ResponseID, len(state.Items)),
				Name: call.Get("name").String(),
				Args: args,
			}
			state.Items = append(state.Items, item)
			index := len(state.Items) - 1
			added, _ := sjson.Set(`{"type":"response.output_item.added"}`, "output_index", index)
			added, _ = sjson.SetRaw(added, "item", itemJSON(item, false))
			argDelta, _ := sjson.Set(`{"type":"response.function_call_arguments.delta"}`, "item_id", item.ID)
			argDelta, _ = sjson.Set(argDelta, "output_index", index)
			argDelta, _ = sjson.Set(argDelta, "delta", args)
			done, _ := sjson.Set(`{"type":"response.output_item.done"}`, "output_index", index)
			done, _ = sjson.SetRaw(done, "item", itemJSON(item, true))
			frames = append(frames,
				state.frame("response.output_item.added", added),
				state.frame("response.function_call_arguments.delta", argDelta),
				state.frame("response.output_item.done", done),
			)
		case part.Get("text").Exists():
			kind := "message"
			if part.Get("thought").Bool() {
				kind = "reasoning"
			}
			var item *outputItem
			if n := len(state.Items); n > 0 && state.Items[n-1].Kind == kind {
				item = state.Items[n-1]
			} else {
				prefix := "msg"
				if kind == "reasoning" {
					prefix = "rs"
				}
				item = &outputItem{
					Kind: kind,
					ID:   fmt.Sprintf("%s_%s_%d", prefix, state.ResponseID, len(state.Items)),
				}
				state.Items = append(state.Items, item)
				added, _ := sjson.Set(`{"type":"response.output_item.added"}`, "output_index", len(state.Items)-1)
				added, _ = sjson.SetRaw(added, "item", itemJSON(item, false))
				frames = append(frames, state.frame("response.output_item.added", added))
			}
			text := part.Get("text").String()
			item.Text += text
			index := len(state.Items) - 1
			event := "response.output_text.delta"
			if kind == "reasoning" {
				event = "response.reasoning_summary_text.delta"
			}
			chunk, _ := sjson.Set(`{}`, "type", event)
			chunk, _ = sjson.Set(chunk, "item_id", item.ID)
			chunk, _ = sjson.Set(chunk, "output_index", index)
			chunk, _ = sjson.Set(chunk, "delta", text)
			frames = append(frames, state.frame(event, chunk))
		}
		return true
	})
	return frames
}

// ConvertGeminiResponseToOpenAIResponsesNonStream converts a buffered Gemini
// GenerateContent response into one OpenAI Responses object.
func ConvertGeminiResponseToOpenAIResponsesNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	state := &responsesStreamState{
		ResponseID:   fmt.Sprintf("resp_%d", time.Now().UnixNano()),
		Created:      time.Now().Unix(),
		FinishReason: root.Get("candidates.0.finishReason").String(),
		InputTokens:  root.Get("usageMetadata.promptTokenCount").Int(),
		OutputTokens: root.Get("usageMetadata.candidatesTokenCount").Int(),
		CachedTokens: root.Get("usageMetadata.cachedContentTokenCount").Int(),
	}
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			state.Items = append(state.Items, &outputItem{
				Kind: "function_call",
				ID:   fmt.Sprintf("call_%d", len(state.Items)),
				Name: call.Get("name").String(),
				Args: args,
			})
		case part.Get("text").Exists():
			kind := "message"
			prefix := "msg"
			if part.Get("thought").Bool() {
				kind = "reasoning"
				prefix = "rs"
			}
			if n := len(state.Items); n > 0 && state.Items[n-1].Kind == kind {
				state.Items[n-1].Text += part.Get("text").String()
			} else {
				state.Items = append(state.Items, &outputItem{
					Kind: kind,
					ID:   fmt.Sprintf("%s_%d", prefix, len(state.Items)),
					Text: part.Get("text").String(),
				})
			}
		}
		return true
	})
	return responseEnvelope(state, modelName, "completed")
}

func itemJSON(item *outputItem, final bool) string {
	out, _ := sjson.Set(`{}`, "id", item.ID)
	switch item.Kind {
	case "function_call":
		out, _ = sjson.Set(out, "type", "function_call")
		out, _ = sjson.Set(out, "call_id", item.ID)
		out, _ = sjson.Set(out, "name", item.Name)
		args := item.Args
		if args == "" {
			args = "{}"
		}
		out, _ = sjson.Set(out, "arguments", args)
		if final {
			out, _ = sjson.Set(out, "status", "completed")
		}
	case "reasoning":
		out, _ = sjson.Set(out, "type", "reasoning")
		if final && item.Text != "" {
			out, _ = sjson.Set(out, "summary.0.type", "summary_text")
			out, _ = sjson.Set(out, "summary.0.text", item.Text)
		} else {
			out, _ = sjson.SetRaw(out, "summary", `[]`)
		}
	default:
		out, _ = sjson.Set(out, "type", "message")
		out, _ = sjson.Set(out, "role", "assistant")
		if final {
			out, _ = sjson.Set(out, "status", "completed")
			out, _ = sjson.Set(out, "content.0.type", "output_text")
			out, _ = sjson.Set(out, "content.0.text", item.Text)
		} else {
			out, _ = sjson.Set(out, "status", "in_progress")
			out, _ = sjson.SetRaw(out, "content", `[]`)
		}
	}
	return out
}

func responseEnvelope(state *responsesStreamState, modelName, status string) string {
	out, _ := sjson.Set(`{"object":"response"}`, "id", state.ResponseID)
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "created_at", state.Created)
	out, _ = sjson.Set(out, "status", status)
	if status != "completed" {
		out, _ = sjson.SetRaw(out, "output", `[]`)
		return out
	}
	for index, item := range state.Items {
		out, _ = sjson.SetRaw(out, fmt.Sprintf("output.%d", index), itemJSON(item, true))
	}
	out, _ = sjson.Set(out, "usage.input_tokens", state.InputTokens)
	out, _ = sjson.Set(out, "usage.output_tokens", state.OutputTokens)
	out, _ = sjson.Set(out, "usage.total_tokens", state.InputTokens+state.OutputTokens)
	if state.CachedTokens > 0 {
		out, _ = sjson.Set(out, "usage.input_tokens_details.cached_tokens", state.CachedTokens)
	}
	if state.FinishReason == "MAX_TOKENS" {
		out, _ = sjson.Set(out, "status", "incomplete")
		out, _ = sjson.Set(out, "incomplete_details.reason", "max_output_tokens")
	}
	return out
}

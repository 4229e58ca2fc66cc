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
	// ToolItems maps OpenAI tool call index to position in Items.
	ToolItems map[int64]int
	Started   bool
}

func (s *responsesStreamState) frame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertOpenAIResponseToOpenAIResponses replays OpenAI Chat Completions
// chunks as OpenAI Responses stream events.
func ConvertOpenAIResponseToOpenAIResponses(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &responsesStreamState{
			ResponseID: fmt.Sprintf("resp_%d", time.Now().UnixNano()),
			Created:    time.Now().Unix(),
			ToolItems:  make(map[int64]int),
		}
	}
	state := (*param).(*responsesStreamState)

	if string(rawJSON) == "[DONE]" {
		var frames []string
		for index, item := range state.Items {
			done, _ := sjson.Set(`{"type":"response.output_item.done"}`, "output_index", index)
			done, _ = sjson.SetRaw(done, "item", itemJSON(item, true))
			frames = append(frames, state.frame("response.output_item.done", done))
		}
		frames = append(frames, state.frame("response.completed",
			responseEnvelope(state, modelName, "completed")))
		return frames
	}

	root := gjson.ParseBytes(rawJSON)
	var frames []string

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
	if !state.Started {
		state.Started = true
		envelope := responseEnvelope(state, modelName, "in_progress")
		frames = append(frames,
			state.frame("response.created", envelope),
			state.frame("response.in_progress", envelope),
		)
	}

	choice := root.Get("choices.0")
	if reason := choice.Get("finish_reason").String(); reason != "" {
		state.FinishReason = reason
	}
	delta := choice.Get("delta")

	if reasoning := delta.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		item, index, added := state.currentItem("reasoning", "rs")
		frames = append(frames, added...)
		item.Text += reasoning.String()
		chunk, _ := sjson.Set(`{"type":"response.reasoning_summary_text.delta"}`, "item_id", item.ID)
		chunk, _ = sjson.Set(chunk, "output_index", index)
		chunk, _ = sjson.Set(chunk, "delta", reasoning.String())
		frames = append(frames, state.frame("response.reasoning_summary_text.delta", chunk))
	}
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		item, index, added := state.currentItem("message", "msg")
		frames = append(frames, added...)
		item.Text += content.String()
		chunk, _ := sjson.Set(`{"type":"response.output_text.delta"}`, "item_id", item.ID)
		chunk, _ = sjson.Set(chunk, "output_index", index)
		chunk, _ = sjson.Set(chunk, "content_index", 0)
		chunk, _ = sjson.Set(chunk, "delta", content.String())
		frames = append(frames, state.frame("response.output_text.delta", chunk))
	}
	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		callIndex := call.Get("index").Int()
		position, open := state.ToolItems[callIndex]
		if !open {
			id := call.Get("id").String()
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", state.ResponseID, callIndex)
			}
			item := &outputItem{
				Kind: "function_call",
				ID:   id,
				Name: call.Get("function.name").String(),
			}
			state.Items = append(state.Items, item)
			position = len(state.Items) - 1
			state.ToolItems[callIndex] = position
			added, _ := sjson.Set(`{"type":"response.output_item.added"}`, "output_index", position)
			added, _ = sjson.SetRaw(added, "item", itemJSON(item, false))
			frames = append(frames, state.frame("response.output_item.added", added))
		}
		item := state.Items[position]
		if name := call.Get("function.name").String(); name != "" && item.Name == "" {
			item.Name = name
		}
		if args := call.Get("function.arguments").String(); args != "" {
			item.Args += args
			chunk, _ := sjson.Set(`{"type":"response.function_call_arguments.delta"}`, "item_id", item.ID)
			chunk, _ = sjson.Set(chunk, "output_index", position)
			chunk, _ = sjson.Set(chunk, "delta", args)
			frames = append(frames, state.frame("response.function_call_arguments.delta", chunk))
		}
		return true
	})
	return frames
}

func (s *responsesStreamState) currentItem(kind, prefix string) (*outputItem, int, []string) {
	if n := len(s.Items); n > 0 && s.Items[n-1].Kind == kind {
		return s.Items[n-1], n - 1, nil
	}
	item := &outputItem{
		Kind: kind,
		ID:   fmt.Sprintf("%s_%s_%d", prefix, s.ResponseID, len(s.Items)),
	}
	s.Items = append(s.Items, item)
	index := len(s.Items) - 1
	added, _ := sjson.Set(`{"type":"response.output_item.added"}`, "output_index", index)
	added, _ = sjson.SetRaw(added, "item", itemJSON(item, false))
	return item, index, []string{s.frame("response.output_item.added", added)}
}

// ConvertOpenAIResponseToOpenAIResponsesNonStream converts a buffered OpenAI
// Chat Completions response into one OpenAI Responses object.
func ConvertOpenAIResponseToOpenAIResponsesNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	message := root.Get("choices.0.message")
	state := &responsesStreamState{
		ResponseID:   fmt.Sprintf("resp_%d", time.Now().UnixNano()),
		Created:      time.Now().Unix(),
		FinishReason: root.Get("choices.0.finish_reason").String(),
		InputTokens:  root.Get("usage.prompt_tokens").Int(),
		OutputTokens: root.Get("usage.completion_tokens").Int(),
		CachedTokens: root.Get("usage.prompt_tokens_details.cached_tokens").Int(),
	}
	if reasoning := message.Get("reasoning_content").String(); reasoning != "" {
		state.Items = append(state.Items, &outputItem{Kind: "reasoning", ID: "rs_0", Text: reasoning})
	}
	if content := message.Get("content").String(); content != "" {
		state.Items = append(state.Items, &outputItem{Kind: "message", ID: "msg_0", Text: content})
	}
	message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		args := call.Get("function.arguments").String()
		if args == "" {
			args = "{}"
		}
		state.Items = append(state.Items, &outputItem{
			Kind: "function_call",
			ID:   call.Get("id").String(),
			Name: call.Get("function.name").String(),
			Args: args,
		})
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
	if state.FinishReason == "length" {
		out, _ = sjson.Set(out, "status", "incomplete")
		out, _ = sjson.Set(out, "incomplete_details.reason", "max_output_tokens")
	}
	return out
}

package responses

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type responsesItem struct {
	Kind     string // "message", "function_call" or "reasoning"
	ID       string
	Name     string
	Text     string
	Args     string
	Finished bool
}

type responsesStreamState struct {
	ResponseID   string
	Created      int64
	StopReason   string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	Sequence     int
	// Items maps Claude content block index to the emitted output item.
	Items     map[int64]*responsesItem
	ItemOrder []int64
	Started   bool
}

func (s *responsesStreamState) frame(event, data string) string {
	s.Sequence++
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertClaudeResponseToOpenAIResponses replays Claude Messages stream
// events as OpenAI Responses stream events.
func ConvertClaudeResponseToOpenAIResponses(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &responsesStreamState{
			ResponseID: fmt.Sprintf("resp_%d", time.Now().UnixNano()),
			Created:    time.Now().Unix(),
			Items:      make(map[int64]*responsesItem),
		}
	}
	state := (*param).(*responsesStreamState)

	if string(rawJSON) == "[DONE]" {
		completed := responseEnvelope(state, modelName, "completed")
		return []string{state.frame("response.completed", completed)}
	}

	root := gjson.ParseBytes(rawJSON)
	switch root.Get("type").String() {
	case "message_start":
		if id := root.Get("message.id").String(); id != "" {
			state.ResponseID = "resp_" + id
		}
		state.InputTokens = root.Get("message.usage.input_tokens").Int()
		state.CachedTokens = root.Get("message.usage.cache_read_input_tokens").Int()
		state.Started = true
		created := responseEnvelope(state, modelName, "in_progress")
		return []string{
			state.frame("response.created", created),
			state.frame("response.in_progress", created),
		}

	case "content_block_start":
		block := root.Get("content_block")
		index := root.Get("index").Int()
		item := &responsesItem{}
		switch block.Get("type").String() {
		case "tool_use":
			item.Kind = "function_call"
			item.ID = block.Get("id").String()
			item.Name = block.Get("name").String()
		case "thinking":
			item.Kind = "reasoning"
			item.ID = fmt.Sprintf("rs_%d", time.Now().UnixNano())
		default:
			item.Kind = "message"
			item.ID = fmt.Sprintf("msg_%d", time.Now().UnixNano())
		}
		state.Items[index] = item
		state.ItemOrder = append(state.ItemOrder, index)
		added, _ := sjson.Set(`{"type":"response.output_item.added"}`, "output_index", len(state.ItemOrder)-1)
		added, _ = sjson.SetRaw(added, "item", itemJSON(item, false))
		return []string{state.frame("response.output_item.added", added)}

	case "content_block_delta":
		index := root.Get("index").Int()
		item, ok := state.Items[index]
		if !ok {
			return nil
		}
		delta := root.Get("delta")
		outputIndex := itemPosition(state, index)
		switch delta.Get("type").String() {
		case "text_delta":
			text := delta.Get("text").String()
			item.Text += text
			chunk, _ := sjson.Set(`{"type":"response.output_text.delta"}`, "item_id", item.ID)
			chunk, _ = sjson.Set(chunk, "output_index", outputIndex)
			chunk, _ = sjson.Set(chunk, "content_index", 0)
			chunk, _ = sjson.Set(chunk, "delta", text)
			return []string{state.frame("response.output_text.delta", chunk)}
		case "thinking_delta":
			text := delta.Get("thinking").String()
			item.Text += text
			chunk, _ := sjson.Set(`{"type":"response.reasoning_summary_text.delta"}`, "item_id", item.ID)
			chunk, _ = sjson.Set(chunk, "output_index", outputIndex)
			chunk, _ = sjson.Set(chunk, "delta", text)
			return []string{state.frame("response.reasoning_summary_text.delta", chunk)}
		case "input_json_delta":
			args := delta.Get("partial_json").String()
			item.Args += args
			chunk, _ := sjson.Set(`{"type":"response.function_call_arguments.delta"}`, "item_id", item.ID)
			chunk, _ = sjson.Set(chunk, "output_index", outputIndex)
			chunk, _ = sjson.Set(chunk, "delta", args)
			return []string{state.frame("response.function_call_arguments.delta", chunk)}
		}
		return nil

	case "content_block_stop":
		index := root.Get("index").Int()
		item, ok := state.Items[index]
		if !ok {
			return nil
		}
		item.Finished = true
		done, _ := sjson.Set(`{"type":"response.output_item.done"}`, "output_index", itemPosition(state, index))
		done, _ = sjson.SetRaw(done, "item", itemJSON(item, true))
		return []string{state.frame("response.output_item.done", done)}

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

// ConvertClaudeResponseToOpenAIResponsesNonStream converts a buffered Claude
// Messages response into one OpenAI Responses object.
func ConvertClaudeResponseToOpenAIResponsesNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	state := &responsesStreamState{
		ResponseID:   "resp_" + root.Get("id").String(),
		Created:      time.Now().Unix(),
		StopReason:   root.Get("stop_reason").String(),
		InputTokens:  root.Get("usage.input_tokens").Int(),
		OutputTokens: root.Get("usage.output_tokens").Int(),
		CachedTokens: root.Get("usage.cache_read_input_tokens").Int(),
		Items:        make(map[int64]*responsesItem),
	}
	root.Get("content").ForEach(func(key, block gjson.Result) bool {
		index := key.Int()
		item := &responsesItem{Finished: true}
		switch block.Get("type").String() {
		case "tool_use":
			item.Kind = "function_call"
			item.ID = block.Get("id").String()
			item.Name = block.Get("name").String()
			item.Args = block.Get("input").Raw
		case "thinking":
			item.Kind = "reasoning"
			item.ID = fmt.Sprintf("rs_%d", index)
			item.Text = block.Get("thinking").String()
		default:
			item.Kind = "message"
			item.ID = fmt.Sprintf("msg_%d", index)
			item.Text = block.Get("text").String()
		}
		state.Items[index] = item
		state.ItemOrder = append(state.ItemOrder, index)
		return true
	})
	return responseEnvelope(state, modelName, "completed")
}

func itemPosition(state *responsesStreamState, index int64) int {
	for position, existing := range state.ItemOrder {
		if existing == index {
			return position
		}
	}
	return 0
}

func itemJSON(item *responsesItem, includeContent bool) string {
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
		if item.Finished {
			out, _ = sjson.Set(out, "status", "completed")
		}
	case "reasoning":
		out, _ = sjson.Set(out, "type", "reasoning")
		if includeContent && item.Text != "" {
			out, _ = sjson.Set(out, "summary.0.type", "summary_text")
			out, _ = sjson.Set(out, "summary.0.text", item.Text)
		} else {
			out, _ = sjson.SetRaw(out, "summary", `[]`)
		}
	default:
		out, _ = sjson.Set(out, "type", "message")
		out, _ = sjson.Set(out, "role", "assistant")
		if item.Finished {
			out, _ = sjson.Set(out, "status", "completed")
		} else {
			out, _ = sjson.Set(out, "status", "in_progress")
		}
		if includeContent {
			out, _ = sjson.Set(out, "content.0.type", "output_text")
			out, _ = sjson.Set(out, "content.0.text", item.Text)
		} else {
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
	if status == "completed" {
		for position, index := range state.ItemOrder {
			out, _ = sjson.SetRaw(out, fmt.Sprintf("output.%d", position),
				itemJSON(state.Items[index], true))
		}
		out, _ = sjson.Set(out, "usage.input_tokens", state.InputTokens)
		out, _ = sjson.Set(out, "usage.output_tokens", state.OutputTokens)
		out, _ = sjson.Set(out, "usage.total_tokens", state.InputTokens+state.OutputTokens)
		if state.CachedTokens > 0 {
			out, _ = sjson.Set(out, "usage.input_tokens_details.cached_tokens", state.CachedTokens)
		}
		if state.StopReason == "max_tokens" {
			out, _ = sjson.Set(out, "incomplete_details.reason", "max_output_tokens")
			out, _ = sjson.Set(out, "status", "incomplete")
		}
	} else {
		out, _ = sjson.SetRaw(out, "output", `[]`)
	}
	return out
}

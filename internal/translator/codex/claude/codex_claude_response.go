package claude

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type claudeStreamState struct {
	MessageID  string
	Started    bool
	BlockIndex int
	// OpenBlocks maps Responses item ids to Claude block indexes.
	OpenBlocks   map[string]int
	StopReason   string
	HadToolCall  bool
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

func claudeFrame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertOpenAIResponsesResponseToClaude replays OpenAI Responses stream
// events as Claude Messages stream events.
func ConvertOpenAIResponsesResponseToClaude(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &claudeStreamState{
			MessageID:  fmt.Sprintf("msg_%d", time.Now().UnixNano()),
			BlockIndex: -1,
			OpenBlocks: make(map[string]int),
		}
	}
	state := (*param).(*claudeStreamState)

	if string(rawJSON) == "[DONE]" {
		stopReason := "end_turn"
		switch {
		case state.StopReason == "max_output_tokens":
			stopReason = "max_tokens"
		case state.HadToolCall:
			stopReason = "tool_use"
		}
		delta, _ := sjson.Set(`{"type":"message_delta","delta":{}}`, "delta.stop_reason", stopReason)
		delta, _ = sjson.Set(delta, "usage.output_tokens", state.OutputTokens)
		return []string{
			claudeFrame("message_delta", delta),
			claudeFrame("message_stop", `{"type":"message_stop"}`),
		}
	}

	root := gjson.ParseBytes(rawJSON)
	switch root.Get("type").String() {
	case "response.created":
		if id := root.Get("response.id").String(); id != "" {
			state.MessageID = "msg_" + id
		}
		state.Started = true
		start, _ := sjson.Set(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[],"stop_reason":null}}`,
			"message.id", state.MessageID)
		start, _ = sjson.Set(start, "message.model", modelName)
		start, _ = sjson.Set(start, "message.usage.input_tokens", 0)
		start, _ = sjson.Set(start, "message.usage.output_tokens", 0)
		return []string{claudeFrame("message_start", start)}

	case "response.output_item.added":
		item := root.Get("item")
		state.BlockIndex++
		index := state.BlockIndex
		state.OpenBlocks[item.Get("id").String()] = index
		blockStart, _ := sjson.Set(`{"type":"content_block_start","content_block":{}}`, "index", index)
		switch item.Get("type").String() {
		case "function_call":
			state.HadToolCall = true
			blockStart, _ = sjson.Set(blockStart, "content_block.type", "tool_use")
			blockStart, _ = sjson.Set(blockStart, "content_block.id", item.Get("call_id").String())
			blockStart, _ = sjson.Set(blockStart, "content_block.name", item.Get("name").String())
			blockStart, _ = sjson.SetRaw(blockStart, "content_block.input", `{}`)
		case "reasoning":
			blockStart, _ = sjson.Set(blockStart, "content_block.type", "thinking")
			blockStart, _ = sjson.Set(blockStart, "content_block.thinking", "")
		default:
			blockStart, _ = sjson.Set(blockStart, "content_block.type", "text")
			blockStart, _ = sjson.Set(blockStart, "content_block.text", "")
		}
		return []string{claudeFrame("content_block_start", blockStart)}

	case "response.output_text.delta":
		index, ok := state.OpenBlocks[root.Get("item_id").String()]
		if !ok {
			return nil
		}
		chunk, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"text_delta"}}`, "index", index)
		chunk, _ = sjson.Set(chunk, "delta.text", root.Get("delta").String())
		return []string{claudeFrame("content_block_delta", chunk)}

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		index, ok := state.OpenBlocks[root.Get("item_id").String()]
		if !ok {
			return nil
		}
		chunk, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"thinking_delta"}}`, "index", index)
		chunk, _ = sjson.Set(chunk, "delta.thinking", root.Get("delta").String())
		return []string{claudeFrame("content_block_delta", chunk)}

	case "response.function_call_arguments.delta":
		index, ok := state.OpenBlocks[root.Get("item_id").String()]
		if !ok {
			return nil
		}
		chunk, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"input_json_delta"}}`, "index", index)
		chunk, _ = sjson.Set(chunk, "delta.partial_json", root.Get("delta").String())
		return []string{claudeFrame("content_block_delta", chunk)}

	case "response.output_item.done":
		itemID := root.Get("item.id").String()
		index, ok := state.OpenBlocks[itemID]
		if !ok {
			return nil
		}
		delete(state.OpenBlocks, itemID)
		stop, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", index)
		return []string{claudeFrame("content_block_stop", stop)}

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

// ConvertOpenAIResponsesResponseToClaudeNonStream converts a buffered OpenAI
// Responses object into one Claude Messages response.
func ConvertOpenAIResponsesResponseToClaudeNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	out := `{"type":"message","role":"assistant","content":[]}`
	out, _ = sjson.Set(out, "id", "msg_"+root.Get("id").String())
	out, _ = sjson.Set(out, "model", modelName)

	blockCount := 0
	hadToolCall := false
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		prefix := fmt.Sprintf("content.%d", blockCount)
		switch item.Get("type").String() {
		case "message":
			var text string
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					text += part.Get("text").String()
				}
				return true
			})
			out, _ = sjson.Set(out, prefix+".type", "text")
			out, _ = sjson.Set(out, prefix+".text", text)
			blockCount++
		case "reasoning":
			var text string
			item.Get("summary").ForEach(func(_, part gjson.Result) bool {
				text += part.Get("text").String()
				return true
			})
			out, _ = sjson.Set(out, prefix+".type", "thinking")
			out, _ = sjson.Set(out, prefix+".thinking", text)
			blockCount++
		case "function_call":
			hadToolCall = true
			out, _ = sjson.Set(out, prefix+".type", "tool_use")
			out, _ = sjson.Set(out, prefix+".id", item.Get("call_id").String())
			out, _ = sjson.Set(out, prefix+".name", item.Get("name").String())
			args := item.Get("arguments").String()
			if args == "" {
				args = "{}"
			}
			out, _ = sjson.SetRaw(out, prefix+".input", args)
			blockCount++
		}
		return true
	})

	stopReason := "end_turn"
	switch {
	case root.Get("incomplete_details.reason").String() == "max_output_tokens":
		stopReason = "max_tokens"
	case hadToolCall:
		stopReason = "tool_use"
	}
	out, _ = sjson.Set(out, "stop_reason", stopReason)
	out, _ = sjson.Set(out, "usage.input_tokens", root.Get("usage.input_tokens").Int())
	out, _ = sjson.Set(out, "usage.output_tokens", root.Get("usage.output_tokens").Int())
	if cached := root.Get("usage.input_tokens_details.cached_tokens").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usage.cache_read_input_tokens", cached)
	}
	return out
}

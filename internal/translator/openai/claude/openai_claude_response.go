package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

type claudeStreamState struct {
	MessageID    string
	Started      bool
	BlockKind    string // "", "text", "thinking", "tool"
	BlockIndex   int
	ToolBlocks   map[int64]int // OpenAI tool call index to Claude block index
	FinishReason string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

func claudeFrame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertOpenAIResponseToClaude replays OpenAI Chat Completions chunks as
// Claude Messages stream events, synthesizing the full envelope from
// message_start through message_stop.
func ConvertOpenAIResponseToClaude(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &claudeStreamState{
			MessageID:  fmt.Sprintf("msg_%d", time.Now().UnixNano()),
			BlockIndex: -1,
			ToolBlocks: make(map[int64]int),
		}
	}
	state := (*param).(*claudeStreamState)

	if string(rawJSON) == "[DONE]" {
		var frames []string
		frames = append(frames, closeBlock(state)...)
		stopReason := conv.OpenAIFinishToClaude(state.FinishReason)
		delta, _ := sjson.Set(`{"type":"message_delta","delta":{}}`, "delta.stop_reason", stopReason)
		delta, _ = sjson.Set(delta, "usage.output_tokens", state.OutputTokens)
		frames = append(frames,
			claudeFrame("message_delta", delta),
			claudeFrame("message_stop", `{"type":"message_stop"}`),
		)
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
		start, _ := sjson.Set(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[],"stop_reason":null}}`,
			"message.id", state.MessageID)
		start, _ = sjson.Set(start, "message.model", modelName)
		start, _ = sjson.Set(start, "message.usage.input_tokens", state.InputTokens)
		start, _ = sjson.Set(start, "message.usage.output_tokens", 0)
		frames = append(frames, claudeFrame("message_start", start))
	}

	choice := root.Get("choices.0")
	if reason := choice.Get("finish_reason").String(); reason != "" {
		state.FinishReason = reason
	}
	delta := choice.Get("delta")

	if reasoning := delta.Get("reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		frames = append(frames, openTextBlock(state, "thinking")...)
		chunk, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"thinking_delta"}}`,
			"index", state.BlockIndex)
		chunk, _ = sjson.Set(chunk, "delta.thinking", reasoning.String())
		frames = append(frames, claudeFrame("content_block_delta", chunk))
	}
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		frames = append(frames, openTextBlock(state, "text")...)
		chunk, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"text_delta"}}`,
			"index", state.BlockIndex)
		chunk, _ = sjson.Set(chunk, "delta.text", content.String())
		frames = append(frames, claudeFrame("content_block_delta", chunk))
	}
	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		callIndex := call.Get("index").Int()
		blockIndex, open := state.ToolBlocks[callIndex]
		if name := call.Get("function.name").String(); name != "" && !open {
			frames = append(frames, closeBlock(state)...)
			state.BlockIndex++
			state.BlockKind = "tool"
			blockIndex = state.BlockIndex
			state.ToolBlocks[callIndex] = blockIndex
			id := call.Get("id").String()
			if id == "" {
				id = fmt.Sprintf("toolu_%s_%d", state.MessageID, callIndex)
			}
			blockStart, _ := sjson.Set(`{"type":"content_block_start","content_block":{"type":"tool_use"}}`,
				"index", blockIndex)
			blockStart, _ = sjson.Set(blockStart, "content_block.id", id)
			blockStart, _ = sjson.Set(blockStart, "content_block.name", name)
			blockStart, _ = sjson.SetRaw(blockStart, "content_block.input", `{}`)
			frames = append(frames, claudeFrame("content_block_start", blockStart))
		}
		if args := call.Get("function.arguments").String(); args != "" && (open || state.BlockKind == "tool") {
			chunk, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"input_json_delta"}}`,
				"index", blockIndex)
			chunk, _ = sjson.Set(chunk, "delta.partial_json", args)
			frames = append(frames, claudeFrame("content_block_delta", chunk))
		}
		return true
	})
	return frames
}

func openTextBlock(state *claudeStreamState, kind string) []string {
	if state.BlockKind == kind {
		return nil
	}
	frames := closeBlock(state)
	state.BlockIndex++
	state.BlockKind = kind
	blockStart, _ := sjson.Set(`{"type":"content_block_start","content_block":{}}`, "index", state.BlockIndex)
	if kind == "thinking" {
		blockStart, _ = sjson.Set(blockStart, "content_block.type", "thinking")
		blockStart, _ = sjson.Set(blockStart, "content_block.thinking", "")
	} else {
		blockStart, _ = sjson.Set(blockStart, "content_block.type", "text")
		blockStart, _ = sjson.Set(blockStart, "content_block.text", "")
	}
	return append(frames, claudeFrame("content_block_start", blockStart))
}

func closeBlock(state *claudeStreamState) []string {
	if state.BlockKind == "" {
		return nil
	}
	stop, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", state.BlockIndex)
	state.BlockKind = ""
	return []string{claudeFrame("content_block_stop", stop)}
}

// ConvertOpenAIResponseToClaudeNonStream converts a buffered OpenAI Chat
// Completions response into one Claude Messages response.
func ConvertOpenAIResponseToClaudeNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	out := `{"type":"message","role":"assistant","content":[]}`
	id := root.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	out, _ = sjson.Set(out, "id", id)
	out, _ = sjson.Set(out, "model", modelName)

	message := root.Get("choices.0.message")
	var blocks []any
	if reasoning := message.Get("reasoning_content").String(); reasoning != "" {
		blocks = append(blocks, map[string]any{"type": "thinking", "thinking": reasoning})
	}
	if content := message.Get("content").String(); content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": content})
	}
	message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		block := map[string]any{
			"type": "tool_use",
			"id":   call.Get("id").String(),
			"name": call.Get("function.name").String(),
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Get("function.arguments").String()), &args); err == nil {
			block["input"] = args
		} else {
			block["input"] = map[string]any{}
		}
		blocks = append(blocks, block)
		return true
	})
	if blocksJSON, err := json.Marshal(blocks); err == nil && len(blocks) > 0 {
		out, _ = sjson.SetRaw(out, "content", string(blocksJSON))
	}

	out, _ = sjson.Set(out, "stop_reason",
		conv.OpenAIFinishToClaude(root.Get("choices.0.finish_reason").String()))
	usage := root.Get("usage")
	out, _ = sjson.Set(out, "usage.input_tokens", usage.Get("prompt_tokens").Int())
	out, _ = sjson.Set(out, "usage.output_tokens", usage.Get("completion_tokens").Int())
	if cached := usage.Get("prompt_tokens_details.cached_tokens").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usage.cache_read_input_tokens", cached)
	}
	return out
}

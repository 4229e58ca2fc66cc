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
	BlockKind    string // "", "text", "thinking"
	BlockIndex   int
	FinishReason string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	ToolSerial   int
}

func claudeFrame(event, data string) string {
	return "event: " + event + "\ndata: " + data + "\n\n"
}

// ConvertGeminiResponseToClaude replays Gemini GenerateContent stream chunks
// as Claude Messages stream events, synthesizing the full envelope from
// message_start through message_stop.
func ConvertGeminiResponseToClaude(_ context.Context, modelName string, _ []byte, rawJSON []byte, param *any) []string {
	if *param == nil {
		*param = &claudeStreamState{
			MessageID:  fmt.Sprintf("msg_%d", time.Now().UnixNano()),
			BlockIndex: -1,
		}
	}
	state := (*param).(*claudeStreamState)

	if string(rawJSON) == "[DONE]" {
		var frames []string
		frames = append(frames, closeBlock(state)...)
		stopReason := conv.GeminiFinishToClaude(state.FinishReason)
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
		start, _ := sjson.Set(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[],"stop_reason":null}}`,
			"message.id", state.MessageID)
		start, _ = sjson.Set(start, "message.model", modelName)
		start, _ = sjson.Set(start, "message.usage.input_tokens", state.InputTokens)
		start, _ = sjson.Set(start, "message.usage.output_tokens", 0)
		if state.CachedTokens > 0 {
			start, _ = sjson.Set(start, "message.usage.cache_read_input_tokens", state.CachedTokens)
		}
		frames = append(frames, claudeFrame("message_start", start))
	}

	candidate := root.Get("candidates.0")
	if reason := candidate.Get("finishReason").String(); reason != "" {
		state.FinishReason = reason
	}
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			frames = append(frames, closeBlock(state)...)
			call := part.Get("functionCall")
			state.BlockIndex++
			state.ToolSerial++
			blockStart, _ := sjson.Set(`{"type":"content_block_start","content_block":{"type":"tool_use"}}`,
				"index", state.BlockIndex)
			blockStart, _ = sjson.Set(blockStart, "content_block.id",
				fmt.Sprintf("toolu_%s_%d", state.MessageID, state.ToolSerial))
			blockStart, _ = sjson.Set(blockStart, "content_block.name", call.Get("name").String())
			blockStart, _ = sjson.SetRaw(blockStart, "content_block.input", `{}`)
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			argDelta, _ := sjson.Set(`{"type":"content_block_delta","delta":{"type":"input_json_delta"}}`,
				"index", state.BlockIndex)
			argDelta, _ = sjson.Set(argDelta, "delta.partial_json", args)
			blockStop, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", state.BlockIndex)
			frames = append(frames,
				claudeFrame("content_block_start", blockStart),
				claudeFrame("content_block_delta", argDelta),
				claudeFrame("content_block_stop", blockStop),
			)
		case part.Get("text").Exists():
			kind := "text"
			if part.Get("thought").Bool() {
				kind = "thinking"
			}
			if state.BlockKind != kind {
				frames = append(frames, closeBlock(state)...)
				state.BlockIndex++
				state.BlockKind = kind
				blockStart, _ := sjson.Set(`{"type":"content_block_start","content_block":{}}`,
					"index", state.BlockIndex)
				if kind == "thinking" {
					blockStart, _ = sjson.Set(blockStart, "content_block.type", "thinking")
					blockStart, _ = sjson.Set(blockStart, "content_block.thinking", "")
				} else {
					blockStart, _ = sjson.Set(blockStart, "content_block.type", "text")
					blockStart, _ = sjson.Set(blockStart, "content_block.text", "")
				}
				frames = append(frames, claudeFrame("content_block_start", blockStart))
			}
			delta, _ := sjson.Set(`{"type":"content_block_delta","delta":{}}`, "index", state.BlockIndex)
			if kind == "thinking" {
				delta, _ = sjson.Set(delta, "delta.type", "thinking_delta")
				delta, _ = sjson.Set(delta, "delta.thinking", part.Get("text").String())
			} else {
				delta, _ = sjson.Set(delta, "delta.type", "text_delta")
				delta, _ = sjson.Set(delta, "delta.text", part.Get("text").String())
			}
			frames = append(frames, claudeFrame("content_block_delta", delta))
		}
		return true
	})
	return frames
}

func closeBlock(state *claudeStreamState) []string {
	if state.BlockKind == "" {
		return nil
	}
	stop, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", state.BlockIndex)
	state.BlockKind = ""
	return []string{claudeFrame("content_block_stop", stop)}
}

// ConvertGeminiResponseToClaudeNonStream converts a buffered Gemini
// GenerateContent response into one Claude Messages response.
func ConvertGeminiResponseToClaudeNonStream(_ context.Context, modelName string, _ []byte, rawJSON []byte) string {
	root := gjson.ParseBytes(rawJSON)
	out := `{"type":"message","role":"assistant","content":[]}`
	out, _ = sjson.Set(out, "id", fmt.Sprintf("msg_%d", time.Now().UnixNano()))
	out, _ = sjson.Set(out, "model", modelName)

	toolSerial := 0
	var blocks []any
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			toolSerial++
			block := map[string]any{
				"type": "tool_use",
				"id":   fmt.Sprintf("toolu_%d", toolSerial),
				"name": call.Get("name").String(),
			}
			if args := call.Get("args"); args.Exists() {
				block["input"] = args.Value()
			} else {
				block["input"] = map[string]any{}
			}
			blocks = append(blocks, block)
		case part.Get("text").Exists():
			if part.Get("thought").Bool() {
				blocks = append(blocks, map[string]any{
					"type": "thinking", "thinking": part.Get("text").String(),
				})
			} else {
				blocks = append(blocks, map[string]any{
					"type": "text", "text": part.Get("text").String(),
				})
			}
		}
		return true
	})
	if blocksJSON, err := json.Marshal(blocks); err == nil && len(blocks) > 0 {
		out, _ = sjson.SetRaw(out, "content", string(blocksJSON))
	}

	out, _ = sjson.Set(out, "stop_reason",
		conv.GeminiFinishToClaude(root.Get("candidates.0.finishReason").String()))
	usage := root.Get("usageMetadata")
	out, _ = sjson.Set(out, "usage.input_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.Set(out, "usage.output_tokens", usage.Get("candidatesTokenCount").Int())
	if cached := usage.Get("cachedContentTokenCount").Int(); cached > 0 {
		out, _ = sjson.Set(out, "usage.cache_read_input_tokens", cached)
	}
	return out
}

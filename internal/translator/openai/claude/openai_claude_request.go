// Package claude translates between the Claude Messages protocol and the
// OpenAI Chat Completions protocol for requests sent to OpenAI-compatible
// upstreams.
package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertClaudeRequestToOpenAI transforms a Claude Messages request into an
// OpenAI Chat Completions request. Tool results become tool role messages;
// thinking maps onto reasoning_effort by budget.
func ConvertClaudeRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)
	if stream {
		out, _ = sjson.Set(out, "stream_options.include_usage", true)
	}

	if v := root.Get("max_tokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_completion_tokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if stops := conv.StopSequences(root.Get("stop_sequences")); len(stops) > 0 {
		out, _ = sjson.Set(out, "stop", stops)
	}
	if thinking := root.Get("thinking"); thinking.Exists() {
		out, _ = sjson.Set(out, "reasoning_effort", string(effortFromThinking(thinking)))
	}

	var messages []any
	if system := root.Get("system"); system.Exists() {
		text := system.String()
		if system.IsArray() {
			var b strings.Builder
			system.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					if b.Len() > 0 {
						b.WriteString("\n")
					}
					b.WriteString(block.Get("text").String())
				}
				return true
			})
			text = b.String()
		}
		if text != "" {
			messages = append(messages, map[string]any{"role": "system", "content": text})
		}
	}

	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")
		if content.Type == gjson.String {
			messages = append(messages, map[string]any{"role": role, "content": content.String()})
			return true
		}

		var contentParts []any
		var toolCalls []any
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				contentParts = append(contentParts, map[string]any{
					"type": "text", "text": block.Get("text").String(),
				})
			case "image":
				source := block.Get("source")
				url := source.Get("url").String()
				if source.Get("type").String() == "base64" {
					url = fmt.Sprintf("data:%s;base64,%s",
						source.Get("media_type").String(), source.Get("data").String())
				}
				contentParts = append(contentParts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": url},
				})
			case "document":
				source := block.Get("source")
				if source.Get("type").String() == "base64" {
					contentParts = append(contentParts, map[string]any{
						"type": "file",
						"file": map[string]any{
							"file_data": source.Get("data").String(),
							"mime_type": source.Get("media_type").String(),
						},
					})
				}
			case "tool_use":
				args := block.Get("input").Raw
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   block.Get("id").String(),
					"type": "function",
					"function": map[string]any{
						"name":      block.Get("name").String(),
						"arguments": args,
					},
				})
			case "tool_result":
				// Emits its own tool role message below the current turn.
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": block.Get("tool_use_id").String(),
					"content":      toolResultText(block.Get("content")),
				})
			}
			return true
		})

		if len(contentParts) > 0 || len(toolCalls) > 0 {
			msg := map[string]any{"role": role}
			if len(contentParts) > 0 {
				msg["content"] = contentParts
			} else {
				msg["content"] = ""
			}
			if len(toolCalls) > 0 {
				msg["tool_calls"] = toolCalls
			}
			messages = append(messages, msg)
		}
		return true
	})
	if messagesJSON, err := json.Marshal(messages); err == nil {
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	out = convertClaudeToolsToOpenAI(root, out)
	return []byte(out)
}

// effortFromThinking recovers an effort value from a thinking block by
// budget band.
func effortFromThinking(thinking gjson.Result) conv.Effort {
	if thinking.Get("type").String() != "enabled" {
		return conv.EffortNone
	}
	budget := thinking.Get("budget_tokens").Int()
	switch {
	case budget <= 1024:
		return conv.EffortLow
	case budget <= 8192:
		return conv.EffortMedium
	default:
		return conv.EffortHigh
	}
}

func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		var b strings.Builder
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				b.WriteString(block.Get("text").String())
			}
			return true
		})
		return b.String()
	}
	return content.Raw
}

func convertClaudeToolsToOpenAI(root gjson.Result, out string) string {
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		name := tool.Get("name").String()
		if toolType != "" && toolType != "custom" {
			if builtin, ok := conv.BuiltinToolName(toolType); ok {
				name = builtin
			}
		}
		function := map[string]any{
			"name":        name,
			"description": tool.Get("description").String(),
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			function["parameters"] = schema.Value()
		}
		tools = append(tools, map[string]any{"type": "function", "function": function})
		return true
	})
	if len(tools) > 0 {
		if toolsJSON, err := json.Marshal(tools); err == nil {
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	switch root.Get("tool_choice.type").String() {
	case "auto":
		out, _ = sjson.Set(out, "tool_choice", "auto")
	case "any":
		out, _ = sjson.Set(out, "tool_choice", "required")
	case "none":
		out, _ = sjson.Set(out, "tool_choice", "none")
	case "tool":
		out, _ = sjson.Set(out, "tool_choice", map[string]any{
			"type": "function",
			"function": map[string]any{
				"name": root.Get("tool_choice.name").String(),
			},
		})
	}
	if root.Get("tool_choice.disable_parallel_tool_use").Bool() {
		out, _ = sjson.Set(out, "parallel_tool_calls", false)
	}
	return out
}

// Package claude translates between the Claude Messages protocol and the
// OpenAI Responses protocol for requests sent to Responses-native upstreams.
package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertClaudeRequestToOpenAIResponses transforms a Claude Messages request
// into an OpenAI Responses request.
func ConvertClaudeRequestToOpenAIResponses(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","input":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if v := root.Get("max_tokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_output_tokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if thinking := root.Get("thinking"); thinking.Exists() {
		out, _ = sjson.Set(out, "reasoning.effort", string(effortFromThinking(thinking)))
	}

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
			out, _ = sjson.Set(out, "instructions", text)
		}
	}

	var input []any
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")
		if content.Type == gjson.String {
			input = append(input, textMessageItem(role, content.String()))
			return true
		}

		var parts []any
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				textType := "input_text"
				if role == "assistant" {
					textType = "output_text"
				}
				parts = append(parts, map[string]any{
					"type": textType, "text": block.Get("text").String(),
				})
			case "image":
				source := block.Get("source")
				url := source.Get("url").String()
				if source.Get("type").String() == "base64" {
					url = fmt.Sprintf("data:%s;base64,%s",
						source.Get("media_type").String(), source.Get("data").String())
				}
				parts = append(parts, map[string]any{
					"type": "input_image", "image_url": url,
				})
			case "document":
				source := block.Get("source")
				if source.Get("type").String() == "base64" {
					parts = append(parts, map[string]any{
						"type":      "input_file",
						"file_data": source.Get("data").String(),
						"mime_type": source.Get("media_type").String(),
					})
				}
			case "tool_use":
				flushMessageItem(&input, role, &parts)
				args := block.Get("input").Raw
				if args == "" {
					args = "{}"
				}
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   block.Get("id").String(),
					"name":      block.Get("name").String(),
					"arguments": args,
				})
			case "tool_result":
				flushMessageItem(&input, role, &parts)
				input = append(input, map[string]any{
					"type":    "function_call_output",
					"call_id": block.Get("tool_use_id").String(),
					"output":  toolResultText(block.Get("content")),
				})
			}
			return true
		})
		flushMessageItem(&input, role, &parts)
		return true
	})
	if inputJSON, err := json.Marshal(input); err == nil {
		out, _ = sjson.SetRaw(out, "input", string(inputJSON))
	}

	out = convertClaudeToolsToResponses(root, out)
	return []byte(out)
}

func textMessageItem(role, text string) map[string]any {
	textType := "input_text"
	if role == "assistant" {
		textType = "output_text"
	}
	return map[string]any{
		"type":    "message",
		"role":    role,
		"content": []any{map[string]any{"type": textType, "text": text}},
	}
}

func flushMessageItem(input *[]any, role string, parts *[]any) {
	if len(*parts) == 0 {
		return
	}
	*input = append(*input, map[string]any{
		"type": "message", "role": role, "content": *parts,
	})
	*parts = nil
}

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

func convertClaudeToolsToResponses(root gjson.Result, out string) string {
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		name := tool.Get("name").String()
		if toolType != "" && toolType != "custom" {
			if builtin, ok := conv.BuiltinToolName(toolType); ok {
				name = builtin
			}
		}
		entry := map[string]any{
			"type":        "function",
			"name":        name,
			"description": tool.Get("description").String(),
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			entry["parameters"] = schema.Value()
		}
		tools = append(tools, entry)
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
			"name": root.Get("tool_choice.name").String(),
		})
	}
	if root.Get("tool_choice.disable_parallel_tool_use").Bool() {
		out, _ = sjson.Set(out, "parallel_tool_calls", false)
	}
	return out
}

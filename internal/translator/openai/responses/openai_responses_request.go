// Package responses translates between the OpenAI Responses protocol and the
// OpenAI Chat Completions protocol for requests sent to OpenAI-compatible
// upstreams.
package responses

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertOpenAIResponsesRequestToOpenAI transforms an OpenAI Responses
// request into an OpenAI Chat Completions request. The flat Responses tool
// format nests back under function; input items become chat messages.
func ConvertOpenAIResponsesRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)
	if stream {
		out, _ = sjson.Set(out, "stream_options.include_usage", true)
	}

	if v := root.Get("max_output_tokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_completion_tokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if effortValue := root.Get("reasoning.effort"); effortValue.Exists() {
		if effort, ok := conv.ParseEffort(effortValue.String()); ok {
			out, _ = sjson.Set(out, "reasoning_effort", string(effort))
		}
	}

	var messages []any
	if instructions := root.Get("instructions").String(); instructions != "" {
		messages = append(messages, map[string]any{"role": "system", "content": instructions})
	}

	input := root.Get("input")
	if input.Type == gjson.String {
		messages = append(messages, map[string]any{"role": "user", "content": input.String()})
	} else {
		input.ForEach(func(_, item gjson.Result) bool {
			itemType := item.Get("type").String()
			if itemType == "" && item.Get("role").Exists() {
				itemType = "message"
			}
			switch itemType {
			case "message":
				role := item.Get("role").String()
				if role == "developer" {
					role = "system"
				}
				content := item.Get("content")
				if text, ok := conv.TextOfContent(content); ok {
					messages = append(messages, map[string]any{"role": role, "content": text})
				} else if parts := convertResponsesContentParts(content); len(parts) > 0 {
					messages = append(messages, map[string]any{"role": role, "content": parts})
				}
			case "function_call":
				args := item.Get("arguments").String()
				if args == "" {
					args = "{}"
				}
				messages = append(messages, map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []any{map[string]any{
						"id":   item.Get("call_id").String(),
						"type": "function",
						"function": map[string]any{
							"name":      item.Get("name").String(),
							"arguments": args,
						},
					}},
				})
			case "function_call_output":
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": item.Get("call_id").String(),
					"content":      item.Get("output").String(),
				})
			}
			return true
		})
	}
	if messagesJSON, err := json.Marshal(messages); err == nil {
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	out = convertResponsesToolsToChat(root, out)
	return []byte(out)
}

func convertResponsesContentParts(content gjson.Result) []any {
	var parts []any
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "input_text", "output_text", "text":
			parts = append(parts, map[string]any{"type": "text", "text": part.Get("text").String()})
		case "input_image":
			if url := part.Get("image_url").String(); url != "" {
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": url},
				})
			}
		case "input_file":
			if data := part.Get("file_data").String(); data != "" {
				parts = append(parts, map[string]any{
					"type": "file",
					"file": map[string]any{
						"file_data": data,
						"mime_type": part.Get("mime_type").String(),
					},
				})
			}
		}
		return true
	})
	return parts
}

func convertResponsesToolsToChat(root gjson.Result, out string) string {
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		if toolType == "function" {
			function := map[string]any{
				"name":        tool.Get("name").String(),
				"description": tool.Get("description").String(),
			}
			if params := tool.Get("parameters"); params.Exists() {
				function["parameters"] = params.Value()
			}
			tools = append(tools, map[string]any{"type": "function", "function": function})
		} else {
			tools = append(tools, tool.Value())
		}
		return true
	})
	if len(tools) > 0 {
		if toolsJSON, err := json.Marshal(tools); err == nil {
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	choice := root.Get("tool_choice")
	switch {
	case choice.Type == gjson.String:
		out, _ = sjson.Set(out, "tool_choice", choice.String())
	case choice.IsObject() && choice.Get("type").String() == "function":
		out, _ = sjson.Set(out, "tool_choice", map[string]any{
			"type": "function",
			"function": map[string]any{
				"name": choice.Get("name").String(),
			},
		})
	}
	return out
}

// Package responses translates between the OpenAI Responses protocol and the
// Claude Messages protocol for requests sent to Claude-native upstreams.
package responses

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertOpenAIResponsesRequestToClaude transforms an OpenAI Responses
// request into a Claude Messages request. The instructions field and any
// system items in the input array fan in to the system field; function_call
// and function_call_output items thread through tool_use and tool_result.
func ConvertOpenAIResponsesRequestToClaude(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","max_tokens":8192,"messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if v := root.Get("max_output_tokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_tokens", v.Int())
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", conv.ClampTemperature(temp.Float()))
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}

	if effortValue := root.Get("reasoning.effort"); effortValue.Exists() {
		if effort, ok := conv.ParseEffort(effortValue.String()); ok {
			if effort == conv.EffortNone {
				out, _ = sjson.SetRaw(out, "thinking", `{"type":"disabled"}`)
			} else {
				out, _ = sjson.SetRaw(out, "thinking",
					`{"type":"enabled","budget_tokens":1024}`)
			}
		}
	}

	var systemParts []string
	if instructions := root.Get("instructions").String(); instructions != "" {
		systemParts = append(systemParts, instructions)
	}

	var messages []any
	input := root.Get("input")
	if input.Type == gjson.String {
		messages = append(messages, map[string]any{
			"role":    "user",
			"content": []any{map[string]any{"type": "text", "text": input.String()}},
		})
	} else {
		input.ForEach(func(_, item gjson.Result) bool {
			itemType := item.Get("type").String()
			if itemType == "" && item.Get("role").Exists() {
				itemType = "message"
			}
			switch itemType {
			case "message":
				role := item.Get("role").String()
				if role == "system" || role == "developer" {
					if text, ok := conv.TextOfContent(item.Get("content")); ok {
						systemParts = append(systemParts, text)
					}
					return true
				}
				if msg := convertResponsesMessage(role, item.Get("content")); msg != nil {
					messages = append(messages, msg)
				}
			case "function_call":
				toolUse := map[string]any{
					"type": "tool_use",
					"id":   item.Get("call_id").String(),
					"name": item.Get("name").String(),
				}
				var args map[string]any
				if err := json.Unmarshal([]byte(item.Get("arguments").String()), &args); err == nil {
					toolUse["input"] = args
				} else {
					toolUse["input"] = map[string]any{}
				}
				messages = append(messages, map[string]any{
					"role": "assistant", "content": []any{toolUse},
				})
			case "function_call_output":
				messages = append(messages, map[string]any{
					"role": "user",
					"content": []any{map[string]any{
						"type":        "tool_result",
						"tool_use_id": item.Get("call_id").String(),
						"content":     item.Get("output").String(),
					}},
				})
			case "reasoning":
				// Replayed reasoning items carry no translatable content.
			}
			return true
		})
	}
	if len(systemParts) > 0 {
		system := systemParts[0]
		for _, part := range systemParts[1:] {
			system += "\n" + part
		}
		out, _ = sjson.Set(out, "system", system)
	}
	if messagesJSON, err := json.Marshal(messages); err == nil {
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	out = convertResponsesTools(root, out)
	out = convertResponsesToolChoice(root, out)
	return []byte(out)
}

func convertResponsesMessage(role string, content gjson.Result) map[string]any {
	var parts []any
	if content.Type == gjson.String {
		parts = append(parts, map[string]any{"type": "text", "text": content.String()})
	} else {
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "input_text", "output_text", "text":
				parts = append(parts, map[string]any{"type": "text", "text": part.Get("text").String()})
			case "input_image":
				if mime, data, ok := conv.SplitDataURL(part.Get("image_url").String()); ok {
					parts = append(parts, map[string]any{
						"type": "image",
						"source": map[string]any{
							"type": "base64", "media_type": mime, "data": data,
						},
					})
				} else if url := part.Get("image_url").String(); url != "" {
					parts = append(parts, map[string]any{
						"type":   "image",
						"source": map[string]any{"type": "url", "url": url},
					})
				}
			case "input_file":
				mime := part.Get("mime_type").String()
				if mime == "" {
					mime = conv.DefaultFileMIME
				}
				if data := part.Get("file_data").String(); data != "" {
					parts = append(parts, map[string]any{
						"type": "document",
						"source": map[string]any{
							"type": "base64", "media_type": mime, "data": data,
						},
					})
				}
			}
			return true
		})
	}
	if len(parts) == 0 {
		return nil
	}
	return map[string]any{"role": role, "content": parts}
}

func convertResponsesTools(root gjson.Result, out string) string {
	tools := root.Get("tools")
	if !tools.IsArray() || len(tools.Array()) == 0 {
		return out
	}
	var claudeTools []any
	tools.ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		if toolType == "function" {
			entry := map[string]any{
				"name":        tool.Get("name").String(),
				"description": tool.Get("description").String(),
			}
			if params := tool.Get("parameters"); params.Exists() {
				entry["input_schema"] = params.Value()
			} else {
				entry["input_schema"] = map[string]any{"type": "object"}
			}
			claudeTools = append(claudeTools, entry)
			return true
		}
		name, known := conv.BuiltinToolName(toolType)
		if !known {
			name = toolType
		}
		claudeTools = append(claudeTools, map[string]any{
			"name":         name,
			"input_schema": map[string]any{"type": "object"},
		})
		return true
	})
	if toolsJSON, err := json.Marshal(claudeTools); err == nil {
		out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
	}
	return out
}

func convertResponsesToolChoice(root gjson.Result, out string) string {
	choice := root.Get("tool_choice")
	switch {
	case choice.Type == gjson.String:
		switch choice.String() {
		case "auto":
			out, _ = sjson.SetRaw(out, "tool_choice", `{"type":"auto"}`)
		case "required":
			out, _ = sjson.SetRaw(out, "tool_choice", `{"type":"any"}`)
		case "none":
			out, _ = sjson.SetRaw(out, "tool_choice", `{"type":"none"}`)
		}
	case choice.IsObject():
		if choice.Get("type").String() == "function" {
			out, _ = sjson.Set(out, "tool_choice", map[string]any{
				"type": "tool",
				"name": choice.Get("name").String(),
			})
		}
	}
	return out
}

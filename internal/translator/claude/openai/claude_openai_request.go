// Package openai translates between the OpenAI Chat Completions protocol and
// the Claude Messages protocol for requests sent to Claude-native upstreams.
package openai

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertOpenAIRequestToClaude transforms an OpenAI Chat Completions request
// into a Claude Messages request. System and developer turns fan in to the
// system field; tool calls and tool results thread through tool_use and
// tool_result blocks keyed by the call id.
func ConvertOpenAIRequestToClaude(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","max_tokens":8192,"messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if maxTokens, ok := conv.MaxTokens(root); ok && maxTokens > 0 {
		out, _ = sjson.Set(out, "max_tokens", maxTokens)
	}
	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", conv.ClampTemperature(temp.Float()))
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.Set(out, "top_p", topP.Float())
	}
	if stops := conv.StopSequences(root.Get("stop")); len(stops) > 0 {
		out, _ = sjson.Set(out, "stop_sequences", stops)
	}

	// Reasoning effort maps to thinking: enabled with the nominal budget for
	// anything above none, disabled for none.
	if effortValue := root.Get("reasoning_effort"); effortValue.Exists() {
		if effort, ok := conv.ParseEffort(effortValue.String()); ok {
			if effort == conv.EffortNone {
				out, _ = sjson.SetRaw(out, "thinking", `{"type":"disabled"}`)
			} else {
				out, _ = sjson.SetRaw(out, "thinking",
					`{"type":"enabled","budget_tokens":1024}`)
			}
		}
	}

	// System fan-in: every system/developer turn joins the system field.
	var systemParts []string
	var messages []any
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")
		switch role {
		case "system", "developer":
			if text, ok := conv.TextOfContent(content); ok {
				systemParts = append(systemParts, text)
			}
		case "user", "assistant":
			if msg := convertChatMessage(role, message); msg != nil {
				messages = append(messages, msg)
			}
		case "tool":
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": message.Get("tool_call_id").String(),
					"content":     content.String(),
				}},
			})
		}
		return true
	})
	if len(systemParts) > 0 {
		out, _ = sjson.Set(out, "system", joinLines(systemParts))
	}
	if messagesJSON, err := json.Marshal(messages); err == nil {
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	out = convertChatTools(root, out)
	out = convertChatToolChoice(root, out)
	out = convertChatResponseFormat(root, out)
	return []byte(out)
}

func convertChatMessage(role string, message gjson.Result) map[string]any {
	content := message.Get("content")
	var parts []any

	if text, ok := conv.TextOfContent(content); ok && text != "" {
		parts = append(parts, map[string]any{"type": "text", "text": text})
	} else if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				parts = append(parts, map[string]any{"type": "text", "text": part.Get("text").String()})
			case "image_url":
				if mime, data, ok := conv.SplitDataURL(part.Get("image_url.url").String()); ok {
					parts = append(parts, map[string]any{
						"type": "image",
						"source": map[string]any{
							"type": "base64", "media_type": mime, "data": data,
						},
					})
				} else if url := part.Get("image_url.url").String(); url != "" {
					parts = append(parts, map[string]any{
						"type":   "image",
						"source": map[string]any{"type": "url", "url": url},
					})
				}
			case "input_audio":
				if data := part.Get("input_audio.data").String(); data != "" {
					parts = append(parts, map[string]any{
						"type": "document",
						"source": map[string]any{
							"type": "base64", "media_type": conv.DefaultFileMIME, "data": data,
						},
					})
				}
			case "file":
				mime := part.Get("file.mime_type").String()
				if mime == "" {
					mime = conv.DefaultFileMIME
				}
				if data := part.Get("file.file_data").String(); data != "" {
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

	if role == "assistant" {
		message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			if call.Get("type").String() != "function" {
				return true
			}
			toolUse := map[string]any{
				"type": "tool_use",
				"id":   call.Get("id").String(),
				"name": call.Get("function.name").String(),
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Get("function.arguments").String()), &args); err == nil {
				toolUse["input"] = args
			} else {
				toolUse["input"] = map[string]any{}
			}
			parts = append(parts, toolUse)
			return true
		})
	}
	if len(parts) == 0 {
		return nil
	}
	return map[string]any{"role": role, "content": parts}
}

func convertChatTools(root gjson.Result, out string) string {
	tools := root.Get("tools")
	if !tools.IsArray() || len(tools.Array()) == 0 {
		return out
	}
	var claudeTools []any
	tools.ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		if toolType == "function" {
			function := tool.Get("function")
			entry := map[string]any{
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if params := function.Get("parameters"); params.Exists() {
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

func convertChatToolChoice(root gjson.Result, out string) string {
	choice := root.Get("tool_choice")
	disableParallel := false
	if v := root.Get("parallel_tool_calls"); v.Exists() && !v.Bool() {
		disableParallel = true
	}
	set := func(value map[string]any) string {
		if disableParallel {
			value["disable_parallel_tool_use"] = true
		}
		s, _ := sjson.Set(out, "tool_choice", value)
		return s
	}
	switch {
	case choice.Type == gjson.String:
		switch choice.String() {
		case "auto":
			out = set(map[string]any{"type": "auto"})
		case "required":
			out = set(map[string]any{"type": "any"})
		case "none":
			out = set(map[string]any{"type": "none"})
		}
	case choice.IsObject():
		if choice.Get("type").String() == "function" {
			out = set(map[string]any{
				"type": "tool",
				"name": choice.Get("function.name").String(),
			})
		} else if allowed := choice.Get("allowed_tools"); allowed.Exists() {
			tools := allowed.Get("tools").Array()
			if len(tools) == 1 {
				out = set(map[string]any{
					"type": "tool",
					"name": tools[0].Get("function.name").String(),
				})
			} else if allowed.Get("mode").String() == "required" {
				out = set(map[string]any{"type": "any"})
			} else {
				out = set(map[string]any{"type": "auto"})
			}
		}
	case disableParallel:
		out = set(map[string]any{"type": "auto"})
	}
	return out
}

func convertChatResponseFormat(root gjson.Result, out string) string {
	format := root.Get("response_format")
	if !format.Exists() {
		return out
	}
	switch format.Get("type").String() {
	case "json_schema":
		if schema := format.Get("json_schema.schema"); schema.Exists() {
			out, _ = sjson.SetRaw(out, "output_format.schema", schema.Raw)
			out, _ = sjson.Set(out, "output_format.type", "json_schema")
		}
	case "json_object":
		// Claude needs a schema; a minimal object schema keeps the request valid.
		out, _ = sjson.SetRaw(out, "output_format", `{"type":"json_schema","schema":{"type":"object"}}`)
	case "text":
		out, _ = sjson.Delete(out, "output_format")
	}
	return out
}

func joinLines(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	joined := parts[0]
	for _, part := range parts[1:] {
		joined += "\n" + part
	}
	return joined
}

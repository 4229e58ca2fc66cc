// Package openai translates between the OpenAI Chat Completions protocol and
// the OpenAI Responses protocol for requests sent to Responses-native
// upstreams.
package openai

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertOpenAIRequestToOpenAIResponses transforms an OpenAI Chat
// Completions request into an OpenAI Responses request. System and developer
// turns fan in to instructions; nested function tools flatten.
func ConvertOpenAIRequestToOpenAIResponses(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","input":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	if maxTokens, ok := conv.MaxTokens(root); ok && maxTokens > 0 {
		out, _ = sjson.Set(out, "max_output_tokens", maxTokens)
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if effortValue := root.Get("reasoning_effort"); effortValue.Exists() {
		if effort, ok := conv.ParseEffort(effortValue.String()); ok {
			out, _ = sjson.Set(out, "reasoning.effort", string(effort))
		}
	}

	var instructionParts []string
	var input []any
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")
		switch role {
		case "system", "developer":
			if text, ok := conv.TextOfContent(content); ok {
				instructionParts = append(instructionParts, text)
			}
		case "user":
			input = append(input, map[string]any{
				"type":    "message",
				"role":    "user",
				"content": convertChatContent(content, "input"),
			})
		case "assistant":
			if text, ok := conv.TextOfContent(content); ok && text != "" {
				input = append(input, map[string]any{
					"type": "message",
					"role": "assistant",
					"content": []any{map[string]any{
						"type": "output_text", "text": text,
					}},
				})
			}
			message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				if call.Get("type").String() != "function" {
					return true
				}
				args := call.Get("function.arguments").String()
				if args == "" {
					args = "{}"
				}
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   call.Get("id").String(),
					"name":      call.Get("function.name").String(),
					"arguments": args,
				})
				return true
			})
		case "tool":
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": message.Get("tool_call_id").String(),
				"output":  content.String(),
			})
		}
		return true
	})
	if len(instructionParts) > 0 {
		instructions := instructionParts[0]
		for _, part := range instructionParts[1:] {
			instructions += "\n" + part
		}
		out, _ = sjson.Set(out, "instructions", instructions)
	}
	if inputJSON, err := json.Marshal(input); err == nil {
		out, _ = sjson.SetRaw(out, "input", string(inputJSON))
	}

	out = convertChatToolsToResponses(root, out)
	return []byte(out)
}

func convertChatContent(content gjson.Result, direction string) []any {
	textType := "input_text"
	if direction == "output" {
		textType = "output_text"
	}
	var parts []any
	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, map[string]any{"type": textType, "text": content.String()})
		}
		return parts
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"type": textType, "text": part.Get("text").String()})
		case "image_url":
			if url := part.Get("image_url.url").String(); url != "" {
				parts = append(parts, map[string]any{
					"type": "input_image", "image_url": url,
				})
			}
		case "file":
			if data := part.Get("file.file_data").String(); data != "" {
				parts = append(parts, map[string]any{
					"type":      "input_file",
					"file_data": data,
					"mime_type": part.Get("file.mime_type").String(),
				})
			}
		}
		return true
	})
	return parts
}

func convertChatToolsToResponses(root gjson.Result, out string) string {
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		if tool.Get("type").String() == "function" {
			function := tool.Get("function")
			entry := map[string]any{
				"type":        "function",
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if params := function.Get("parameters"); params.Exists() {
				entry["parameters"] = params.Value()
			}
			tools = append(tools, entry)
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
			"name": choice.Get("function.name").String(),
		})
	}
	if v := root.Get("parallel_tool_calls"); v.Exists() {
		out, _ = sjson.Set(out, "parallel_tool_calls", v.Bool())
	}
	return out
}

// Package gemini translates between the Gemini GenerateContent protocol and
// the OpenAI Chat Completions protocol for requests sent to
// OpenAI-compatible upstreams.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertGeminiRequestToOpenAI transforms a Gemini GenerateContent request
// into an OpenAI Chat Completions request. Gemini function calls carry no
// ids, so deterministic ids are minted per call and matched to the next
// functionResponse with the same name.
func ConvertGeminiRequestToOpenAI(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)
	if stream {
		out, _ = sjson.Set(out, "stream_options.include_usage", true)
	}

	config := root.Get("generationConfig")
	if v := config.Get("maxOutputTokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_completion_tokens", v.Int())
	}
	if v := config.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := config.Get("topP"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if stops := conv.StopSequences(config.Get("stopSequences")); len(stops) > 0 {
		out, _ = sjson.Set(out, "stop", stops)
	}
	if thinking := config.Get("thinkingConfig"); thinking.Exists() {
		out, _ = sjson.Set(out, "reasoning_effort", string(effortFromThinkingConfig(thinking)))
	}

	var messages []any
	if instruction := root.Get("systemInstruction"); instruction.Exists() {
		var system string
		instruction.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text").String(); text != "" {
				if system != "" {
					system += "\n"
				}
				system += text
			}
			return true
		})
		if system == "" {
			system = instruction.Get("text").String()
		}
		if system != "" {
			messages = append(messages, map[string]any{"role": "system", "content": system})
		}
	}

	pendingIDs := map[string][]string{}
	callSerial := 0
	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := "user"
		if content.Get("role").String() == "model" {
			role = "assistant"
		}
		var contentParts []any
		var toolCalls []any
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Get("functionCall").Exists():
				call := part.Get("functionCall")
				name := call.Get("name").String()
				callSerial++
				id := fmt.Sprintf("call_%s_%d", name, callSerial)
				pendingIDs[name] = append(pendingIDs[name], id)
				args := call.Get("args").Raw
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   id,
					"type": "function",
					"function": map[string]any{
						"name": name, "arguments": args,
					},
				})
			case part.Get("functionResponse").Exists():
				response := part.Get("functionResponse")
				name := response.Get("name").String()
				id := ""
				if queue := pendingIDs[name]; len(queue) > 0 {
					id = queue[0]
					pendingIDs[name] = queue[1:]
				}
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": id,
					"content":      response.Get("response").Raw,
				})
			case part.Get("inlineData").Exists():
				inline := part.Get("inlineData")
				contentParts = append(contentParts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": fmt.Sprintf("data:%s;base64,%s",
							inline.Get("mimeType").String(), inline.Get("data").String()),
					},
				})
			case part.Get("fileData").Exists():
				contentParts = append(contentParts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": part.Get("fileData.fileUri").String()},
				})
			case part.Get("text").Exists():
				contentParts = append(contentParts, map[string]any{
					"type": "text", "text": part.Get("text").String(),
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

	out = convertGeminiToolsToOpenAI(root, out)
	return []byte(out)
}

// effortFromThinkingConfig recovers an effort value from a thinkingConfig by
// budget band or level.
func effortFromThinkingConfig(thinking gjson.Result) conv.Effort {
	if level := thinking.Get("thinkingLevel").String(); level != "" {
		switch level {
		case "none":
			return conv.EffortNone
		case "low":
			return conv.EffortLow
		case "medium":
			return conv.EffortMedium
		default:
			return conv.EffortHigh
		}
	}
	budget := thinking.Get("thinkingBudget").Int()
	switch {
	case budget <= 0:
		return conv.EffortNone
	case budget <= 1024:
		return conv.EffortLow
	case budget <= 8192:
		return conv.EffortMedium
	default:
		return conv.EffortHigh
	}
}

func convertGeminiToolsToOpenAI(root gjson.Result, out string) string {
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		tool.Get("functionDeclarations").ForEach(func(_, declaration gjson.Result) bool {
			function := map[string]any{
				"name":        declaration.Get("name").String(),
				"description": declaration.Get("description").String(),
			}
			if params := declaration.Get("parameters"); params.Exists() {
				function["parameters"] = params.Value()
			}
			tools = append(tools, map[string]any{"type": "function", "function": function})
			return true
		})
		return true
	})
	if len(tools) > 0 {
		if toolsJSON, err := json.Marshal(tools); err == nil {
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	config := root.Get("toolConfig.functionCallingConfig")
	switch config.Get("mode").String() {
	case "ANY":
		if allowed := config.Get("allowedFunctionNames"); allowed.IsArray() && len(allowed.Array()) == 1 {
			out, _ = sjson.Set(out, "tool_choice", map[string]any{
				"type": "function",
				"function": map[string]any{
					"name": allowed.Array()[0].String(),
				},
			})
		} else {
			out, _ = sjson.Set(out, "tool_choice", "required")
		}
	case "NONE":
		out, _ = sjson.Set(out, "tool_choice", "none")
	case "AUTO":
		out, _ = sjson.Set(out, "tool_choice", "auto")
	}
	return out
}

// Package gemini translates between the Gemini GenerateContent protocol and
// the Claude Messages protocol for requests sent to Claude-native upstreams.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertGeminiRequestToClaude transforms a Gemini GenerateContent request
// into a Claude Messages request. Gemini function calls carry no ids, so
// deterministic ids are minted per call and matched to the next
// functionResponse with the same name.
func ConvertGeminiRequestToClaude(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","max_tokens":8192,"messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	config := root.Get("generationConfig")
	if v := config.Get("maxOutputTokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_tokens", v.Int())
	}
	if v := config.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", conv.ClampTemperature(v.Float()))
	}
	if v := config.Get("topP"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if v := config.Get("topK"); v.Exists() {
		out, _ = sjson.Set(out, "top_k", v.Int())
	}
	if stops := conv.StopSequences(config.Get("stopSequences")); len(stops) > 0 {
		out, _ = sjson.Set(out, "stop_sequences", stops)
	}
	if thinking := config.Get("thinkingConfig"); thinking.Exists() {
		budget := thinking.Get("thinkingBudget").Int()
		if budget > 0 {
			out, _ = sjson.Set(out, "thinking", map[string]any{
				"type": "enabled", "budget_tokens": budget,
			})
		} else if thinking.Get("thinkingBudget").Exists() {
			out, _ = sjson.SetRaw(out, "thinking", `{"type":"disabled"}`)
		}
	}

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
			out, _ = sjson.Set(out, "system", system)
		}
	}

	// Pending ids, queued per function name, consumed by functionResponse.
	pendingIDs := map[string][]string{}
	callSerial := 0
	var messages []any
	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := "user"
		if content.Get("role").String() == "model" {
			role = "assistant"
		}
		var parts []any
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Get("text").Exists():
				block := map[string]any{"type": "text", "text": part.Get("text").String()}
				if part.Get("thought").Bool() {
					block = map[string]any{"type": "thinking", "thinking": part.Get("text").String()}
				}
				parts = append(parts, block)
			case part.Get("inlineData").Exists():
				inline := part.Get("inlineData")
				mime := inline.Get("mimeType").String()
				kind := "document"
				if len(mime) >= 6 && mime[:6] == "image/" {
					kind = "image"
				}
				parts = append(parts, map[string]any{
					"type": kind,
					"source": map[string]any{
						"type": "base64", "media_type": mime, "data": inline.Get("data").String(),
					},
				})
			case part.Get("functionCall").Exists():
				call := part.Get("functionCall")
				name := call.Get("name").String()
				callSerial++
				id := fmt.Sprintf("toolu_%s_%d", name, callSerial)
				pendingIDs[name] = append(pendingIDs[name], id)
				toolUse := map[string]any{"type": "tool_use", "id": id, "name": name}
				if args := call.Get("args"); args.Exists() {
					toolUse["input"] = args.Value()
				} else {
					toolUse["input"] = map[string]any{}
				}
				parts = append(parts, toolUse)
			case part.Get("functionResponse").Exists():
				response := part.Get("functionResponse")
				name := response.Get("name").String()
				id := ""
				if queue := pendingIDs[name]; len(queue) > 0 {
					id = queue[0]
					pendingIDs[name] = queue[1:]
				} else {
					callSerial++
					id = fmt.Sprintf("toolu_%s_%d", name, callSerial)
				}
				body := response.Get("response").Raw
				if body == "" {
					body = "{}"
				}
				parts = append(parts, map[string]any{
					"type":        "tool_result",
					"tool_use_id": id,
					"content":     body,
				})
			}
			return true
		})
		if len(parts) > 0 {
			messages = append(messages, map[string]any{"role": role, "content": parts})
		}
		return true
	})
	if messagesJSON, err := json.Marshal(messages); err == nil {
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	out = convertGeminiTools(root, out)
	return []byte(out)
}

func convertGeminiTools(root gjson.Result, out string) string {
	var claudeTools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		tool.Get("functionDeclarations").ForEach(func(_, declaration gjson.Result) bool {
			entry := map[string]any{
				"name":        declaration.Get("name").String(),
				"description": declaration.Get("description").String(),
			}
			if params := declaration.Get("parameters"); params.Exists() {
				entry["input_schema"] = params.Value()
			} else {
				entry["input_schema"] = map[string]any{"type": "object"}
			}
			claudeTools = append(claudeTools, entry)
			return true
		})
		if tool.Get("googleSearch").Exists() || tool.Get("googleSearchRetrieval").Exists() {
			claudeTools = append(claudeTools, map[string]any{
				"name":         "web_search",
				"input_schema": map[string]any{"type": "object"},
			})
		}
		if tool.Get("codeExecution").Exists() {
			claudeTools = append(claudeTools, map[string]any{
				"name":         "code_execution",
				"input_schema": map[string]any{"type": "object"},
			})
		}
		return true
	})
	if len(claudeTools) > 0 {
		if toolsJSON, err := json.Marshal(claudeTools); err == nil {
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	switch root.Get("toolConfig.functionCallingConfig.mode").String() {
	case "ANY":
		out, _ = sjson.SetRaw(out, "tool_choice", `{"type":"any"}`)
	case "NONE":
		out, _ = sjson.SetRaw(out, "tool_choice", `{"type":"none"}`)
	case "AUTO":
		out, _ = sjson.SetRaw(out, "tool_choice", `{"type":"auto"}`)
	}
	return out
}

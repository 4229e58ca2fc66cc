// Package gemini translates between the Gemini GenerateContent protocol and
// the OpenAI Responses protocol for requests sent to Responses-native
// upstreams.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertGeminiRequestToOpenAIResponses transforms a Gemini GenerateContent
// request into an OpenAI Responses request. Gemini function calls carry no
// ids, so deterministic ids are minted per call and matched to the next
// functionResponse with the same name.
func ConvertGeminiRequestToOpenAIResponses(modelName string, rawJSON []byte, stream bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"model":"","input":[]}`
	out, _ = sjson.Set(out, "model", modelName)
	out, _ = sjson.Set(out, "stream", stream)

	config := root.Get("generationConfig")
	if v := config.Get("maxOutputTokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "max_output_tokens", v.Int())
	}
	if v := config.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := config.Get("topP"); v.Exists() {
		out, _ = sjson.Set(out, "top_p", v.Float())
	}
	if thinking := config.Get("thinkingConfig"); thinking.Exists() {
		out, _ = sjson.Set(out, "reasoning.effort", string(effortFromThinkingConfig(thinking)))
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
			out, _ = sjson.Set(out, "instructions", system)
		}
	}

	pendingIDs := map[string][]string{}
	callSerial := 0
	var input []any
	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := "user"
		textType := "input_text"
		if content.Get("role").String() == "model" {
			role = "assistant"
			textType = "output_text"
		}
		var parts []any
		flush := func() {
			if len(parts) == 0 {
				return
			}
			input = append(input, map[string]any{
				"type": "message", "role": role, "content": parts,
			})
			parts = nil
		}
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			switch {
			case part.Get("functionCall").Exists():
				flush()
				call := part.Get("functionCall")
				name := call.Get("name").String()
				callSerial++
				id := fmt.Sprintf("call_%s_%d", name, callSerial)
				pendingIDs[name] = append(pendingIDs[name], id)
				args := call.Get("args").Raw
				if args == "" {
					args = "{}"
				}
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   id,
					"name":      name,
					"arguments": args,
				})
			case part.Get("functionResponse").Exists():
				flush()
				response := part.Get("functionResponse")
				name := response.Get("name").String()
				id := ""
				if queue := pendingIDs[name]; len(queue) > 0 {
					id = queue[0]
					pendingIDs[name] = queue[1:]
				}
				input = append(input, map[string]any{
					"type":    "function_call_output",
					"call_id": id,
					"output":  response.Get("response").Raw,
				})
			case part.Get("inlineData").Exists():
				inline := part.Get("inlineData")
				parts = append(parts, map[string]any{
					"type": "input_image",
					"image_url": fmt.Sprintf("data:%s;base64,%s",
						inline.Get("mimeType").String(), inline.Get("data").String()),
				})
			case part.Get("text").Exists():
				parts = append(parts, map[string]any{
					"type": textType, "text": part.Get("text").String(),
				})
			}
			return true
		})
		flush()
		return true
	})
	if inputJSON, err := json.Marshal(input); err == nil {
		out, _ = sjson.SetRaw(out, "input", string(inputJSON))
	}

	out = convertGeminiToolsToResponses(root, out)
	return []byte(out)
}

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

func convertGeminiToolsToResponses(root gjson.Result, out string) string {
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		tool.Get("functionDeclarations").ForEach(func(_, declaration gjson.Result) bool {
			entry := map[string]any{
				"type":        "function",
				"name":        declaration.Get("name").String(),
				"description": declaration.Get("description").String(),
			}
			if params := declaration.Get("parameters"); params.Exists() {
				entry["parameters"] = params.Value()
			}
			tools = append(tools, entry)
			return true
		})
		if tool.Get("googleSearch").Exists() {
			tools = append(tools, map[string]any{"type": "web_search"})
		}
		if tool.Get("codeExecution").Exists() {
			tools = append(tools, map[string]any{"type": "code_interpreter"})
		}
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
				"name": allowed.Array()[0].String(),
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

// Package claude translates between the Claude Messages protocol and the
// Gemini GenerateContent protocol for requests sent to Gemini-native
// upstreams.
package claude

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertClaudeRequestToGemini transforms a Claude Messages request into a
// Gemini GenerateContent request. Tool results look up the function name
// recorded for their tool_use_id because Gemini keys function responses by
// name instead of id.
func ConvertClaudeRequestToGemini(modelName string, rawJSON []byte, _ bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"contents":[]}`

	if v := root.Get("max_tokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.topP", v.Float())
	}
	if v := root.Get("top_k"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.topK", v.Int())
	}
	if stops := conv.StopSequences(root.Get("stop_sequences")); len(stops) > 0 {
		out, _ = sjson.Set(out, "generationConfig.stopSequences", stops)
	}
	out = convertClaudeThinking(root, modelName, out)

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
			out, _ = sjson.Set(out, "systemInstruction.parts.0.text", text)
		}
	}

	// tool_use_id to function name, filled from assistant turns.
	toolNames := map[string]string{}
	var contents []any
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := "user"
		if message.Get("role").String() == "assistant" {
			role = "model"
		}
		var parts []any
		content := message.Get("content")
		if content.Type == gjson.String {
			parts = append(parts, map[string]any{"text": content.String()})
		} else {
			content.ForEach(func(_, block gjson.Result) bool {
				switch block.Get("type").String() {
				case "text":
					parts = append(parts, map[string]any{"text": block.Get("text").String()})
				case "thinking":
					parts = append(parts, map[string]any{
						"text": block.Get("thinking").String(), "thought": true,
					})
				case "image", "document":
					source := block.Get("source")
					if source.Get("type").String() == "base64" {
						parts = append(parts, map[string]any{
							"inlineData": map[string]any{
								"mimeType": source.Get("media_type").String(),
								"data":     source.Get("data").String(),
							},
						})
					} else if url := source.Get("url").String(); url != "" {
						parts = append(parts, map[string]any{
							"fileData": map[string]any{"fileUri": url},
						})
					}
				case "tool_use":
					name := block.Get("name").String()
					toolNames[block.Get("id").String()] = name
					call := map[string]any{"name": name}
					if input := block.Get("input"); input.Exists() {
						call["args"] = input.Value()
					} else {
						call["args"] = map[string]any{}
					}
					parts = append(parts, map[string]any{"functionCall": call})
				case "tool_result":
					name := toolNames[block.Get("tool_use_id").String()]
					parts = append(parts, map[string]any{
						"functionResponse": map[string]any{
							"name":     name,
							"response": map[string]any{"result": toolResultText(block.Get("content"))},
						},
					})
				}
				return true
			})
		}
		if len(parts) > 0 {
			contents = append(contents, map[string]any{"role": role, "parts": parts})
		}
		return true
	})
	if contentsJSON, err := json.Marshal(contents); err == nil {
		out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))
	}

	out = convertClaudeTools(root, out)
	return []byte(out)
}

func convertClaudeThinking(root gjson.Result, modelName, out string) string {
	thinking := root.Get("thinking")
	if !thinking.Exists() {
		return out
	}
	enabled := thinking.Get("type").String() == "enabled"
	if conv.Gemini3Family(modelName) {
		level := "high"
		if !enabled {
			level = conv.GeminiThinkingLevel(conv.EffortNone, modelName)
		}
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingLevel", level)
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts", enabled)
		return out
	}
	budget := int64(0)
	if enabled {
		budget = thinking.Get("budget_tokens").Int()
		if budget <= 0 {
			budget = conv.ClaudeThinkingBudget
		}
	}
	out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingBudget", budget)
	out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts", enabled)
	return out
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

func convertClaudeTools(root gjson.Result, out string) string {
	var declarations []any
	builtins := map[string]bool{}
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		if toolType != "" && toolType != "custom" {
			if name, ok := conv.BuiltinToolName(toolType); ok {
				builtins[name] = true
				return true
			}
		}
		entry := map[string]any{
			"name":        tool.Get("name").String(),
			"description": tool.Get("description").String(),
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			entry["parameters"] = sanitizeSchema(schema)
		}
		declarations = append(declarations, entry)
		return true
	})

	toolIndex := 0
	if len(declarations) > 0 {
		if declJSON, err := json.Marshal(declarations); err == nil {
			out, _ = sjson.SetRaw(out, "tools.0.functionDeclarations", string(declJSON))
			toolIndex = 1
		}
	}
	if builtins["web_search"] {
		out, _ = sjson.SetRaw(out, "tools."+strconv.Itoa(toolIndex)+".googleSearch", `{}`)
		toolIndex++
	}
	if builtins["code_execution"] {
		out, _ = sjson.SetRaw(out, "tools."+strconv.Itoa(toolIndex)+".codeExecution", `{}`)
	}

	switch root.Get("tool_choice.type").String() {
	case "any", "tool":
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
		if name := root.Get("tool_choice.name").String(); name != "" {
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.allowedFunctionNames.0", name)
		}
	case "none":
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "NONE")
	case "auto":
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "AUTO")
	}
	return out
}

// sanitizeSchema strips JSON Schema keywords the Gemini API rejects.
func sanitizeSchema(schema gjson.Result) any {
	raw := schema.Raw
	for _, key := range []string{"$schema", "additionalProperties", "$defs", "definitions"} {
		raw, _ = sjson.Delete(raw, key)
	}
	return gjson.Parse(raw).Value()
}

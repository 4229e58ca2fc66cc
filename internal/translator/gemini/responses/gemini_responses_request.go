// Package responses translates between the OpenAI Responses protocol and the
// Gemini GenerateContent protocol for requests sent to Gemini-native
// upstreams.
package responses

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertOpenAIResponsesRequestToGemini transforms an OpenAI Responses
// request into a Gemini GenerateContent request. function_call_output items
// resolve their function name through the call_id recorded on earlier
// function_call items.
func ConvertOpenAIResponsesRequestToGemini(modelName string, rawJSON []byte, _ bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"contents":[]}`

	if v := root.Get("max_output_tokens"); v.Exists() && v.Int() > 0 {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", v.Int())
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.topP", v.Float())
	}
	if effortValue := root.Get("reasoning.effort"); effortValue.Exists() {
		if effort, ok := conv.ParseEffort(effortValue.String()); ok {
			if conv.Gemini3Family(modelName) {
				out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingLevel",
					conv.GeminiThinkingLevel(effort, modelName))
			} else {
				out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingBudget",
					conv.GeminiThinkingBudget(effort))
			}
			out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts",
				effort != conv.EffortNone)
		}
	}

	var systemParts []string
	if instructions := root.Get("instructions").String(); instructions != "" {
		systemParts = append(systemParts, instructions)
	}

	callNames := map[string]string{}
	var contents []any
	input := root.Get("input")
	if input.Type == gjson.String {
		contents = append(contents, map[string]any{
			"role":  "user",
			"parts": []any{map[string]any{"text": input.String()}},
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
				geminiRole := "user"
				if role == "assistant" {
					geminiRole = "model"
				}
				if parts := convertResponsesParts(item.Get("content")); len(parts) > 0 {
					contents = append(contents, map[string]any{"role": geminiRole, "parts": parts})
				}
			case "function_call":
				name := item.Get("name").String()
				callNames[item.Get("call_id").String()] = name
				call := map[string]any{"name": name}
				var args map[string]any
				if err := json.Unmarshal([]byte(item.Get("arguments").String()), &args); err == nil {
					call["args"] = args
				} else {
					call["args"] = map[string]any{}
				}
				contents = append(contents, map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"functionCall": call}},
				})
			case "function_call_output":
				contents = append(contents, map[string]any{
					"role": "user",
					"parts": []any{map[string]any{
						"functionResponse": map[string]any{
							"name":     callNames[item.Get("call_id").String()],
							"response": map[string]any{"result": item.Get("output").String()},
						},
					}},
				})
			}
			return true
		})
	}
	if len(systemParts) > 0 {
		system := systemParts[0]
		for _, part := range systemParts[1:] {
			system += "\n" + part
		}
		out, _ = sjson.Set(out, "systemInstruction.parts.0.text", system)
	}
	if contentsJSON, err := json.Marshal(contents); err == nil {
		out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))
	}

	out = convertResponsesTools(root, out)
	return []byte(out)
}

func convertResponsesParts(content gjson.Result) []any {
	var parts []any
	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, map[string]any{"text": content.String()})
		}
		return parts
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "input_text", "output_text", "text":
			parts = append(parts, map[string]any{"text": part.Get("text").String()})
		case "input_image":
			url := part.Get("image_url").String()
			if mime, data, ok := conv.SplitDataURL(url); ok {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": mime, "data": data},
				})
			} else if url != "" {
				parts = append(parts, map[string]any{
					"fileData": map[string]any{"fileUri": url},
				})
			}
		case "input_file":
			mime := part.Get("mime_type").String()
			if mime == "" {
				mime = conv.DefaultFileMIME
			}
			if data := part.Get("file_data").String(); data != "" {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": mime, "data": data},
				})
			}
		}
		return true
	})
	return parts
}

func convertResponsesTools(root gjson.Result, out string) string {
	var declarations []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		if tool.Get("type").String() != "function" {
			return true
		}
		entry := map[string]any{
			"name":        tool.Get("name").String(),
			"description": tool.Get("description").String(),
		}
		if params := tool.Get("parameters"); params.Exists() {
			entry["parameters"] = params.Value()
		}
		declarations = append(declarations, entry)
		return true
	})
	if len(declarations) > 0 {
		if declJSON, err := json.Marshal(declarations); err == nil {
			out, _ = sjson.SetRaw(out, "tools.0.functionDeclarations", string(declJSON))
		}
	}

	choice := root.Get("tool_choice")
	switch {
	case choice.Type == gjson.String:
		switch choice.String() {
		case "required":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
		case "none":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "NONE")
		case "auto":
			out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "AUTO")
		}
	case choice.IsObject() && choice.Get("type").String() == "function":
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.mode", "ANY")
		out, _ = sjson.Set(out, "toolConfig.functionCallingConfig.allowedFunctionNames.0",
			choice.Get("name").String())
	}
	return out
}

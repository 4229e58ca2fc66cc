// Package openai translates between the OpenAI Chat Completions protocol and
// the Gemini GenerateContent protocol for requests sent to Gemini-native
// upstreams.
package openai

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/translator/conv"
)

// ConvertOpenAIRequestToGemini transforms an OpenAI Chat Completions request
// into a Gemini GenerateContent request. Tool role messages resolve their
// function name through the tool_call_id recorded on earlier assistant
// turns.
func ConvertOpenAIRequestToGemini(modelName string, rawJSON []byte, _ bool) []byte {
	root := gjson.ParseBytes(rawJSON)
	out := `{"contents":[]}`

	if maxTokens, ok := conv.MaxTokens(root); ok && maxTokens > 0 {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", maxTokens)
	}
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "generationConfig.topP", v.Float())
	}
	if stops := conv.StopSequences(root.Get("stop")); len(stops) > 0 {
		out, _ = sjson.Set(out, "generationConfig.stopSequences", stops)
	}
	if effortValue := root.Get("reasoning_effort"); effortValue.Exists() {
		if effort, ok := conv.ParseEffort(effortValue.String()); ok {
			out = setThinkingConfig(out, modelName, effort)
		}
	}

	var systemParts []string
	toolCallNames := map[string]string{}
	var contents []any
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")
		switch role {
		case "system", "developer":
			if text, ok := conv.TextOfContent(content); ok {
				systemParts = append(systemParts, text)
			}
		case "user":
			if parts := convertChatParts(content); len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "user", "parts": parts})
			}
		case "assistant":
			parts := convertChatParts(content)
			message.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				if call.Get("type").String() != "function" {
					return true
				}
				name := call.Get("function.name").String()
				toolCallNames[call.Get("id").String()] = name
				functionCall := map[string]any{"name": name}
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Get("function.arguments").String()), &args); err == nil {
					functionCall["args"] = args
				} else {
					functionCall["args"] = map[string]any{}
				}
				parts = append(parts, map[string]any{"functionCall": functionCall})
				return true
			})
			if len(parts) > 0 {
				contents = append(contents, map[string]any{"role": "model", "parts": parts})
			}
		case "tool":
			name := toolCallNames[message.Get("tool_call_id").String()]
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []any{map[string]any{
					"functionResponse": map[string]any{
						"name":     name,
						"response": map[string]any{"result": content.String()},
					},
				}},
			})
		}
		return true
	})
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

	out = convertChatToolsToGemini(root, out)
	return []byte(out)
}

func setThinkingConfig(out, modelName string, effort conv.Effort) string {
	if conv.Gemini3Family(modelName) {
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingLevel",
			conv.GeminiThinkingLevel(effort, modelName))
	} else {
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingBudget",
			conv.GeminiThinkingBudget(effort))
	}
	out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts",
		effort != conv.EffortNone)
	return out
}

func convertChatParts(content gjson.Result) []any {
	var parts []any
	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, map[string]any{"text": content.String()})
		}
		return parts
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": part.Get("text").String()})
		case "image_url":
			url := part.Get("image_url.url").String()
			if mime, data, ok := conv.SplitDataURL(url); ok {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": mime, "data": data},
				})
			} else if url != "" {
				parts = append(parts, map[string]any{
					"fileData": map[string]any{"fileUri": url},
				})
			}
		case "file":
			mime := part.Get("file.mime_type").String()
			if mime == "" {
				mime = conv.DefaultFileMIME
			}
			if data := part.Get("file.file_data").String(); data != "" {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": mime, "data": data},
				})
			}
		}
		return true
	})
	return parts
}

func convertChatToolsToGemini(root gjson.Result, out string) string {
	var declarations []any
	hasSearch := false
	hasCodeExecution := false
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		toolType := tool.Get("type").String()
		if toolType == "function" {
			function := tool.Get("function")
			entry := map[string]any{
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if params := function.Get("parameters"); params.Exists() {
				entry["parameters"] = params.Value()
			}
			declarations = append(declarations, entry)
			return true
		}
		if name, ok := conv.BuiltinToolName(toolType); ok {
			switch name {
			case "web_search":
				hasSearch = true
			case "code_execution":
				hasCodeExecution = true
			}
		}
		return true
	})
	index := 0
	if len(declarations) > 0 {
		if declJSON, err := json.Marshal(declarations); err == nil {
			out, _ = sjson.SetRaw(out, "tools.0.functionDeclarations", string(declJSON))
			index = 1
		}
	}
	if hasSearch {
		out, _ = sjson.SetRaw(out, "tools."+strconv.Itoa(index)+".googleSearch", `{}`)
		index++
	}
	if hasCodeExecution {
		out, _ = sjson.SetRaw(out, "tools."+strconv.Itoa(index)+".codeExecution", `{}`)
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
			choice.Get("function.name").String())
	}
	return out
}

// Package registry holds the static model tables served when a provider
// cannot answer a models list or get upstream. Each provider kind exposes the
// models its console plan actually serves.
package registry

import (
	"encoding/json"
	"strings"
)

// ModelInfo describes one servable model.
type ModelInfo struct {
	ID               string
	OwnedBy          string
	DisplayName      string
	Created          int64
	InputTokenLimit  int
	OutputTokenLimit int
}

var claudeModels = []ModelInfo{
	{ID: "claude-opus-4-5-20251101", OwnedBy: "anthropic", DisplayName: "Claude Opus 4.5", Created: 1761955200, InputTokenLimit: 200000, OutputTokenLimit: 64000},
	{ID: "claude-sonnet-4-5-20250929", OwnedBy: "anthropic", DisplayName: "Claude Sonnet 4.5", Created: 1759104000, InputTokenLimit: 200000, OutputTokenLimit: 64000},
	{ID: "claude-opus-4-1-20250805", OwnedBy: "anthropic", DisplayName: "Claude Opus 4.1", Created: 1754352000, InputTokenLimit: 200000, OutputTokenLimit: 32000},
	{ID: "claude-sonnet-4-20250514", OwnedBy: "anthropic", DisplayName: "Claude Sonnet 4", Created: 1747180800, InputTokenLimit: 200000, OutputTokenLimit: 64000},
	{ID: "claude-3-5-haiku-20241022", OwnedBy: "anthropic", DisplayName: "Claude Haiku 3.5", Created: 1729555200, InputTokenLimit: 200000, OutputTokenLimit: 8192},
}

var geminiModels = []ModelInfo{
	{ID: "gemini-3-pro-preview", OwnedBy: "google", DisplayName: "Gemini 3 Pro Preview", Created: 1763424000, InputTokenLimit: 1048576, OutputTokenLimit: 65536},
	{ID: "gemini-2.5-pro", OwnedBy: "google", DisplayName: "Gemini 2.5 Pro", Created: 1750118400, InputTokenLimit: 1048576, OutputTokenLimit: 65536},
	{ID: "gemini-2.5-flash", OwnedBy: "google", DisplayName: "Gemini 2.5 Flash", Created: 1750118400, InputTokenLimit: 1048576, OutputTokenLimit: 65536},
	{ID: "gemini-2.5-flash-lite", OwnedBy: "google", DisplayName: "Gemini 2.5 Flash Lite", Created: 1750118400, InputTokenLimit: 1048576, OutputTokenLimit: 65536},
}

var openaiModels = []ModelInfo{
	{ID: "gpt-5.1", OwnedBy: "openai", DisplayName: "GPT-5.1", Created: 1762992000, InputTokenLimit: 400000, OutputTokenLimit: 128000},
	{ID: "gpt-5.1-codex", OwnedBy: "openai", DisplayName: "GPT-5.1 Codex", Created: 1762992000, InputTokenLimit: 400000, OutputTokenLimit: 128000},
	{ID: "gpt-5", OwnedBy: "openai", DisplayName: "GPT-5", Created: 1754524800, InputTokenLimit: 400000, OutputTokenLimit: 128000},
	{ID: "gpt-5-codex", OwnedBy: "openai", DisplayName: "GPT-5 Codex", Created: 1757894400, InputTokenLimit: 400000, OutputTokenLimit: 128000},
}

// ModelsFor returns the static model table of a provider kind.
func ModelsFor(kind string) []ModelInfo {
	switch kind {
	case "claude", "claudecode":
		return claudeModels
	case "codex":
		return openaiModels
	case "geminicli", "antigravity", "aistudio":
		return geminiModels
	}
	return nil
}

// Find locates one model by id, tolerating the Gemini "models/" prefix.
func Find(kind, id string) (ModelInfo, bool) {
	id = strings.TrimPrefix(id, "models/")
	for _, m := range ModelsFor(kind) {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// RenderOpenAIList serializes models as an OpenAI model list response.
func RenderOpenAIList(models []ModelInfo) []byte {
	type entry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	out := struct {
		Object string  `json:"object"`
		Data   []entry `json:"data"`
	}{Object: "list", Data: make([]entry, 0, len(models))}
	for _, m := range models {
		out.Data = append(out.Data, entry{ID: m.ID, Object: "model", Created: m.Created, OwnedBy: m.OwnedBy})
	}
	data, _ := json.Marshal(out)
	return data
}

// RenderOpenAIModel serializes one model in OpenAI shape.
func RenderOpenAIModel(m ModelInfo) []byte {
	data, _ := json.Marshal(map[string]any{
		"id": m.ID, "object": "model", "created": m.Created, "owned_by": m.OwnedBy,
	})
	return data
}

// RenderClaudeList serializes models as a Claude model list response.
func RenderClaudeList(models []ModelInfo) []byte {
	type entry struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		DisplayName string `json:"display_name"`
	}
	out := struct {
		Data    []entry `json:"data"`
		HasMore bool    `json:"has_more"`
	}{Data: make([]entry, 0, len(models))}
	for _, m := range models {
		out.Data = append(out.Data, entry{ID: m.ID, Type: "model", DisplayName: m.DisplayName})
	}
	data, _ := json.Marshal(out)
	return data
}

// RenderClaudeModel serializes one model in Claude shape.
func RenderClaudeModel(m ModelInfo) []byte {
	data, _ := json.Marshal(map[string]any{
		"id": m.ID, "type": "model", "display_name": m.DisplayName,
	})
	return data
}

// RenderGeminiList serializes models as a Gemini model list response.
func RenderGeminiList(models []ModelInfo) []byte {
	out := struct {
		Models []map[string]any `json:"models"`
	}{}
	for _, m := range models {
		out.Models = append(out.Models, geminiModel(m))
	}
	data, _ := json.Marshal(out)
	return data
}

// RenderGeminiModel serializes one model in Gemini shape.
func RenderGeminiModel(m ModelInfo) []byte {
	data, _ := json.Marshal(geminiModel(m))
	return data
}

func geminiModel(m ModelInfo) map[string]any {
	return map[string]any{
		"name":                       "models/" + m.ID,
		"displayName":                m.DisplayName,
		"inputTokenLimit":            m.InputTokenLimit,
		"outputTokenLimit":           m.OutputTokenLimit,
		"supportedGenerationMethods": []string{"generateContent", "countTokens"},
	}
}

package translator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/yszxh/gproxy/internal/protocol"
	reg "github.com/yszxh/gproxy/internal/translator/translator"
)

type turn struct {
	Role string
	Text string
}

func upstreamModel(p protocol.Proto) string {
	switch p {
	case protocol.ProtoClaude:
		return "claude-sonnet-4-5"
	case protocol.ProtoGemini:
		return "gemini-2.5-pro"
	case protocol.ProtoOpenAIResponses:
		return "gpt-5-codex"
	default:
		return "gpt-4.1"
	}
}

// canonicalRequest builds the same conversation in each protocol: a system
// prompt, a user question, an assistant reply, two function tools, low
// reasoning effort and a 4096 output token cap.
func canonicalRequest(p protocol.Proto) string {
	switch p {
	case protocol.ProtoClaude:
		return `{
			"model":"claude-sonnet-4-5","max_tokens":4096,
			"system":"You are helpful.",
			"thinking":{"type":"enabled","budget_tokens":1024},
			"stop_sequences":["END","HALT"],
			"messages":[
				{"role":"user","content":[{"type":"text","text":"What is the weather in Paris?"}]},
				{"role":"assistant","content":[{"type":"text","text":"Let me check."}]}
			],
			"tools":[
				{"name":"get_weather","description":"d","input_schema":{"type":"object"}},
				{"name":"get_time","description":"d","input_schema":{"type":"object"}}
			]}`
	case protocol.ProtoGemini:
		return `{
			"systemInstruction":{"parts":[{"text":"You are helpful."}]},
			"generationConfig":{
				"maxOutputTokens":4096,"stopSequences":["END","HALT"],
				"thinkingConfig":{"thinkingBudget":1024,"includeThoughts":true}
			},
			"contents":[
				{"role":"user","parts":[{"text":"What is the weather in Paris?"}]},
				{"role":"model","parts":[{"text":"Let me check."}]}
			],
			"tools":[{"functionDeclarations":[
				{"name":"get_weather","description":"d","parameters":{"type":"object"}},
				{"name":"get_time","description":"d","parameters":{"type":"object"}}
			]}]}`
	case protocol.ProtoOpenAIResponses:
		return `{
			"model":"gpt-5-codex","max_output_tokens":4096,
			"instructions":"You are helpful.",
			"reasoning":{"effort":"low"},
			"input":[
				{"type":"message","role":"user","content":[{"type":"input_text","text":"What is the weather in Paris?"}]},
				{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Let me check."}]}
			],
			"tools":[
				{"type":"function","name":"get_weather","description":"d","parameters":{"type":"object"}},
				{"type":"function","name":"get_time","description":"d","parameters":{"type":"object"}}
			]}`
	default:
		return `{
			"model":"gpt-4.1","max_completion_tokens":4096,
			"reasoning_effort":"low",
			"stop":["END","HALT"],
			"messages":[
				{"role":"system","content":"You are helpful."},
				{"role":"user","content":"What is the weather in Paris?"},
				{"role":"assistant","content":"Let me check."}
			],
			"tools":[
				{"type":"function","function":{"name":"get_weather","description":"d","parameters":{"type":"object"}}},
				{"type":"function","function":{"name":"get_time","description":"d","parameters":{"type":"object"}}}
			]}`
	}
}

func extractTurns(p protocol.Proto, raw string) []turn {
	root := gjson.Parse(raw)
	var turns []turn
	switch p {
	case protocol.ProtoClaude:
		if system := root.Get("system"); system.Exists() && system.String() != "" {
			turns = append(turns, turn{Role: "system", Text: system.String()})
		}
		root.Get("messages").ForEach(func(_, message gjson.Result) bool {
			text := collectText(message.Get("content"))
			if text != "" {
				turns = append(turns, turn{Role: message.Get("role").String(), Text: text})
			}
			return true
		})
	case protocol.ProtoGemini:
		var system string
		root.Get("systemInstruction.parts").ForEach(func(_, part gjson.Result) bool {
			system += part.Get("text").String()
			return true
		})
		if system != "" {
			turns = append(turns, turn{Role: "system", Text: system})
		}
		root.Get("contents").ForEach(func(_, content gjson.Result) bool {
			role := "user"
			if content.Get("role").String() == "model" {
				role = "assistant"
			}
			var text string
			content.Get("parts").ForEach(func(_, part gjson.Result) bool {
				if part.Get("text").Exists() && !part.Get("thought").Bool() {
					text += part.Get("text").String()
				}
				return true
			})
			if text != "" {
				turns = append(turns, turn{Role: role, Text: text})
			}
			return true
		})
	case protocol.ProtoOpenAIResponses:
		if instructions := root.Get("instructions").String(); instructions != "" {
			turns = append(turns, turn{Role: "system", Text: instructions})
		}
		root.Get("input").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() != "message" && !item.Get("role").Exists() {
				return true
			}
			text := collectText(item.Get("content"))
			if text != "" {
				turns = append(turns, turn{Role: item.Get("role").String(), Text: text})
			}
			return true
		})
	default:
		root.Get("messages").ForEach(func(_, message gjson.Result) bool {
			role := message.Get("role").String()
			if role == "tool" {
				return true
			}
			if role == "developer" {
				role = "system"
			}
			text := collectText(message.Get("content"))
			if text != "" {
				turns = append(turns, turn{Role: role, Text: text})
			}
			return true
		})
	}
	return turns
}

func collectText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var b strings.Builder
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text", "input_text", "output_text":
			b.WriteString(part.Get("text").String())
		}
		return true
	})
	return b.String()
}

func extractToolNames(p protocol.Proto, raw string) []string {
	root := gjson.Parse(raw)
	var names []string
	switch p {
	case protocol.ProtoClaude:
		root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			names = append(names, tool.Get("name").String())
			return true
		})
	case protocol.ProtoGemini:
		root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			tool.Get("functionDeclarations").ForEach(func(_, declaration gjson.Result) bool {
				names = append(names, declaration.Get("name").String())
				return true
			})
			return true
		})
	case protocol.ProtoOpenAIResponses:
		root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			if tool.Get("type").String() == "function" {
				names = append(names, tool.Get("name").String())
			}
			return true
		})
	default:
		root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
			if tool.Get("type").String() == "function" {
				names = append(names, tool.Get("function.name").String())
			}
			return true
		})
	}
	return names
}

func extractStops(p protocol.Proto, raw string) []string {
	root := gjson.Parse(raw)
	var field gjson.Result
	switch p {
	case protocol.ProtoClaude:
		field = root.Get("stop_sequences")
	case protocol.ProtoGemini:
		field = root.Get("generationConfig.stopSequences")
	default:
		field = root.Get("stop")
	}
	var stops []string
	field.ForEach(func(_, v gjson.Result) bool {
		stops = append(stops, v.String())
		return true
	})
	return stops
}

func extractEffort(p protocol.Proto, raw string) string {
	root := gjson.Parse(raw)
	switch p {
	case protocol.ProtoClaude:
		thinking := root.Get("thinking")
		if thinking.Get("type").String() != "enabled" {
			return "none"
		}
		if thinking.Get("budget_tokens").Int() <= 1024 {
			return "low"
		}
		return "high"
	case protocol.ProtoGemini:
		config := root.Get("generationConfig.thinkingConfig")
		if level := config.Get("thinkingLevel").String(); level != "" {
			return level
		}
		budget := config.Get("thinkingBudget").Int()
		switch {
		case budget <= 0:
			return "none"
		case budget <= 1024:
			return "low"
		case budget <= 8192:
			return "medium"
		default:
			return "high"
		}
	case protocol.ProtoOpenAIResponses:
		return root.Get("reasoning.effort").String()
	default:
		return root.Get("reasoning_effort").String()
	}
}

func extractMaxTokens(p protocol.Proto, raw string) int64 {
	root := gjson.Parse(raw)
	switch p {
	case protocol.ProtoClaude:
		return root.Get("max_tokens").Int()
	case protocol.ProtoGemini:
		return root.Get("generationConfig.maxOutputTokens").Int()
	case protocol.ProtoOpenAIResponses:
		return root.Get("max_output_tokens").Int()
	default:
		if v := root.Get("max_completion_tokens"); v.Exists() {
			return v.Int()
		}
		return root.Get("max_tokens").Int()
	}
}

func protoSupportsStops(p protocol.Proto) bool {
	return p != protocol.ProtoOpenAIResponses
}

func TestRequestRoundTripAcrossAllPairs(t *testing.T) {
	protos := []protocol.Proto{
		protocol.ProtoClaude,
		protocol.ProtoGemini,
		protocol.ProtoOpenAIChat,
		protocol.ProtoOpenAIResponses,
	}
	for _, client := range protos {
		for _, upstream := range protos {
			if client == upstream {
				continue
			}
			name := fmt.Sprintf("%s_via_%s", client, upstream)
			t.Run(name, func(t *testing.T) {
				require.True(t, reg.NeedConvert(client, upstream))
				original := canonicalRequest(client)

				forward := reg.Request(client, upstream, upstreamModel(upstream), []byte(original), true)
				back := reg.Request(upstream, client, upstreamModel(client), forward, true)

				assert.Equal(t,
					extractTurns(client, original),
					extractTurns(client, string(back)),
					"role and text order")
				assert.ElementsMatch(t,
					extractToolNames(client, original),
					extractToolNames(client, string(back)),
					"tool names")
				if protoSupportsStops(client) && protoSupportsStops(upstream) {
					assert.ElementsMatch(t,
						extractStops(client, original),
						extractStops(client, string(back)),
						"stop sequences")
				}
				assert.Equal(t,
					extractEffort(client, original),
					extractEffort(client, string(back)),
					"reasoning effort")
				assert.Equal(t,
					extractMaxTokens(client, original),
					extractMaxTokens(client, string(back)),
					"max tokens")
			})
		}
	}
}

func TestClaudeEnvelopeSynthesisFromOpenAIChunks(t *testing.T) {
	chunks := []string{
		`{"id":"x","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`{"id":"x","choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
		`{"id":"x","choices":[{"index":0,"delta":{"content":" world"}}]}`,
		`{"id":"x","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":4}}`,
		`[DONE]`,
	}
	var param any
	var frames []string
	for _, chunk := range chunks {
		frames = append(frames, reg.Stream(protocol.ProtoClaude, protocol.ProtoOpenAIChat,
			context.Background(), "claude-sonnet-4-5", nil, []byte(chunk), &param)...)
	}
	joined := strings.Join(frames, "")
	for _, event := range []string{
		"event: message_start", "event: content_block_start",
		"event: content_block_delta", "event: content_block_stop",
		"event: message_delta", "event: message_stop",
	} {
		assert.Contains(t, joined, event)
	}
	assert.Contains(t, joined, `"text":"Hello"`)
	assert.Contains(t, joined, `"stop_reason":"end_turn"`)
	assert.Contains(t, joined, `"output_tokens":4`)

	startIndex := strings.Index(joined, "event: message_start")
	stopIndex := strings.Index(joined, "event: message_stop")
	assert.Less(t, startIndex, stopIndex)
}

func TestOpenAIChunksFromClaudeEvents(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
		`[DONE]`,
	}
	var param any
	var frames []string
	for _, event := range events {
		frames = append(frames, reg.Stream(protocol.ProtoOpenAIChat, protocol.ProtoClaude,
			context.Background(), "gpt-4.1", nil, []byte(event), &param)...)
	}
	joined := strings.Join(frames, "")
	assert.Contains(t, joined, `"content":"Hi"`)
	assert.Contains(t, joined, `"finish_reason":"stop"`)
	assert.Contains(t, joined, `"prompt_tokens":12`)
	assert.True(t, strings.HasSuffix(joined, "data: [DONE]\n\n"))
}

func TestStreamStateDoesNotLeakAcrossStreams(t *testing.T) {
	event := `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a"}}`

	var first any
	reg.Stream(protocol.ProtoOpenAIChat, protocol.ProtoClaude,
		context.Background(), "m", nil, []byte(`{"type":"message_start","message":{"id":"msg_1"}}`), &first)
	require.NotNil(t, first)

	var second any
	reg.Stream(protocol.ProtoOpenAIChat, protocol.ProtoClaude,
		context.Background(), "m", nil, []byte(event), &second)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
}

func TestNonStreamClaudeToOpenAI(t *testing.T) {
	claudeResponse := `{
		"id":"msg_9","type":"message","role":"assistant",
		"content":[
			{"type":"text","text":"It is sunny."},
			{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Paris"}}
		],
		"stop_reason":"tool_use",
		"usage":{"input_tokens":20,"output_tokens":8}}`
	out := reg.NonStream(protocol.ProtoOpenAIChat, protocol.ProtoClaude,
		context.Background(), "gpt-4.1", nil, []byte(claudeResponse))
	root := gjson.Parse(out)
	assert.Equal(t, "It is sunny.", root.Get("choices.0.message.content").String())
	assert.Equal(t, "get_weather", root.Get("choices.0.message.tool_calls.0.function.name").String())
	assert.Equal(t, "tool_calls", root.Get("choices.0.finish_reason").String())
	assert.EqualValues(t, 28, root.Get("usage.total_tokens").Int())
}

func TestToolCallRoundTripGeminiViaClaude(t *testing.T) {
	geminiRequest := `{
		"contents":[
			{"role":"user","parts":[{"text":"weather?"}]},
			{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]},
			{"role":"user","parts":[{"functionResponse":{"name":"get_weather","response":{"result":"sunny"}}}]}
		]}`
	forward := reg.Request(protocol.ProtoGemini, protocol.ProtoClaude, "claude-sonnet-4-5", []byte(geminiRequest), false)
	root := gjson.ParseBytes(forward)

	var toolUse, toolResult gjson.Result
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		message.Get("content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "tool_use":
				toolUse = block
			case "tool_result":
				toolResult = block
			}
			return true
		})
		return true
	})
	require.True(t, toolUse.Exists())
	require.True(t, toolResult.Exists())
	assert.Equal(t, "get_weather", toolUse.Get("name").String())
	assert.Equal(t, toolUse.Get("id").String(), toolResult.Get("tool_use_id").String(),
		"minted call id must link the response to its call")
}

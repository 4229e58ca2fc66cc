// Package protocol defines the wire protocols and operations the gateway
// routes, plus the per-provider dispatch tables that decide how each
// (protocol, operation) pair is served.
package protocol

import "strings"

// Proto identifies one of the client/upstream wire protocols.
type Proto string

const (
	ProtoClaude          Proto = "claude"
	ProtoGemini          Proto = "gemini"
	ProtoOpenAIChat      Proto = "openai"
	ProtoOpenAIResponses Proto = "openai-responses"
)

// FromString normalises a protocol name.
func FromString(name string) Proto {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "claude", "anthropic":
		return ProtoClaude
	case "gemini", "google":
		return ProtoGemini
	case "openai-responses", "responses", "codex":
		return ProtoOpenAIResponses
	default:
		return ProtoOpenAIChat
	}
}

// Operation is one routable gateway operation, used as a dispatch table index.
type Operation int

const (
	OpClaudeMessages Operation = iota
	OpClaudeMessagesStream
	OpClaudeCountTokens
	OpClaudeModelsList
	OpClaudeModelsGet
	OpGeminiGenerate
	OpGeminiGenerateStream
	OpGeminiCountTokens
	OpGeminiModelsList
	OpGeminiModelsGet
	OpOpenAIChat
	OpOpenAIChatStream
	OpOpenAIResponses
	OpOpenAIResponsesStream
	OpOpenAIInputTokens
	OpOpenAIModelsList
	OpOpenAIModelsGet
	OpOAuthStart
	OpOAuthCallback
	OpProviderUsage

	OperationCount
)

var opNames = [OperationCount]string{
	"claude.messages", "claude.messages_stream", "claude.count_tokens", "claude.models_list", "claude.models_get",
	"gemini.generate", "gemini.generate_stream", "gemini.count_tokens", "gemini.models_list", "gemini.models_get",
	"openai.chat", "openai.chat_stream", "openai.responses", "openai.responses_stream",
	"openai.input_tokens", "openai.models_list", "openai.models_get",
	"oauth.start", "oauth.callback", "provider.usage",
}

func (o Operation) String() string {
	if o < 0 || o >= OperationCount {
		return "unknown"
	}
	return opNames[o]
}

// Proto returns the client protocol the operation belongs to.
func (o Operation) Proto() Proto {
	switch {
	case o <= OpClaudeModelsGet:
		return ProtoClaude
	case o <= OpGeminiModelsGet:
		return ProtoGemini
	case o == OpOpenAIResponses || o == OpOpenAIResponsesStream:
		return ProtoOpenAIResponses
	default:
		return ProtoOpenAIChat
	}
}

// Streaming reports whether the operation streams its response.
func (o Operation) Streaming() bool {
	switch o {
	case OpClaudeMessagesStream, OpGeminiGenerateStream, OpOpenAIChatStream, OpOpenAIResponsesStream:
		return true
	}
	return false
}

// Generate reports whether the operation is a content-generation call.
func (o Operation) Generate() bool {
	switch o {
	case OpClaudeMessages, OpClaudeMessagesStream,
		OpGeminiGenerate, OpGeminiGenerateStream,
		OpOpenAIChat, OpOpenAIChatStream,
		OpOpenAIResponses, OpOpenAIResponsesStream:
		return true
	}
	return false
}

// Equivalent returns the operation expressing o in the target protocol.
// The translator uses it to pick the upstream call for a Transform entry.
func (o Operation) Equivalent(target Proto) Operation {
	stream := o.Streaming()
	switch {
	case o.Generate():
		switch target {
		case ProtoClaude:
			if stream {
				return OpClaudeMessagesStream
			}
			return OpClaudeMessages
		case ProtoGemini:
			if stream {
				return OpGeminiGenerateStream
			}
			return OpGeminiGenerate
		case ProtoOpenAIResponses:
			if stream {
				return OpOpenAIResponsesStream
			}
			return OpOpenAIResponses
		default:
			if stream {
				return OpOpenAIChatStream
			}
			return OpOpenAIChat
		}
	case o == OpClaudeCountTokens || o == OpGeminiCountTokens || o == OpOpenAIInputTokens:
		switch target {
		case ProtoClaude:
			return OpClaudeCountTokens
		case ProtoGemini:
			return OpGeminiCountTokens
		default:
			return OpOpenAIInputTokens
		}
	case o == OpClaudeModelsList || o == OpGeminiModelsList || o == OpOpenAIModelsList:
		switch target {
		case ProtoClaude:
			return OpClaudeModelsList
		case ProtoGemini:
			return OpGeminiModelsList
		default:
			return OpOpenAIModelsList
		}
	case o == OpClaudeModelsGet || o == OpGeminiModelsGet || o == OpOpenAIModelsGet:
		switch target {
		case ProtoClaude:
			return OpClaudeModelsGet
		case ProtoGemini:
			return OpGeminiModelsGet
		default:
			return OpOpenAIModelsGet
		}
	}
	return o
}

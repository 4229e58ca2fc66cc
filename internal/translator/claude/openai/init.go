package openai

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoOpenAIChat,
		protocol.ProtoClaude,
		ConvertOpenAIRequestToClaude,
		translator.Response{
			Stream:    ConvertClaudeResponseToOpenAI,
			NonStream: ConvertClaudeResponseToOpenAINonStream,
		},
	)
}

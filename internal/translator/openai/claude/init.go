package claude

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoClaude,
		protocol.ProtoOpenAIChat,
		ConvertClaudeRequestToOpenAI,
		translator.Response{
			Stream:    ConvertOpenAIResponseToClaude,
			NonStream: ConvertOpenAIResponseToClaudeNonStream,
		},
	)
}

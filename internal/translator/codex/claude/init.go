package claude

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoClaude,
		protocol.ProtoOpenAIResponses,
		ConvertClaudeRequestToOpenAIResponses,
		translator.Response{
			Stream:    ConvertOpenAIResponsesResponseToClaude,
			NonStream: ConvertOpenAIResponsesResponseToClaudeNonStream,
		},
	)
}

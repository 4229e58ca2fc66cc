package responses

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoOpenAIResponses,
		protocol.ProtoClaude,
		ConvertOpenAIResponsesRequestToClaude,
		translator.Response{
			Stream:    ConvertClaudeResponseToOpenAIResponses,
			NonStream: ConvertClaudeResponseToOpenAIResponsesNonStream,
		},
	)
}

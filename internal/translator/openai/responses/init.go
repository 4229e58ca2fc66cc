package responses

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoOpenAIResponses,
		protocol.ProtoOpenAIChat,
		ConvertOpenAIResponsesRequestToOpenAI,
		translator.Response{
			Stream:    ConvertOpenAIResponseToOpenAIResponses,
			NonStream: ConvertOpenAIResponseToOpenAIResponsesNonStream,
		},
	)
}

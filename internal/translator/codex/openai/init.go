package openai

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoOpenAIChat,
		protocol.ProtoOpenAIResponses,
		ConvertOpenAIRequestToOpenAIResponses,
		translator.Response{
			Stream:    ConvertOpenAIResponsesResponseToOpenAI,
			NonStream: ConvertOpenAIResponsesResponseToOpenAINonStream,
		},
	)
}

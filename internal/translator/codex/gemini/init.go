package gemini

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoGemini,
		protocol.ProtoOpenAIResponses,
		ConvertGeminiRequestToOpenAIResponses,
		translator.Response{
			Stream:    ConvertOpenAIResponsesResponseToGemini,
			NonStream: ConvertOpenAIResponsesResponseToGeminiNonStream,
		},
	)
}

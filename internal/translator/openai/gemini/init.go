package gemini

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoGemini,
		protocol.ProtoOpenAIChat,
		ConvertGeminiRequestToOpenAI,
		translator.Response{
			Stream:    ConvertOpenAIResponseToGemini,
			NonStream: ConvertOpenAIResponseToGeminiNonStream,
		},
	)
}

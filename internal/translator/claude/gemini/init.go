package gemini

import (
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/translator/translator"
)

func init() {
	translator.Register(
		protocol.ProtoGemini,
		protocol.ProtoClaude,
		ConvertGeminiRequestToClaude,
		translator.Response{
			Stream:    ConvertClaudeResponseToGemini,
			NonStream: ConvertClaudeResponseToGeminiNonStream,
		},
	)
}

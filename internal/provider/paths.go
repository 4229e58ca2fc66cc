package provider

import (
	"net/http"
	"strings"

	"github.com/yszxh/gproxy/internal/protocol"
)

// PathFor returns the HTTP method and vendor path for a native operation.
// The model is interpolated for the Gemini colon-method paths.
func PathFor(op protocol.Operation, model string) (method, path string) {
	model = strings.TrimPrefix(model, "models/")
	switch op {
	case protocol.OpClaudeMessages, protocol.OpClaudeMessagesStream:
		return http.MethodPost, "/v1/messages"
	case protocol.OpClaudeCountTokens:
		return http.MethodPost, "/v1/messages/count_tokens"
	case protocol.OpClaudeModelsList:
		return http.MethodGet, "/v1/models"
	case protocol.OpClaudeModelsGet:
		return http.MethodGet, "/v1/models/" + model

	case protocol.OpGeminiGenerate:
		return http.MethodPost, "/v1beta/models/" + model + ":generateContent"
	case protocol.OpGeminiGenerateStream:
		return http.MethodPost, "/v1beta/models/" + model + ":streamGenerateContent?alt=sse"
	case protocol.OpGeminiCountTokens:
		return http.MethodPost, "/v1beta/models/" + model + ":countTokens"
	case protocol.OpGeminiModelsList:
		return http.MethodGet, "/v1beta/models"
	case protocol.OpGeminiModelsGet:
		return http.MethodGet, "/v1beta/models/" + model

	case protocol.OpOpenAIChat, protocol.OpOpenAIChatStream:
		return http.MethodPost, "/v1/chat/completions"
	case protocol.OpOpenAIResponses, protocol.OpOpenAIResponsesStream:
		return http.MethodPost, "/v1/responses"
	case protocol.OpOpenAIInputTokens:
		return http.MethodPost, "/v1/responses/input_tokens"
	case protocol.OpOpenAIModelsList:
		return http.MethodGet, "/v1/models"
	case protocol.OpOpenAIModelsGet:
		return http.MethodGet, "/v1/models/" + model
	}
	return http.MethodPost, "/"
}

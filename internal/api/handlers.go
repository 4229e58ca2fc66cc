package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/yszxh/gproxy/internal/protocol"
)

// maxRequestBody bounds inbound request bodies.
const maxRequestBody = 32 << 20

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
		return nil, false
	}
	return body, true
}

func (s *Server) claudeMessages(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	op := protocol.OpClaudeMessages
	if gjson.GetBytes(body, "stream").Bool() {
		op = protocol.OpClaudeMessagesStream
	}
	s.gateway.Handle(c.Writer, c.Request, op, gjson.GetBytes(body, "model").String(), body)
}

func (s *Server) claudeCountTokens(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	s.gateway.Handle(c.Writer, c.Request, protocol.OpClaudeCountTokens, gjson.GetBytes(body, "model").String(), body)
}

func (s *Server) openaiChat(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	op := protocol.OpOpenAIChat
	if gjson.GetBytes(body, "stream").Bool() {
		op = protocol.OpOpenAIChatStream
	}
	s.gateway.Handle(c.Writer, c.Request, op, gjson.GetBytes(body, "model").String(), body)
}

func (s *Server) openaiResponses(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	op := protocol.OpOpenAIResponses
	if gjson.GetBytes(body, "stream").Bool() {
		op = protocol.OpOpenAIResponsesStream
	}
	s.gateway.Handle(c.Writer, c.Request, op, gjson.GetBytes(body, "model").String(), body)
}

func (s *Server) openaiInputTokens(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	s.gateway.Handle(c.Writer, c.Request, protocol.OpOpenAIInputTokens, gjson.GetBytes(body, "model").String(), body)
}

// modelsList serves GET /v1/models for both the OpenAI and Claude SDKs,
// telling them apart by user agent the way the vendor consoles do.
func (s *Server) modelsList(c *gin.Context) {
	op := protocol.OpOpenAIModelsList
	if isClaudeClient(c) {
		op = protocol.OpClaudeModelsList
	}
	s.gateway.Handle(c.Writer, c.Request, op, "", nil)
}

func (s *Server) modelsGet(c *gin.Context) {
	op := protocol.OpOpenAIModelsGet
	if isClaudeClient(c) {
		op = protocol.OpClaudeModelsGet
	}
	s.gateway.Handle(c.Writer, c.Request, op, c.Param("id"), nil)
}

func isClaudeClient(c *gin.Context) bool {
	ua := c.GetHeader("User-Agent")
	return strings.HasPrefix(ua, "claude-cli") || c.GetHeader("anthropic-version") != ""
}

func (s *Server) geminiModelsList(c *gin.Context) {
	s.gateway.Handle(c.Writer, c.Request, protocol.OpGeminiModelsList, "", nil)
}

func (s *Server) geminiModelsGet(c *gin.Context) {
	s.gateway.Handle(c.Writer, c.Request, protocol.OpGeminiModelsGet, c.Param("action"), nil)
}

// geminiAction serves POST /v1beta/models/{model}:{verb}. Gin cannot split on
// the colon, so the whole segment arrives as one parameter.
func (s *Server) geminiAction(c *gin.Context) {
	model, verb, found := splitGeminiAction(c.Param("action"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": 404, "message": "unknown method", "status": "NOT_FOUND"}})
		return
	}
	var op protocol.Operation
	switch verb {
	case "generateContent":
		op = protocol.OpGeminiGenerate
	case "streamGenerateContent":
		op = protocol.OpGeminiGenerateStream
	case "countTokens":
		op = protocol.OpGeminiCountTokens
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": 404, "message": "unknown method " + verb, "status": "NOT_FOUND"}})
		return
	}
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	s.gateway.Handle(c.Writer, c.Request, op, model, body)
}

// splitGeminiAction cuts "gemini-2.5-pro:streamGenerateContent" at the last
// colon.
func splitGeminiAction(segment string) (model, verb string, found bool) {
	index := strings.LastIndex(segment, ":")
	if index <= 0 || index == len(segment)-1 {
		return "", "", false
	}
	return segment[:index], segment[index+1:], true
}

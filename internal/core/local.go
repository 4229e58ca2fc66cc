package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/registry"
)

// serveModelsList answers a model listing from the aggregate catalog: the
// union of every enabled provider's static model table, first listing wins on
// duplicate ids.
func (g *Gateway) serveModelsList(w http.ResponseWriter, r *http.Request, op protocol.Operation, started time.Time) {
	seen := make(map[string]bool)
	var models []registry.ModelInfo
	for _, runtime := range g.Runtimes() {
		for _, m := range registry.ModelsFor(runtime.Provider.Kind) {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			models = append(models, m)
		}
	}

	var body []byte
	switch op.Proto() {
	case protocol.ProtoClaude:
		body = registry.RenderClaudeList(models)
	case protocol.ProtoGemini:
		body = registry.RenderGeminiList(models)
	default:
		body = registry.RenderOpenAIList(models)
	}
	g.writeJSON(w, r, op, "", started, http.StatusOK, body)
}

// serveModelsGet answers a single model lookup from the aggregate catalog.
func (g *Gateway) serveModelsGet(w http.ResponseWriter, r *http.Request, op protocol.Operation, model string, started time.Time) {
	for _, runtime := range g.Runtimes() {
		m, ok := registry.Find(runtime.Provider.Kind, model)
		if !ok {
			continue
		}
		var body []byte
		switch op.Proto() {
		case protocol.ProtoClaude:
			body = registry.RenderClaudeModel(m)
		case protocol.ProtoGemini:
			body = registry.RenderGeminiModel(m)
		default:
			body = registry.RenderOpenAIModel(m)
		}
		g.writeJSON(w, r, op, model, started, http.StatusOK, body)
		return
	}
	g.writeJSON(w, r, op, model, started, http.StatusNotFound, notFoundBody(op.Proto(), model))
}

// serveLocalCount estimates token counts for providers whose backend has no
// counting endpoint. The estimate is text length over four, which tracks
// real tokenizers closely enough for budget checks.
func (g *Gateway) serveLocalCount(w http.ResponseWriter, r *http.Request, op protocol.Operation, model string, payload []byte, started time.Time) {
	tokens := estimateTokens(payload)
	var body []byte
	switch op {
	case protocol.OpGeminiCountTokens:
		body = []byte(`{"totalTokens":` + strconv.FormatInt(tokens, 10) + `}`)
	default:
		body = []byte(`{"input_tokens":` + strconv.FormatInt(tokens, 10) + `}`)
	}
	g.writeJSON(w, r, op, model, started, http.StatusOK, body)
}

// estimateTokens sums the lengths of every string leaf in the request and
// divides by four.
func estimateTokens(payload []byte) int64 {
	var chars int64
	var walk func(v gjson.Result)
	walk = func(v gjson.Result) {
		switch v.Type {
		case gjson.String:
			chars += int64(len(v.Str))
		case gjson.JSON:
			v.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
		}
	}
	walk(gjson.ParseBytes(payload))
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func notFoundBody(proto protocol.Proto, model string) []byte {
	switch proto {
	case protocol.ProtoClaude:
		return []byte(`{"type":"error","error":{"type":"not_found_error","message":"model not found: ` + model + `"}}`)
	case protocol.ProtoGemini:
		return []byte(`{"error":{"code":404,"message":"model not found: ` + model + `","status":"NOT_FOUND"}}`)
	default:
		return []byte(`{"error":{"message":"model not found: ` + model + `","type":"invalid_request_error","code":"model_not_found"}}`)
	}
}

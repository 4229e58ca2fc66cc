package core

import (
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/pool"
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/provider"
	"github.com/yszxh/gproxy/internal/storage"
	"github.com/yszxh/gproxy/internal/stream"
	"github.com/yszxh/gproxy/internal/translator/translator"
	"github.com/yszxh/gproxy/internal/usage"
)

// maxResponseBody bounds buffered non-streaming upstream bodies.
const maxResponseBody = 64 << 20

// Handle serves one routed operation. Model listing is always answered from
// the aggregate catalog; everything else consults the selected provider's
// dispatch table.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request, op protocol.Operation, model string, payload []byte) {
	started := time.Now()

	switch op {
	case protocol.OpClaudeModelsList, protocol.OpGeminiModelsList, protocol.OpOpenAIModelsList:
		g.serveModelsList(w, r, op, started)
		return
	case protocol.OpClaudeModelsGet, protocol.OpGeminiModelsGet, protocol.OpOpenAIModelsGet:
		g.serveModelsGet(w, r, op, model, started)
		return
	}

	runtime, upstreamModel := g.SelectRuntime(model)
	if runtime == nil {
		g.writeError(w, r, op, model, started, http.StatusServiceUnavailable, "no provider configured")
		return
	}

	rule := runtime.Table.Rule(op)
	switch rule.Kind {
	case protocol.RuleUnsupported:
		g.writeJSON(w, r, op, model, started, http.StatusNotImplemented, []byte(`{"error":"non-native operation"}`))
	case protocol.RuleLocal:
		switch op {
		case protocol.OpClaudeCountTokens, protocol.OpGeminiCountTokens, protocol.OpOpenAIInputTokens:
			g.serveLocalCount(w, r, op, model, payload, started)
		default:
			// OAuth and usage operations belong to the management surface.
			g.writeJSON(w, r, op, model, started, http.StatusNotImplemented, []byte(`{"error":"non-native operation"}`))
		}
	default:
		g.serveUpstream(w, r, runtime, rule, op, model, upstreamModel, payload, started)
	}
}

func (g *Gateway) serveUpstream(w http.ResponseWriter, r *http.Request, runtime *Runtime, rule protocol.DispatchRule, op protocol.Operation, model, upstreamModel string, payload []byte, started time.Time) {
	clientProto := op.Proto()
	target := clientProto
	if rule.Kind == protocol.RuleTransform {
		target = rule.Target
	}
	upstreamOp := op.Equivalent(target)

	outPayload := payload
	if translator.NeedConvert(clientProto, target) {
		outPayload = translator.Request(clientProto, target, upstreamModel, payload, op.Streaming())
		if outPayload == nil {
			g.writeError(w, r, op, model, started, http.StatusInternalServerError, "request translation failed")
			return
		}
	} else if upstreamModel != model && len(outPayload) > 0 {
		outPayload, _ = sjson.SetBytes(outPayload, "model", upstreamModel)
	}

	delivered := false
	failure := runtime.Pool.Execute(pool.ForModel(upstreamModel), func(cred *credential.Credential) *pool.AttemptFailure {
		result, fail := runtime.Executor.Do(r.Context(), cred, provider.Request{
			Op:       upstreamOp,
			Model:    upstreamModel,
			Payload:  outPayload,
			ClientUA: r.UserAgent(),
		})
		if fail != nil {
			return fail
		}
		defer func() { _ = result.Body.Close() }()
		delivered = true
		if op.Streaming() {
			g.streamDown(w, r, runtime, cred, result, op, clientProto, target, payload, upstreamModel, rule.Usage, started)
		} else {
			g.bufferDown(w, r, runtime, cred, result, op, clientProto, target, payload, upstreamModel, rule.Usage, started)
		}
		return nil
	})
	if delivered {
		return
	}
	if failure == nil {
		failure = pool.Synthesize(http.StatusServiceUnavailable, "no credential available")
	}
	g.writePassthrough(w, r, op, model, started, failure)
}

// streamDown bridges the upstream SSE body to the client.
func (g *Gateway) streamDown(w http.ResponseWriter, r *http.Request, runtime *Runtime, cred *credential.Credential, result *provider.Result, op protocol.Operation, clientProto, target protocol.Proto, originalPayload []byte, upstreamModel string, usageKind usage.Kind, started time.Time) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var transform stream.TransformFunc
	if translator.NeedConvert(clientProto, target) {
		var state any
		transform = func(data []byte) []string {
			if result.Unwrap != nil && string(data) != "[DONE]" {
				data = result.Unwrap(data)
			}
			return translator.Stream(clientProto, target, r.Context(), upstreamModel, originalPayload, data, &state)
		}
	} else if result.Unwrap != nil {
		transform = func(data []byte) []string {
			if string(data) == "[DONE]" {
				return nil
			}
			return []string{"data: " + string(result.Unwrap(data)) + "\n\n"}
		}
	}

	write := func(chunk []byte) error {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	recorders := stream.Recorders{
		UpstreamDone: func(body []byte, finalUsage *usage.Summary) {
			g.recordUpstream(runtime, cred, result, upstreamModel, body, finalUsage)
		},
		DownstreamDone: func(body []byte) {
			g.recordDownstream(r, op, upstreamModel, http.StatusOK, body, started)
		},
	}
	if err := stream.Run(r.Context(), result.Body, transform, usageKind, write, recorders); err != nil {
		// Mid-stream failures become a truncated stream; the client sees EOF.
		log.Debugf("stream ended early: %v", err)
	}
}

// bufferDown reads the whole upstream body, translates when needed, and
// writes one JSON response.
func (g *Gateway) bufferDown(w http.ResponseWriter, r *http.Request, runtime *Runtime, cred *credential.Credential, result *provider.Result, op protocol.Operation, clientProto, target protocol.Proto, originalPayload []byte, upstreamModel string, usageKind usage.Kind, started time.Time) {
	body, err := io.ReadAll(io.LimitReader(result.Body, maxResponseBody))
	if err != nil {
		g.writeError(w, r, op, upstreamModel, started, http.StatusBadGateway, "upstream read failed")
		return
	}
	if result.Unwrap != nil {
		body = result.Unwrap(body)
	}

	finalUsage := usage.NewAccumulator(usageKind).Push(body)
	g.recordUpstream(runtime, cred, result, upstreamModel, body, finalUsage)

	out := body
	if translator.NeedConvert(clientProto, target) {
		converted := translator.NonStream(clientProto, target, r.Context(), upstreamModel, originalPayload, body)
		if converted == "" {
			g.writeError(w, r, op, upstreamModel, started, http.StatusInternalServerError, "response translation failed")
			return
		}
		out = []byte(converted)
	}
	g.writeJSON(w, r, op, upstreamModel, started, http.StatusOK, out)
}

func (g *Gateway) recordUpstream(runtime *Runtime, cred *credential.Credential, result *provider.Result, model string, body []byte, finalUsage *usage.Summary) {
	now := time.Now()
	g.bus.SubmitUpstream(storage.UpstreamTraffic{
		At:           result.Meta.Started,
		Provider:     runtime.Provider.Name,
		CredentialID: cred.ID,
		Model:        model,
		URL:          result.Meta.URL,
		Status:       result.StatusCode,
		ReqHeaders:   result.Meta.Headers,
		ReqBody:      result.Meta.ReqBody,
		RespBody:     body,
		DurationMs:   now.Sub(result.Meta.Started).Milliseconds(),
	})
	if finalUsage != nil {
		g.bus.SubmitUsage(storage.UpstreamUsage{
			At:           now,
			Provider:     runtime.Provider.Name,
			CredentialID: cred.ID,
			Model:        model,
			InputTokens:  finalUsage.Input(),
			OutputTokens: finalUsage.Output(),
			CachedTokens: cachedOf(finalUsage),
			TotalTokens:  finalUsage.Input() + finalUsage.Output(),
		})
	}
}

func (g *Gateway) recordDownstream(r *http.Request, op protocol.Operation, model string, status int, body []byte, started time.Time) {
	g.bus.SubmitDownstream(storage.DownstreamTraffic{
		At:         started,
		Method:     r.Method,
		Path:       r.URL.Path,
		Protocol:   string(op.Proto()),
		Model:      model,
		Status:     status,
		RespBody:   body,
		DurationMs: time.Since(started).Milliseconds(),
	})
}

func (g *Gateway) writePassthrough(w http.ResponseWriter, r *http.Request, op protocol.Operation, model string, started time.Time, failure *pool.Passthrough) {
	header := w.Header()
	for name, values := range failure.Header {
		if name == "Content-Length" || name == "Transfer-Encoding" {
			continue
		}
		header[name] = values
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}
	w.WriteHeader(failure.StatusCode)
	_, _ = w.Write(failure.Body)
	g.recordDownstream(r, op, model, failure.StatusCode, failure.Body, started)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, r *http.Request, op protocol.Operation, model string, started time.Time, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
	g.recordDownstream(r, op, model, status, body, started)
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, op protocol.Operation, model string, started time.Time, status int, message string) {
	g.writePassthrough(w, r, op, model, started, pool.Synthesize(status, message))
}

func cachedOf(s *usage.Summary) int64 {
	if s == nil || s.CacheReadTokens == nil {
		return 0
	}
	return *s.CacheReadTokens
}

package core

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/oauth"
	"github.com/yszxh/gproxy/internal/pool"
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/provider"
	"github.com/yszxh/gproxy/internal/storage"
)

func testGateway(t *testing.T, providers ...*storage.Provider) *Gateway {
	t.Helper()
	bus := storage.NewBus(nil)
	g := &Gateway{
		bus:      bus,
		cfg:      &config.Config{},
		runtimes: make(map[string]*Runtime),
	}
	refresher := oauth.NewRefresher(bus, "")
	for _, p := range providers {
		runtime := &Runtime{
			Provider: p,
			Pool: pool.New(p.Name, pool.NewSnapshot([]*credential.Credential{{
				ID:      1,
				Secret:  credential.Secret{Kind: credential.SecretAPIKey, APIKey: "test-key"},
				Weight:  1,
				Enabled: true,
			}}, nil), nil),
			Executor: provider.NewExecutor(p, refresher, bus, "", true),
			Table:    tableFor(p),
		}
		g.runtimes[p.Name] = runtime
		g.ordered = append(g.ordered, runtime)
	}
	return g
}

func TestSelectRuntime(t *testing.T) {
	g := testGateway(t,
		&storage.Provider{Name: "anthropic-pool", Kind: "claude", Enabled: true},
		&storage.Provider{Name: "gemini-pool", Kind: "geminicli", Enabled: true},
		&storage.Provider{Name: "corp", Kind: "custom", Protocol: "openai", Prefix: "corp-", Enabled: true},
	)

	runtime, model := g.SelectRuntime("gemini-pool/gemini-2.5-pro")
	require.NotNil(t, runtime)
	assert.Equal(t, "gemini-pool", runtime.Provider.Name)
	assert.Equal(t, "gemini-2.5-pro", model)

	runtime, model = g.SelectRuntime("corp-llama-70b")
	require.NotNil(t, runtime)
	assert.Equal(t, "corp", runtime.Provider.Name)
	assert.Equal(t, "corp-llama-70b", model)

	runtime, _ = g.SelectRuntime("gemini-2.5-flash")
	require.NotNil(t, runtime)
	assert.Equal(t, "gemini-pool", runtime.Provider.Name)

	// Unknown models land on the first enabled provider.
	runtime, _ = g.SelectRuntime("mystery-model")
	require.NotNil(t, runtime)
	assert.Equal(t, "anthropic-pool", runtime.Provider.Name)
}

func TestSelectRuntimeEmpty(t *testing.T) {
	g := testGateway(t)
	runtime, _ := g.SelectRuntime("claude-sonnet-4-5")
	assert.Nil(t, runtime)
}

func TestTableShapes(t *testing.T) {
	codex := tableFor(&storage.Provider{Kind: "codex"})
	assert.Equal(t, protocol.RuleNative, codex.Rule(protocol.OpOpenAIResponses).Kind)
	assert.Equal(t, protocol.RuleTransform, codex.Rule(protocol.OpClaudeMessages).Kind)
	assert.Equal(t, protocol.ProtoOpenAIResponses, codex.Rule(protocol.OpClaudeMessages).Target)
	// No counting endpoint upstream, so every count operation is local.
	assert.Equal(t, protocol.RuleLocal, codex.Rule(protocol.OpOpenAIInputTokens).Kind)
	assert.Equal(t, protocol.RuleLocal, codex.Rule(protocol.OpClaudeCountTokens).Kind)
	assert.Equal(t, protocol.RuleLocal, codex.Rule(protocol.OpGeminiCountTokens).Kind)
	assert.Equal(t, protocol.RuleLocal, codex.Rule(protocol.OpOpenAIModelsList).Kind)

	claude := tableFor(&storage.Provider{Kind: "claude"})
	assert.Equal(t, protocol.RuleNative, claude.Rule(protocol.OpClaudeMessages).Kind)
	assert.Equal(t, protocol.RuleNative, claude.Rule(protocol.OpClaudeCountTokens).Kind)
	assert.Equal(t, protocol.RuleNative, claude.Rule(protocol.OpClaudeModelsList).Kind)
	assert.Equal(t, protocol.RuleLocal, claude.Rule(protocol.OpOpenAIModelsList).Kind)
	assert.Equal(t, protocol.RuleTransform, claude.Rule(protocol.OpGeminiGenerate).Kind)

	claudeCode := tableFor(&storage.Provider{Kind: "claudecode"})
	assert.Equal(t, protocol.RuleLocal, claudeCode.Rule(protocol.OpClaudeModelsList).Kind)
	assert.Equal(t, protocol.RuleNative, claudeCode.Rule(protocol.OpClaudeCountTokens).Kind)

	antigravity := tableFor(&storage.Provider{Kind: "antigravity"})
	assert.Equal(t, protocol.RuleNative, antigravity.Rule(protocol.OpGeminiGenerateStream).Kind)
	assert.Equal(t, protocol.RuleLocal, antigravity.Rule(protocol.OpGeminiCountTokens).Kind)
	assert.Equal(t, protocol.RuleLocal, antigravity.Rule(protocol.OpClaudeCountTokens).Kind)

	custom := tableFor(&storage.Provider{Kind: "custom", Protocol: "openai"})
	assert.Equal(t, protocol.RuleNative, custom.Rule(protocol.OpOpenAIChat).Kind)
	assert.Equal(t, protocol.RuleTransform, custom.Rule(protocol.OpClaudeMessages).Kind)
}

func TestHandleModelsList(t *testing.T) {
	g := testGateway(t,
		&storage.Provider{Name: "a", Kind: "claude", Enabled: true},
		&storage.Provider{Name: "b", Kind: "geminicli", Enabled: true},
	)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	g.Handle(recorder, request, protocol.OpOpenAIModelsList, "", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Equal(t, "list", gjson.Get(body, "object").String())
	ids := gjson.Get(body, "data.#.id").Array()
	var found []string
	for _, id := range ids {
		found = append(found, id.String())
	}
	assert.Contains(t, found, "claude-sonnet-4-5-20250929")
	assert.Contains(t, found, "gemini-2.5-pro")
}

func TestHandleModelsGet(t *testing.T) {
	g := testGateway(t, &storage.Provider{Name: "a", Kind: "claude", Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/models/claude-3-5-haiku-20241022", nil)
	g.Handle(recorder, request, protocol.OpClaudeModelsGet, "claude-3-5-haiku-20241022", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "model", gjson.Get(recorder.Body.String(), "type").String())

	recorder = httptest.NewRecorder()
	g.Handle(recorder, request, protocol.OpClaudeModelsGet, "no-such-model", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "not_found_error", gjson.Get(recorder.Body.String(), "error.type").String())
}

func TestHandleLocalCount(t *testing.T) {
	g := testGateway(t, &storage.Provider{Name: "codex-pool", Kind: "codex", Enabled: true})

	payload := []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"` + strings.Repeat("word ", 20) + `"}]}`)
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", nil)
	g.Handle(recorder, request, protocol.OpClaudeCountTokens, "gpt-5", payload)

	require.Equal(t, http.StatusOK, recorder.Code)
	tokens := gjson.Get(recorder.Body.String(), "input_tokens").Int()
	assert.Greater(t, tokens, int64(10))
}

func TestHandleLocalCountGeminiShape(t *testing.T) {
	g := testGateway(t, &storage.Provider{Name: "ag", Kind: "antigravity", Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-pro-preview:countTokens", nil)
	g.Handle(recorder, request, protocol.OpGeminiCountTokens, "gemini-3-pro-preview", []byte(`{"contents":[{"parts":[{"text":"hello there"}]}]}`))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, gjson.Get(recorder.Body.String(), "totalTokens").Exists())
}

func TestHandleNativePassthrough(t *testing.T) {
	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","usage":{"input_tokens":3,"output_tokens":5}}`))
	}))
	defer server.Close()

	g := testGateway(t, &storage.Provider{Name: "anthropic-pool", Kind: "claude", BaseURL: server.URL, Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	g.Handle(recorder, request, protocol.OpClaudeMessages, "claude-sonnet-4-5-20250929", []byte(`{"model":"claude-sonnet-4-5-20250929","max_tokens":16}`))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "claude-sonnet-4-5-20250929", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, "msg_1", gjson.Get(recorder.Body.String(), "id").String())
}

func TestHandleProviderPinStripsPrefix(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"type":"message"}`))
	}))
	defer server.Close()

	g := testGateway(t, &storage.Provider{Name: "anthropic-pool", Kind: "claude", BaseURL: server.URL, Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	g.Handle(recorder, request, protocol.OpClaudeMessages, "anthropic-pool/claude-sonnet-4-5-20250929", []byte(`{"model":"anthropic-pool/claude-sonnet-4-5-20250929"}`))

	require.Equal(t, http.StatusOK, recorder.Code)
	// The pin is a routing artifact; the upstream sees the bare model id.
	assert.Equal(t, "claude-sonnet-4-5-20250929", gjson.GetBytes(gotBody, "model").String())
}

func TestHandleUpstreamErrorPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`))
	}))
	defer server.Close()

	g := testGateway(t, &storage.Provider{Name: "anthropic-pool", Kind: "claude", BaseURL: server.URL, Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	g.Handle(recorder, request, protocol.OpClaudeMessages, "claude-sonnet-4-5-20250929", []byte(`{"model":"claude-sonnet-4-5-20250929"}`))

	require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "max_tokens required")
}

func TestHandleUnsupportedOperation(t *testing.T) {
	g := testGateway(t, &storage.Provider{Name: "a", Kind: "claude", Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	g.Handle(recorder, request, protocol.OpProviderUsage, "claude-sonnet-4-5-20250929", nil)
	// Usage is answered by the management surface, not the dispatch tables.
	assert.Equal(t, http.StatusNotImplemented, recorder.Code)
}

func TestHandleStreamingPassthrough(t *testing.T) {
	upstream := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(upstream))
	}))
	defer server.Close()

	g := testGateway(t, &storage.Provider{Name: "anthropic-pool", Kind: "claude", BaseURL: server.URL, Enabled: true})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	g.Handle(recorder, request, protocol.OpClaudeMessagesStream, "claude-sonnet-4-5-20250929", []byte(`{"model":"claude-sonnet-4-5-20250929"}`))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	// Same-protocol streams pass through byte for byte.
	assert.Equal(t, upstream, recorder.Body.String())
}

func TestEstimateTokens(t *testing.T) {
	tokens := estimateTokens([]byte(`{"messages":[{"role":"user","content":"` + strings.Repeat("abcd", 25) + `"}]}`))
	// 100 content chars plus the role string, divided by four.
	assert.GreaterOrEqual(t, tokens, int64(25))
	assert.Equal(t, int64(1), estimateTokens([]byte(`{}`)))
	assert.Equal(t, int64(1), estimateTokens(nil))
}

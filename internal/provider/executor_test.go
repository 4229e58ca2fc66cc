package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/oauth"
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/storage"
)

type fakeSink struct {
	mu      sync.Mutex
	secrets map[int64]credential.Secret
	metas   map[int64]credential.Meta
}

func (f *fakeSink) SubmitSecret(id int64, secret credential.Secret) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secrets == nil {
		f.secrets = make(map[int64]credential.Secret)
	}
	f.secrets[id] = secret
}

func (f *fakeSink) SubmitMeta(id int64, meta credential.Meta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metas == nil {
		f.metas = make(map[int64]credential.Meta)
	}
	f.metas[id] = meta.Clone()
}

func apiKeyCredential(key string) *credential.Credential {
	return &credential.Credential{
		ID:      1,
		Secret:  credential.Secret{Kind: credential.SecretAPIKey, APIKey: key},
		Weight:  1,
		Enabled: true,
	}
}

func newExecutor(t *testing.T, kind, baseURL string, sink MetaSink) *Executor {
	t.Helper()
	p := &storage.Provider{Name: "test-" + kind, Kind: kind, BaseURL: baseURL, Enabled: true}
	return NewExecutor(p, oauth.NewRefresher(&fakeSink{}, ""), sink, "", true)
}

func TestDoSignsClaudeRequest(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"message"}`))
	}))
	defer server.Close()

	executor := newExecutor(t, "claude", server.URL, &fakeSink{})
	result, failure := executor.Do(context.Background(), apiKeyCredential("sk-key"), Request{
		Op: protocol.OpClaudeMessages, Model: "claude-sonnet-4-5",
		Payload: []byte(`{"model":"claude-sonnet-4-5","max_tokens":100}`),
	})
	require.Nil(t, failure)
	defer func() { _ = result.Body.Close() }()

	assert.Equal(t, "sk-key", gotHeader.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, gotHeader.Get("anthropic-version"))
	assert.Equal(t, "claude-sonnet-4-5", gjson.GetBytes(gotBody, "model").String())
	assert.Contains(t, result.Meta.Headers, "<redacted>")
	assert.NotContains(t, result.Meta.Headers, "sk-key")
}

func TestDoSetsStreamOptionsForChatStream(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	executor := newExecutor(t, "custom", server.URL, &fakeSink{})
	result, failure := executor.Do(context.Background(), apiKeyCredential("k"), Request{
		Op: protocol.OpOpenAIChatStream, Model: "gpt-5",
		Payload: []byte(`{"model":"gpt-5"}`),
	})
	require.Nil(t, failure)
	_ = result.Body.Close()

	assert.True(t, gjson.GetBytes(gotBody, "stream").Bool())
	assert.True(t, gjson.GetBytes(gotBody, "stream_options.include_usage").Bool())
}

func TestDoClassifiesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	executor := newExecutor(t, "claude", server.URL, &fakeSink{})
	result, failure := executor.Do(context.Background(), apiKeyCredential("k"), Request{
		Op: protocol.OpClaudeMessages, Model: "m", Payload: []byte(`{}`),
	})
	require.Nil(t, result)
	require.NotNil(t, failure)
	assert.Equal(t, http.StatusTooManyRequests, failure.Passthrough.StatusCode)
	require.NotNil(t, failure.Mark)
	assert.Equal(t, 7*time.Second, failure.Mark.Duration)
	assert.Contains(t, string(failure.Passthrough.Body), "slow down")
}

func TestDoClientErrorInstallsNoMark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	executor := newExecutor(t, "claude", server.URL, &fakeSink{})
	_, failure := executor.Do(context.Background(), apiKeyCredential("k"), Request{
		Op: protocol.OpClaudeMessages, Model: "m", Payload: []byte(`{}`),
	})
	require.NotNil(t, failure)
	assert.Nil(t, failure.Mark)
}

func TestDoNetworkErrorInstallsTransientMark(t *testing.T) {
	executor := newExecutor(t, "claude", "http://127.0.0.1:1", &fakeSink{})
	_, failure := executor.Do(context.Background(), apiKeyCredential("k"), Request{
		Op: protocol.OpClaudeMessages, Model: "m", Payload: []byte(`{}`),
	})
	require.NotNil(t, failure)
	require.NotNil(t, failure.Mark)
	assert.Equal(t, 10*time.Second, failure.Mark.Duration)
	assert.Equal(t, http.StatusBadGateway, failure.Passthrough.StatusCode)
}

func TestDoLongContextProbe(t *testing.T) {
	var betas []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beta := r.Header.Get("anthropic-beta")
		betas = append(betas, beta)
		if len(betas) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"The long context beta is not yet available for this subscription."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"type":"message"}`))
	}))
	defer server.Close()

	sink := &fakeSink{}
	executor := newExecutor(t, "claudecode", server.URL, sink)
	cred := &credential.Credential{
		ID:      9,
		Secret:  credential.Secret{Kind: credential.SecretAPIKey, APIKey: "tok"},
		Enabled: true,
	}
	result, failure := executor.Do(context.Background(), cred, Request{
		Op: protocol.OpClaudeMessages, Model: "claude-sonnet-4-5",
		Payload: []byte(`{"model":"claude-sonnet-4-5"}`),
	})
	require.Nil(t, failure)
	_ = result.Body.Close()

	// First attempt probes the beta, second drops it, and the refusal is
	// remembered on the credential.
	require.Len(t, betas, 2)
	assert.Contains(t, betas[0], longContextBeta)
	assert.NotContains(t, betas[1], longContextBeta)
	allowed, known := cred.MetaBool("claude_1m")
	assert.True(t, known)
	assert.False(t, allowed)
	sink.mu.Lock()
	assert.NotNil(t, sink.metas[9])
	sink.mu.Unlock()
}

func TestLongContextVerdictConcurrentWithSelection(t *testing.T) {
	executor := newExecutor(t, "claudecode", "http://127.0.0.1:1", &fakeSink{})
	cred := apiKeyCredential("tok")
	req := Request{Op: protocol.OpClaudeMessages, Model: "claude-sonnet-4-5"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			executor.remember1M(cred, i%2 == 0)
		}
	}()
	for i := 0; i < 1000; i++ {
		executor.wants1MBeta(cred, req)
	}
	<-done

	_, known := cred.MetaBool("claude_1m")
	assert.True(t, known)
}

func TestClaudeCodePrelude(t *testing.T) {
	out := ensureClaudePrelude([]byte(`{"model":"m","system":"be terse"}`))
	system := gjson.GetBytes(out, "system")
	require.True(t, system.IsArray())
	assert.Equal(t, claudeCodePrelude, system.Get("0.text").String())
	assert.Equal(t, "be terse", system.Get("1.text").String())

	// Idempotent when the prelude is already present.
	again := ensureClaudePrelude(out)
	assert.Equal(t, string(out), string(again))
}

func TestCloudCodeWrapAndUnwrap(t *testing.T) {
	cred := &credential.Credential{
		Secret: credential.Secret{
			Kind:  credential.SecretOAuth,
			OAuth: &credential.OAuthSecret{AccessToken: "t", ProjectID: "proj-1"},
		},
	}
	wrapped := wrapCloudCode([]byte(`{"contents":[]}`), "models/gemini-2.5-pro", cred)
	assert.Equal(t, "gemini-2.5-pro", gjson.GetBytes(wrapped, "model").String())
	assert.Equal(t, "proj-1", gjson.GetBytes(wrapped, "project").String())
	assert.True(t, gjson.GetBytes(wrapped, "request.contents").Exists())

	unwrapped := unwrapCloudCode([]byte(`{"response":{"candidates":[]}}`))
	assert.True(t, gjson.GetBytes(unwrapped, "candidates").Exists())
	passthrough := unwrapCloudCode([]byte(`{"candidates":[]}`))
	assert.True(t, gjson.GetBytes(passthrough, "candidates").Exists())
}

func TestAntigravityRequestType(t *testing.T) {
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		_, _ = w.Write([]byte(`{"response":{}}`))
	}))
	defer server.Close()

	executor := newExecutor(t, "antigravity", server.URL, &fakeSink{})
	cred := &credential.Credential{
		ID: 2, Enabled: true,
		Secret: credential.Secret{
			Kind:  credential.SecretOAuth,
			OAuth: &credential.OAuthSecret{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour), ProjectID: "p"},
		},
	}
	result, failure := executor.Do(context.Background(), cred, Request{
		Op: protocol.OpGeminiGenerate, Model: "gemini-3-pro-image-preview", Payload: []byte(`{}`),
	})
	require.Nil(t, failure)
	_ = result.Body.Close()
	assert.Equal(t, "image_gen", gotHeader.Get("requesttype"))
	assert.Equal(t, "Bearer tok", gotHeader.Get("Authorization"))
	assert.NotEmpty(t, gotHeader.Get("requestid"))
}

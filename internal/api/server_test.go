package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/core"
	"github.com/yszxh/gproxy/internal/storage"
	"github.com/yszxh/gproxy/internal/storage/sqlite"
)

func testServer(t *testing.T, cfg *config.Config, providers ...*storage.Provider) *Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, p := range providers {
		require.NoError(t, store.CreateProvider(ctx, p))
	}

	gateway := core.New(store, storage.NewBus(store), cfg)
	require.NoError(t, gateway.Reload(ctx))
	return NewServer(cfg, gateway, nil)
}

func doJSON(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	request.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		request.Header.Set(k, v)
	}
	s.engine.ServeHTTP(recorder, request)
	return recorder
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{APIKeys: []string{"sk-test"}}
	s := testServer(t, cfg, &storage.Provider{Name: "a", Kind: "claude", Enabled: true})

	resp := doJSON(s, http.MethodGet, "/v1/models", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer sk-test"})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v1/models", "", map[string]string{"x-api-key": "sk-test"})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v1beta/models", "", map[string]string{"x-goog-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthOpenWithoutKeys(t *testing.T) {
	s := testServer(t, &config.Config{}, &storage.Provider{Name: "a", Kind: "claude", Enabled: true})
	resp := doJSON(s, http.MethodGet, "/v1/models", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSplitGeminiAction(t *testing.T) {
	model, verb, found := splitGeminiAction("gemini-2.5-pro:streamGenerateContent")
	require.True(t, found)
	assert.Equal(t, "gemini-2.5-pro", model)
	assert.Equal(t, "streamGenerateContent", verb)

	_, _, found = splitGeminiAction("gemini-2.5-pro")
	assert.False(t, found)
	_, _, found = splitGeminiAction(":generateContent")
	assert.False(t, found)
}

func TestGeminiLocalCountTokens(t *testing.T) {
	s := testServer(t, &config.Config{}, &storage.Provider{Name: "ag", Kind: "antigravity", Enabled: true})

	resp := doJSON(s, http.MethodPost, "/v1beta/models/gemini-2.5-pro:countTokens",
		`{"contents":[{"parts":[{"text":"count these tokens please"}]}]}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, gjson.Get(resp.Body.String(), "totalTokens").Exists())
}

func TestGeminiUnknownVerb(t *testing.T) {
	s := testServer(t, &config.Config{}, &storage.Provider{Name: "ag", Kind: "antigravity", Enabled: true})
	resp := doJSON(s, http.MethodPost, "/v1beta/models/gemini-2.5-pro:embedContent", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestModelsRoutingByUserAgent(t *testing.T) {
	s := testServer(t, &config.Config{}, &storage.Provider{Name: "a", Kind: "claude", Enabled: true})

	resp := doJSON(s, http.MethodGet, "/v1/models", "", map[string]string{"User-Agent": "claude-cli/1.0"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, gjson.Get(resp.Body.String(), "has_more").Exists())

	resp = doJSON(s, http.MethodGet, "/v1/models", "", map[string]string{"User-Agent": "openai-python/1.0"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "list", gjson.Get(resp.Body.String(), "object").String())
}

func TestManagementRequiresAdminKey(t *testing.T) {
	cfg := &config.Config{AdminKey: "top-secret"}
	s := testServer(t, cfg)

	resp := doJSON(s, http.MethodGet, "/v0/management/providers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v0/management/providers", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v0/management/providers", "", map[string]string{"Authorization": "Bearer top-secret"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestManagementBcryptAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	s := testServer(t, &config.Config{AdminKey: string(hash)})

	resp := doJSON(s, http.MethodGet, "/v0/management/providers", "", map[string]string{"Authorization": "Bearer hunter2"})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v0/management/providers", "", map[string]string{"Authorization": "Bearer hunter3"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestManagementHiddenWithoutAdminKey(t *testing.T) {
	s := testServer(t, &config.Config{})
	resp := doJSON(s, http.MethodGet, "/v0/management/providers", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestManagementProviderAndCredentialLifecycle(t *testing.T) {
	cfg := &config.Config{AdminKey: "k"}
	s := testServer(t, cfg)
	admin := map[string]string{"Authorization": "Bearer k"}

	resp := doJSON(s, http.MethodPost, "/v0/management/providers",
		`{"name":"anthropic-pool","kind":"claude","base_url":"https://api.anthropic.com"}`, admin)
	require.Equal(t, http.StatusCreated, resp.Code)
	providerID := gjson.Get(resp.Body.String(), "id").Int()
	require.NotZero(t, providerID)

	resp = doJSON(s, http.MethodPost, "/v0/management/providers/"+strconv.FormatInt(providerID, 10)+"/credentials",
		`{"name":"primary","secret":{"kind":"api_key","api_key":"sk-live"},"weight":3}`, admin)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "api_key", gjson.Get(resp.Body.String(), "secret_kind").String())
	// Secret material never appears in management responses.
	assert.NotContains(t, resp.Body.String(), "sk-live")

	resp = doJSON(s, http.MethodGet, "/v0/management/providers", "", admin)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "anthropic-pool", gjson.Get(resp.Body.String(), "providers.0.name").String())

	resp = doJSON(s, http.MethodGet, "/v0/management/providers/1/disallow", "", admin)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestManagementGlobalConfig(t *testing.T) {
	s := testServer(t, &config.Config{AdminKey: "k"})
	admin := map[string]string{"Authorization": "Bearer k"}

	resp := doJSON(s, http.MethodPut, "/v0/management/config/proxy_url", `{"value":"socks5://127.0.0.1:1080"}`, admin)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v0/management/config/proxy_url", "", admin)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "socks5://127.0.0.1:1080", gjson.Get(resp.Body.String(), "value").String())
}

func TestAPIKeyLifecycle(t *testing.T) {
	cfg := &config.Config{AdminKey: "k"}
	s := testServer(t, cfg, &storage.Provider{Name: "a", Kind: "claude", Enabled: true})
	admin := map[string]string{"Authorization": "Bearer k"}

	resp := doJSON(s, http.MethodPost, "/v0/management/api-keys", `{"name":"ci","key":"sk-from-db"}`, admin)
	require.Equal(t, http.StatusCreated, resp.Code)

	// A stored key now authenticates the data plane.
	resp = doJSON(s, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer sk-from-db"})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(s, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer sk-unknown"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHealth(t *testing.T) {
	s := testServer(t, &config.Config{})
	resp := doJSON(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", gjson.Get(resp.Body.String(), "status").String())
}

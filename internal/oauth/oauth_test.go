package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yszxh/gproxy/internal/credential"
)

func TestGeneratePKCECodes(t *testing.T) {
	codes, err := GeneratePKCECodes()
	require.NoError(t, err)
	assert.Len(t, codes.CodeVerifier, 128)
	assert.NotEmpty(t, codes.CodeChallenge)
	assert.NotEqual(t, codes.CodeVerifier, codes.CodeChallenge)

	again, err := GeneratePKCECodes()
	require.NoError(t, err)
	assert.NotEqual(t, codes.CodeVerifier, again.CodeVerifier)
}

func TestFlowFor(t *testing.T) {
	for _, kind := range []string{"claudecode", "codex", "geminicli", "antigravity"} {
		flow, ok := FlowFor(kind, "http://localhost:8317/oauth/callback")
		require.True(t, ok, kind)
		assert.Equal(t, kind, flow.Kind)
	}
	for _, kind := range []string{"claude", "aistudio", "custom", ""} {
		_, ok := FlowFor(kind, "")
		assert.False(t, ok, kind)
	}
}

func TestAuthCodeURLContainsPKCE(t *testing.T) {
	codes, err := GeneratePKCECodes()
	require.NoError(t, err)

	flow, ok := FlowFor("claudecode", "http://localhost:8317/oauth/claudecode/callback")
	require.True(t, ok)
	authURL := flow.AuthCodeURL("state123", codes)
	assert.Contains(t, authURL, "code_challenge=")
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "state=state123")

	flow, ok = FlowFor("geminicli", "http://localhost:8317/oauth/geminicli/callback")
	require.True(t, ok)
	authURL = flow.AuthCodeURL("state456", codes)
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "code_challenge=")
}

func TestStateStoreConsumeOnce(t *testing.T) {
	store, err := OpenStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	state, err := store.NewState([]byte(`{"provider":"codex"}`))
	require.NoError(t, err)
	require.NotEmpty(t, state)

	payload, ok, err := store.Consume(state)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"provider":"codex"}`, string(payload))

	_, ok, err = store.Consume(state)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Consume("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

type recordingSink struct {
	mu      sync.Mutex
	ids     []int64
	secrets []credential.Secret
}

func (s *recordingSink) SubmitSecret(id int64, secret credential.Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	s.secrets = append(s.secrets, secret)
}

func TestRefreshSingleFlight(t *testing.T) {
	var posts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		// Hold the exchange open so concurrent callers pile onto one flight.
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"rt2","expires_in":3600}`))
	}))
	defer server.Close()

	sink := &recordingSink{}
	refresher := NewRefresher(sink, "")
	refresher.flowFor = func(kind string) (*Flow, bool) {
		return &Flow{Kind: kind, tokenURL: server.URL, clientID: "client", jsonBody: true}, true
	}

	cred := &credential.Credential{
		ID: 7,
		Secret: credential.Secret{Kind: credential.SecretOAuth, OAuth: &credential.OAuthSecret{
			AccessToken:  "stale",
			RefreshToken: "rt",
			ExpiresAt:    time.Now().Add(-time.Minute),
		}},
	}

	const workers = 8
	tokens := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = refresher.AccessToken(context.Background(), "claudecode", cred)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", tokens[i])
	}
	assert.EqualValues(t, 1, posts.Load())

	require.NotNil(t, cred.OAuth())
	assert.Equal(t, "fresh", cred.OAuth().AccessToken)
	assert.Equal(t, "rt2", cred.OAuth().RefreshToken)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.ids, 1)
	assert.Equal(t, int64(7), sink.ids[0])
	require.NotNil(t, sink.secrets[0].OAuth)
	assert.Equal(t, "fresh", sink.secrets[0].OAuth.AccessToken)
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(&RefreshError{StatusCode: 400}))
	assert.True(t, IsAuthFailure(&RefreshError{StatusCode: 403}))
	assert.False(t, IsAuthFailure(&RefreshError{StatusCode: 500}))
	assert.False(t, IsAuthFailure(assert.AnError))
}

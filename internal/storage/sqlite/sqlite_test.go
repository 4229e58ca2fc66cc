package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/pool"
	"github.com/yszxh/gproxy/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestProviderCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &storage.Provider{Name: "main-claude", Kind: "claude", BaseURL: "https://api.anthropic.com", Enabled: true}
	require.NoError(t, store.CreateProvider(ctx, p))
	require.NotZero(t, p.ID)

	got, err := store.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "main-claude", got.Name)
	assert.Equal(t, "claude", got.Kind)
	assert.True(t, got.Enabled)

	byName, err := store.GetProviderByName(ctx, "main-claude")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	got.Enabled = false
	require.NoError(t, store.UpdateProvider(ctx, got))
	got, err = store.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	list, err := store.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteProvider(ctx, p.ID))
	assert.Error(t, store.DeleteProvider(ctx, p.ID))
}

func TestCredentialCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &storage.Provider{Name: "pool", Kind: "aistudio", Enabled: true}
	require.NoError(t, store.CreateProvider(ctx, p))

	c := &credential.Credential{
		ProviderID: p.ID,
		Name:       "key-1",
		Secret:     credential.Secret{Kind: credential.SecretAPIKey, APIKey: "sk-test"},
		Weight:     3,
		Enabled:    true,
	}
	require.NoError(t, store.CreateCredential(ctx, c))
	require.NotZero(t, c.ID)

	got, err := store.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.SecretAPIKey, got.Secret.Kind)
	assert.Equal(t, "sk-test", got.Secret.APIKey)
	assert.Equal(t, uint32(3), got.Weight)

	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	secret := credential.Secret{
		Kind:  credential.SecretOAuth,
		OAuth: &credential.OAuthSecret{AccessToken: "at", RefreshToken: "rt", ExpiresAt: expiry},
	}
	require.NoError(t, store.UpdateCredentialSecret(ctx, c.ID, secret))
	got, err = store.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Secret.OAuth)
	assert.Equal(t, "at", got.Secret.OAuth.AccessToken)
	assert.True(t, expiry.Equal(got.Secret.OAuth.ExpiresAt))

	require.NoError(t, store.UpdateCredentialMeta(ctx, c.ID, credential.Meta{"claude_1m": true}))
	got, err = store.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	value, known := got.Meta.Bool("claude_1m")
	assert.True(t, known)
	assert.True(t, value)

	list, err := store.ListCredentials(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Deleting the provider cascades to its credentials.
	require.NoError(t, store.DeleteProvider(ctx, p.ID))
	list, err = store.ListCredentials(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDisallowUpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	record := pool.Record{
		Provider:     "main-claude",
		CredentialID: 7,
		Scope:        pool.ForModel("claude-sonnet-4-5"),
		Level:        pool.LevelTransient,
		Until:        now.Add(time.Minute),
		Reason:       "rate limited",
		UpdatedAt:    now,
	}
	require.NoError(t, store.UpsertDisallow(ctx, record))

	// Same credential and scope replaces the row.
	record.Level = pool.LevelDead
	record.Until = time.Time{}
	record.Reason = "revoked"
	require.NoError(t, store.UpsertDisallow(ctx, record))

	records, err := store.ListDisallow(ctx, "main-claude")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, pool.LevelDead, records[0].Level)
	assert.Equal(t, "revoked", records[0].Reason)
	assert.Equal(t, pool.ScopeModel, records[0].Scope.Kind)
	assert.Equal(t, "claude-sonnet-4-5", records[0].Scope.Model)

	// A different scope is a separate row.
	require.NoError(t, store.UpsertDisallow(ctx, pool.Record{
		Provider: "main-claude", CredentialID: 7, Scope: pool.AllModels(),
		Level: pool.LevelTransient, Until: now.Add(-time.Minute), UpdatedAt: now,
	}))
	records, err = store.ListDisallow(ctx, "main-claude")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, store.PruneDisallow(ctx, now))
	records, err = store.ListDisallow(ctx, "main-claude")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGlobalConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.GetGlobalConfig(ctx, "absent")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetGlobalConfig(ctx, "k", "v1"))
	require.NoError(t, store.SetGlobalConfig(ctx, "k", "v2"))
	value, err = store.GetGlobalConfig(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
}

func TestTrafficAndUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertDownstream(ctx, []storage.DownstreamTraffic{{
		At: now, Method: "POST", Path: "/v1/messages", Protocol: "claude",
		Model: "claude-sonnet-4-5", Status: 200, ReqBody: []byte("{}"), DurationMs: 12,
	}}))
	require.NoError(t, store.InsertUpstream(ctx, []storage.UpstreamTraffic{{
		At: now, Provider: "main-claude", CredentialID: 1, Model: "claude-sonnet-4-5",
		URL: "https://api.anthropic.com/v1/messages", Status: 200, DurationMs: 11,
	}}))
	require.NoError(t, store.InsertUsage(ctx, []storage.UpstreamUsage{
		{At: now, Provider: "main-claude", CredentialID: 1, Model: "claude-sonnet-4-5",
			InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		{At: now, Provider: "main-claude", CredentialID: 1, Model: "claude-sonnet-4-5",
			InputTokens: 50, OutputTokens: 10, TotalTokens: 60},
		{At: now, Provider: "other", CredentialID: 2, Model: "gemini-2.5-pro",
			InputTokens: 1, OutputTokens: 1, TotalTokens: 2},
	}))

	totals, err := store.UsageByProvider(ctx, "main-claude", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(2), totals[0].Requests)
	assert.Equal(t, int64(150), totals[0].InputTokens)
	assert.Equal(t, int64(30), totals[0].OutputTokens)
	assert.Equal(t, int64(180), totals[0].TotalTokens)
}

func TestAPIKeysAndUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.GetUserByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	u := &storage.User{Username: "admin", PasswordHash: "$2a$10$hash"}
	require.NoError(t, store.CreateUser(ctx, u))
	got, err := store.GetUserByName(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)

	k := &storage.APIKey{Key: "gp-123", Name: "ci"}
	require.NoError(t, store.CreateAPIKey(ctx, k))
	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "gp-123", keys[0].Key)

	require.NoError(t, store.DeleteAPIKey(ctx, k.ID))
	keys, err = store.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

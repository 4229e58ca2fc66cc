package credential

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSecretVariants(t *testing.T) {
	secret, err := ParseSecret([]byte(`"sk-live"`))
	require.NoError(t, err)
	assert.Equal(t, SecretAPIKey, secret.Kind)
	assert.Equal(t, "sk-live", secret.APIKey)

	secret, err = ParseSecret([]byte(`{"oauth":{"access_token":"at","refresh_token":"rt"}}`))
	require.NoError(t, err)
	assert.Equal(t, SecretOAuth, secret.Kind)
	require.NotNil(t, secret.OAuth)
	assert.Equal(t, "at", secret.OAuth.AccessToken)

	_, err = ParseSecret(nil)
	assert.Error(t, err)
}

func TestSetMetaValueCopiesMap(t *testing.T) {
	cred := &Credential{ID: 1}
	first := cred.SetMetaValue("claude_1m", true)
	second := cred.SetMetaValue("project", "p")

	// The first published map never sees the later write.
	_, ok := first["project"]
	assert.False(t, ok)
	assert.Equal(t, "p", second.String("project"))

	value, known := cred.MetaBool("claude_1m")
	assert.True(t, known)
	assert.True(t, value)
}

func TestConcurrentMetaAndSecretAccess(t *testing.T) {
	cred := &Credential{
		ID:     1,
		Secret: Secret{Kind: SecretOAuth, OAuth: &OAuthSecret{AccessToken: "a0", ProjectID: "p0"}},
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				cred.SetMetaValue("claude_1m", i%2 == 0)
				cred.SetOAuth(&OAuthSecret{AccessToken: "a1", ProjectID: "p1"})
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, _ = cred.MetaBool("claude_1m")
				if current := cred.OAuth(); current != nil {
					_ = current.AccessToken
				}
				_ = cred.Clone()
			}
		}()
	}
	wg.Wait()

	_, known := cred.MetaBool("claude_1m")
	assert.True(t, known)
	require.NotNil(t, cred.OAuth())
	assert.Equal(t, "a1", cred.OAuth().AccessToken)
}

func TestCloneIsIndependent(t *testing.T) {
	cred := &Credential{
		ID:     2,
		Meta:   Meta{"claude_1m": true},
		Secret: Secret{Kind: SecretOAuth, OAuth: &OAuthSecret{ProjectID: "p"}},
	}
	clone := cred.Clone()
	clone.SetMetaValue("claude_1m", false)
	clone.SetOAuth(&OAuthSecret{ProjectID: "q"})

	value, known := cred.MetaBool("claude_1m")
	require.True(t, known)
	assert.True(t, value)
	assert.Equal(t, "p", cred.OAuth().ProjectID)
}

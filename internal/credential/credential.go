// Package credential models upstream credentials and their polymorphic
// secrets. The secret is a tagged sum rather than a free-form JSON blob;
// the management plane converts between JSON and this representation.
package credential

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SecretKind tags the secret variant a credential carries.
type SecretKind string

const (
	// SecretAPIKey is a bare vendor API key.
	SecretAPIKey SecretKind = "api_key"
	// SecretOAuth is an OAuth bundle with access/refresh tokens and expiry.
	SecretOAuth SecretKind = "oauth"
)

// OAuthSecret is the mutable OAuth token bundle for console-backed providers.
type OAuthSecret struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	Email        string    `json:"email,omitempty"`
}

// Expired reports whether the access token expires within skew.
func (o *OAuthSecret) Expired(now time.Time, skew time.Duration) bool {
	if o == nil || o.ExpiresAt.IsZero() {
		return false
	}
	return o.ExpiresAt.Add(-skew).Before(now)
}

// Secret is the polymorphic credential secret.
type Secret struct {
	Kind   SecretKind   `json:"kind"`
	APIKey string       `json:"api_key,omitempty"`
	OAuth  *OAuthSecret `json:"oauth,omitempty"`
}

// ParseSecret decodes the stored secret JSON. Legacy rows holding a bare
// string are treated as API keys.
func ParseSecret(raw []byte) (Secret, error) {
	if len(raw) == 0 {
		return Secret{}, fmt.Errorf("credential: empty secret")
	}
	if raw[0] == '"' {
		var key string
		if err := json.Unmarshal(raw, &key); err != nil {
			return Secret{}, err
		}
		return Secret{Kind: SecretAPIKey, APIKey: key}, nil
	}
	var secret Secret
	if err := json.Unmarshal(raw, &secret); err != nil {
		return Secret{}, err
	}
	if secret.Kind == "" {
		if secret.OAuth != nil {
			secret.Kind = SecretOAuth
		} else {
			secret.Kind = SecretAPIKey
		}
	}
	return secret, nil
}

// Encode serialises the secret for storage.
func (s Secret) Encode() []byte {
	data, _ := json.Marshal(s)
	return data
}

// Meta holds mutable per-credential feature bits learned at runtime,
// such as whether the 1M-context beta is allowed.
type Meta map[string]any

// Bool returns the named flag and whether it has ever been decided.
func (m Meta) Bool(key string) (value, known bool) {
	if m == nil {
		return false, false
	}
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// String returns the named string field, or empty.
func (m Meta) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Clone returns a shallow copy safe for independent mutation of top-level keys.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Credential is one record usable to authenticate an upstream call. Pool
// snapshots hand the same pointer to every concurrent request, so the two
// fields that change at runtime, Secret.OAuth and Meta, are only written
// through the accessors below: writers build a fresh bundle or map and swap
// it in under the lock, and a published OAuthSecret or Meta is never
// mutated again.
type Credential struct {
	ID         int64
	ProviderID int64
	Name       string
	Secret     Secret
	Meta       Meta
	Weight     uint32
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time

	mu sync.RWMutex
}

// OAuth returns the current OAuth bundle, or nil. Callers must treat the
// returned value as read-only; updates go through SetOAuth.
func (c *Credential) OAuth() *OAuthSecret {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Secret.OAuth
}

// SetOAuth installs a new OAuth bundle and returns the updated secret for
// persistence.
func (c *Credential) SetOAuth(o *OAuthSecret) Secret {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Secret.OAuth = o
	return c.Secret
}

// MetaBool reads one meta flag under the credential's lock.
func (c *Credential) MetaBool(key string) (value, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Meta.Bool(key)
}

// SetMetaValue sets one meta key on a copy of the map and swaps the copy in,
// so a reader holding the previous map never observes the write. Returns the
// new map for persistence.
func (c *Credential) SetMetaValue(key string, value any) Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.Meta.Clone()
	if next == nil {
		next = Meta{}
	}
	next[key] = value
	c.Meta = next
	return next
}

// Clone duplicates the credential, including its meta map.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Credential{
		ID:         c.ID,
		ProviderID: c.ProviderID,
		Name:       c.Name,
		Secret:     c.Secret,
		Meta:       c.Meta.Clone(),
		Weight:     c.Weight,
		Enabled:    c.Enabled,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.Secret.OAuth != nil {
		oauth := *c.Secret.OAuth
		out.Secret.OAuth = &oauth
	}
	return out
}

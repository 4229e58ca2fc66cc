// Package storage defines the persistent entities of the gateway and the
// store interface the SQLite backend implements. Traffic and usage records
// flow in through the async bus; control-plane rows are written directly.
package storage

import (
	"context"
	"time"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/pool"
)

// Provider is one configured upstream endpoint with its credential pool.
type Provider struct {
	ID        int64
	Name      string
	Kind      string // claude, claudecode, codex, geminicli, antigravity, aistudio, custom
	BaseURL   string
	Protocol  string // native wire protocol; only meaningful for custom providers
	Prefix    string // optional model-name prefix routed to this provider
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a management-plane account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// APIKey authenticates downstream clients.
type APIKey struct {
	ID        int64
	Key       string
	Name      string
	CreatedAt time.Time
}

// DownstreamTraffic is one recorded client-facing exchange.
type DownstreamTraffic struct {
	ID         int64
	At         time.Time
	Method     string
	Path       string
	Protocol   string
	Model      string
	Status     int
	ReqHeaders string
	ReqBody    []byte
	RespBody   []byte
	DurationMs int64
}

// UpstreamTraffic is one recorded provider-facing exchange.
type UpstreamTraffic struct {
	ID           int64
	At           time.Time
	Provider     string
	CredentialID int64
	Model        string
	URL          string
	Status       int
	ReqHeaders   string
	ReqBody      []byte
	RespBody     []byte
	DurationMs   int64
}

// UpstreamUsage is one token usage summary extracted from a response.
type UpstreamUsage struct {
	ID              int64
	At              time.Time
	Provider        string
	CredentialID    int64
	Model           string
	InputTokens     int64
	OutputTokens    int64
	CachedTokens    int64
	ReasoningTokens int64
	TotalTokens     int64
}

// UsageTotals aggregates usage rows for the management surface.
type UsageTotals struct {
	Model           string
	Requests        int64
	InputTokens     int64
	OutputTokens    int64
	CachedTokens    int64
	ReasoningTokens int64
	TotalTokens     int64
}

// Store is the persistence surface of the gateway.
type Store interface {
	// Providers and credentials.
	CreateProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, id int64) (*Provider, error)
	GetProviderByName(ctx context.Context, name string) (*Provider, error)
	ListProviders(ctx context.Context) ([]*Provider, error)
	UpdateProvider(ctx context.Context, p *Provider) error
	DeleteProvider(ctx context.Context, id int64) error

	CreateCredential(ctx context.Context, c *credential.Credential) error
	GetCredential(ctx context.Context, id int64) (*credential.Credential, error)
	ListCredentials(ctx context.Context, providerID int64) ([]*credential.Credential, error)
	UpdateCredential(ctx context.Context, c *credential.Credential) error
	UpdateCredentialSecret(ctx context.Context, id int64, secret credential.Secret) error
	UpdateCredentialMeta(ctx context.Context, id int64, meta credential.Meta) error
	DeleteCredential(ctx context.Context, id int64) error

	// Disallow marks.
	UpsertDisallow(ctx context.Context, record pool.Record) error
	ListDisallow(ctx context.Context, providerName string) ([]pool.Record, error)
	PruneDisallow(ctx context.Context, before time.Time) error

	// Users and API keys.
	CreateUser(ctx context.Context, u *User) error
	GetUserByName(ctx context.Context, username string) (*User, error)
	CreateAPIKey(ctx context.Context, k *APIKey) error
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id int64) error

	// Global config key-value pairs.
	SetGlobalConfig(ctx context.Context, key, value string) error
	GetGlobalConfig(ctx context.Context, key string) (string, error)

	// Traffic and usage records.
	InsertDownstream(ctx context.Context, records []DownstreamTraffic) error
	InsertUpstream(ctx context.Context, records []UpstreamTraffic) error
	InsertUsage(ctx context.Context, records []UpstreamUsage) error
	UsageByProvider(ctx context.Context, providerName string, since time.Time) ([]UsageTotals, error)

	Ping(ctx context.Context) error
	Close() error
}

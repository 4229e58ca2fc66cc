package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/telemetry"
)

// expirySkew refreshes tokens slightly before their stated expiry so an
// upstream call never races the deadline.
const expirySkew = 30 * time.Second

// SecretSink persists refreshed secrets asynchronously.
type SecretSink interface {
	SubmitSecret(credentialID int64, secret credential.Secret)
}

// Refresher serves access tokens for credentials, refreshing expired OAuth
// bundles. Concurrent requests for the same credential share one refresh.
type Refresher struct {
	group    singleflight.Group
	sink     SecretSink
	proxyURL string

	// flowFor resolves the refresh flow for a provider kind; tests point it
	// at a local token endpoint.
	flowFor func(kind string) (*Flow, bool)
}

// NewRefresher creates a refresher persisting through sink.
func NewRefresher(sink SecretSink, proxyURL string) *Refresher {
	return &Refresher{
		sink:     sink,
		proxyURL: proxyURL,
		flowFor:  func(kind string) (*Flow, bool) { return FlowFor(kind, "") },
	}
}

// AccessToken returns a usable bearer token or API key for the credential.
// The credential's secret is updated in place after a refresh.
func (r *Refresher) AccessToken(ctx context.Context, providerKind string, cred *credential.Credential) (string, error) {
	switch cred.Secret.Kind {
	case credential.SecretAPIKey:
		return cred.Secret.APIKey, nil
	case credential.SecretOAuth:
	default:
		return "", fmt.Errorf("credential %d: unknown secret kind %q", cred.ID, cred.Secret.Kind)
	}

	oauthSecret := cred.OAuth()
	if oauthSecret == nil {
		return "", fmt.Errorf("credential %d: missing oauth secret", cred.ID)
	}
	if !oauthSecret.Expired(time.Now(), expirySkew) && oauthSecret.AccessToken != "" {
		return oauthSecret.AccessToken, nil
	}
	return r.refresh(ctx, providerKind, cred)
}

// ForceRefresh discards the current access token and refreshes, used after an
// upstream 401 or 403.
func (r *Refresher) ForceRefresh(ctx context.Context, providerKind string, cred *credential.Credential) (string, error) {
	if cred.Secret.Kind != credential.SecretOAuth || cred.OAuth() == nil {
		return "", fmt.Errorf("credential %d: not refreshable", cred.ID)
	}
	return r.refresh(ctx, providerKind, cred)
}

func (r *Refresher) refresh(ctx context.Context, providerKind string, cred *credential.Credential) (string, error) {
	key := strconv.FormatInt(cred.ID, 10)
	previous := ""
	if current := cred.OAuth(); current != nil {
		previous = current.AccessToken
	}

	token, err, _ := r.group.Do(key, func() (any, error) {
		current := cred.OAuth()
		if current == nil {
			return "", fmt.Errorf("credential %d: missing oauth secret", cred.ID)
		}
		// A concurrent caller may have refreshed while this one waited.
		if current.AccessToken != "" && current.AccessToken != previous &&
			!current.Expired(time.Now(), expirySkew) {
			return current.AccessToken, nil
		}

		flow, ok := r.flowFor(providerKind)
		if !ok {
			return "", fmt.Errorf("provider kind %q has no oauth flow", providerKind)
		}
		refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		secret, errRefresh := flow.Refresh(refreshCtx, r.proxyURL, current.RefreshToken)
		if errRefresh != nil {
			telemetry.TokenRefreshes.WithLabelValues(providerKind, "error").Inc()
			return "", errRefresh
		}
		secret.ProjectID = current.ProjectID
		if secret.Email == "" {
			secret.Email = current.Email
		}
		updated := cred.SetOAuth(secret)
		r.sink.SubmitSecret(cred.ID, updated)
		telemetry.TokenRefreshes.WithLabelValues(providerKind, "ok").Inc()
		log.Debugf("refreshed token for credential %d", cred.ID)
		return secret.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// IsAuthFailure reports whether a refresh error means the grant itself is
// rejected, as opposed to a transient network or server problem.
func IsAuthFailure(err error) bool {
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr.StatusCode >= 400 && refreshErr.StatusCode < 500
	}
	return false
}

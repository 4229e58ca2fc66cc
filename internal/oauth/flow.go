// Package oauth implements the OAuth flows of the console-backed providers,
// short-lived state persistence for callbacks, and single-flight token
// refresh for the credential pools.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/util"
)

const (
	anthropicAuthURL  = "https://claude.ai/oauth/authorize"
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	openaiAuthURL  = "https://auth.openai.com/oauth/authorize"
	openaiTokenURL = "https://auth.openai.com/oauth/token"
	openaiClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

	googleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	googleClientSecret = "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"
)

// RefreshError carries the HTTP status of a failed token endpoint exchange so
// callers can distinguish revoked grants from transient failures.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Flow describes one provider's OAuth endpoints.
type Flow struct {
	Kind         string
	authURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	redirectURI  string
	jsonBody     bool // the Anthropic token endpoint takes JSON, not form data
}

// FlowFor returns the OAuth flow for a provider kind, or false for kinds
// authenticated by API key.
func FlowFor(kind, redirectURI string) (*Flow, bool) {
	switch kind {
	case "claudecode":
		return &Flow{
			Kind: kind, authURL: anthropicAuthURL, tokenURL: anthropicTokenURL,
			clientID: anthropicClientID, redirectURI: redirectURI, jsonBody: true,
			scopes: []string{"org:create_api_key", "user:profile", "user:inference"},
		}, true
	case "codex":
		return &Flow{
			Kind: kind, authURL: openaiAuthURL, tokenURL: openaiTokenURL,
			clientID: openaiClientID, redirectURI: redirectURI,
			scopes: []string{"openid", "profile", "email", "offline_access"},
		}, true
	case "geminicli", "antigravity":
		return &Flow{
			Kind: kind, authURL: googleAuthURL, tokenURL: googleTokenURL,
			clientID: googleClientID, clientSecret: googleClientSecret,
			redirectURI: redirectURI,
			scopes: []string{
				"https://www.googleapis.com/auth/cloud-platform",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		}, true
	}
	return nil, false
}

func (f *Flow) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		RedirectURL:  f.redirectURI,
		Scopes:       f.scopes,
		Endpoint:     oauth2.Endpoint{AuthURL: f.authURL, TokenURL: f.tokenURL},
	}
}

// AuthCodeURL builds the authorization URL with PKCE.
func (f *Flow) AuthCodeURL(state string, pkce *PKCECodes) string {
	if f.jsonBody {
		params := url.Values{
			"code":                  {"true"},
			"client_id":             {f.clientID},
			"response_type":         {"code"},
			"redirect_uri":          {f.redirectURI},
			"scope":                 {strings.Join(f.scopes, " ")},
			"code_challenge":        {pkce.CodeChallenge},
			"code_challenge_method": {"S256"},
			"state":                 {state},
		}
		return f.authURL + "?" + params.Encode()
	}
	return f.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades an authorization code for a token bundle.
func (f *Flow) Exchange(ctx context.Context, proxyURL, code, verifier string) (*credential.OAuthSecret, error) {
	if f.jsonBody {
		return f.postJSON(ctx, proxyURL, map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"redirect_uri":  f.redirectURI,
			"client_id":     f.clientID,
			"code_verifier": verifier,
		})
	}
	httpClient := util.RefreshClient(proxyURL)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := f.oauthConfig().Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, wrapOAuthError(err)
	}
	return fromOAuth2Token(token), nil
}

// Refresh trades a refresh token for a fresh access token.
func (f *Flow) Refresh(ctx context.Context, proxyURL, refreshToken string) (*credential.OAuthSecret, error) {
	if f.jsonBody {
		secret, err := f.postJSON(ctx, proxyURL, map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     f.clientID,
		})
		if err != nil {
			return nil, err
		}
		if secret.RefreshToken == "" {
			secret.RefreshToken = refreshToken
		}
		return secret, nil
	}

	httpClient := util.RefreshClient(proxyURL)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	source := f.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, wrapOAuthError(err)
	}
	secret := fromOAuth2Token(token)
	if secret.RefreshToken == "" {
		secret.RefreshToken = refreshToken
	}
	return secret, nil
}

// postJSON talks to the Anthropic-style token endpoint.
func (f *Flow) postJSON(ctx context.Context, proxyURL string, body map[string]string) (*credential.OAuthSecret, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := util.RefreshClient(proxyURL).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RefreshError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Account      struct {
			EmailAddress string `json:"email_address"`
		} `json:"account"`
	}
	if err = json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &credential.OAuthSecret{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
		Email:        token.Account.EmailAddress,
	}, nil
}

func fromOAuth2Token(token *oauth2.Token) *credential.OAuthSecret {
	return &credential.OAuthSecret{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

// wrapOAuthError converts an oauth2.RetrieveError into a RefreshError so the
// status code survives.
func wrapOAuthError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return &RefreshError{StatusCode: retrieve.Response.StatusCode, Body: string(retrieve.Body)}
	}
	return err
}

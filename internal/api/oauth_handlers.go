package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/oauth"
)

// statePayload is what the start handler stashes under the OAuth state token
// and the callback handler needs back.
type statePayload struct {
	ProviderID  int64  `json:"provider_id"`
	Kind        string `json:"kind"`
	Verifier    string `json:"verifier"`
	RedirectURI string `json:"redirect_uri"`
}

// oauthStart redirects the browser to the provider's consent page.
func (s *Server) oauthStart(c *gin.Context) {
	if s.states == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "oauth state store unavailable"})
		return
	}
	provider, err := s.gateway.Store().GetProviderByName(c.Request.Context(), c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	redirectURI := requestScheme(c) + "://" + c.Request.Host + "/oauth/" + provider.Name + "/callback"
	flow, ok := oauth.FlowFor(provider.Kind, redirectURI)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider kind has no oauth flow"})
		return
	}

	pkce, err := oauth.GeneratePKCECodes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload, _ := json.Marshal(statePayload{
		ProviderID:  provider.ID,
		Kind:        provider.Kind,
		Verifier:    pkce.CodeVerifier,
		RedirectURI: redirectURI,
	})
	state, err := s.states.NewState(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, flow.AuthCodeURL(state, pkce))
}

// oauthCallback consumes the state, exchanges the code, discovers the Cloud
// project for Google-backed kinds, and stores the new credential.
func (s *Server) oauthCallback(c *gin.Context) {
	if s.states == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "oauth state store unavailable"})
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
		return
	}
	raw, ok, err := s.states.Consume(state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or expired state"})
		return
	}
	var payload statePayload
	if err = json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt state payload"})
		return
	}

	flow, ok := oauth.FlowFor(payload.Kind, payload.RedirectURI)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider kind has no oauth flow"})
		return
	}
	proxyURL := s.gateway.Config().ProxyURL
	secret, err := flow.Exchange(c.Request.Context(), proxyURL, code, payload.Verifier)
	if err != nil {
		log.Errorf("oauth exchange failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}

	if payload.Kind == "geminicli" || payload.Kind == "antigravity" {
		projectID, errProject := oauth.DiscoverProject(c.Request.Context(), proxyURL, secret.AccessToken, "")
		if errProject != nil {
			log.Errorf("project discovery failed: %v", errProject)
			c.JSON(http.StatusBadGateway, gin.H{"error": "project discovery failed"})
			return
		}
		secret.ProjectID = projectID
	}

	name := secret.Email
	if name == "" {
		name = payload.Kind + "-" + time.Now().Format("20060102-150405")
	}
	cred := &credential.Credential{
		ProviderID: payload.ProviderID,
		Name:       name,
		Secret:     credential.Secret{Kind: credential.SecretOAuth, OAuth: secret},
		Weight:     1,
		Enabled:    true,
	}
	if err = s.gateway.Store().CreateCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err = s.gateway.Reload(c.Request.Context()); err != nil {
		log.Errorf("reload after oauth login failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "credential_id": cred.ID, "name": cred.Name})
}

// providerUsage aggregates the recorded usage rows for one provider.
func (s *Server) providerUsage(c *gin.Context) {
	name := c.Param("provider")
	if _, ok := s.gateway.RuntimeByName(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since_hours"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			since = time.Now().Add(-time.Duration(hours) * time.Hour)
		}
	}
	totals, err := s.gateway.Store().UsageByProvider(c.Request.Context(), name, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": name, "since": since, "usage": totals})
}

func requestScheme(c *gin.Context) string {
	if c.Request.TLS != nil {
		return "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/storage"
)

// providerBody is the management JSON shape of a provider.
type providerBody struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	BaseURL  string `json:"base_url,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// credentialBody is the management JSON shape of a credential. The secret is
// forwarded raw and parsed into its tagged form.
type credentialBody struct {
	ID         int64           `json:"id,omitempty"`
	ProviderID int64           `json:"provider_id,omitempty"`
	Name       string          `json:"name"`
	Secret     json.RawMessage `json:"secret,omitempty"`
	Meta       credential.Meta `json:"meta,omitempty"`
	Weight     uint32          `json:"weight,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
}

func (s *Server) registerManagement(group *gin.RouterGroup) {
	group.GET("/providers", s.listProviders)
	group.POST("/providers", s.createProvider)
	group.GET("/providers/:id", s.getProvider)
	group.PUT("/providers/:id", s.updateProvider)
	group.DELETE("/providers/:id", s.deleteProvider)

	group.GET("/providers/:id/credentials", s.listCredentials)
	group.POST("/providers/:id/credentials", s.createCredential)
	group.PUT("/credentials/:id", s.updateCredential)
	group.DELETE("/credentials/:id", s.deleteCredential)
	group.GET("/providers/:id/disallow", s.listDisallow)

	group.GET("/api-keys", s.listAPIKeysHandler)
	group.POST("/api-keys", s.createAPIKeyHandler)
	group.DELETE("/api-keys/:id", s.deleteAPIKeyHandler)

	group.POST("/users", s.createUser)

	group.GET("/config/:key", s.getGlobalConfig)
	group.PUT("/config/:key", s.putGlobalConfig)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// reload rebuilds the runtimes after a control-plane mutation.
func (s *Server) reload(c *gin.Context) {
	if err := s.gateway.Reload(c.Request.Context()); err != nil {
		log.Errorf("reload after management change failed: %v", err)
	}
}

func (s *Server) listProviders(c *gin.Context) {
	providers, err := s.gateway.Store().ListProviders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]providerBody, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerToBody(p))
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

func (s *Server) createProvider(c *gin.Context) {
	var body providerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Name == "" || body.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and kind are required"})
		return
	}
	provider := &storage.Provider{
		Name:     body.Name,
		Kind:     body.Kind,
		BaseURL:  body.BaseURL,
		Protocol: body.Protocol,
		Prefix:   body.Prefix,
		Enabled:  body.Enabled == nil || *body.Enabled,
	}
	if err := s.gateway.Store().CreateProvider(c.Request.Context(), provider); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload(c)
	c.JSON(http.StatusCreated, providerToBody(provider))
}

func (s *Server) getProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	provider, err := s.gateway.Store().GetProvider(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}
	c.JSON(http.StatusOK, providerToBody(provider))
}

func (s *Server) updateProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	provider, err := s.gateway.Store().GetProvider(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}
	var body providerBody
	if err = c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Name != "" {
		provider.Name = body.Name
	}
	if body.Kind != "" {
		provider.Kind = body.Kind
	}
	if body.BaseURL != "" {
		provider.BaseURL = body.BaseURL
	}
	if body.Protocol != "" {
		provider.Protocol = body.Protocol
	}
	if body.Prefix != "" {
		provider.Prefix = body.Prefix
	}
	if body.Enabled != nil {
		provider.Enabled = *body.Enabled
	}
	if err = s.gateway.Store().UpdateProvider(c.Request.Context(), provider); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload(c)
	c.JSON(http.StatusOK, providerToBody(provider))
}

func (s *Server) deleteProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.gateway.Store().DeleteProvider(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload(c)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) listCredentials(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	credentials, err := s.gateway.Store().ListCredentials(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(credentials))
	for _, cred := range credentials {
		out = append(out, credentialSummary(cred))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func (s *Server) createCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body credentialBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	secret, err := credential.ParseSecret(body.Secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid secret: " + err.Error()})
		return
	}
	weight := body.Weight
	if weight == 0 {
		weight = 1
	}
	cred := &credential.Credential{
		ProviderID: id,
		Name:       body.Name,
		Secret:     secret,
		Meta:       body.Meta,
		Weight:     weight,
		Enabled:    body.Enabled == nil || *body.Enabled,
	}
	if err = s.gateway.Store().CreateCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload(c)
	c.JSON(http.StatusCreated, credentialSummary(cred))
}

func (s *Server) updateCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	cred, err := s.gateway.Store().GetCredential(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cred == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
		return
	}
	var body credentialBody
	if err = c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Name != "" {
		cred.Name = body.Name
	}
	if len(body.Secret) > 0 {
		secret, errSecret := credential.ParseSecret(body.Secret)
		if errSecret != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid secret: " + errSecret.Error()})
			return
		}
		cred.Secret = secret
	}
	if body.Meta != nil {
		cred.Meta = body.Meta
	}
	if body.Weight != 0 {
		cred.Weight = body.Weight
	}
	if body.Enabled != nil {
		cred.Enabled = *body.Enabled
	}
	if err = s.gateway.Store().UpdateCredential(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload(c)
	c.JSON(http.StatusOK, credentialSummary(cred))
}

// deleteCredential removes a credential. Requests already holding it run to
// completion.
func (s *Server) deleteCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.gateway.Store().DeleteCredential(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload(c)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// listDisallow serves the live in-memory marks, not the audit rows.
func (s *Server) listDisallow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	provider, err := s.gateway.Store().GetProvider(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}
	runtime, okRuntime := s.gateway.RuntimeByName(provider.Name)
	if !okRuntime {
		c.JSON(http.StatusOK, gin.H{"disallow": []any{}})
		return
	}
	records := runtime.Pool.Snapshot().DisallowRecords(provider.Name)
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		entry := gin.H{
			"credential_id": r.CredentialID,
			"scope":         r.Scope.String(),
			"level":         r.Level.String(),
			"reason":        r.Reason,
			"updated_at":    r.UpdatedAt,
		}
		if !r.Until.IsZero() {
			entry["until"] = r.Until
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"disallow": out})
}

func (s *Server) listAPIKeysHandler(c *gin.Context) {
	keys, err := s.gateway.Store().ListAPIKeys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		out = append(out, gin.H{"id": k.ID, "name": k.Name, "key": k.Key, "created_at": k.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

func (s *Server) createAPIKeyHandler(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
		Key  string `json:"key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	key := &storage.APIKey{Name: body.Name, Key: body.Key, CreatedAt: time.Now()}
	if err := s.gateway.Store().CreateAPIKey(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.invalidateKeyCache()
	c.JSON(http.StatusCreated, gin.H{"id": key.ID, "name": key.Name})
}

func (s *Server) deleteAPIKeyHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.gateway.Store().DeleteAPIKey(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.invalidateKeyCache()
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) createUser(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	user := &storage.User{Username: body.Username, PasswordHash: string(hash), CreatedAt: time.Now()}
	if err = s.gateway.Store().CreateUser(c.Request.Context(), user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

func (s *Server) getGlobalConfig(c *gin.Context) {
	value, err := s.gateway.Store().GetGlobalConfig(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": value})
}

func (s *Server) putGlobalConfig(c *gin.Context) {
	var body struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.gateway.Store().SetGlobalConfig(c.Request.Context(), c.Param("key"), body.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": body.Value})
}

func (s *Server) invalidateKeyCache() {
	s.keyMu.Lock()
	s.keysLoaded = time.Time{}
	s.keyMu.Unlock()
}

func providerToBody(p *storage.Provider) providerBody {
	enabled := p.Enabled
	return providerBody{
		ID:       p.ID,
		Name:     p.Name,
		Kind:     p.Kind,
		BaseURL:  p.BaseURL,
		Protocol: p.Protocol,
		Prefix:   p.Prefix,
		Enabled:  &enabled,
	}
}

// credentialSummary renders a credential without its secret material.
func credentialSummary(cred *credential.Credential) gin.H {
	out := gin.H{
		"id":          cred.ID,
		"provider_id": cred.ProviderID,
		"name":        cred.Name,
		"secret_kind": cred.Secret.Kind,
		"weight":      cred.Weight,
		"enabled":     cred.Enabled,
	}
	if cred.Meta != nil {
		out["meta"] = cred.Meta
	}
	if cred.Secret.Kind == credential.SecretOAuth && cred.Secret.OAuth != nil {
		out["email"] = cred.Secret.OAuth.Email
		out["project_id"] = cred.Secret.OAuth.ProjectID
		out["expires_at"] = cred.Secret.OAuth.ExpiresAt
	}
	return out
}

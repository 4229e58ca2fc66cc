// Package api is the HTTP front-end: gin routing for the three vendor
// surfaces, API key auth, the OAuth start/callback pair, and the management
// CRUD plane.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/core"
	"github.com/yszxh/gproxy/internal/logging"
	"github.com/yszxh/gproxy/internal/oauth"
)

// apiKeyCacheTTL bounds how stale the database-backed API key set may be.
const apiKeyCacheTTL = 30 * time.Second

// Server is the HTTP front-end over one gateway.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	gateway *core.Gateway
	states  *oauth.StateStore

	keyMu      sync.Mutex
	storedKeys []string
	keysLoaded time.Time
}

// NewServer builds the server and its routes. states may be nil when the
// OAuth surface is not needed (tests).
func NewServer(cfg *config.Config, gateway *core.Gateway, states *oauth.StateStore) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:  engine,
		gateway: gateway,
		states:  states,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    cfg.Addr(),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.authMiddleware())
	{
		v1.GET("/models", s.modelsList)
		v1.GET("/models/:id", s.modelsGet)
		v1.POST("/messages", s.claudeMessages)
		v1.POST("/messages/count_tokens", s.claudeCountTokens)
		v1.POST("/chat/completions", s.openaiChat)
		v1.POST("/responses", s.openaiResponses)
		v1.POST("/responses/input_tokens", s.openaiInputTokens)
	}

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(s.authMiddleware())
	{
		v1beta.GET("/models", s.geminiModelsList)
		v1beta.GET("/models/:action", s.geminiModelsGet)
		v1beta.POST("/models/:action", s.geminiAction)
	}

	s.engine.GET("/oauth/:provider/start", s.authMiddleware(), s.oauthStart)
	// The callback arrives from the user's browser; the consumed state record
	// is the proof of a live flow.
	s.engine.GET("/oauth/:provider/callback", s.oauthCallback)
	s.engine.GET("/providers/:provider/usage", s.authMiddleware(), s.providerUsage)

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/health", s.health)

	// Management plane stays dark when no admin key is configured.
	if s.gateway.Config().AdminKey != "" {
		mgmt := s.engine.Group("/v0/management")
		mgmt.Use(s.adminMiddleware())
		s.registerManagement(mgmt)
	}
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start() error {
	log.Infof("listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop drains active connections and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if err := s.gateway.Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authMiddleware validates downstream API keys from the config file and the
// api_keys table. With no keys configured anywhere, requests pass.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.downstreamKeys(c.Request.Context())
		if len(keys) == 0 {
			c.Next()
			return
		}

		presented := presentedKey(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
				c.Set("apiKey", key)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	}
}

// presentedKey extracts the client key from the header forms all three vendor
// SDKs use, or the Gemini-style key query parameter.
func presentedKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			return token
		}
		return auth
	}
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		return key
	}
	key, _ := c.GetQuery("key")
	return key
}

func (s *Server) downstreamKeys(ctx context.Context) []string {
	cfg := s.gateway.Config()

	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if time.Since(s.keysLoaded) > apiKeyCacheTTL {
		stored, err := s.gateway.Store().ListAPIKeys(ctx)
		if err != nil {
			log.Warnf("failed to list api keys: %v", err)
		} else {
			s.storedKeys = s.storedKeys[:0]
			for _, k := range stored {
				s.storedKeys = append(s.storedKeys, k.Key)
			}
			s.keysLoaded = time.Now()
		}
	}
	keys := make([]string, 0, len(cfg.APIKeys)+len(s.storedKeys))
	keys = append(keys, cfg.APIKeys...)
	keys = append(keys, s.storedKeys...)
	return keys
}

// adminMiddleware validates the management bearer token. A stored bcrypt hash
// is compared as a hash; anything else is compared as plaintext.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminKey := s.gateway.Config().AdminKey
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing management key"})
			return
		}
		if strings.HasPrefix(adminKey, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(adminKey), []byte(token)) != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
				return
			}
		} else if subtle.ConstantTimeCompare([]byte(adminKey), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, x-api-key, x-goog-api-key, anthropic-version")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

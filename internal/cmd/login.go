package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"

	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/logging"
	"github.com/yszxh/gproxy/internal/oauth"
	"github.com/yszxh/gproxy/internal/storage/sqlite"
)

const (
	loginListenAddr  = "127.0.0.1:8085"
	loginRedirectURI = "http://127.0.0.1:8085/oauth/callback"
	loginTimeout     = 5 * time.Minute
)

// DoLogin runs the interactive OAuth consent flow for one stored provider and
// saves the resulting credential.
func DoLogin(cfg *config.Config, providerName, projectID string) {
	logging.SetupBaseLogger(cfg.Debug)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	provider, err := store.GetProviderByName(ctx, providerName)
	if err != nil {
		log.Fatalf("failed to load provider: %v", err)
	}
	if provider == nil {
		log.Fatalf("unknown provider %q; create it through the management API first", providerName)
	}
	flow, ok := oauth.FlowFor(provider.Kind, loginRedirectURI)
	if !ok {
		log.Fatalf("provider kind %q authenticates with an API key, not OAuth", provider.Kind)
	}

	pkce, err := oauth.GeneratePKCECodes()
	if err != nil {
		log.Fatalf("failed to generate PKCE codes: %v", err)
	}
	state, err := oauth.RandomState()
	if err != nil {
		log.Fatalf("failed to generate state: %v", err)
	}

	code, err := waitForCallback(ctx, flow.AuthCodeURL(state, pkce), state)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	secret, err := flow.Exchange(ctx, cfg.ProxyURL, code, pkce.CodeVerifier)
	if err != nil {
		log.Fatalf("token exchange failed: %v", err)
	}
	if provider.Kind == "geminicli" || provider.Kind == "antigravity" {
		discovered, errProject := oauth.DiscoverProject(ctx, cfg.ProxyURL, secret.AccessToken, projectID)
		if errProject != nil {
			log.Fatalf("project discovery failed: %v", errProject)
		}
		secret.ProjectID = discovered
	}

	name := secret.Email
	if name == "" {
		name = provider.Kind + "-" + time.Now().Format("20060102-150405")
	}
	cred := &credential.Credential{
		ProviderID: provider.ID,
		Name:       name,
		Secret:     credential.Secret{Kind: credential.SecretOAuth, OAuth: secret},
		Weight:     1,
		Enabled:    true,
	}
	if err = store.CreateCredential(ctx, cred); err != nil {
		log.Fatalf("failed to store credential: %v", err)
	}
	log.Infof("stored credential %d (%s) for provider %s", cred.ID, cred.Name, provider.Name)
}

// waitForCallback runs a one-shot local HTTP server, opens the consent URL in
// the browser, and returns the authorization code delivered to the redirect.
func waitForCallback(ctx context.Context, authURL, expectedState string) (string, error) {
	type outcome struct {
		code string
		err  error
	}
	results := make(chan outcome, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != expectedState {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			results <- outcome{err: errors.New("state mismatch on callback")}
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			results <- outcome{err: errors.New("callback missing authorization code")}
			return
		}
		_, _ = fmt.Fprintln(w, "Login complete. You can close this window.")
		results <- outcome{code: code}
	})

	server := &http.Server{Addr: loginListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- outcome{err: err}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("opening browser for consent: %s", authURL)
	if err := open.Run(authURL); err != nil {
		log.Warnf("could not open browser automatically, visit the URL above: %v", err)
	}

	select {
	case result := <-results:
		return result.code, result.err
	case <-ctx.Done():
		return "", fmt.Errorf("timed out waiting for oauth callback: %w", ctx.Err())
	}
}

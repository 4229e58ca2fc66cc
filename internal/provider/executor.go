// Package provider implements the upstream executors: URL composition,
// per-provider auth headers, request body massage, failure classification,
// and the durable feature probes some providers need.
package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/oauth"
	"github.com/yszxh/gproxy/internal/pool"
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/storage"
	"github.com/yszxh/gproxy/internal/util"
)

const (
	anthropicVersion = "2023-06-01"
	oauthBeta        = "oauth-2025-04-20"
	longContextBeta  = "context-1m-2025-08-07"

	claudeCodePrelude = "You are Claude Code, Anthropic's official CLI for Claude."

	// maxErrorBody bounds how much of a failed response is buffered.
	maxErrorBody = 1 << 20
)

// Request is one translated upstream call.
type Request struct {
	Op       protocol.Operation // the upstream protocol's native operation
	Model    string
	Payload  []byte
	ClientUA string // downstream user agent, used for prelude suppression
}

// RecordMeta captures the request side of the exchange for traffic records.
type RecordMeta struct {
	Method  string
	URL     string
	Headers string
	ReqBody []byte
	Started time.Time
}

// Result is a successful upstream response. Body streams; the caller closes
// it. Unwrap, when set, rewrites each SSE payload before translation.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Unwrap     func(data []byte) []byte
	Meta       RecordMeta
}

// MetaSink persists learned credential facts.
type MetaSink interface {
	SubmitSecret(credentialID int64, secret credential.Secret)
	SubmitMeta(credentialID int64, meta credential.Meta)
}

// Executor issues upstream calls for one provider.
type Executor struct {
	provider  *storage.Provider
	refresher *oauth.Refresher
	sink      MetaSink
	proxyURL  string
	redact    bool
}

// NewExecutor builds an executor for provider.
func NewExecutor(p *storage.Provider, refresher *oauth.Refresher, sink MetaSink, proxyURL string, redact bool) *Executor {
	return &Executor{provider: p, refresher: refresher, sink: sink, proxyURL: proxyURL, redact: redact}
}

// NativeProto returns the wire protocol the provider speaks upstream.
func (e *Executor) NativeProto() protocol.Proto {
	switch e.provider.Kind {
	case "claude", "claudecode":
		return protocol.ProtoClaude
	case "codex":
		return protocol.ProtoOpenAIResponses
	case "geminicli", "antigravity", "aistudio":
		return protocol.ProtoGemini
	}
	return protocol.FromString(e.provider.Protocol)
}

// BaseURL returns the configured base URL or the kind's default endpoint.
func (e *Executor) BaseURL() string {
	if e.provider.BaseURL != "" {
		return e.provider.BaseURL
	}
	switch e.provider.Kind {
	case "claude", "claudecode":
		return "https://api.anthropic.com"
	case "codex":
		return "https://chatgpt.com/backend-api/codex"
	case "geminicli", "antigravity":
		return "https://cloudcode-pa.googleapis.com"
	case "aistudio":
		return "https://generativelanguage.googleapis.com"
	}
	return ""
}

// Do issues one upstream call with the given credential. On auth failures it
// refreshes and retries once; the Claude 1M-context and Antigravity project
// probes also retry once after adjusting the request.
func (e *Executor) Do(ctx context.Context, cred *credential.Credential, req Request) (*Result, *pool.AttemptFailure) {
	token, err := e.refresher.AccessToken(ctx, e.provider.Kind, cred)
	if err != nil {
		if oauth.IsAuthFailure(err) {
			return nil, &pool.AttemptFailure{
				Passthrough: pool.Synthesize(http.StatusUnauthorized, "credential refresh rejected"),
				Mark:        pool.Dead(pool.AllModels(), "refresh token rejected"),
			}
		}
		return nil, &pool.AttemptFailure{
			Passthrough: pool.Synthesize(http.StatusBadGateway, "token refresh failed"),
			Mark:        pool.Transient(pool.AllModels(), 10*time.Second, "refresh error"),
		}
	}

	with1M := e.wants1MBeta(cred, req)
	result, failure := e.send(ctx, cred, token, req, with1M)

	// Reactive refresh on upstream auth rejection: refresh once and retry
	// the same request with the new token.
	if failure != nil && failure.Passthrough != nil &&
		(failure.Passthrough.StatusCode == http.StatusUnauthorized || failure.Passthrough.StatusCode == http.StatusForbidden) &&
		cred.Secret.Kind == credential.SecretOAuth {
		fresh, errRefresh := e.refresher.ForceRefresh(ctx, e.provider.Kind, cred)
		if errRefresh != nil {
			if oauth.IsAuthFailure(errRefresh) {
				failure.Mark = pool.Dead(pool.AllModels(), "refresh token rejected")
			}
			return nil, failure
		}
		result, failure = e.send(ctx, cred, fresh, req, with1M)
		token = fresh
	}

	// The 1M-context beta probe: a 400/403 naming the long-context beta
	// means this credential cannot use it. Retry without and remember.
	if failure != nil && with1M && isLongContextRejection(failure.Passthrough) {
		result, failure = e.send(ctx, cred, token, req, false)
		if failure == nil {
			e.remember1M(cred, false)
		}
	} else if failure == nil && with1M {
		if _, known := cred.MetaBool("claude_1m"); !known {
			e.remember1M(cred, true)
		}
	}

	// A 404 from the Antigravity generate call usually means a stale project
	// id. Rediscover once and retry.
	if failure != nil && failure.Passthrough != nil && failure.Passthrough.StatusCode == http.StatusNotFound &&
		e.provider.Kind == "antigravity" && req.Op.Generate() {
		if e.rediscoverProject(ctx, cred, token) {
			result, failure = e.send(ctx, cred, token, req, false)
		}
	}

	return result, failure
}

// send performs exactly one HTTP exchange.
func (e *Executor) send(ctx context.Context, cred *credential.Credential, token string, req Request, with1M bool) (*Result, *pool.AttemptFailure) {
	method, path := PathFor(req.Op, req.Model)
	fullURL := util.ComposeURL(e.BaseURL(), path)
	payload := e.massageBody(cred, req)

	var unwrap func([]byte) []byte
	if e.provider.Kind == "geminicli" || e.provider.Kind == "antigravity" {
		method, fullURL = e.cloudCodeURL(req)
		unwrap = unwrapCloudCode
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, NetworkFailure(err)
	}
	e.setHeaders(httpReq, token, req, with1M)

	meta := RecordMeta{
		Method:  method,
		URL:     fullURL,
		Headers: e.renderHeaders(httpReq.Header),
		ReqBody: payload,
		Started: time.Now(),
	}

	resp, err := util.StreamClient(e.proxyURL).Do(httpReq)
	if err != nil {
		log.Debugf("upstream %s %s failed: %v", method, fullURL, err)
		return nil, NetworkFailure(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Result{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
			Unwrap:     unwrap,
			Meta:       meta,
		}, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return nil, Classify(resp.StatusCode, resp.Header, errBody)
}

// cloudCodeURL maps the Gemini operation onto the Code Assist endpoint.
func (e *Executor) cloudCodeURL(req Request) (method, fullURL string) {
	base := strings.TrimRight(e.BaseURL(), "/")
	switch req.Op {
	case protocol.OpGeminiGenerateStream:
		return http.MethodPost, base + "/v1internal:streamGenerateContent?alt=sse"
	case protocol.OpGeminiCountTokens:
		return http.MethodPost, base + "/v1internal:countTokens"
	default:
		return http.MethodPost, base + "/v1internal:generateContent"
	}
}

func (e *Executor) massageBody(cred *credential.Credential, req Request) []byte {
	payload := req.Payload
	switch req.Op {
	case protocol.OpClaudeMessagesStream, protocol.OpOpenAIResponsesStream:
		payload, _ = sjson.SetBytes(payload, "stream", true)
	case protocol.OpOpenAIChatStream:
		payload, _ = sjson.SetBytes(payload, "stream", true)
		payload, _ = sjson.SetBytes(payload, "stream_options.include_usage", true)
	}

	switch e.provider.Kind {
	case "claudecode":
		if req.Op.Generate() && !isClaudeCodeAgent(req.ClientUA) {
			payload = ensureClaudePrelude(payload)
		}
	case "codex":
		if req.Op.Generate() && !gjson.GetBytes(payload, "instructions").Exists() {
			payload, _ = sjson.SetBytes(payload, "instructions", codexInstructions)
		}
	case "geminicli", "antigravity":
		if req.Op.Generate() || req.Op == protocol.OpGeminiCountTokens {
			payload = wrapCloudCode(payload, req.Model, cred)
		}
	}
	return payload
}

func (e *Executor) setHeaders(httpReq *http.Request, token string, req Request, with1M bool) {
	header := httpReq.Header
	header.Set("Content-Type", "application/json")
	if req.Op.Streaming() {
		header.Set("Accept", "text/event-stream")
	}

	switch e.provider.Kind {
	case "claude":
		header.Set("x-api-key", token)
		header.Set("anthropic-version", anthropicVersion)
	case "claudecode":
		header.Set("Authorization", "Bearer "+token)
		header.Set("anthropic-version", anthropicVersion)
		betas := []string{oauthBeta}
		if with1M {
			betas = append(betas, longContextBeta)
		}
		header.Set("anthropic-beta", strings.Join(betas, ","))
		header.Set("User-Agent", "claude-cli/1.0.83 (external, cli)")
	case "codex":
		header.Set("Authorization", "Bearer "+token)
		header.Set("originator", "codex_cli_rs")
		header.Set("session_id", uuid.NewString())
	case "geminicli", "antigravity":
		header.Set("Authorization", "Bearer "+token)
		header.Set("requestid", uuid.NewString())
		if e.provider.Kind == "antigravity" {
			requestType := "agent"
			if strings.Contains(req.Model, "image") {
				requestType = "image_gen"
			}
			header.Set("requesttype", requestType)
		}
	case "aistudio":
		header.Set("x-goog-api-key", token)
	default:
		// Custom providers authenticate the way their protocol expects.
		switch e.NativeProto() {
		case protocol.ProtoClaude:
			header.Set("x-api-key", token)
			header.Set("anthropic-version", anthropicVersion)
		case protocol.ProtoGemini:
			header.Set("x-goog-api-key", token)
		default:
			header.Set("Authorization", "Bearer "+token)
		}
	}
}

// renderHeaders serializes headers for traffic records, eliding secrets when
// redaction is on.
func (e *Executor) renderHeaders(header http.Header) string {
	var sb strings.Builder
	for name, values := range header {
		value := strings.Join(values, ", ")
		if e.redact && isSensitiveHeader(name) {
			value = "<redacted>"
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	return sb.String()
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-goog-api-key", "cookie":
		return true
	}
	return false
}

func (e *Executor) wants1MBeta(cred *credential.Credential, req Request) bool {
	if e.provider.Kind != "claudecode" || !req.Op.Generate() {
		return false
	}
	if !strings.Contains(req.Model, "sonnet-4") {
		return false
	}
	allowed, known := cred.MetaBool("claude_1m")
	return !known || allowed
}

func (e *Executor) remember1M(cred *credential.Credential, allowed bool) {
	meta := cred.SetMetaValue("claude_1m", allowed)
	if e.sink != nil {
		e.sink.SubmitMeta(cred.ID, meta)
	}
	log.Debugf("credential %d: 1M context allowed=%v", cred.ID, allowed)
}

func (e *Executor) rediscoverProject(ctx context.Context, cred *credential.Credential, token string) bool {
	current := cred.OAuth()
	if current == nil {
		return false
	}
	projectID, err := oauth.DiscoverProject(ctx, e.proxyURL, token, "")
	if err != nil || projectID == "" || projectID == current.ProjectID {
		return false
	}
	next := *current
	next.ProjectID = projectID
	secret := cred.SetOAuth(&next)
	if e.sink != nil {
		e.sink.SubmitSecret(cred.ID, secret)
	}
	log.Infof("credential %d: project id rediscovered as %s", cred.ID, projectID)
	return true
}

// isLongContextRejection matches the upstream's refusal of the 1M beta.
func isLongContextRejection(passthrough *pool.Passthrough) bool {
	if passthrough == nil {
		return false
	}
	if passthrough.StatusCode != http.StatusBadRequest && passthrough.StatusCode != http.StatusForbidden {
		return false
	}
	body := strings.ToLower(string(passthrough.Body))
	return strings.Contains(body, "long context") || strings.Contains(body, longContextBeta)
}

func isClaudeCodeAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "claude-cli") || strings.Contains(ua, "claude-code")
}

// ensureClaudePrelude prepends the fixed system block the Claude Code
// endpoint expects as the first system entry.
func ensureClaudePrelude(payload []byte) []byte {
	system := gjson.GetBytes(payload, "system")
	block := map[string]any{"type": "text", "text": claudeCodePrelude}
	switch {
	case !system.Exists():
		out, _ := sjson.SetBytes(payload, "system", []any{block})
		return out
	case system.IsArray():
		if system.Get("0.text").String() == claudeCodePrelude {
			return payload
		}
		var blocks []any
		blocks = append(blocks, block)
		system.ForEach(func(_, item gjson.Result) bool {
			blocks = append(blocks, item.Value())
			return true
		})
		out, _ := sjson.SetBytes(payload, "system", blocks)
		return out
	default:
		blocks := []any{block, map[string]any{"type": "text", "text": system.String()}}
		out, _ := sjson.SetBytes(payload, "system", blocks)
		return out
	}
}

// wrapCloudCode nests a Gemini body into the Code Assist envelope.
func wrapCloudCode(payload []byte, model string, cred *credential.Credential) []byte {
	projectID := ""
	if current := cred.OAuth(); current != nil {
		projectID = current.ProjectID
	}
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", strings.TrimPrefix(model, "models/"))
	if projectID != "" {
		out, _ = sjson.SetBytes(out, "project", projectID)
	}
	out, _ = sjson.SetRawBytes(out, "request", payload)
	return out
}

// unwrapCloudCode peels the Code Assist envelope off each response payload.
func unwrapCloudCode(data []byte) []byte {
	if response := gjson.GetBytes(data, "response"); response.Exists() {
		return []byte(response.Raw)
	}
	return data
}

// codexInstructions is the prelude the Codex backend expects when the client
// supplies none.
const codexInstructions = "You are Codex, based on GPT-5. You are running as a coding agent in the Codex CLI on a user's computer."

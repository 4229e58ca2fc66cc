// Package core is the request router. It owns the provider runtimes (pool,
// executor, dispatch table), picks a provider for each request, and drives
// translation, upstream execution, and stream bridging.
package core

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yszxh/gproxy/internal/config"
	"github.com/yszxh/gproxy/internal/oauth"
	"github.com/yszxh/gproxy/internal/pool"
	"github.com/yszxh/gproxy/internal/protocol"
	"github.com/yszxh/gproxy/internal/provider"
	"github.com/yszxh/gproxy/internal/registry"
	"github.com/yszxh/gproxy/internal/storage"
	_ "github.com/yszxh/gproxy/internal/translator"
	"github.com/yszxh/gproxy/internal/usage"
)

// Runtime is one provider's live serving state.
type Runtime struct {
	Provider *storage.Provider
	Pool     *pool.Pool
	Executor *provider.Executor
	Table    protocol.DispatchTable
}

// Gateway routes client operations to provider runtimes.
type Gateway struct {
	store     storage.Store
	bus       *storage.Bus
	refresher *oauth.Refresher
	cfg       *config.Config

	mu       sync.RWMutex
	runtimes map[string]*Runtime // keyed by provider name
	ordered  []*Runtime
}

// New builds a gateway. Call Reload to populate the provider runtimes.
func New(store storage.Store, bus *storage.Bus, cfg *config.Config) *Gateway {
	return &Gateway{
		store:     store,
		bus:       bus,
		refresher: oauth.NewRefresher(bus, cfg.ProxyURL),
		cfg:       cfg,
		runtimes:  make(map[string]*Runtime),
	}
}

// Store exposes the backing store for the management surface.
func (g *Gateway) Store() storage.Store { return g.store }

// Bus exposes the recording bus.
func (g *Gateway) Bus() *storage.Bus { return g.bus }

// Config returns the active configuration.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Refresher returns the shared token refresher.
func (g *Gateway) Refresher() *oauth.Refresher { return g.refresher }

// Reload rebuilds provider runtimes from the store. Existing pools keep
// their identity so in-memory disallow state survives credential edits;
// brand new providers recover their marks from the database.
func (g *Gateway) Reload(ctx context.Context) error {
	providers, err := g.store.ListProviders(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := make(map[string]*Runtime, len(providers))
	var ordered []*Runtime
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		credentials, errList := g.store.ListCredentials(ctx, p.ID)
		if errList != nil {
			return errList
		}

		runtime, existed := g.runtimes[p.Name]
		if !existed {
			records, errDisallow := g.store.ListDisallow(ctx, p.Name)
			if errDisallow != nil {
				return errDisallow
			}
			active := records[:0]
			now := time.Now()
			for _, r := range records {
				if r.Level == pool.LevelDead || r.Until.After(now) {
					active = append(active, r)
				}
			}
			runtime = &Runtime{
				Pool: pool.New(p.Name, pool.NewSnapshot(credentials, active), g.bus),
			}
		} else {
			marks := runtime.Pool.Snapshot().DisallowRecords(p.Name)
			runtime.Pool.ReplaceSnapshot(pool.NewSnapshot(credentials, marks))
		}
		runtime.Provider = p
		runtime.Executor = provider.NewExecutor(p, g.refresher, g.bus, g.cfg.ProxyURL, g.cfg.RedactSensitive)
		runtime.Table = tableFor(p)
		next[p.Name] = runtime
		ordered = append(ordered, runtime)
	}
	g.runtimes = next
	g.ordered = ordered
	log.Infof("loaded %d provider runtimes", len(ordered))
	return nil
}

// Runtimes returns the enabled runtimes in listing order.
func (g *Gateway) Runtimes() []*Runtime {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ordered
}

// RuntimeByName returns one runtime.
func (g *Gateway) RuntimeByName(name string) (*Runtime, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	runtime, ok := g.runtimes[name]
	return runtime, ok
}

// SelectRuntime picks the provider serving a model. A "provider/model"
// prefix pins the provider explicitly; a configured prefix matches next;
// otherwise the first provider whose model table lists the model wins, then
// the first enabled provider.
func (g *Gateway) SelectRuntime(model string) (*Runtime, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if name, rest, found := strings.Cut(model, "/"); found && name != "models" {
		if runtime, ok := g.runtimes[name]; ok {
			return runtime, rest
		}
	}
	for _, runtime := range g.ordered {
		if prefix := runtime.Provider.Prefix; prefix != "" && strings.HasPrefix(model, prefix) {
			return runtime, model
		}
	}
	for _, runtime := range g.ordered {
		if _, ok := registry.Find(runtime.Provider.Kind, model); ok {
			return runtime, model
		}
	}
	if len(g.ordered) > 0 {
		return g.ordered[0], model
	}
	return nil, model
}

// tableFor builds a provider's dispatch table from its kind.
func tableFor(p *storage.Provider) protocol.DispatchTable {
	switch p.Kind {
	case "claude", "claudecode":
		table := protocol.NativeTableFor(protocol.ProtoClaude, usage.KindClaudeMessage)
		// Token counting stays native; foreign model listings come from the
		// static table rather than a translated upstream call.
		localModelOps(&table)
		if p.Kind == "claudecode" {
			table[protocol.OpClaudeModelsList] = protocol.Local()
			table[protocol.OpClaudeModelsGet] = protocol.Local()
		}
		return table
	case "codex":
		table := protocol.NativeTableFor(protocol.ProtoOpenAIResponses, usage.KindOpenAIResponses)
		localModelOps(&table)
		table[protocol.OpOpenAIModelsList] = protocol.Local()
		table[protocol.OpOpenAIModelsGet] = protocol.Local()
		// The Codex backend has no token counting endpoint.
		table[protocol.OpOpenAIInputTokens] = protocol.Local()
		table[protocol.OpClaudeCountTokens] = protocol.Local()
		table[protocol.OpGeminiCountTokens] = protocol.Local()
		return table
	case "geminicli", "antigravity":
		table := protocol.NativeTableFor(protocol.ProtoGemini, usage.KindGeminiGenerate)
		localModelOps(&table)
		table[protocol.OpGeminiModelsList] = protocol.Local()
		table[protocol.OpGeminiModelsGet] = protocol.Local()
		if p.Kind == "antigravity" {
			// Antigravity serves no countTokens; estimate locally.
			table[protocol.OpGeminiCountTokens] = protocol.Local()
			table[protocol.OpClaudeCountTokens] = protocol.Local()
			table[protocol.OpOpenAIInputTokens] = protocol.Local()
		}
		return table
	case "aistudio":
		table := protocol.NativeTableFor(protocol.ProtoGemini, usage.KindGeminiGenerate)
		localModelOps(&table)
		return table
	default:
		native := protocol.FromString(p.Protocol)
		kind := usageKindFor(native)
		table := protocol.NativeTableFor(native, kind)
		localModelOps(&table)
		return table
	}
}

// localModelOps serves every foreign-protocol model listing from the static
// registry instead of a translated upstream call.
func localModelOps(table *protocol.DispatchTable) {
	for _, op := range []protocol.Operation{
		protocol.OpClaudeModelsList, protocol.OpClaudeModelsGet,
		protocol.OpGeminiModelsList, protocol.OpGeminiModelsGet,
		protocol.OpOpenAIModelsList, protocol.OpOpenAIModelsGet,
	} {
		if table.Rule(op).Kind == protocol.RuleTransform {
			table[op] = protocol.Local()
		}
	}
}

func usageKindFor(proto protocol.Proto) usage.Kind {
	switch proto {
	case protocol.ProtoClaude:
		return usage.KindClaudeMessage
	case protocol.ProtoGemini:
		return usage.KindGeminiGenerate
	case protocol.ProtoOpenAIResponses:
		return usage.KindOpenAIResponses
	default:
		return usage.KindOpenAIChat
	}
}

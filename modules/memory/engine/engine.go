// Package engine implements the memory.engine module. It assembles the
// memory engine from the store, chat, user, provider, and embedder services
// other modules register, and publishes the engine plus its Prometheus
// registry for the gateway and scheduler to consume.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/engramd/engramd/internal/core"
	"github.com/engramd/engramd/internal/embedding"
	"github.com/engramd/engramd/internal/memory"
	"github.com/engramd/engramd/internal/provider"
)

func init() {
	core.RegisterModule(&Module{})
}

// Interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the memory.engine module.
type Module struct {
	config   Config
	appCtx   *core.AppContext
	engine   *memory.Engine
	cache    *embedding.CachedEmbedder
	registry *prometheus.Registry
	metrics  *memory.Metrics
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "memory.engine",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The engine itself is assembled in
// Start, once every collaborator module has registered its services; here
// only the metrics registry is published so the gateway can mount /metrics.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.config.defaults()

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.metrics = memory.NewMetrics(m.registry)

	ctx.RegisterService("metrics.registry", m.registry)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. It resolves collaborators from the service
// registry and publishes the assembled engine as "memory.engine".
func (m *Module) Start() error {
	store, err := resolve[memory.Store](m.appCtx, "memory.store")
	if err != nil {
		return err
	}
	chats, err := resolve[memory.ChatStore](m.appCtx, "memory.chats")
	if err != nil {
		return err
	}
	users, err := resolve[memory.UserStore](m.appCtx, "memory.users")
	if err != nil {
		return err
	}
	prov, err := resolve[provider.Provider](m.appCtx, m.config.Provider)
	if err != nil {
		return err
	}
	emb, err := resolve[embedding.Embedder](m.appCtx, m.config.Embedder)
	if err != nil {
		return err
	}

	if m.config.EmbedCacheBytes > 0 {
		cache, err := embedding.NewCachedEmbedder(emb, m.config.EmbedCacheBytes, m.appCtx.Logger)
		if err != nil {
			return fmt.Errorf("memory.engine: creating embed cache: %w", err)
		}
		m.cache = cache
		emb = cache
	}

	m.engine = memory.NewEngine(memory.EngineParams{
		Store:    store,
		Chats:    chats,
		Users:    users,
		Provider: prov,
		Embedder: emb,
		Logger:   m.appCtx.Logger,
		Metrics:  m.metrics,
		Options:  m.config.options(),
	})

	m.appCtx.RegisterService("memory.engine", m.engine)
	m.appCtx.Logger.Info("memory engine ready",
		"provider", prov.ModelName(),
		"embedding_dims", emb.Dimensions(),
	)

	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.cache != nil {
		m.cache.Close()
	}
	return nil
}

// Registry returns the module's Prometheus registry.
func (m *Module) Registry() *prometheus.Registry {
	return m.registry
}

// Engine returns the assembled engine. Nil before Start.
func (m *Module) Engine() *memory.Engine {
	return m.engine
}

// resolve looks up a named service and asserts its type.
func resolve[T any](ctx *core.AppContext, name string) (T, error) {
	var zero T
	svc, ok := ctx.Service(name)
	if !ok {
		return zero, errors.New("memory.engine: required service not registered: " + name)
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("memory.engine: service %s has unexpected type %T", name, svc)
	}
	return typed, nil
}

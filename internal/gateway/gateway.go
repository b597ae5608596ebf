// Package gateway exposes the memory engine over HTTP for sidecar
// deployment: message ingestion, context retrieval, per-user memory
// inspection, and admin-triggered maintenance. It binds to loopback by
// default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/engramd/engramd/internal/core"
	"github.com/engramd/engramd/internal/memory"
	"github.com/engramd/engramd/internal/security"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Interface guards.
var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// messageSaver is the chat-store write capability the ingestion endpoint
// needs. The sqlite chat store implements it.
type messageSaver interface {
	SaveMessage(ctx context.Context, msg memory.ChatMessage) error
}

// preferencesWriter is the user-store write capability behind the
// preferences endpoint.
type preferencesWriter interface {
	SetPreferences(ctx context.Context, userID string, prefs memory.Preferences) error
}

// Gateway is the gateway.http module. It is a leaf module; nothing
// imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	limiter   *security.RateLimiter
	startedAt time.Time
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.config.defaults()
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter.
func (g *Gateway) Start() error {
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway running without authentication; only bind to loopback")
	}

	g.startedAt = time.Now()

	if g.config.RateLimit > 0 {
		g.limiter = security.NewRateLimiter(g.config.RateLimit, time.Minute)
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// engine resolves the memory engine lazily. The engine module starts after
// the gateway (alphabetical module order), so resolution happens per
// request rather than at Start.
func (g *Gateway) engine() (*memory.Engine, bool) {
	svc, ok := g.appCtx.Service("memory.engine")
	if !ok {
		return nil, false
	}
	eng, ok := svc.(*memory.Engine)
	return eng, ok
}

func (g *Gateway) chats() (messageSaver, bool) {
	svc, ok := g.appCtx.Service("memory.chats")
	if !ok {
		return nil, false
	}
	saver, ok := svc.(messageSaver)
	return saver, ok
}

func (g *Gateway) users() (preferencesWriter, bool) {
	svc, ok := g.appCtx.Service("memory.users")
	if !ok {
		return nil, false
	}
	w, ok := svc.(preferencesWriter)
	return w, ok
}

func (g *Gateway) store() (memory.Store, bool) {
	svc, ok := g.appCtx.Service("memory.store")
	if !ok {
		return nil, false
	}
	store, ok := svc.(memory.Store)
	return store, ok
}

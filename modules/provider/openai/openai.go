// Package openai implements the provider.openai module, providing OpenAI
// Chat Completions for extraction and consolidation plus the Embeddings API
// for similarity search.
package openai

import (
	"errors"
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/engramd/engramd/internal/core"
	"github.com/engramd/engramd/internal/embedding"
	"github.com/engramd/engramd/internal/provider"
)

func init() {
	core.RegisterModule(&Provider{})
}

// Compile-time interface guards.
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
	_ embedding.Embedder     = (*Embedder)(nil)
	_ core.Module            = (*Provider)(nil)
	_ core.Configurable      = (*Provider)(nil)
	_ core.Provisioner       = (*Provider)(nil)
	_ core.Validator         = (*Provider)(nil)
)

// Provider implements the OpenAI Chat Completions API as an engramd
// provider module and exposes an Embedder over the same credentials.
type Provider struct {
	config   Config
	logger   *slog.Logger
	client   *http.Client
	embedder *Embedder
}

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "provider.openai",
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	if err := node.Decode(&p.config); err != nil {
		return err
	}
	p.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (p *Provider) Provision(ctx *core.AppContext) error {
	p.logger = ctx.Logger
	p.client = &http.Client{Timeout: p.config.parsedTimeout()}
	p.embedder = &Embedder{provider: p}

	ctx.RegisterService("provider.openai", p)
	ctx.RegisterService("embedder.openai", p.embedder)

	return nil
}

// Validate implements core.Validator.
func (p *Provider) Validate() error {
	if p.config.APIKey == "" {
		return errors.New("provider.openai: api_key is required")
	}
	if p.config.Model == "" {
		return errors.New("provider.openai: model is required")
	}
	if err := p.config.validateTimeout(); err != nil {
		return err
	}
	if p.config.EmbeddingDimensions <= 0 {
		return errors.New("provider.openai: embedding_dimensions must be positive")
	}
	return nil
}

// Embedder returns the embedding client sharing this provider's credentials.
func (p *Provider) Embedder() *Embedder {
	return p.embedder
}

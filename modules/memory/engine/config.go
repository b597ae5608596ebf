package engine

import (
	"fmt"
	"time"

	"github.com/engramd/engramd/internal/memory"
)

// defaultEmbedCacheBytes bounds the query-embedding cache (8 MiB of vector
// data, roughly 1300 cached queries at 1536 dims).
const defaultEmbedCacheBytes = 8 << 20

// Config holds memory.engine tuning. Zero values fall back to the engine
// defaults.
type Config struct {
	// Provider and Embedder name the services to bind against, so a config
	// can pair e.g. provider.anthropic with embedder.openai.
	Provider string `yaml:"provider"`
	Embedder string `yaml:"embedder"`

	MaxMemories            int           `yaml:"max_memories"`
	MinImportance          float64       `yaml:"min_importance"`
	RetrievalLimit         int           `yaml:"retrieval_limit"`
	RetrievalMinImportance float64       `yaml:"retrieval_min_importance"`
	MinMessageLength       int           `yaml:"min_message_length"`
	RecentWindow           int           `yaml:"recent_window"`
	BatchSize              int           `yaml:"batch_size"`
	BatchDelay             time.Duration `yaml:"batch_delay"`

	// EmbedCacheBytes bounds the in-process query-embedding cache.
	// Negative disables caching.
	EmbedCacheBytes int64 `yaml:"embed_cache_bytes"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = "provider.openai"
	}
	if c.Embedder == "" {
		c.Embedder = "embedder.openai"
	}
	if c.EmbedCacheBytes == 0 {
		c.EmbedCacheBytes = defaultEmbedCacheBytes
	}
}

func (c *Config) validate() error {
	if c.MaxMemories < 0 {
		return fmt.Errorf("memory.engine: max_memories must be >= 0, got %d", c.MaxMemories)
	}
	if c.MinImportance < 0 || c.MinImportance > 1 {
		return fmt.Errorf("memory.engine: min_importance must be in [0, 1], got %v", c.MinImportance)
	}
	if c.RetrievalMinImportance < 0 || c.RetrievalMinImportance > 1 {
		return fmt.Errorf("memory.engine: retrieval_min_importance must be in [0, 1], got %v", c.RetrievalMinImportance)
	}
	if c.RetrievalLimit < 0 {
		return fmt.Errorf("memory.engine: retrieval_limit must be >= 0, got %d", c.RetrievalLimit)
	}
	return nil
}

// options maps the config onto engine options.
func (c *Config) options() memory.Options {
	return memory.Options{
		MaxMemories:            c.MaxMemories,
		MinImportance:          c.MinImportance,
		RetrievalLimit:         c.RetrievalLimit,
		RetrievalMinImportance: c.RetrievalMinImportance,
		MinMessageLength:       c.MinMessageLength,
		RecentWindow:           c.RecentWindow,
		BatchSize:              c.BatchSize,
		BatchDelay:             c.BatchDelay,
	}
}

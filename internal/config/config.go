// Package config loads the application configuration from YAML, applying
// defaults for anything unset.
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the remote embedding client.
type EmbeddingConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Model         string `yaml:"model"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	Dimension     int    `yaml:"dimension"`
	BatchSize     int    `yaml:"batch_size"`
	TokenBudget   int    `yaml:"token_budget"`
	CacheDir      string `yaml:"cache_dir"`
	MinIntervalMS int    `yaml:"min_interval_ms"`
	BurstEvery    int    `yaml:"burst_every"`
}

// HostedIndexConfig contains connection details for the hosted index.
type HostedIndexConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	IndexName   string `yaml:"index_name"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	UploadBatch int    `yaml:"upload_batch"`
}

// IndexConfig selects and configures the vector index implementation.
type IndexConfig struct {
	Type   string             `yaml:"type"` // "hosted" or "memory"
	Hosted *HostedIndexConfig `yaml:"hosted,omitempty"`
}

// ChunkerConfig bounds document chunking.
type ChunkerConfig struct {
	TargetTokens   int `yaml:"target_tokens"`
	ModelMaxTokens int `yaml:"model_max_tokens"`
	MinChunkChars  int `yaml:"min_chunk_chars"`
}

// StoreConfig bounds vector store builds.
type StoreConfig struct {
	BuildBatch int `yaml:"build_batch"`
	MaxTokens  int `yaml:"max_tokens"`
}

// RetrieverConfig configures the retrieval façade.
type RetrieverConfig struct {
	TopK int `yaml:"top_k"`
}

// AppConfig is the root application configuration.
type AppConfig struct {
	CorpusDir string          `yaml:"corpus_dir"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Store     StoreConfig     `yaml:"store"`
	Retriever RetrieverConfig `yaml:"retriever"`
}

// Load reads a config from path. A missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.CorpusDir == "" {
		cfg.CorpusDir = "corpus"
	}
	e := &cfg.Embedding
	if e.APIKeyEnv == "" {
		e.APIKeyEnv = "EMBEDDING_API_KEY"
	}
	if e.Model == "" {
		e.Model = "text-embedding-005"
	}
	if e.TimeoutSecs == 0 {
		e.TimeoutSecs = 30
	}
	if e.Dimension == 0 {
		e.Dimension = 768
	}
	if e.BatchSize == 0 {
		e.BatchSize = 10
	}
	if e.TokenBudget == 0 {
		e.TokenBudget = 8000
	}
	if e.CacheDir == "" {
		e.CacheDir = "cache/embeddings"
	}
	if e.MinIntervalMS == 0 {
		e.MinIntervalMS = 100
	}
	if e.BurstEvery == 0 {
		e.BurstEvery = 25
	}

	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Type == "hosted" {
		if cfg.Index.Hosted == nil {
			cfg.Index.Hosted = &HostedIndexConfig{}
		}
		h := cfg.Index.Hosted
		if h.APIKeyEnv == "" {
			h.APIKeyEnv = "VECTOR_INDEX_API_KEY"
		}
		if h.TimeoutSecs == 0 {
			h.TimeoutSecs = 30
		}
		if h.UploadBatch == 0 {
			h.UploadBatch = 100
		}
	}

	if cfg.Chunker.TargetTokens == 0 {
		cfg.Chunker.TargetTokens = 1000
	}
	if cfg.Chunker.ModelMaxTokens == 0 {
		cfg.Chunker.ModelMaxTokens = 15000
	}
	if cfg.Chunker.MinChunkChars == 0 {
		cfg.Chunker.MinChunkChars = 100
	}

	if cfg.Store.BuildBatch == 0 {
		cfg.Store.BuildBatch = 5
	}
	if cfg.Store.MaxTokens == 0 {
		cfg.Store.MaxTokens = 15000
	}

	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 5
	}
}

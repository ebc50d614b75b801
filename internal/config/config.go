// Package config loads the gonzago configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ArtifactsConfig locates the prebuilt retrieval artifacts.
type ArtifactsConfig struct {
	// Source is "dir" or "git"
	Source string `yaml:"source" validate:"oneof=dir git"`
	Dir    string `yaml:"dir" validate:"required_if=Source dir"`

	// Git settings; Dir is the directory inside the repository
	GitURL string `yaml:"git_url" validate:"required_if=Source git"`
	GitRef string `yaml:"git_ref"`

	Vectors   string `yaml:"vectors" validate:"required"`
	Index     string `yaml:"index"`
	Documents string `yaml:"documents" validate:"required"`
}

// MilvusConfig configures the remote index.
type MilvusConfig struct {
	Address        string `yaml:"address" validate:"required"`
	Collection     string `yaml:"collection" validate:"required"`
	Metric         string `yaml:"metric" validate:"omitempty,oneof=L2 IP COSINE l2 ip cosine"`
	M              int    `yaml:"m" validate:"gt=0"`
	EfConstruction int    `yaml:"ef_construction" validate:"gt=0"`
	Ef             int    `yaml:"ef" validate:"gt=0"`
}

// IndexConfig selects the ANN index implementation.
type IndexConfig struct {
	// Type is "faiss" (flat index file among the artifacts) or "milvus"
	Type   string       `yaml:"type" validate:"oneof=faiss milvus"`
	Milvus MilvusConfig `yaml:"milvus"`
}

// EmbedderConfig configures the query embedder endpoint.
type EmbedderConfig struct {
	BaseURL           string `yaml:"base_url" validate:"omitempty,url"`
	Model             string `yaml:"model" validate:"required"`
	Dimension         int    `yaml:"dimension" validate:"gte=0"`
	RequestDimensions bool   `yaml:"request_dimensions"`
	APIKeyEnv         string `yaml:"api_key_env"`
}

// LLMConfig configures the answer generator endpoint.
type LLMConfig struct {
	BaseURL      string  `yaml:"base_url" validate:"omitempty,url"`
	Model        string  `yaml:"model" validate:"required"`
	MaxNewTokens int     `yaml:"max_new_tokens" validate:"gt=0"`
	Temperature  float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP         float32 `yaml:"top_p" validate:"gte=0,lte=1"`
	APIKeyEnv    string  `yaml:"api_key_env"`
}

// RetrievalConfig holds per-query defaults.
type RetrievalConfig struct {
	TopK  int    `yaml:"top_k" validate:"gt=0"`
	Style string `yaml:"style" validate:"oneof=shake plain no-shake"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr                     string        `yaml:"addr" validate:"required"`
	CORSOrigins              []string      `yaml:"cors_origins"`
	RatePerSec               float64       `yaml:"rate_per_sec" validate:"gte=0"`
	Burst                    int           `yaml:"burst" validate:"gte=0"`
	MaxConcurrentGenerations int64         `yaml:"max_concurrent_generations" validate:"gt=0"`
	RequestTimeout           time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// HistoryConfig configures transcript persistence.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Config is the root application configuration structure.
type Config struct {
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Index     IndexConfig     `yaml:"index"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Artifacts: ArtifactsConfig{
			Source:    "dir",
			Dir:       "artifacts",
			Vectors:   "shakespeare_embeddings.npy",
			Index:     "shakespeare_index.faiss",
			Documents: "shakespeare_documents.json",
		},
		Index: IndexConfig{
			Type: "faiss",
			Milvus: MilvusConfig{
				Address:        "localhost:19530",
				Collection:     "shakespeare_passages",
				Metric:         "L2",
				M:              16,
				EfConstruction: 256,
				Ef:             64,
			},
		},
		Embedder: EmbedderConfig{
			BaseURL:   "http://localhost:8080/v1",
			Model:     "sentence-transformers/all-mpnet-base-v2",
			Dimension: 768,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		LLM: LLMConfig{
			BaseURL:      "http://localhost:8000/v1",
			Model:        "Qwen/Qwen2.5-7B-Instruct",
			MaxNewTokens: 200,
			Temperature:  0.8,
			TopP:         0.9,
			APIKeyEnv:    "OPENAI_API_KEY",
		},
		Retrieval: RetrievalConfig{
			TopK:  5,
			Style: "plain",
		},
		Server: ServerConfig{
			Addr:                     ":8080",
			CORSOrigins:              []string{"*"},
			RatePerSec:               2,
			Burst:                    5,
			MaxConcurrentGenerations: 1,
			RequestTimeout:           120 * time.Second,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "gonzago_history.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a config from path on top of Defaults, then applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GONZAGO_EMBEDDER_BASE_URL"); v != "" {
		c.Embedder.BaseURL = v
	}
	if v := os.Getenv("GONZAGO_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("MILVUS_ADDRESS"); v != "" {
		c.Index.Milvus.Address = v
	}
	if v := os.Getenv("MILVUS_COLLECTION"); v != "" {
		c.Index.Milvus.Collection = v
	}
	if v := os.Getenv("GONZAGO_ARTIFACTS_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv("GONZAGO_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// EmbedderAPIKey resolves the embedder key from its environment variable.
func (c *Config) EmbedderAPIKey() string { return lookupKey(c.Embedder.APIKeyEnv) }

// LLMAPIKey resolves the LLM key from its environment variable.
func (c *Config) LLMAPIKey() string { return lookupKey(c.LLM.APIKeyEnv) }

func lookupKey(env string) string {
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Index.Type == "faiss" && c.Artifacts.Index == "" {
		return errors.New("invalid config: artifacts.index is required for the faiss index")
	}
	return nil
}

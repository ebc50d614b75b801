// Package narrative turns retrieved Shakespeare passages into an answer.
// It assembles the expert prompt and defines a provider-agnostic LLM
// interface with an OpenAI-compatible implementation and a deterministic
// mock for testing.
package narrative

import (
	"context"
	"errors"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// GenerateParams are the sampling settings for one generation.
type GenerateParams struct {
	// MaxNewTokens limits the response length (0 = provider default)
	MaxNewTokens int `json:"max_new_tokens"`

	// Temperature controls randomness (0 = provider default)
	Temperature float32 `json:"temperature"`

	// TopP is the nucleus sampling mass (0 = provider default)
	TopP float32 `json:"top_p"`
}

// LLM defines the interface for interacting with language models.
// Implementations must be safe for concurrent use.
type LLM interface {
	// Generate produces text from a prompt using the configured model.
	// Returns the generated text or an error if generation fails.
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
}

// LLMConfig holds common configuration options for LLM providers.
type LLMConfig struct {
	// Model specifies the model identifier
	Model string

	// BaseURL points at an OpenAI-compatible server such as vLLM; empty
	// means api.openai.com
	BaseURL string

	// APIKey is the authentication key for the provider
	APIKey string

	// Default sampling settings
	MaxNewTokens int
	Temperature  float32
	TopP         float32
}

// DefaultLLMConfig returns the sampling defaults used for answering.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:        "Qwen/Qwen2.5-7B-Instruct",
		MaxNewTokens: 200,
		Temperature:  0.8,
		TopP:         0.9,
	}
}

// Params returns the configured sampling settings.
func (c LLMConfig) Params() GenerateParams {
	return GenerateParams{
		MaxNewTokens: c.MaxNewTokens,
		Temperature:  c.Temperature,
		TopP:         c.TopP,
	}
}

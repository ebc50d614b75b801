package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrGenerationFailed = errors.New("answer generation failed")
)

// Answer is the generated reply to a question.
type Answer struct {
	// Question is the question as it was put into the prompt
	Question string `json:"question"`

	// Text is the generated answer with surrounding whitespace removed
	Text string `json:"text"`

	// GeneratedAt is when this answer was created
	GeneratedAt time.Time `json:"generated_at"`

	// Model is the LLM model used to generate this answer
	Model string `json:"model"`
}

// Generator produces answers using an LLM.
// It invokes an LLM on an already-assembled prompt.
type Generator struct {
	llm    LLM
	config LLMConfig
}

// NewGenerator creates an answer generator with the given LLM implementation.
func NewGenerator(llm LLM, config LLMConfig) *Generator {
	return &Generator{
		llm:    llm,
		config: config,
	}
}

// Config returns the generator configuration.
func (g *Generator) Config() LLMConfig { return g.config }

// Generate invokes the LLM with an already-assembled prompt.
// It must not perform retrieval or prompt construction.
func (g *Generator) Generate(ctx context.Context, question, prompt string, params GenerateParams) (*Answer, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrGenerationFailed)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrGenerationFailed)
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrGenerationFailed)
	}

	text, err := g.llm.Generate(ctx, prompt, params)
	if err != nil {
		return nil, fmt.Errorf("%w: LLM invocation failed: %w", ErrGenerationFailed, err)
	}

	return &Answer{
		Question:    question,
		Text:        strings.TrimSpace(text),
		GeneratedAt: time.Now(),
		Model:       g.config.Model,
	}, nil
}

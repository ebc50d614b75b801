package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

// ErrNoCandidates is returned by Answer when the question names an act or
// scene that no passage carries. The generator is not invoked.
var ErrNoCandidates = errors.New(rag.NoCandidatesMessage)

// RAGConfig holds per-query defaults for the answering pipeline.
type RAGConfig struct {
	// TopK is the number of passages to retrieve as context
	TopK int

	// Style selects the tone instruction in the prompt
	Style narrative.Style

	// LLMConfig holds the model name and default sampling settings
	LLMConfig narrative.LLMConfig
}

// DefaultRAGConfig returns sensible defaults for the RAG pipeline.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		TopK:      5,
		Style:     narrative.StylePlain,
		LLMConfig: narrative.DefaultLLMConfig(),
	}
}

// AnswerOptions override the pipeline defaults for one question.
// Zero values fall back to the RAGConfig.
type AnswerOptions struct {
	TopK   int
	Style  narrative.Style
	Params *narrative.GenerateParams

	// History holds earlier questions of the conversation, oldest first
	History []string
}

// Response is the full record of one answered question.
type Response struct {
	Answer    *narrative.Answer `json:"answer"`
	Retrieval *rag.Retrieval    `json:"retrieval"`
	Prompt    string            `json:"prompt"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// Pipeline wires retrieval, prompt assembly and generation. It holds the
// loaded passage store and backend clients; build one at startup and share
// it. A Pipeline is safe for concurrent use when its backends are.
type Pipeline struct {
	config    RAGConfig
	retriever *rag.Retriever
	generator *narrative.Generator
	logger    *zap.Logger
	closers   []func() error
}

// NewPipeline assembles a pipeline from ready components.
func NewPipeline(retriever *rag.Retriever, generator *narrative.Generator, config RAGConfig, logger *zap.Logger) (*Pipeline, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if config.TopK <= 0 {
		return nil, fmt.Errorf("%w, got %d", rag.ErrInvalidTopK, config.TopK)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:    config,
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}, nil
}

// Config returns the pipeline defaults.
func (p *Pipeline) Config() RAGConfig { return p.config }

// Store returns the loaded passage store.
func (p *Pipeline) Store() *rag.PassageStore { return p.retriever.Store() }

// Close releases resources held by the RAG pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Answer runs the full pipeline with default options.
func (p *Pipeline) Answer(ctx context.Context, question string) (*narrative.Answer, error) {
	resp, err := p.AnswerWithOptions(ctx, question, AnswerOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Answer, nil
}

// Retrieve extracts the act/scene filter from the question and returns the
// ranked passages without generating an answer.
func (p *Pipeline) Retrieve(ctx context.Context, question string, topK int) (*rag.Retrieval, error) {
	if topK <= 0 {
		topK = p.config.TopK
	}
	return p.retriever.Retrieve(ctx, question, topK, rag.ExtractActScene(question))
}

// AnswerWithOptions answers a question.
// The pipeline: history merge -> filter extraction -> retrieval -> prompt assembly -> LLM generation
func (p *Pipeline) AnswerWithOptions(ctx context.Context, question string, opts AnswerOptions) (*Response, error) {
	if question == "" {
		return nil, rag.ErrEmptyQuery
	}
	start := time.Now()

	topK := opts.TopK
	if topK <= 0 {
		topK = p.config.TopK
	}
	style := opts.Style
	if style == "" {
		style = p.config.Style
	}
	params := p.config.LLMConfig.Params()
	if opts.Params != nil {
		params = *opts.Params
	}

	query := CombineWithHistory(question, opts.History)
	filter := rag.ExtractActScene(query)

	// Stage 1: Retrieval
	p.logger.Info("Stage 1: retrieving passages",
		zap.Int("top_k", topK),
		zap.Stringer("filter", filter),
		zap.Int("history", len(opts.History)),
	)
	retrieval, err := p.retriever.Retrieve(ctx, query, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	if retrieval.NoCandidates() {
		p.logger.Info("no passages match the act/scene filter", zap.Stringer("filter", filter))
		return nil, fmt.Errorf("%w (%s)", ErrNoCandidates, filter)
	}
	p.logger.Info("retrieved passages",
		zap.Int("count", len(retrieval.Results)),
		zap.String("path", string(retrieval.Path)),
		zap.String("score_kind", string(retrieval.ScoreKind)),
	)
	if p.logger.Core().Enabled(zap.DebugLevel) {
		for i, r := range retrieval.Results {
			p.logger.Debug("retrieved passage",
				zap.Int("rank", i+1),
				zap.String("id", r.ID),
				zap.Float32("score", r.Score),
				zap.String("text", preview(r.Text, 120)),
			)
		}
	}

	// Stage 2: Prompt Assembly
	prompt := narrative.AssemblePrompt(retrieval.Results, query, style)
	p.logger.Info("Stage 2: assembled prompt",
		zap.String("style", string(style)),
		zap.Int("chars", len(prompt)),
	)

	// Stage 3: LLM Generation
	p.logger.Info("Stage 3: generating answer",
		zap.Int("max_new_tokens", params.MaxNewTokens),
		zap.Float32("temperature", params.Temperature),
		zap.Float32("top_p", params.TopP),
	)
	answer, err := p.generator.Generate(ctx, query, prompt, params)
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	elapsed := time.Since(start)
	p.logger.Info("generated answer",
		zap.Int("chars", len(answer.Text)),
		zap.Duration("elapsed", elapsed),
	)

	return &Response{
		Answer:    answer,
		Retrieval: retrieval,
		Prompt:    prompt,
		Elapsed:   elapsed,
	}, nil
}

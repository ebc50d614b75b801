package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hasanmiraz/shakespeareChatBot/internal/config"
	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag/store"
)

// OpenSource opens the artifact location named by the configuration:
// a local directory, or a git repository pinned at a ref.
func OpenSource(ctx context.Context, cfg config.ArtifactsConfig) (store.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before opening artifacts: %w", err)
	}

	switch cfg.Source {
	case "git":
		return store.NewGitSource(ctx, store.GitConfig{
			URL: cfg.GitURL,
			Ref: cfg.GitRef,
			Dir: cfg.Dir,
		})
	case "dir", "":
		return store.NewDirSource(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown artifact source %q", cfg.Source)
	}
}

// MilvusConfigFrom overlays the index section on rag.DefaultMilvusConfig.
// Zero values keep the default.
func MilvusConfigFrom(cfg *config.Config) (rag.MilvusConfig, error) {
	mc := rag.DefaultMilvusConfig()
	m := cfg.Index.Milvus

	metric, err := rag.ParseMetric(m.Metric)
	if err != nil {
		return rag.MilvusConfig{}, err
	}
	mc.MetricType = metric
	if m.Address != "" {
		mc.Address = m.Address
	}
	if m.Collection != "" {
		mc.CollectionName = m.Collection
	}
	if cfg.Embedder.Dimension > 0 {
		mc.Dimension = cfg.Embedder.Dimension
	}
	if m.M > 0 {
		mc.M = m.M
	}
	if m.EfConstruction > 0 {
		mc.EfConstruction = m.EfConstruction
	}
	if m.Ef > 0 {
		mc.Ef = m.Ef
	}
	return mc, nil
}

// IndexOpenerFrom selects the index implementation named by the config.
func IndexOpenerFrom(cfg *config.Config) (rag.IndexOpener, error) {
	switch cfg.Index.Type {
	case "milvus":
		mc, err := MilvusConfigFrom(cfg)
		if err != nil {
			return nil, err
		}
		return rag.MilvusIndexOpener(mc), nil
	case "faiss", "":
		return rag.FaissIndexOpener(cfg.Artifacts.Index), nil
	default:
		return nil, fmt.Errorf("%w: %q", rag.ErrUnsupportedIndex, cfg.Index.Type)
	}
}

// ArtifactPathsFrom returns the artifact names from the config.
func ArtifactPathsFrom(cfg config.ArtifactsConfig) rag.ArtifactPaths {
	return rag.ArtifactPaths{
		Vectors:   cfg.Vectors,
		Index:     cfg.Index,
		Documents: cfg.Documents,
	}
}

// LoadStore opens the artifact source and loads a consistent passage store.
func LoadStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*rag.PassageStore, error) {
	src, err := OpenSource(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifacts: %w", err)
	}
	defer src.Close()

	opener, err := IndexOpenerFrom(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("loading passage store",
		zap.String("source", src.Describe()),
		zap.String("index", cfg.Index.Type),
	)
	ps, err := rag.LoadPassageStore(ctx, src, ArtifactPathsFrom(cfg.Artifacts), opener)
	if err != nil {
		return nil, fmt.Errorf("failed to load passage store from %s: %w", src.Describe(), err)
	}
	logger.Info("passage store ready",
		zap.Int("passages", ps.Len()),
		zap.Int("dimension", ps.Dim()),
		zap.String("metric", string(ps.Index().Metric())),
	)
	return ps, nil
}

// LLMConfigFrom maps the llm section onto a narrative.LLMConfig.
func LLMConfigFrom(cfg *config.Config) narrative.LLMConfig {
	return narrative.LLMConfig{
		Model:        cfg.LLM.Model,
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLMAPIKey(),
		MaxNewTokens: cfg.LLM.MaxNewTokens,
		Temperature:  cfg.LLM.Temperature,
		TopP:         cfg.LLM.TopP,
	}
}

// NewPipelineFromConfig loads the artifacts and connects the embedder and
// LLM backends named by cfg.
func NewPipelineFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	style, err := narrative.ParseStyle(cfg.Retrieval.Style)
	if err != nil {
		return nil, err
	}

	embedder, err := rag.NewOpenAIEmbedder(rag.EmbedderConfig{
		BaseURL:           cfg.Embedder.BaseURL,
		Model:             cfg.Embedder.Model,
		Dimension:         cfg.Embedder.Dimension,
		RequestDimensions: cfg.Embedder.RequestDimensions,
		APIKey:            cfg.EmbedderAPIKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	llmConfig := LLMConfigFrom(cfg)
	llm, err := narrative.NewOpenAILLM(llmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM: %w", err)
	}

	ps, err := LoadStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Embedder.Dimension > 0 && cfg.Embedder.Dimension != ps.Dim() {
		ps.Close()
		return nil, &rag.ConsistencyError{What: "embedder dimension", Want: ps.Dim(), Got: cfg.Embedder.Dimension}
	}

	retriever, err := rag.NewRetriever(embedder, ps, logger.Named("retriever"))
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	p, err := NewPipeline(retriever, narrative.NewGenerator(llm, llmConfig), RAGConfig{
		TopK:      cfg.Retrieval.TopK,
		Style:     style,
		LLMConfig: llmConfig,
	}, logger.Named("pipeline"))
	if err != nil {
		ps.Close()
		return nil, err
	}
	p.closers = append(p.closers, ps.Close)
	return p, nil
}

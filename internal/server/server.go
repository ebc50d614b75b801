// Package server exposes the answering pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hasanmiraz/shakespeareChatBot/internal/config"
	"github.com/hasanmiraz/shakespeareChatBot/internal/history"
	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

const (
	greeting            = "I am shake speare"
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Pipeline is the part of orchestrator.Pipeline the server needs.
type Pipeline interface {
	AnswerWithOptions(ctx context.Context, question string, opts orchestrator.AnswerOptions) (*orchestrator.Response, error)
	Retrieve(ctx context.Context, question string, topK int) (*rag.Retrieval, error)
	Config() orchestrator.RAGConfig
	Store() *rag.PassageStore
}

// History records and lists answered questions.
type History interface {
	Record(ctx context.Context, e *history.Exchange) error
	Recent(ctx context.Context, limit int) ([]history.Exchange, error)
}

// Server serves the HTTP API.
type Server struct {
	config   config.ServerConfig
	pipeline Pipeline
	history  History
	logger   *zap.Logger
	limiter  *rate.Limiter
	slots    *semaphore.Weighted
}

// New creates a server. hist may be nil when transcripts are disabled.
func New(cfg config.ServerConfig, pipeline Pipeline, hist History, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := cfg.MaxConcurrentGenerations
	if slots <= 0 {
		slots = 1
	}
	return &Server{
		config:   cfg,
		pipeline: pipeline,
		history:  hist,
		logger:   logger,
		limiter:  newLimiter(cfg.RatePerSec, cfg.Burst),
		slots:    semaphore.NewWeighted(slots),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.limiter))
		r.Get("/chatbot/{query}", s.handleChatbot)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(s.limiter))
			r.Post("/answer", s.handleAnswer)
			r.Post("/retrieve", s.handleRetrieve)
		})
		r.Get("/history", s.handleHistory)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "")
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	WriteOK(w, map[string]string{"message": greeting})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteOK(w, map[string]any{
		"status":   "ok",
		"passages": s.pipeline.Store().Len(),
	})
}

// chatbotResponse is the body of GET /chatbot/{query}.
type chatbotResponse struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	query := chi.URLParam(r, "query")
	// chi routes on RawPath when it is set, leaving the segment escaped.
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(query); err == nil {
			query = unescaped
		}
	}
	if query == "" {
		WriteBadRequest(w, "query is required", nil)
		return
	}

	resp, err := s.answer(r.Context(), query, orchestrator.AnswerOptions{})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, chatbotResponse{Query: query, Response: resp.Answer.Text})
}

// answerRequest is the body of POST /api/v1/answer.
type answerRequest struct {
	Question     string   `json:"question" validate:"required,max=2000"`
	Style        string   `json:"style" validate:"omitempty,oneof=shake plain no-shake"`
	TopK         int      `json:"top_k" validate:"gte=0,lte=50"`
	History      []string `json:"history" validate:"max=20"`
	MaxNewTokens int      `json:"max_new_tokens" validate:"gte=0,lte=4096"`
	Temperature  *float32 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
}

// answerResponse is the body of a successful POST /api/v1/answer.
type answerResponse struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Model     string            `json:"model"`
	Style     narrative.Style   `json:"style"`
	Passages  []rag.Result      `json:"passages"`
	Filter    rag.QueryFilter   `json:"filter"`
	Path      rag.RetrievalPath `json:"path"`
	ScoreKind rag.ScoreKind     `json:"score_kind"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !s.decode(w, r, &req) {
		return
	}

	style, err := narrative.ParseStyle(req.Style)
	if err != nil {
		WriteBadRequest(w, err.Error(), nil)
		return
	}
	if req.Style == "" {
		style = s.pipeline.Config().Style
	}

	opts := orchestrator.AnswerOptions{
		TopK:    req.TopK,
		Style:   style,
		History: req.History,
	}
	if req.MaxNewTokens > 0 || req.Temperature != nil {
		params := s.pipeline.Config().LLMConfig.Params()
		if req.MaxNewTokens > 0 {
			params.MaxNewTokens = req.MaxNewTokens
		}
		if req.Temperature != nil {
			params.Temperature = *req.Temperature
		}
		opts.Params = &params
	}

	resp, err := s.answer(r.Context(), req.Question, opts)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	WriteOK(w, answerResponse{
		Question:  req.Question,
		Answer:    resp.Answer.Text,
		Model:     resp.Answer.Model,
		Style:     style,
		Passages:  resp.Retrieval.Results,
		Filter:    resp.Retrieval.Filter,
		Path:      resp.Retrieval.Path,
		ScoreKind: resp.Retrieval.ScoreKind,
		ElapsedMS: resp.Elapsed.Milliseconds(),
	})
}

// retrieveRequest is the body of POST /api/v1/retrieve.
type retrieveRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
	TopK     int    `json:"top_k" validate:"gte=0,lte=50"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}

	retrieval, err := s.pipeline.Retrieve(r.Context(), req.Question, req.TopK)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	WriteOK(w, retrieval)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		WriteNotFound(w, "history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			WriteBadRequest(w, "limit must be between 1 and 100", map[string]any{"limit": v})
			return
		}
		limit = n
	}

	exchanges, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing history", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to read history", nil)
		return
	}
	WriteOK(w, exchanges)
}

// answer runs the pipeline inside a generation slot and records the
// exchange when history is enabled.
func (s *Server) answer(ctx context.Context, question string, opts orchestrator.AnswerOptions) (*orchestrator.Response, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, errSlotsExhausted
	}
	defer s.slots.Release(1)

	resp, err := s.pipeline.AnswerWithOptions(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		ids := make([]string, len(resp.Retrieval.Results))
		for i, res := range resp.Retrieval.Results {
			ids[i] = res.ID
		}
		style := opts.Style
		if style == "" {
			style = s.pipeline.Config().Style
		}
		err := s.history.Record(ctx, &history.Exchange{
			Question:      question,
			Answer:        resp.Answer.Text,
			Style:         string(style),
			RetrievalPath: string(resp.Retrieval.Path),
			Passages:      ids,
		})
		if err != nil {
			s.logger.Warn("recording exchange", zap.Error(err))
		}
	}
	return resp, nil
}

var errSlotsExhausted = errors.New("no generation slot became free before the request ended")

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteBadRequest(w, "invalid JSON body", map[string]any{"error": err.Error()})
		return false
	}
	if err := ValidateStruct(dst); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			WriteBadRequest(w, verr.Message, verr.details())
			return false
		}
		WriteBadRequest(w, err.Error(), nil)
		return false
	}
	return true
}

// writeFailure maps pipeline errors onto HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	WriteError(w, status, err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNoCandidates):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrEmptyQuery),
		errors.Is(err, rag.ErrInvalidTopK),
		errors.Is(err, narrative.ErrUnknownStyle):
		return http.StatusBadRequest
	case errors.Is(err, errSlotsExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrEmbeddingFailed),
		errors.Is(err, rag.ErrSearchFailed),
		errors.Is(err, narrative.ErrLLMFailed),
		errors.Is(err, narrative.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

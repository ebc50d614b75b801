package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmiraz/shakespeareChatBot/internal/config"
	"github.com/hasanmiraz/shakespeareChatBot/internal/history"
	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/orchestrator"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

type stubEmbedder struct{ vec []float32 }

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([]rag.EmbeddingRecord, error) {
	out := make([]rag.EmbeddingRecord, len(texts))
	for i, text := range texts {
		out[i] = rag.EmbeddingRecord{Text: text, Embedding: s.vec, Index: i}
	}
	return out, nil
}
func (s stubEmbedder) GetModel() string  { return "stub" }
func (s stubEmbedder) GetDimension() int { return len(s.vec) }

// blockingLLM holds every generation until release is closed.
type blockingLLM struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLLM) Generate(ctx context.Context, prompt string, params narrative.GenerateParams) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newPipeline(t *testing.T, llm narrative.LLM) *orchestrator.Pipeline {
	t.Helper()

	passages := []rag.Passage{
		{ID: "0", Text: "Who's there?", Metadata: rag.Metadata{"act": "1", "scene": "1"}},
		{ID: "1", Text: "Long live the king!", Metadata: rag.Metadata{"act": "1", "scene": "1"}},
		{ID: "2", Text: "To be, or not to be", Metadata: rag.Metadata{"act": "3", "scene": "1"}},
	}
	m, err := rag.NewMatrix([][]float32{{1, 0}, {0.6, 0.8}, {0, 1}})
	require.NoError(t, err)
	idx, err := rag.NewFlatIndex(m, rag.MetricL2)
	require.NoError(t, err)
	ps, err := rag.NewPassageStore(passages, m, idx)
	require.NoError(t, err)
	retriever, err := rag.NewRetriever(stubEmbedder{vec: []float32{1, 0}}, ps, nil)
	require.NoError(t, err)

	cfg := orchestrator.DefaultRAGConfig()
	p, err := orchestrator.NewPipeline(retriever, narrative.NewGenerator(llm, cfg.LLMConfig), cfg, nil)
	require.NoError(t, err)
	return p
}

func testServerConfig() config.ServerConfig {
	cfg := config.Defaults().Server
	cfg.RatePerSec = 0
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRootAndHealth(t *testing.T) {
	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLM("ok")), nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"message":"I am shake speare"}}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"status":"ok","passages":3}}`, rec.Body.String())
}

func TestChatbot(t *testing.T) {
	llm := narrative.NewMockLLM("The watch is changed.")
	h := New(testServerConfig(), newPipeline(t, llm), nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/chatbot/What%20happens%20in%20Act%201%20Scene%201%3F", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"query":"What happens in Act 1 Scene 1?","response":"The watch is changed."}`, rec.Body.String())
	assert.Contains(t, llm.LastPrompt(), "Who's there?")
}

func TestChatbot_DecodesOnce(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
	}{
		{"literal percent kept", "/chatbot/what%20is%20%2541", "what is %41"},
		{"escaped slash", "/chatbot/Act%201%2FScene%201", "Act 1/Scene 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := narrative.NewMockLLM("ok")
			h := New(testServerConfig(), newPipeline(t, llm), nil, nil).Handler()

			rec := do(t, h, http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.query, decodeBody(t, rec)["query"])
			assert.Contains(t, llm.LastPrompt(), tt.query)
		})
	}
}

func TestAnswer(t *testing.T) {
	llm := narrative.NewMockLLM("Francisco is relieved.")
	h := New(testServerConfig(), newPipeline(t, llm), nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/answer",
		`{"question":"What happens in Act 1 Scene 1?","style":"shake","max_new_tokens":64}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "Francisco is relieved.", data["answer"])
	assert.Equal(t, "shake", data["style"])
	assert.Equal(t, "filtered", data["path"])
	assert.Equal(t, "cosine", data["score_kind"])
	assert.Len(t, data["passages"], 2)
	assert.Equal(t, 64, llm.LastParams().MaxNewTokens)
	assert.Contains(t, llm.LastPrompt(), "Shakespearean English")
}

func TestAnswer_NoCandidates(t *testing.T) {
	llm := narrative.NewMockLLM("unused")
	h := New(testServerConfig(), newPipeline(t, llm), nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"What happens in Act 4 Scene 9?"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
	assert.Zero(t, llm.Calls())
}

func TestAnswer_Validation(t *testing.T) {
	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLM("ok")), nil, nil).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"missing question", `{}`},
		{"bad style", `{"question":"Hamlet?","style":"pirate"}`},
		{"top_k too large", `{"question":"Hamlet?","top_k":500}`},
		{"unknown field", `{"question":"Hamlet?","repetition_penalty":1.2}`},
		{"not json", `question=Hamlet`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/answer", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "bad_request", decodeBody(t, rec)["error"])
		})
	}
}

func TestAnswer_BackendFailure(t *testing.T) {
	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLMWithError(errors.New("vllm down"))), nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"Who is Hamlet?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "backend_error", decodeBody(t, rec)["error"])
}

func TestRetrieve(t *testing.T) {
	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLM("ok")), nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/retrieve", `{"question":"Who is Hamlet?","top_k":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "index", data["path"])
	assert.Len(t, data["results"], 2)

	// The structured no-candidates outcome is a successful response.
	rec = do(t, h, http.MethodPost, "/api/v1/retrieve", `{"question":"Act 7"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, rag.NoCandidatesMessage, data["error"])
	assert.Empty(t, data["results"])
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RatePerSec = 0.001
	cfg.Burst = 1
	h := New(cfg, newPipeline(t, narrative.NewMockLLM("ok")), nil, nil).Handler()

	first := do(t, h, http.MethodPost, "/api/v1/retrieve", `{"question":"Hamlet"}`)
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, h, http.MethodPost, "/api/v1/retrieve", `{"question":"Hamlet"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "rate_limit_exceeded", decodeBody(t, second)["error"])

	// health checks are not limited
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestGenerationSlotsExhausted(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{}, 1), release: make(chan struct{})}
	cfg := testServerConfig()
	cfg.RequestTimeout = 0
	cfg.MaxConcurrentGenerations = 1
	h := New(cfg, newPipeline(t, llm), nil, nil).Handler()

	done := make(chan int, 1)
	go func() {
		done <- do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"Who is Hamlet?"}`).Code
	}()
	<-llm.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", strings.NewReader(`{"question":"Who is Ophelia?"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(llm.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLM("A jester.")), store, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/answer", `{"question":"Who is Yorick?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	exchanges := decodeBody(t, rec)["data"].([]any)
	require.Len(t, exchanges, 1)
	first := exchanges[0].(map[string]any)
	assert.Equal(t, "Who is Yorick?", first["question"])
	assert.Equal(t, "A jester.", first["answer"])
	assert.Equal(t, "index", first["retrieval_path"])

	rec = do(t, h, http.MethodGet, "/api/v1/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_Disabled(t *testing.T) {
	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLM("ok")), nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotFound(t *testing.T) {
	h := New(testServerConfig(), newPipeline(t, narrative.NewMockLLM("ok")), nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(orchestrator.ErrNoCandidates))
	assert.Equal(t, http.StatusBadRequest, statusFor(rag.ErrEmptyQuery))
	assert.Equal(t, http.StatusBadGateway, statusFor(rag.ErrEmbeddingFailed))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errSlotsExhausted))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hasanmiraz/shakespeareChatBot/internal/narrative"
	"github.com/hasanmiraz/shakespeareChatBot/internal/rag"
)

// stubEmbedder returns the same vector for every text
type stubEmbedder struct {
	vec   []float32
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([]rag.EmbeddingRecord, error) {
	s.calls++
	records := make([]rag.EmbeddingRecord, len(texts))
	for i, text := range texts {
		records[i] = rag.EmbeddingRecord{Text: text, Embedding: s.vec, Index: i, Model: "stub"}
	}
	return records, nil
}

func (s *stubEmbedder) GetModel() string  { return "stub" }
func (s *stubEmbedder) GetDimension() int { return len(s.vec) }

func testPassages() []rag.Passage {
	return []rag.Passage{
		{ID: "0", Text: "Who's there?", Metadata: rag.Metadata{"act": "1", "scene": "1"}},
		{ID: "1", Text: "Nay, answer me: stand, and unfold yourself.", Metadata: rag.Metadata{"act": "1", "scene": "1"}},
		{ID: "2", Text: "To be, or not to be", Metadata: rag.Metadata{"act": "3", "scene": "1"}},
		{ID: "3", Text: "The rest is silence.", Metadata: rag.Metadata{"act": "5", "scene": "2"}},
	}
}

func testVectors() [][]float32 {
	return [][]float32{{1, 0}, {0.6, 0.8}, {0, 1}, {-1, 0}}
}

func newTestPipeline(t *testing.T, llm narrative.LLM, embedder *stubEmbedder) *Pipeline {
	t.Helper()
	m, err := rag.NewMatrix(testVectors())
	if err != nil {
		t.Fatalf("NewMatrix failed: %v", err)
	}
	idx, err := rag.NewFlatIndex(m, rag.MetricL2)
	if err != nil {
		t.Fatalf("NewFlatIndex failed: %v", err)
	}
	ps, err := rag.NewPassageStore(testPassages(), m, idx)
	if err != nil {
		t.Fatalf("NewPassageStore failed: %v", err)
	}
	retriever, err := rag.NewRetriever(embedder, ps, nil)
	if err != nil {
		t.Fatalf("NewRetriever failed: %v", err)
	}

	config := DefaultRAGConfig()
	p, err := NewPipeline(retriever, narrative.NewGenerator(llm, config.LLMConfig), config, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p
}

func TestDefaultRAGConfig(t *testing.T) {
	config := DefaultRAGConfig()

	if config.TopK != 5 {
		t.Errorf("Expected TopK=5, got %d", config.TopK)
	}
	if config.Style != narrative.StylePlain {
		t.Errorf("Expected plain style, got %s", config.Style)
	}
	if config.LLMConfig.MaxNewTokens != 200 {
		t.Errorf("Expected MaxNewTokens=200, got %d", config.LLMConfig.MaxNewTokens)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	if _, err := NewPipeline(nil, narrative.NewGenerator(narrative.NewMockLLM("x"), narrative.DefaultLLMConfig()), DefaultRAGConfig(), nil); err == nil {
		t.Error("expected error for nil retriever")
	}
}

func TestPipeline_Answer_ActScene(t *testing.T) {
	llm := narrative.NewMockLLM("Marcellus and Barnardo keep the watch.")
	embedder := &stubEmbedder{vec: []float32{1, 0}}
	p := newTestPipeline(t, llm, embedder)

	resp, err := p.AnswerWithOptions(context.Background(), "What happens in Act 1 Scene 1?", AnswerOptions{})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if resp.Answer.Text != "Marcellus and Barnardo keep the watch." {
		t.Errorf("unexpected answer: %s", resp.Answer.Text)
	}
	if resp.Retrieval.Path != rag.PathFiltered {
		t.Errorf("expected filtered path, got %s", resp.Retrieval.Path)
	}
	if len(resp.Retrieval.Results) != 2 {
		t.Fatalf("expected the 2 act 1 scene 1 passages, got %d", len(resp.Retrieval.Results))
	}

	prompt := llm.LastPrompt()
	if prompt != resp.Prompt {
		t.Error("LLM did not receive the assembled prompt")
	}
	first := strings.Index(prompt, "[Passage 1]\nWho's there?")
	second := strings.Index(prompt, "[Passage 2]\nNay, answer me")
	if first < 0 || second < first {
		t.Errorf("passages missing or out of order in prompt:\n%s", prompt)
	}
	if strings.Contains(prompt, "To be, or not to be") {
		t.Error("passage from another act leaked into the prompt")
	}
	if !strings.HasSuffix(prompt, "### Question:\nWhat happens in Act 1 Scene 1?\n\n### Answer:\n") {
		t.Errorf("unexpected prompt tail: %q", prompt)
	}
}

func TestPipeline_Answer_NoCandidates(t *testing.T) {
	llm := narrative.NewMockLLM("unused")
	embedder := &stubEmbedder{vec: []float32{1, 0}}
	p := newTestPipeline(t, llm, embedder)

	_, err := p.Answer(context.Background(), "What happens in Act 4 Scene 7?")
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if llm.Calls() != 0 {
		t.Error("generator must not run without passages")
	}
	if embedder.calls != 0 {
		t.Error("embedder must not run without candidates")
	}
}

func TestPipeline_Answer_Unfiltered(t *testing.T) {
	llm := &narrative.MockLLM{}
	p := newTestPipeline(t, llm, &stubEmbedder{vec: []float32{0, 1}})

	resp, err := p.AnswerWithOptions(context.Background(), "Who says to be or not to be?", AnswerOptions{
		TopK:  2,
		Style: narrative.StyleShake,
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Retrieval.Path != rag.PathIndex {
		t.Errorf("expected index path, got %s", resp.Retrieval.Path)
	}
	if len(resp.Retrieval.Results) != 2 || resp.Retrieval.Results[0].ID != "2" {
		t.Errorf("unexpected results: %+v", resp.Retrieval.Results)
	}
	if !strings.Contains(resp.Prompt, "Respond in Shakespearean English") {
		t.Error("style override ignored")
	}
	if !strings.Contains(resp.Answer.Text, "2 passages") {
		t.Errorf("unexpected mock answer: %s", resp.Answer.Text)
	}
}

func TestPipeline_Answer_ParamsOverride(t *testing.T) {
	llm := narrative.NewMockLLM("ok")
	p := newTestPipeline(t, llm, &stubEmbedder{vec: []float32{0, 1}})

	params := narrative.GenerateParams{MaxNewTokens: 50, Temperature: 0.2, TopP: 0.5}
	if _, err := p.AnswerWithOptions(context.Background(), "Hamlet?", AnswerOptions{Params: &params}); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if llm.LastParams() != params {
		t.Errorf("params = %+v, want %+v", llm.LastParams(), params)
	}
}

func TestPipeline_Answer_History(t *testing.T) {
	llm := narrative.NewMockLLM("ok")
	p := newTestPipeline(t, llm, &stubEmbedder{vec: []float32{1, 0}})

	// The follow-up carries no act; the earlier question supplies it.
	resp, err := p.AnswerWithOptions(context.Background(), "And who answers?", AnswerOptions{
		History: []string{"What happens in Act 1 Scene 1?"},
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if resp.Retrieval.Path != rag.PathFiltered {
		t.Errorf("expected history to contribute the act/scene filter, got %s", resp.Retrieval.Path)
	}
	if !strings.Contains(llm.LastPrompt(), "remember previous prompts: {What happens in Act 1 Scene 1}") {
		t.Errorf("history missing from prompt:\n%s", llm.LastPrompt())
	}
}

func TestPipeline_Answer_Errors(t *testing.T) {
	p := newTestPipeline(t, narrative.NewMockLLMWithError(errors.New("vllm down")), &stubEmbedder{vec: []float32{1, 0}})

	if _, err := p.Answer(context.Background(), ""); !errors.Is(err, rag.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := p.Answer(context.Background(), "Hamlet"); !errors.Is(err, narrative.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestPipeline_Retrieve(t *testing.T) {
	p := newTestPipeline(t, narrative.NewMockLLM("unused"), &stubEmbedder{vec: []float32{1, 0}})

	got, err := p.Retrieve(context.Background(), "Act 9", 0)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got.Error != rag.NoCandidatesMessage {
		t.Errorf("expected structured no-candidates result, got %+v", got)
	}
}

func TestCombineWithHistory(t *testing.T) {
	tests := []struct {
		name     string
		question string
		previous []string
		want     string
	}{
		{"no history", "Who is Yorick?", nil, "Who is Yorick?"},
		{"one", "And his fate?", []string{"Who is Ophelia?"}, "And his fate?. remember previous prompts: {Who is Ophelia}"},
		{"two", "Why?", []string{"Act 1?", "Scene 2?"}, "Why?. remember previous prompts: {Act 1 | Scene 2}"},
		{"blank entries skipped", "Why?", []string{"  ", "?"}, "Why?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CombineWithHistory(tt.question, tt.previous); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	if got := preview("a  b\nc", 10); got != "a b c" {
		t.Errorf("got %q", got)
	}
	if got := preview("abcdef", 3); got != "abc..." {
		t.Errorf("got %q", got)
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }

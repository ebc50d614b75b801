package narrative

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockLLM is a deterministic LLM implementation for testing.
// It returns predictable responses based on prompt content.
type MockLLM struct {
	// Response is the fixed text returned by Generate.
	// If empty, a default response is generated from the prompt.
	Response string

	// Error, if set, is returned by Generate instead of a response.
	Error error

	mu         sync.Mutex
	lastPrompt string
	lastParams GenerateParams
	calls      int
}

// NewMockLLM creates a mock LLM with the given fixed response.
func NewMockLLM(response string) *MockLLM {
	return &MockLLM{Response: response}
}

// NewMockLLMWithError creates a mock LLM that always returns an error.
func NewMockLLMWithError(err error) *MockLLM {
	return &MockLLM{Error: err}
}

// Generate returns the configured response or generates a deterministic one.
func (m *MockLLM) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	m.mu.Lock()
	m.lastPrompt = prompt
	m.lastParams = params
	m.calls++
	m.mu.Unlock()

	if m.Error != nil {
		return "", m.Error
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if m.Response != "" {
		return m.Response, nil
	}

	return generateMockResponse(prompt), nil
}

// LastPrompt returns the most recent prompt passed to Generate.
func (m *MockLLM) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

// LastParams returns the most recent sampling settings.
func (m *MockLLM) LastParams() GenerateParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

// Calls returns how many times Generate ran.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// generateMockResponse echoes the question and the number of passages.
func generateMockResponse(prompt string) string {
	question := "unknown"
	if _, rest, ok := strings.Cut(prompt, questionHeader); ok {
		if q, _, ok := strings.Cut(rest, "\n\n"+answerHeader); ok {
			question = strings.TrimSpace(q)
		}
	}
	passages := strings.Count(prompt, "[Passage ")

	return fmt.Sprintf("Methinks the answer to %q lies within %d passages.", question, passages)
}

package narrative

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
)

// mockGenerator implements genai.ClientInterface with scripted replies.
type mockGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	// block makes every call wait for context cancellation.
	block bool
}

func (m *mockGenerator) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	i := m.calls
	m.calls++
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return "", nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

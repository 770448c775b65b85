package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/tzevaot/internal/llm"
)

// MockProvider provides deterministic local replies when no provider key is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(messages), nil
}

func buildMockReply(messages []llm.Message) string {
	var input, remembered string
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == llm.RoleUser && input == "" {
			input = strings.TrimSpace(m.Content)
			continue
		}
		if m.Role == llm.RoleAssistant && remembered == "" {
			remembered = strings.TrimSpace(m.Content)
		}
	}
	if input == "" {
		input = "silence"
	}
	if remembered == "" {
		return fmt.Sprintf("I hear you: %s", input)
	}
	return fmt.Sprintf("I hear you: %s\nI also remember saying: %s", input, remembered)
}

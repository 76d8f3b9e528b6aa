package brain

import (
	"context"
	"strings"

	"github.com/antoniostano/duet/internal/conversation"
)

// MockCompleter provides deterministic local replies when no LLM is
// configured.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (c *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(req), nil
}

func buildMockReply(req CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role != RoleUser {
			continue
		}
		speaker, text, ok := conversation.SplitLine(m.Content)
		text = strings.TrimSpace(text)
		if text == "" {
			break
		}
		words := strings.Fields(text)
		if len(words) > 6 {
			words = words[:6]
		}
		if ok {
			return "haan " + speaker + ", " + strings.Join(words, " ") + "?"
		}
		return "haan, " + strings.Join(words, " ") + "?"
	}
	return "kya scene hai sab?"
}

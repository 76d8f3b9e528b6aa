package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one chat turn sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is the normalized request sent to an LLM backend.
type CompletionRequest struct {
	System      string    `json:"system"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Completer is an opaque LLM capability: instruction + history in, text out.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

var ErrEmptyCompletion = errors.New("empty completion")

// Config controls completer construction.
type Config struct {
	Mode        string
	APIKey      string
	BaseURL     string
	Model       string
	HTTPURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.1-8b-instant"
)

func NewCompleter(cfg Config) (Completer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoCompleter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("llm api key is required for openai mode")
		}
		return NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewHTTPCompleter(cfg.HTTPURL, cfg.APIKey, cfg.Timeout), nil
	case "mock":
		return NewMockCompleter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

// newAutoCompleter chains whatever backends are configured and returns nil
// when there are none.
func newAutoCompleter(cfg Config) Completer {
	var chain []Completer
	if strings.TrimSpace(cfg.APIKey) != "" {
		chain = append(chain, NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout))
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		chain = append(chain, NewHTTPCompleter(cfg.HTTPURL, cfg.APIKey, cfg.Timeout))
	}
	switch len(chain) {
	case 0:
		// nil makes the generator answer with persona fallbacks; the mock
		// only runs when asked for by name.
		return nil
	case 1:
		return chain[0]
	default:
		return NewFallbackCompleter(chain[0], chain[1])
	}
}

// ProviderName labels a completer for metrics and logs.
func ProviderName(c Completer) string {
	switch v := c.(type) {
	case *OpenAICompleter:
		return "openai"
	case *HTTPCompleter:
		return "http"
	case *MockCompleter:
		return "mock"
	case *FallbackCompleter:
		return ProviderName(v.primary) + "+" + ProviderName(v.fallback)
	case nil:
		return "none"
	default:
		return "custom"
	}
}

package brain

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompleter talks to OpenAI or any OpenAI-compatible API (Groq by
// default).
type OpenAICompleter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAICompleter(apiKey, baseURL, model string, timeout time.Duration) *OpenAICompleter {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAICompleter{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		content := m.Content
		// empty content fails upstream validation
		if content == "" {
			content = " "
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: content})
	}

	oaiReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != 0 {
		oaiReq.Temperature = float32(req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrEmptyCompletion)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

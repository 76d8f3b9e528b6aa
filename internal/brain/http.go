package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPCompleter forwards requests to a generic JSON completion endpoint.
type HTTPCompleter struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPCompleter(url, apiKey string, timeout time.Duration) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPCompleter{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for non-2xx completion responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm http status %d: %s", e.Code, e.Body)
}

func (c *HTTPCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return "", ErrEmptyCompletion
		}
		return text, nil
	}
	text := extractText(gjson.ParseBytes(body))
	if text == "" {
		return "", fmt.Errorf("%w: no text field in response", ErrEmptyCompletion)
	}
	return text, nil
}

func extractText(obj gjson.Result) string {
	for _, path := range []string{"text", "reply", "output", "message", "choices.0.message.content", "data.text"} {
		v := obj.Get(path)
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

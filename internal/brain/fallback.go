package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackCompleter attempts a primary completer first and falls back on error.
type FallbackCompleter struct {
	primary  Completer
	fallback Completer
}

func NewFallbackCompleter(primary, fallback Completer) *FallbackCompleter {
	return &FallbackCompleter{primary: primary, fallback: fallback}
}

func (c *FallbackCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.Complete(ctx, req)
		}
		return "", fmt.Errorf("fallback completer misconfigured")
	}
	text, err := c.primary.Complete(ctx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return "", err
	}
	if c.fallback == nil {
		return "", err
	}
	text, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary completer error: %w; fallback completer error: %v", err, fallbackErr)
	}
	return text, nil
}

package memory

import (
	"context"
	"strings"
)

// NewStore opens the profile store: Postgres when databaseURL is set,
// in-process otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

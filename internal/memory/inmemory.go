package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps profiles in process for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]Profile)}
}

func (s *InMemoryStore) Profile(_ context.Context, username string) (Profile, error) {
	key := normalizeUsername(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[key]
	if !ok {
		return Profile{Username: key}, nil
	}
	p.Facts = append([]string(nil), p.Facts...)
	return p, nil
}

func (s *InMemoryStore) RecordInteraction(_ context.Context, username string) error {
	key := normalizeUsername(username)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[key]
	p.Username = key
	p.Score = clampScore(p.Score + 1)
	p.UpdatedAt = time.Now().UTC()
	s.profiles[key] = p
	return nil
}

func (s *InMemoryStore) AddFact(_ context.Context, username, fact string) error {
	key := normalizeUsername(username)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[key]
	facts, changed := mergeFact(p.Facts, fact)
	if !changed {
		return nil
	}
	p.Username = key
	p.Facts = facts
	p.UpdatedAt = time.Now().UTC()
	s.profiles[key] = p
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

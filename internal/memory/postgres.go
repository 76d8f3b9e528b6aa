package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists relationship profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relationship_profiles (
			username TEXT PRIMARY KEY,
			score INTEGER NOT NULL DEFAULT 0,
			facts TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Profile(ctx context.Context, username string) (Profile, error) {
	key := normalizeUsername(username)
	p := Profile{Username: key}
	err := s.pool.QueryRow(ctx,
		`SELECT score, facts, updated_at FROM relationship_profiles WHERE username=$1`,
		key,
	).Scan(&p.Score, &p.Facts, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{Username: key}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) RecordInteraction(ctx context.Context, username string) error {
	key := normalizeUsername(username)
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relationship_profiles (username, score, updated_at)
		 VALUES ($1, 1, $2)
		 ON CONFLICT (username) DO UPDATE
		 SET score = LEAST(relationship_profiles.score + 1, $3), updated_at = EXCLUDED.updated_at`,
		key,
		time.Now().UTC(),
		MaxScore,
	)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// AddFact reads, merges and writes back in one transaction so concurrent
// writers for the same user do not drop facts.
func (s *PostgresStore) AddFact(ctx context.Context, username, fact string) error {
	key := normalizeUsername(username)
	if key == "" {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add fact: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var facts []string
	err = tx.QueryRow(ctx,
		`SELECT facts FROM relationship_profiles WHERE username=$1 FOR UPDATE`,
		key,
	).Scan(&facts)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("query facts: %w", err)
	}

	merged, changed := mergeFact(facts, fact)
	if !changed {
		return nil
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO relationship_profiles (username, facts, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET facts = EXCLUDED.facts, updated_at = EXCLUDED.updated_at`,
		key,
		merged,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add fact: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

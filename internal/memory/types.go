package memory

import (
	"context"
	"strings"
	"time"
)

const (
	MaxScore = 100
	// MaxFactsLen bounds the joined facts text so prompts stay small.
	MaxFactsLen = 500
)

// Vibe is the relationship tier derived from a score.
type Vibe string

const (
	VibeStranger Vibe = "stranger"
	VibeFriend   Vibe = "friend"
	VibeBestie   Vibe = "bestie"
)

// Profile is what a bot remembers about one chat user.
type Profile struct {
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	Facts     []string  `json:"facts,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (p Profile) Vibe() Vibe {
	return VibeFor(p.Score)
}

func VibeFor(score int) Vibe {
	switch {
	case score < 20:
		return VibeStranger
	case score < 60:
		return VibeFriend
	default:
		return VibeBestie
	}
}

// Store persists and retrieves relationship profiles.
type Store interface {
	// Profile returns the stored profile, or a zero-score profile for unknown users.
	Profile(ctx context.Context, username string) (Profile, error)
	RecordInteraction(ctx context.Context, username string) error
	AddFact(ctx context.Context, username, fact string) error
	Close() error
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// mergeFact appends fact unless already known and drops the oldest facts
// while the joined text exceeds MaxFactsLen.
func mergeFact(facts []string, fact string) ([]string, bool) {
	fact = strings.Trim(strings.TrimSpace(fact), " .")
	if fact == "" {
		return facts, false
	}
	for _, f := range facts {
		if strings.EqualFold(f, fact) {
			return facts, false
		}
	}
	out := append(append([]string(nil), facts...), fact)
	for len(out) > 1 && len(strings.Join(out, " | ")) > MaxFactsLen {
		out = out[1:]
	}
	return out, true
}

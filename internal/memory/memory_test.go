package memory

import (
	"context"
	"strings"
	"testing"
)

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	store, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", store)
	}
}

func TestInMemoryUnknownUserIsStranger(t *testing.T) {
	store := NewInMemoryStore()
	p, err := store.Profile(context.Background(), "Ravi")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.Score != 0 || p.Vibe() != VibeStranger {
		t.Fatalf("Profile() = %+v vibe %s, want score 0 stranger", p, p.Vibe())
	}
	if p.Username != "ravi" {
		t.Fatalf("Username = %q, want ravi", p.Username)
	}
}

func TestInMemoryRecordInteractionCapsScore(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < MaxScore+10; i++ {
		if err := store.RecordInteraction(ctx, "ravi"); err != nil {
			t.Fatalf("RecordInteraction() error = %v", err)
		}
	}
	p, _ := store.Profile(ctx, "RAVI")
	if p.Score != MaxScore {
		t.Fatalf("Score = %d, want %d", p.Score, MaxScore)
	}
	if p.Vibe() != VibeBestie {
		t.Fatalf("Vibe = %s, want bestie", p.Vibe())
	}
}

func TestInMemoryAddFactDedupes(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_ = store.AddFact(ctx, "ravi", "lives in Delhi.")
	_ = store.AddFact(ctx, "ravi", "Lives in delhi")
	_ = store.AddFact(ctx, "ravi", "likes cricket")
	_ = store.AddFact(ctx, "ravi", "   ")

	p, _ := store.Profile(ctx, "ravi")
	if len(p.Facts) != 2 {
		t.Fatalf("Facts = %v, want 2 entries", p.Facts)
	}
	if p.Facts[0] != "lives in Delhi" {
		t.Fatalf("Facts[0] = %q, want trimmed fact", p.Facts[0])
	}
}

func TestMergeFactBoundsLength(t *testing.T) {
	var facts []string
	for i := 0; i < 40; i++ {
		facts, _ = mergeFact(facts, strings.Repeat(string(rune('a'+i%26)), 20)+string(rune('A'+i%26))+strings.Repeat("x", i))
	}
	if got := len(strings.Join(facts, " | ")); got > MaxFactsLen {
		t.Fatalf("joined facts len = %d, want <= %d", got, MaxFactsLen)
	}
	if len(facts) == 0 {
		t.Fatal("facts should keep the most recent entries")
	}
}

func TestVibeTiers(t *testing.T) {
	tests := []struct {
		score int
		want  Vibe
	}{
		{0, VibeStranger},
		{19, VibeStranger},
		{20, VibeFriend},
		{59, VibeFriend},
		{60, VibeBestie},
		{100, VibeBestie},
	}
	for _, tc := range tests {
		if got := VibeFor(tc.score); got != tc.want {
			t.Fatalf("VibeFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

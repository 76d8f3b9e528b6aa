package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// stageBudgets are the durations each reply stage should stay under given
// the default pacing and LLM timeout.
var stageBudgets = map[string]time.Duration{
	"read_delay":  4500 * time.Millisecond,
	"generate":    15 * time.Second,
	"typing":      12 * time.Second,
	"reply_total": 30 * time.Second,
}

type ReplyStageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

type ReplyStageSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	WindowSize  int               `json:"window_size"`
	Stages      []ReplyStageStats `json:"stages"`
	// Outcomes counts non-sent reply outcomes since start.
	Outcomes map[string]int `json:"outcomes,omitempty"`
}

// stageWindow keeps the most recent samples per reply stage.
type stageWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[string][]time.Duration
	outcomes map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:     size,
		samples:  make(map[string][]time.Duration),
		outcomes: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], d)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[stage] = s
}

func (w *stageWindow) ObserveOutcome(outcome string) {
	if w == nil || outcome == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[outcome]++
	w.mu.Unlock()
}

func (w *stageWindow) Snapshot() ReplyStageSnapshot {
	snap := ReplyStageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []ReplyStageStats{}}
	if w == nil {
		return snap
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	snap.WindowSize = w.size

	for stage, s := range w.samples {
		if len(s) == 0 {
			continue
		}
		sorted := append([]time.Duration(nil), s...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum time.Duration
		over := 0
		budget := stageBudgets[stage]
		for _, d := range sorted {
			sum += d
			if budget > 0 && d > budget {
				over++
			}
		}
		snap.Stages = append(snap.Stages, ReplyStageStats{
			Stage:      stage,
			Samples:    len(sorted),
			LastMS:     millis(s[len(s)-1]),
			AvgMS:      millis(sum / time.Duration(len(sorted))),
			P50MS:      millis(nearestRank(sorted, 0.50)),
			P95MS:      millis(nearestRank(sorted, 0.95)),
			MaxMS:      millis(sorted[len(sorted)-1]),
			BudgetMS:   millis(budget),
			OverBudget: over,
		})
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	if len(w.outcomes) > 0 {
		snap.Outcomes = make(map[string]int, len(w.outcomes))
		for k, v := range w.outcomes {
			snap.Outcomes[k] = v
		}
	}
	return snap
}

func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

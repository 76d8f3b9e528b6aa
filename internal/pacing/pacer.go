package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"
)

// Config controls human-like reply pacing.
type Config struct {
	ReadMin       time.Duration
	ReadMax       time.Duration
	TypingBase    time.Duration
	TypingPerChar time.Duration
	TypingMax     time.Duration
}

// DefaultConfig reads for 1.5–4.5s and types at ~12 chars/s plus a second of
// overhead, never longer than 12s.
var DefaultConfig = Config{
	ReadMin:       1500 * time.Millisecond,
	ReadMax:       4500 * time.Millisecond,
	TypingBase:    time.Second,
	TypingPerChar: 80 * time.Millisecond,
	TypingMax:     12 * time.Second,
}

// Sleeper waits for d or until ctx ends. It reports whether the full
// duration elapsed.
type Sleeper func(ctx context.Context, d time.Duration) bool

type Pacer struct {
	cfg   Config
	sleep Sleeper

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config, rng *rand.Rand, sleep Sleeper) *Pacer {
	if cfg.ReadMax < cfg.ReadMin {
		cfg.ReadMax = cfg.ReadMin
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Pacer{cfg: cfg, rng: rng, sleep: sleep}
}

// Instant returns a pacer with no delays, for tests and dry runs.
func Instant() *Pacer {
	return New(Config{}, rand.New(rand.NewSource(1)), func(ctx context.Context, _ time.Duration) bool {
		return ctx.Err() == nil
	})
}

// ReadingDelay draws the "noticed the message" delay.
func (p *Pacer) ReadingDelay() time.Duration {
	return p.Uniform(p.cfg.ReadMin, p.cfg.ReadMax)
}

// TypingDuration is base + per-char * len(reply), clamped to TypingMax.
func (p *Pacer) TypingDuration(reply string) time.Duration {
	d := p.cfg.TypingBase + time.Duration(utf8.RuneCountInString(reply))*p.cfg.TypingPerChar
	if p.cfg.TypingMax > 0 && d > p.cfg.TypingMax {
		d = p.cfg.TypingMax
	}
	return d
}

// Uniform draws a duration in [lo, hi].
func (p *Pacer) Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	f := p.rng.Float64()
	p.mu.Unlock()
	return lo + time.Duration(f*float64(hi-lo))
}

func (p *Pacer) Wait(ctx context.Context, d time.Duration) bool {
	return p.sleep(ctx, d)
}

func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

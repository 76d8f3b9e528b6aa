package duet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/duet/internal/bot"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/persona"
)

const (
	DefaultStagger   = 5 * time.Second
	DefaultTailLines = 50
)

type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

var ErrInvalidLaunch = errors.New("invalid launch request")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LaunchRequest struct {
	A        Credentials `json:"a"`
	B        Credentials `json:"b"`
	Room     string      `json:"room"`
	PersonaA persona.ID  `json:"persona_a,omitempty"`
	PersonaB persona.ID  `json:"persona_b,omitempty"`
}

func (r LaunchRequest) Validate() error {
	a := strings.TrimSpace(r.A.Username)
	b := strings.TrimSpace(r.B.Username)
	switch {
	case a == "" || b == "":
		return fmt.Errorf("%w: both usernames are required", ErrInvalidLaunch)
	case strings.EqualFold(a, b):
		return fmt.Errorf("%w: bots need distinct usernames", ErrInvalidLaunch)
	case strings.TrimSpace(r.Room) == "":
		return fmt.Errorf("%w: room is required", ErrInvalidLaunch)
	}
	for _, id := range []persona.ID{r.PersonaA, r.PersonaB} {
		if id == "" {
			continue
		}
		if _, err := persona.Lookup(string(id)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidLaunch, err)
		}
	}
	return nil
}

// Identities builds the initiator (A) and responder (B) identities, each
// naming the other as partner.
func (r LaunchRequest) Identities() (bot.Identity, bot.Identity) {
	pa := r.PersonaA
	if pa == "" {
		pa = persona.Energetic
	}
	pb := r.PersonaB
	if pb == "" {
		pb = persona.Chill
	}
	room := strings.TrimSpace(r.Room)
	a := bot.Identity{
		Username:  strings.TrimSpace(r.A.Username),
		Password:  r.A.Password,
		Room:      room,
		Persona:   persona.ID(strings.ToLower(string(pa))),
		Initiator: true,
	}
	b := bot.Identity{
		Username: strings.TrimSpace(r.B.Username),
		Password: r.B.Password,
		Room:     room,
		Persona:  persona.ID(strings.ToLower(string(pb))),
	}
	a.Partner = b.Username
	b.Partner = a.Username
	return a, b
}

// Runner is what the orchestrator needs from a bot; *bot.Bot satisfies it.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
	Snapshot() bot.Snapshot
}

// Factory builds a bot for one identity.
type Factory func(id bot.Identity) (Runner, error)

type Options struct {
	Stagger    time.Duration
	Metrics    *observability.Metrics
	Transcript *observability.LogBuffer
	Debug      *observability.LogBuffer
}

// Orchestrator runs at most one pair of bots at a time.
type Orchestrator struct {
	factory    Factory
	stagger    time.Duration
	metrics    *observability.Metrics
	transcript *observability.LogBuffer
	debug      *observability.LogBuffer

	// opMu serializes Launch and Stop.
	opMu sync.Mutex
	wg   sync.WaitGroup

	mu         sync.Mutex
	bots       map[Slot]Runner
	cancel     context.CancelFunc
	launchID   string
	room       string
	launchedAt time.Time
}

func New(factory Factory, opts Options) *Orchestrator {
	if opts.Stagger < 0 {
		opts.Stagger = 0
	}
	return &Orchestrator{
		factory:    factory,
		stagger:    opts.Stagger,
		metrics:    opts.Metrics,
		transcript: opts.Transcript,
		debug:      opts.Debug,
	}
}

// Launch replaces any running pair. A starts immediately; B starts after
// the stagger on a tracked goroutine, so Launch does not block for it.
func (o *Orchestrator) Launch(ctx context.Context, req LaunchRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.stopLocked()

	idA, idB := req.Identities()
	botA, err := o.factory(idA)
	if err != nil {
		return "", fmt.Errorf("build bot %s: %w", idA.Username, err)
	}
	botB, err := o.factory(idB)
	if err != nil {
		return "", fmt.Errorf("build bot %s: %w", idB.Username, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	launchID := uuid.NewString()
	o.mu.Lock()
	o.bots = map[Slot]Runner{SlotA: botA, SlotB: botB}
	o.cancel = cancel
	o.launchID = launchID
	o.room = idA.Room
	o.launchedAt = time.Now().UTC()
	o.mu.Unlock()

	o.debug.Addf("info", "duet", "launch %s: %s (initiator) + %s in %s", launchID, idA.Username, idB.Username, idA.Room)
	o.start(runCtx, SlotA, botA)
	o.metrics.SetActiveBots(1)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(o.stagger)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
		}
		o.start(runCtx, SlotB, botB)
		o.metrics.SetActiveBots(2)
	}()
	return launchID, nil
}

func (o *Orchestrator) start(ctx context.Context, slot Slot, r Runner) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := r.Run(ctx); err != nil {
			o.debug.Addf("error", "duet", "bot %s exited: %v", slot, err)
		}
	}()
}

// Stop stops both bots and waits for them. Safe to call when idle.
func (o *Orchestrator) Stop() {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	o.mu.Lock()
	bots := o.bots
	cancel := o.cancel
	launchID := o.launchID
	o.bots = nil
	o.cancel = nil
	o.launchID = ""
	o.room = ""
	o.launchedAt = time.Time{}
	o.mu.Unlock()

	if cancel == nil && len(bots) == 0 {
		return
	}
	if cancel != nil {
		cancel()
	}
	var wg sync.WaitGroup
	for _, r := range bots {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
	o.wg.Wait()
	o.metrics.SetActiveBots(0)
	o.debug.Addf("info", "duet", "launch %s stopped", launchID)
}

type SlotStatus struct {
	Slot Slot `json:"slot"`
	bot.Snapshot
}

type Status struct {
	Running    bool                  `json:"running"`
	LaunchID   string                `json:"launch_id,omitempty"`
	Room       string                `json:"room,omitempty"`
	LaunchedAt time.Time             `json:"launched_at,omitempty"`
	Bots       []SlotStatus          `json:"bots"`
	Transcript []observability.Entry `json:"transcript"`
	Debug      []observability.Entry `json:"debug"`
}

// Status reports both slots plus the last tail entries of each log
// (DefaultTailLines when tail <= 0).
func (o *Orchestrator) Status(tail int) Status {
	if tail <= 0 {
		tail = DefaultTailLines
	}
	o.mu.Lock()
	st := Status{
		Running:    len(o.bots) > 0,
		LaunchID:   o.launchID,
		Room:       o.room,
		LaunchedAt: o.launchedAt,
	}
	bots := make(map[Slot]Runner, len(o.bots))
	for k, v := range o.bots {
		bots[k] = v
	}
	o.mu.Unlock()

	st.Bots = make([]SlotStatus, 0, len(bots))
	for _, slot := range []Slot{SlotA, SlotB} {
		if r, ok := bots[slot]; ok {
			st.Bots = append(st.Bots, SlotStatus{Slot: slot, Snapshot: r.Snapshot()})
		}
	}
	st.Transcript = o.transcript.Tail(tail)
	st.Debug = o.debug.Tail(tail)
	return st
}

package duet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/duet/internal/bot"
	"github.com/antoniostano/duet/internal/chat"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/persona"
)

type fakeRunner struct {
	id bot.Identity

	mu        sync.Mutex
	startedAt time.Time
	stops     int
	stopCh    chan struct{}
	once      sync.Once
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.mu.Lock()
	f.startedAt = time.Now()
	f.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-f.stopCh:
	}
	return nil
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.once.Do(func() { close(f.stopCh) })
}

func (f *fakeRunner) Snapshot() bot.Snapshot {
	return bot.Snapshot{Username: f.id.Username, Partner: f.id.Partner, Persona: f.id.Persona, Initiator: f.id.Initiator, Status: chat.StatusInRoom}
}

func (f *fakeRunner) started() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedAt, !f.startedAt.IsZero()
}

func (f *fakeRunner) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeFactory struct {
	mu   sync.Mutex
	made []*fakeRunner
}

func (ff *fakeFactory) build(id bot.Identity) (Runner, error) {
	r := &fakeRunner{id: id, stopCh: make(chan struct{})}
	ff.mu.Lock()
	ff.made = append(ff.made, r)
	ff.mu.Unlock()
	return r, nil
}

func (ff *fakeFactory) runner(i int) *fakeRunner {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.made[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func launchRequest() LaunchRequest {
	return LaunchRequest{
		A:    Credentials{Username: "bot_a", Password: "pa"},
		B:    Credentials{Username: "bot_b", Password: "pb"},
		Room: "lobby",
	}
}

func TestLaunchStaggersSecondBot(t *testing.T) {
	ff := &fakeFactory{}
	stagger := 60 * time.Millisecond
	o := New(ff.build, Options{Stagger: stagger})
	t.Cleanup(o.Stop)

	if _, err := o.Launch(context.Background(), launchRequest()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	a, b := ff.runner(0), ff.runner(1)
	waitFor(t, "bot a", func() bool { _, ok := a.started(); return ok })
	waitFor(t, "bot b", func() bool { _, ok := b.started(); return ok })

	startA, _ := a.started()
	startB, _ := b.started()
	if gap := startB.Sub(startA); gap < stagger {
		t.Fatalf("stagger = %s, want >= %s", gap, stagger)
	}

	if !a.id.Initiator || a.id.Partner != "bot_b" || a.id.Persona != persona.Energetic {
		t.Fatalf("identity A = %+v", a.id)
	}
	if b.id.Initiator || b.id.Partner != "bot_a" || b.id.Persona != persona.Chill {
		t.Fatalf("identity B = %+v", b.id)
	}
}

func TestStatusListsBothSlots(t *testing.T) {
	ff := &fakeFactory{}
	debug := observability.NewLogBuffer(10)
	o := New(ff.build, Options{Debug: debug})
	t.Cleanup(o.Stop)

	id, err := o.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	st := o.Status(0)
	if !st.Running || st.LaunchID != id || st.Room != "lobby" {
		t.Fatalf("Status() = %+v", st)
	}
	if len(st.Bots) != 2 || st.Bots[0].Slot != SlotA || st.Bots[1].Username != "bot_b" {
		t.Fatalf("Status().Bots = %+v", st.Bots)
	}
	if len(st.Debug) == 0 {
		t.Fatal("Status().Debug should include the launch entry")
	}
}

func TestStopIsIdempotentAndClears(t *testing.T) {
	ff := &fakeFactory{}
	o := New(ff.build, Options{})

	o.Stop()
	if _, err := o.Launch(context.Background(), launchRequest()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	o.Stop()
	o.Stop()

	if st := o.Status(5); st.Running || len(st.Bots) != 0 || st.LaunchID != "" {
		t.Fatalf("Status() after Stop = %+v", st)
	}
	if got := ff.runner(0).stopCount(); got != 1 {
		t.Fatalf("bot a stops = %d, want 1", got)
	}
}

func TestStopDuringStaggerNeverStartsSecondBot(t *testing.T) {
	ff := &fakeFactory{}
	o := New(ff.build, Options{Stagger: time.Hour})

	if _, err := o.Launch(context.Background(), launchRequest()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitFor(t, "bot a", func() bool { _, ok := ff.runner(0).started(); return ok })

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on the stagger wait")
	}
	if _, ok := ff.runner(1).started(); ok {
		t.Fatal("bot b started after Stop")
	}
}

func TestRelaunchStopsPreviousPair(t *testing.T) {
	ff := &fakeFactory{}
	o := New(ff.build, Options{})
	t.Cleanup(o.Stop)

	first, _ := o.Launch(context.Background(), launchRequest())
	second, err := o.Launch(context.Background(), launchRequest())
	if err != nil {
		t.Fatalf("second Launch() error = %v", err)
	}
	if first == second {
		t.Fatal("launch ids should differ")
	}
	if ff.runner(0).stopCount() != 1 || ff.runner(1).stopCount() != 1 {
		t.Fatal("previous pair was not stopped")
	}
	if ff.runner(2).stopCount() != 0 {
		t.Fatal("new pair should still be running")
	}
}

func TestLaunchValidation(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*LaunchRequest)
	}{
		{"missing username", func(r *LaunchRequest) { r.B.Username = " " }},
		{"same username", func(r *LaunchRequest) { r.B.Username = "BOT_A" }},
		{"missing room", func(r *LaunchRequest) { r.Room = "" }},
		{"unknown persona", func(r *LaunchRequest) { r.PersonaA = "grumpy" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := launchRequest()
			tc.mut(&req)
			o := New((&fakeFactory{}).build, Options{})
			if _, err := o.Launch(context.Background(), req); !errors.Is(err, ErrInvalidLaunch) {
				t.Fatalf("Launch() error = %v, want ErrInvalidLaunch", err)
			}
		})
	}
}

func TestLaunchPropagatesFactoryError(t *testing.T) {
	boom := errors.New("boom")
	o := New(func(bot.Identity) (Runner, error) { return nil, boom }, Options{})
	if _, err := o.Launch(context.Background(), launchRequest()); !errors.Is(err, boom) {
		t.Fatalf("Launch() error = %v, want boom", err)
	}
	if o.Status(0).Running {
		t.Fatal("failed launch should leave the orchestrator idle")
	}
}

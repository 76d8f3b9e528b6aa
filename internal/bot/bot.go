package bot

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/antoniostano/duet/internal/brain"
	"github.com/antoniostano/duet/internal/chat"
	"github.com/antoniostano/duet/internal/conversation"
	"github.com/antoniostano/duet/internal/memory"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/pacing"
	"github.com/antoniostano/duet/internal/persona"
	"github.com/antoniostano/duet/internal/policy"
	"github.com/antoniostano/duet/internal/protocol"
	"github.com/antoniostano/duet/internal/router"
)

const (
	// transcriptDedupWindow covers the gap between both bots hearing the
	// same room line.
	transcriptDedupWindow = 3 * time.Second

	DefaultMaxConcurrentReplies = 4
	DefaultOpenerMin            = 6 * time.Second
	DefaultOpenerMax            = 8 * time.Second
)

// Identity is one bot account in a duet. It does not change after launch.
type Identity struct {
	Username  string
	Password  string
	Room      string
	Partner   string
	Persona   persona.ID
	Initiator bool
}

type Config struct {
	// Session carries transport settings; identity fields are filled per bot.
	Session              chat.Config
	WindowCap            int
	MaxConcurrentReplies int64
	OpenerMin            time.Duration
	OpenerMax            time.Duration
	// Triggers are extra words that count as addressing the bot.
	Triggers []string
	Seed     int64
}

type Deps struct {
	Generator  *brain.Generator
	Router     *router.Router
	Pacer      *pacing.Pacer
	Memory     memory.Store
	Metrics    *observability.Metrics
	Transcript *observability.LogBuffer
	Debug      *observability.LogBuffer
}

// Transport is the part of chat.Session the engine drives.
type Transport interface {
	Run(ctx context.Context) error
	Stop()
	Send(text string) error
	SendTyping(active bool)
	Status() chat.Status
	RoomID() string
}

type transportFactory func(hooks chat.Hooks, window *conversation.Window) Transport

// Bot wires one session to the router, pacer and generator.
type Bot struct {
	id      Identity
	persona persona.Persona
	cfg     Config

	transport  Transport
	window     *conversation.Window
	router     *router.Router
	pacer      *pacing.Pacer
	generator  *brain.Generator
	memory     memory.Store
	metrics    *observability.Metrics
	transcript *observability.LogBuffer
	debug      *observability.LogBuffer

	sem     *semaphore.Weighted
	replyMu sync.Mutex
	wg      sync.WaitGroup

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	stopped       bool
	openerPending bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(id Identity, cfg Config, deps Deps) (*Bot, error) {
	sessCfg := cfg.Session
	sessCfg.Username = id.Username
	sessCfg.Password = id.Password
	sessCfg.Room = id.Room
	return newBot(id, cfg, deps, func(hooks chat.Hooks, window *conversation.Window) Transport {
		return chat.NewSession(sessCfg, chat.Options{
			Hooks:      hooks,
			Window:     window,
			Transcript: deps.Transcript,
			Debug:      deps.Debug,
			Metrics:    deps.Metrics,
		})
	})
}

func newBot(id Identity, cfg Config, deps Deps, factory transportFactory) (*Bot, error) {
	id.Username = strings.TrimSpace(id.Username)
	if id.Username == "" {
		return nil, errors.New("bot username is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("bot generator is required")
	}
	if cfg.MaxConcurrentReplies <= 0 {
		cfg.MaxConcurrentReplies = DefaultMaxConcurrentReplies
	}
	if cfg.OpenerMin <= 0 {
		cfg.OpenerMin = DefaultOpenerMin
	}
	if cfg.OpenerMax < cfg.OpenerMin {
		cfg.OpenerMax = cfg.OpenerMin
		if cfg.OpenerMin == DefaultOpenerMin {
			cfg.OpenerMax = DefaultOpenerMax
		}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rt := deps.Router
	if rt == nil {
		rt = router.New(router.DefaultInterjectThreshold, rand.New(rand.NewSource(seed+1)))
	}
	pc := deps.Pacer
	if pc == nil {
		pc = pacing.New(pacing.DefaultConfig, rand.New(rand.NewSource(seed+2)), nil)
	}

	b := &Bot{
		id:         id,
		persona:    persona.MustLookup(id.Persona),
		cfg:        cfg,
		window:     conversation.NewWindow(cfg.WindowCap),
		router:     rt,
		pacer:      pc,
		generator:  deps.Generator,
		memory:     deps.Memory,
		metrics:    deps.Metrics,
		transcript: deps.Transcript,
		debug:      deps.Debug,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentReplies),
		rng:        rand.New(rand.NewSource(seed)),
	}
	b.transport = factory(chat.Hooks{
		OnStatus:     b.onStatus,
		OnRoomJoined: b.onRoomJoined,
		OnChat:       b.onChat,
		OnUserJoined: b.onUserJoined,
	}, b.window)
	return b, nil
}

func (b *Bot) Identity() Identity { return b.id }

func (b *Bot) Persona() persona.Persona { return b.persona }

// Run drives the session until Stop or ctx ends. Reply tasks are cancelled
// and awaited before it returns.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil || b.stopped {
		b.mu.Unlock()
		return errors.New("bot already started or stopped")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	runCtx := b.ctx
	b.mu.Unlock()

	b.debug.Add("info", b.id.Username, "starting as "+string(b.persona.ID))
	err := b.transport.Run(runCtx)
	b.shutdown()
	return err
}

// Stop cancels pending pacing sleeps and LLM calls, closes the session and
// waits for reply tasks. Safe to call more than once.
func (b *Bot) Stop() {
	b.transport.Stop()
	b.shutdown()
}

func (b *Bot) shutdown() {
	b.mu.Lock()
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// spawn runs fn on a tracked goroutine unless the bot is stopping.
func (b *Bot) spawn(fn func(ctx context.Context)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.ctx == nil || b.ctx.Err() != nil {
		return false
	}
	ctx := b.ctx
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
	return true
}

func (b *Bot) onStatus(st chat.Status) {
	switch st {
	case chat.StatusDisconnected, chat.StatusAuthFailed, chat.StatusStopped:
		b.mu.Lock()
		b.openerPending = false
		b.mu.Unlock()
	}
}

func (b *Bot) onRoomJoined(roomID string) {
	if !b.id.Initiator {
		return
	}
	b.mu.Lock()
	if b.openerPending {
		b.mu.Unlock()
		return
	}
	b.openerPending = true
	b.mu.Unlock()

	ok := b.spawn(func(ctx context.Context) {
		delay := b.pacer.Uniform(b.cfg.OpenerMin, b.cfg.OpenerMax)
		if !b.pacer.Wait(ctx, delay) {
			return
		}
		b.deliver(ctx, b.opener(), "opener")
	})
	if ok {
		b.debug.Addf("info", b.id.Username, "opener scheduled for room %s", roomID)
	}
}

func (b *Bot) onChat(msg protocol.ChatMessage) {
	sender := strings.TrimSpace(msg.Sender)
	text := strings.TrimSpace(msg.Text)
	// Bots log their own sends. Both listeners record everyone else and the
	// buffer keeps one copy, so the line survives either bot dropping out.
	if !b.isDuetMember(sender) {
		b.transcript.AddUnique("chat", sender, text, transcriptDedupWindow)
	}

	d := b.router.Decide(router.Input{
		Sender:   sender,
		Text:     text,
		Self:     b.id.Username,
		Partner:  b.id.Partner,
		Triggers: b.cfg.Triggers,
	})
	b.metrics.ObserveRouting(d.String())
	if !d.Respond {
		return
	}
	b.window.Append(sender, text)

	kind := string(d.Reason)
	if !b.sem.TryAcquire(1) {
		b.metrics.ObserveReply(kind, "dropped")
		b.debug.Addf("warn", b.id.Username, "reply pool full, dropping message from %s", sender)
		return
	}
	if !b.spawn(func(ctx context.Context) {
		defer b.sem.Release(1)
		b.reply(ctx, sender, kind)
	}) {
		b.sem.Release(1)
	}
}

func (b *Bot) reply(ctx context.Context, sender, kind string) {
	start := time.Now()
	read := b.pacer.ReadingDelay()
	b.metrics.ObserveReplyStage("read_delay", read)
	if !b.pacer.Wait(ctx, read) {
		b.metrics.ObserveReply(kind, "canceled")
		return
	}

	human := !strings.EqualFold(sender, b.id.Partner)
	var profile *memory.Profile
	if human && b.memory != nil {
		p, err := b.memory.Profile(ctx, sender)
		if err != nil {
			b.debug.Addf("error", b.id.Username, "load profile %s: %v", sender, err)
		} else {
			profile = &p
		}
	}

	out := b.generator.Reply(ctx, brain.Request{
		History: b.window.Tail(0),
		Self:    b.id.Username,
		Partner: b.id.Partner,
		Sender:  sender,
		Persona: b.persona,
		Profile: profile,
	})
	if ctx.Err() != nil {
		b.metrics.ObserveReply(kind, "canceled")
		return
	}
	if out.Fact != "" && human && b.memory != nil {
		b.remember(ctx, sender, out.Fact)
	}

	text := out.Text
	if human {
		text = "@" + sender + " " + text
	}
	if !b.deliver(ctx, text, kind) {
		return
	}
	if human && b.memory != nil {
		if err := b.memory.RecordInteraction(ctx, sender); err != nil {
			b.debug.Addf("error", b.id.Username, "record interaction %s: %v", sender, err)
		}
	}
	total := time.Since(start)
	b.metrics.ObserveReplyLatency(total)
	b.metrics.ObserveReplyStage("reply_total", total)
}

func (b *Bot) isDuetMember(name string) bool {
	return strings.EqualFold(name, b.id.Username) || strings.EqualFold(name, b.id.Partner)
}

// onUserJoined greets a human who entered the room. Only the initiator
// greets so the newcomer hears one welcome.
func (b *Bot) onUserJoined(username string) {
	username = strings.TrimSpace(username)
	if !b.id.Initiator || username == "" || b.isDuetMember(username) {
		return
	}
	if !b.sem.TryAcquire(1) {
		b.metrics.ObserveReply("welcome", "dropped")
		return
	}
	if !b.spawn(func(ctx context.Context) {
		defer b.sem.Release(1)
		var profile memory.Profile
		if b.memory != nil {
			p, err := b.memory.Profile(ctx, username)
			if err != nil {
				b.debug.Addf("error", b.id.Username, "load profile %s: %v", username, err)
			} else {
				profile = p
			}
		}
		b.deliver(ctx, welcomeText(username, profile), "welcome")
	}) {
		b.sem.Release(1)
	}
}

// welcomeText picks the greeting tier from what the bot remembers.
func welcomeText(username string, p memory.Profile) string {
	switch {
	case p.Score > 50:
		return "Welcome back bestie @" + username + "! ❤️"
	case len(p.Facts) > 0:
		return "Welcome @" + username + "! Long time no see. 😉"
	default:
		return "Welcome to the chat, @" + username + "! 👋"
	}
}

func (b *Bot) remember(ctx context.Context, sender, fact string) {
	clean, ok := policy.SanitizeFact(fact)
	if !ok {
		b.debug.Addf("info", b.id.Username, "discarded sensitive fact about %s", sender)
		return
	}
	if err := b.memory.AddFact(ctx, sender, clean); err != nil {
		b.debug.Addf("error", b.id.Username, "save fact for %s: %v", sender, err)
		return
	}
	b.debug.Addf("info", b.id.Username, "remembered about %s: %s", sender, clean)
}

// deliver shows the typing indicator for a length-based duration and sends
// text. replyMu keeps one reply's typing and send together.
func (b *Bot) deliver(ctx context.Context, text, kind string) bool {
	b.replyMu.Lock()
	defer b.replyMu.Unlock()
	if ctx.Err() != nil {
		b.metrics.ObserveReply(kind, "canceled")
		return false
	}

	b.transport.SendTyping(true)
	typing := b.pacer.TypingDuration(text)
	b.metrics.ObserveReplyStage("typing", typing)
	if !b.pacer.Wait(ctx, typing) {
		b.transport.SendTyping(false)
		b.metrics.ObserveReply(kind, "canceled")
		return false
	}
	err := b.transport.Send(text)
	b.transport.SendTyping(false)
	if err != nil {
		b.metrics.ObserveReply(kind, "send_failed")
		b.debug.Addf("error", b.id.Username, "send failed: %v", err)
		return false
	}
	b.metrics.ObserveReply(kind, "sent")
	return true
}

func (b *Bot) opener() string {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.persona.Opener(b.rng)
}

// Snapshot is a point-in-time view of one bot for status endpoints.
type Snapshot struct {
	Username  string      `json:"username"`
	Partner   string      `json:"partner"`
	Persona   persona.ID  `json:"persona"`
	Initiator bool        `json:"initiator"`
	Status    chat.Status `json:"status"`
	RoomID    string      `json:"room_id,omitempty"`
	Window    []string    `json:"window"`
}

func (b *Bot) Snapshot() Snapshot {
	return Snapshot{
		Username:  b.id.Username,
		Partner:   b.id.Partner,
		Persona:   b.persona.ID,
		Initiator: b.id.Initiator,
		Status:    b.transport.Status(),
		RoomID:    b.transport.RoomID(),
		Window:    b.window.Tail(0),
	}
}

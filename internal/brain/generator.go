package brain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/duet/internal/conversation"
	"github.com/antoniostano/duet/internal/memory"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/persona"
)

var (
	ErrGenerationFailure = errors.New("generation failure")
	errNoCompleter       = errors.New("no completer configured")
)

const (
	DefaultHistoryLines = 10
	DefaultMaxTokens    = 100
	DefaultTemperature  = 0.85
)

// Request carries everything needed to produce one chat line.
type Request struct {
	History []string
	Self    string
	Partner string
	Sender  string
	Persona persona.Persona
	Profile *memory.Profile
}

// Reply is a generated chat line. Fact is set when the model asked to
// remember something about the sender instead of chatting.
type Reply struct {
	Text     string
	Fact     string
	Fallback bool
}

type GeneratorOptions struct {
	HistoryLines int
	MaxTokens    int
	Temperature  float64
	Seed         int64
	Metrics      *observability.Metrics
	Logs         *observability.LogBuffer
}

// Generator turns window history into a persona-flavoured reply. It never
// fails: any backend problem yields a persona fallback phrase.
type Generator struct {
	completer   Completer
	provider    string
	historyK    int
	maxTokens   int
	temperature float64
	metrics     *observability.Metrics
	logs        *observability.LogBuffer

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewGenerator(completer Completer, opts GeneratorOptions) *Generator {
	if opts.HistoryLines <= 0 {
		opts.HistoryLines = DefaultHistoryLines
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		completer:   completer,
		provider:    ProviderName(completer),
		historyK:    opts.HistoryLines,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		metrics:     opts.Metrics,
		logs:        opts.Logs,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Generate returns the text of a reply.
func (g *Generator) Generate(ctx context.Context, req Request) string {
	return g.Reply(ctx, req).Text
}

func (g *Generator) Reply(ctx context.Context, req Request) Reply {
	start := time.Now()
	text, err := g.complete(ctx, req)
	g.metrics.ObserveReplyStage("generate", time.Since(start))
	if err != nil {
		g.metrics.ObserveProviderError(g.provider, errorCode(err))
		g.logs.Add("error", req.Self, err.Error())
		return Reply{Text: g.fallback(req.Persona), Fallback: true}
	}

	if fact, ok := parseMemorySave(text); ok {
		return Reply{Text: g.fallback(req.Persona), Fact: fact}
	}
	return Reply{Text: text}
}

func (g *Generator) complete(ctx context.Context, req Request) (string, error) {
	if g == nil || g.completer == nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, errNoCompleter)
	}
	history := req.History
	if len(history) > g.historyK {
		history = history[len(history)-g.historyK:]
	}
	raw, err := g.completer.Complete(ctx, CompletionRequest{
		System:      BuildSystemPrompt(req),
		Messages:    historyMessages(history, req.Self),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}
	text := CleanReply(raw, req.Self, req.Partner, req.Sender)
	if text == "" {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, ErrEmptyCompletion)
	}
	return text, nil
}

func (g *Generator) fallback(p persona.Persona) string {
	if g == nil {
		return p.Fallback(nil)
	}
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return p.Fallback(g.rng)
}

// CleanReply keeps the first non-empty line, strips wrapping quotes and a
// leading "Name:" prefix for any of the given speaker names.
func CleanReply(raw string, names ...string) string {
	text := ""
	for _, line := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			text = s
			break
		}
	}
	for i := 0; i < 3; i++ {
		before := text
		text = stripQuotes(text)
		text = stripSpeakerPrefix(text, names)
		if text == before {
			break
		}
	}
	return strings.TrimSpace(text)
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"`", "`"},
	{"“", "”"},
	{"‘", "’"},
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}

func stripSpeakerPrefix(s string, names []string) string {
	speaker, rest, ok := splitSpeaker(s)
	if !ok {
		return s
	}
	for _, name := range names {
		if name != "" && strings.EqualFold(speaker, name) {
			return strings.TrimSpace(rest)
		}
	}
	return s
}

func splitSpeaker(line string) (string, string, bool) {
	return conversation.SplitLine(line)
}

func parseMemorySave(text string) (string, bool) {
	if len(text) < len(MemorySavePrefix) || !strings.EqualFold(text[:len(MemorySavePrefix)], MemorySavePrefix) {
		return "", false
	}
	fact := strings.TrimSpace(text[len(MemorySavePrefix):])
	return fact, fact != ""
}

func errorCode(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmptyCompletion):
		return "empty"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%d", statusErr.Code)
	case errors.Is(err, errNoCompleter):
		return "unconfigured"
	default:
		return "transport"
	}
}

package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/duet/internal/bot"
	"github.com/antoniostano/duet/internal/brain"
	"github.com/antoniostano/duet/internal/chat"
	"github.com/antoniostano/duet/internal/config"
	"github.com/antoniostano/duet/internal/duet"
	"github.com/antoniostano/duet/internal/httpapi"
	"github.com/antoniostano/duet/internal/memory"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/pacing"
	"github.com/antoniostano/duet/internal/reliability"
	"github.com/antoniostano/duet/internal/router"
)

// DefaultShutdownTimeout bounds graceful shutdown when the config leaves it unset.
const DefaultShutdownTimeout = 15 * time.Second

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *duet.Orchestrator
	Metrics      *observability.Metrics
	Transcript   *observability.LogBuffer
	Debug        *observability.LogBuffer
	Memory       memory.Store
	// Provider names the completion backend in use (openai, http, mock, none, ...).
	Provider string

	// Cleanup stops any running bots and releases the memory store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	transcript := observability.NewLogBuffer(cfg.LogCap)
	debug := observability.NewLogBuffer(cfg.LogCap)
	if cfg.EchoLogs {
		transcript = transcript.WithEcho()
		debug = debug.WithEcho()
	}

	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	completer, err := brain.NewCompleter(brain.Config{
		Mode:        cfg.LLMMode,
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		HTTPURL:     cfg.LLMHTTPURL,
		Timeout:     cfg.LLMTimeout,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("completer init failed: %w", err)
	}
	provider := brain.ProviderName(completer)
	if completer == nil {
		log.Printf("reply provider: none, set LLM_API_KEY or LLM_HTTP_URL; bots will answer with persona fallbacks")
	} else {
		log.Printf("reply provider: %s", provider)
	}

	generator := brain.NewGenerator(completer, brain.GeneratorOptions{
		HistoryLines: cfg.HistoryLines,
		MaxTokens:    cfg.LLMMaxTokens,
		Temperature:  cfg.LLMTemperature,
		Metrics:      metrics,
		Logs:         debug,
	})

	botCfg := bot.Config{
		Session:              sessionConfig(cfg),
		WindowCap:            cfg.WindowCap,
		MaxConcurrentReplies: int64(cfg.MaxConcurrentReplies),
		OpenerMin:            cfg.OpenerMin,
		OpenerMax:            cfg.OpenerMax,
		Triggers:             cfg.Triggers,
	}
	paceCfg := pacing.Config{
		ReadMin:       cfg.ReadDelayMin,
		ReadMax:       cfg.ReadDelayMax,
		TypingBase:    cfg.TypingBase,
		TypingPerChar: cfg.TypingPerChar,
		TypingMax:     cfg.TypingMax,
	}

	factory := func(id bot.Identity) (duet.Runner, error) {
		return bot.New(id, botCfg, bot.Deps{
			Generator:  generator,
			Router:     router.New(cfg.InterjectThreshold, nil),
			Pacer:      pacing.New(paceCfg, nil, nil),
			Memory:     memoryStore,
			Metrics:    metrics,
			Transcript: transcript,
			Debug:      debug,
		})
	}

	orchestrator := duet.New(factory, duet.Options{
		Stagger:    cfg.Stagger,
		Metrics:    metrics,
		Transcript: transcript,
		Debug:      debug,
	})

	api := httpapi.New(cfg, orchestrator, metrics, transcript, debug)

	cleanup := func() error {
		orchestrator.Stop()
		var errs []string
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Transcript:   transcript,
		Debug:        debug,
		Memory:       memoryStore,
		Provider:     provider,
		Cleanup:      cleanup,
	}, nil
}

func sessionConfig(cfg config.Config) chat.Config {
	sc := chat.Config{
		URL:               cfg.ChatWSURL,
		JoinDelay:         cfg.ChatJoinDelay,
		HeartbeatInterval: cfg.ChatHeartbeat,
		Backoff:           backoffPolicy(cfg),
	}
	if strings.TrimSpace(cfg.ChatLoginURL) != "" {
		sc.Auth = chat.NewHTTPAuthenticator(cfg.ChatLoginURL, cfg.LoginTimeout)
	}
	return sc
}

func backoffPolicy(cfg config.Config) reliability.BackoffPolicy {
	base := cfg.ReconnectBackoff
	if base <= 0 {
		base = chat.DefaultBackoff
	}
	policy := reliability.FixedBackoff(base)
	if cfg.ReconnectMaxBackoff > base {
		policy.Cap = cfg.ReconnectMaxBackoff
		policy.Exponential = true
	}
	policy.MaxAttempts = cfg.ReconnectMaxAttempts
	return policy
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/duet/internal/persona"
)

// BotAccount is one chat account the duet logs in with.
type BotAccount struct {
	Username string
	Password string
	Persona  string
}

// Config contains all runtime settings for the duet service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogCap           int
	EchoLogs         bool

	ChatWSURL            string
	ChatLoginURL         string
	ChatRoom             string
	ChatJoinDelay        time.Duration
	ChatHeartbeat        time.Duration
	ReconnectBackoff     time.Duration
	ReconnectMaxBackoff  time.Duration
	ReconnectMaxAttempts int
	LoginTimeout         time.Duration
	BotA                 BotAccount
	BotB                 BotAccount
	Stagger              time.Duration
	WindowCap            int
	HistoryLines         int
	MaxConcurrentReplies int
	InterjectThreshold   float64
	Triggers             []string
	OpenerMin            time.Duration
	OpenerMax            time.Duration
	ReadDelayMin         time.Duration
	ReadDelayMax         time.Duration
	TypingBase           time.Duration
	TypingPerChar        time.Duration
	TypingMax            time.Duration

	LLMMode        string
	LLMAPIKey      string
	LLMBaseURL     string
	LLMModel       string
	LLMHTTPURL     string
	LLMTimeout     time.Duration
	LLMMaxTokens   int
	LLMTemperature float64

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "duet"),
		ShutdownTimeout:  15 * time.Second,
		LogCap:           200,
		EchoLogs:         true,

		ChatWSURL:    envOrDefault("CHAT_WS_URL", "wss://chatp.net:5333/server"),
		ChatLoginURL: trimmedEnv("CHAT_LOGIN_URL"),
		ChatRoom:     trimmedEnv("CHAT_ROOM"),
		BotA: BotAccount{
			Username: trimmedEnv("BOT_A_USERNAME"),
			Password: os.Getenv("BOT_A_PASSWORD"),
			Persona:  envOrDefault("BOT_A_PERSONA", string(persona.Energetic)),
		},
		BotB: BotAccount{
			Username: trimmedEnv("BOT_B_USERNAME"),
			Password: os.Getenv("BOT_B_PASSWORD"),
			Persona:  envOrDefault("BOT_B_PERSONA", string(persona.Chill)),
		},
		ChatJoinDelay:        time.Second,
		ChatHeartbeat:        25 * time.Second,
		ReconnectBackoff:     12 * time.Second,
		LoginTimeout:         10 * time.Second,
		Stagger:              5 * time.Second,
		WindowCap:            12,
		HistoryLines:         10,
		MaxConcurrentReplies: 4,
		InterjectThreshold:   0.15,
		Triggers:             listFromEnv("DUET_TRIGGERS"),
		OpenerMin:            6 * time.Second,
		OpenerMax:            8 * time.Second,
		ReadDelayMin:         1500 * time.Millisecond,
		ReadDelayMax:         4500 * time.Millisecond,
		TypingBase:           time.Second,
		TypingPerChar:        80 * time.Millisecond,
		TypingMax:            12 * time.Second,

		LLMMode:        envOrDefault("LLM_MODE", "auto"),
		LLMAPIKey:      envOrDefault("LLM_API_KEY", trimmedEnv("GROQ_API_KEY")),
		LLMBaseURL:     envOrDefault("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:       envOrDefault("LLM_MODEL", "llama-3.1-8b-instant"),
		LLMHTTPURL:     trimmedEnv("LLM_HTTP_URL"),
		LLMTimeout:     15 * time.Second,
		LLMMaxTokens:   100,
		LLMTemperature: 0.85,

		DatabaseURL: trimmedEnv("DATABASE_URL"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"CHAT_JOIN_DELAY", &cfg.ChatJoinDelay},
		{"CHAT_HEARTBEAT_INTERVAL", &cfg.ChatHeartbeat},
		{"CHAT_RECONNECT_BACKOFF", &cfg.ReconnectBackoff},
		{"CHAT_RECONNECT_MAX_BACKOFF", &cfg.ReconnectMaxBackoff},
		{"CHAT_LOGIN_TIMEOUT", &cfg.LoginTimeout},
		{"DUET_STAGGER", &cfg.Stagger},
		{"DUET_OPENER_MIN", &cfg.OpenerMin},
		{"DUET_OPENER_MAX", &cfg.OpenerMax},
		{"PACING_READ_MIN", &cfg.ReadDelayMin},
		{"PACING_READ_MAX", &cfg.ReadDelayMax},
		{"PACING_TYPING_BASE", &cfg.TypingBase},
		{"PACING_TYPING_PER_CHAR", &cfg.TypingPerChar},
		{"PACING_TYPING_MAX", &cfg.TypingMax},
		{"LLM_TIMEOUT", &cfg.LLMTimeout},
	}
	for _, d := range durations {
		v, err := durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"APP_LOG_CAP", &cfg.LogCap},
		{"CHAT_RECONNECT_MAX_ATTEMPTS", &cfg.ReconnectMaxAttempts},
		{"DUET_WINDOW_CAP", &cfg.WindowCap},
		{"DUET_HISTORY_LINES", &cfg.HistoryLines},
		{"DUET_MAX_CONCURRENT_REPLIES", &cfg.MaxConcurrentReplies},
		{"LLM_MAX_TOKENS", &cfg.LLMMaxTokens},
	}
	for _, n := range ints {
		v, err := intFromEnv(n.key, *n.dst)
		if err != nil {
			return Config{}, err
		}
		*n.dst = v
	}

	var err error
	cfg.EchoLogs, err = boolFromEnv("APP_ECHO_LOGS", cfg.EchoLogs)
	if err != nil {
		return Config{}, err
	}
	cfg.InterjectThreshold, err = floatFromEnv("DUET_INTERJECT_THRESHOLD", cfg.InterjectThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise surface as odd runtime
// behaviour.
func (c Config) Validate() error {
	switch {
	case c.LogCap <= 0:
		return fmt.Errorf("APP_LOG_CAP must be positive")
	case c.ChatHeartbeat < time.Second:
		return fmt.Errorf("CHAT_HEARTBEAT_INTERVAL must be at least 1s")
	case c.ReconnectBackoff <= 0:
		return fmt.Errorf("CHAT_RECONNECT_BACKOFF must be positive")
	case c.ReconnectMaxBackoff != 0 && c.ReconnectMaxBackoff < c.ReconnectBackoff:
		return fmt.Errorf("CHAT_RECONNECT_MAX_BACKOFF must be >= CHAT_RECONNECT_BACKOFF")
	case c.ReconnectMaxAttempts < 0:
		return fmt.Errorf("CHAT_RECONNECT_MAX_ATTEMPTS must be >= 0")
	case c.ChatJoinDelay < 0 || c.Stagger < 0:
		return fmt.Errorf("CHAT_JOIN_DELAY and DUET_STAGGER must be >= 0")
	case c.WindowCap <= 0:
		return fmt.Errorf("DUET_WINDOW_CAP must be positive")
	case c.HistoryLines <= 0:
		return fmt.Errorf("DUET_HISTORY_LINES must be positive")
	case c.MaxConcurrentReplies <= 0:
		return fmt.Errorf("DUET_MAX_CONCURRENT_REPLIES must be positive")
	case c.InterjectThreshold < 0 || c.InterjectThreshold > 1:
		return fmt.Errorf("DUET_INTERJECT_THRESHOLD must be within [0, 1]")
	case c.OpenerMax < c.OpenerMin:
		return fmt.Errorf("DUET_OPENER_MAX must be >= DUET_OPENER_MIN")
	case c.ReadDelayMax < c.ReadDelayMin:
		return fmt.Errorf("PACING_READ_MAX must be >= PACING_READ_MIN")
	case c.TypingMax < c.TypingBase:
		return fmt.Errorf("PACING_TYPING_MAX must be >= PACING_TYPING_BASE")
	case c.LLMMaxTokens <= 0:
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	for _, p := range []string{c.BotA.Persona, c.BotB.Persona} {
		if _, err := persona.Lookup(p); err != nil {
			return fmt.Errorf("bot persona: %w", err)
		}
	}
	return nil
}

// HasAccounts reports whether both bot accounts and a room are configured,
// which a headless run needs.
func (c Config) HasAccounts() bool {
	return c.BotA.Username != "" && c.BotB.Username != "" && c.ChatRoom != ""
}

// listFromEnv splits a comma-separated variable, dropping blanks.
func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so several can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	SessionStatus    *prometheus.CounterVec
	ConnectAttempts  *prometheus.CounterVec
	Frames           *prometheus.CounterVec
	RoutingDecisions *prometheus.CounterVec
	Replies          *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ActiveBots       prometheus.Gauge
	ReplyLatency     prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		SessionStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_status_transitions_total",
			Help:      "Chat session status transitions by bot and status.",
		}, []string{"bot", "status"}),
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Login/connect cycles by bot and outcome.",
		}, []string{"bot", "outcome"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_total",
			Help:      "WebSocket frames by direction and handler.",
		}, []string{"direction", "handler"}),
		RoutingDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by reason.",
		}, []string{"reason"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Outbound replies by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ActiveBots: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bots",
			Help:      "Number of running bot sessions.",
		}),
		ReplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "Time from accepting a message to sending the reply, in milliseconds.",
			Buckets:   []float64{1000, 2000, 4000, 6000, 8000, 12000, 16000, 24000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveSessionStatus(bot, status string) {
	if m == nil {
		return
	}
	m.SessionStatus.WithLabelValues(bot, status).Inc()
}

func (m *Metrics) ObserveConnectAttempt(bot, outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(bot, outcome).Inc()
}

func (m *Metrics) ObserveFrame(direction, handler string) {
	if m == nil {
		return
	}
	if handler == "" {
		handler = "unknown"
	}
	m.Frames.WithLabelValues(direction, handler).Inc()
}

func (m *Metrics) ObserveRouting(reason string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveReply(kind, outcome string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(kind, outcome).Inc()
	if outcome != "sent" {
		m.stages.ObserveOutcome(outcome)
	}
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) SetActiveBots(n int) {
	if m == nil {
		return
	}
	m.ActiveBots.Set(float64(n))
}

func (m *Metrics) ObserveReplyLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
}

// ObserveReplyStage records one pacing/generation stage duration.
func (m *Metrics) ObserveReplyStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, d)
}

func (m *Metrics) ReplyStageSnapshot() ReplyStageSnapshot {
	if m == nil {
		return (*stageWindow)(nil).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

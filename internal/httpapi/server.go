package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/antoniostano/duet/internal/config"
	"github.com/antoniostano/duet/internal/duet"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/persona"
)

type Orchestrator interface {
	Launch(ctx context.Context, req duet.LaunchRequest) (string, error)
	Stop()
	Status(tail int) duet.Status
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	metrics      *observability.Metrics
	transcript   *observability.LogBuffer
	debug        *observability.LogBuffer
	static       http.Handler
}

func New(cfg config.Config, orchestrator Orchestrator, metrics *observability.Metrics, transcript, debug *observability.LogBuffer) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		metrics:      metrics,
		transcript:   transcript,
		debug:        debug,
		static:       newStaticHandler(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/duet", func(r chi.Router) {
		r.Post("/launch", s.handleLaunch)
		r.Post("/stop", s.handleStop)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/v1/logs", s.handleLogs)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running := false
	if s.orchestrator != nil {
		running = s.orchestrator.Status(1).Running
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": running,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.ReplyStageSnapshot{Stages: []observability.ReplyStageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.ReplyStageSnapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics_disabled", "metrics are not configured")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// launchBody mirrors duet.LaunchRequest; every field is optional and falls
// back to the configured accounts.
type launchBody struct {
	A        *duet.Credentials `json:"a"`
	B        *duet.Credentials `json:"b"`
	Room     string            `json:"room"`
	PersonaA string            `json:"persona_a"`
	PersonaB string            `json:"persona_b"`
}

func (s *Server) launchRequest(body launchBody) duet.LaunchRequest {
	req := duet.LaunchRequest{
		A:        duet.Credentials{Username: s.cfg.BotA.Username, Password: s.cfg.BotA.Password},
		B:        duet.Credentials{Username: s.cfg.BotB.Username, Password: s.cfg.BotB.Password},
		Room:     s.cfg.ChatRoom,
		PersonaA: persona.ID(s.cfg.BotA.Persona),
		PersonaB: persona.ID(s.cfg.BotB.Persona),
	}
	if body.A != nil && strings.TrimSpace(body.A.Username) != "" {
		req.A = *body.A
	}
	if body.B != nil && strings.TrimSpace(body.B.Username) != "" {
		req.B = *body.B
	}
	if v := strings.TrimSpace(body.Room); v != "" {
		req.Room = v
	}
	if v := strings.TrimSpace(body.PersonaA); v != "" {
		req.PersonaA = persona.ID(strings.ToLower(v))
	}
	if v := strings.TrimSpace(body.PersonaB); v != "" {
		req.PersonaB = persona.ID(strings.ToLower(v))
	}
	return req
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "orchestrator_unavailable", "orchestrator is not configured")
		return
	}
	var body launchBody
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	launchID, err := s.orchestrator.Launch(r.Context(), s.launchRequest(body))
	if err != nil {
		if errors.Is(err, duet.ErrInvalidLaunch) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "launch_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"launch_id": launchID,
		"status":    "launching",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "orchestrator_unavailable", "orchestrator is not configured")
		return
	}
	s.orchestrator.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "orchestrator_unavailable", "orchestrator is not configured")
		return
	}
	tail, err := tailParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.orchestrator.Status(tail))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail, err := tailParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	kind := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind")))
	var buf *observability.LogBuffer
	switch kind {
	case "", "transcript":
		kind = "transcript"
		buf = s.transcript
	case "debug":
		buf = s.debug
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "kind must be transcript or debug")
		return
	}
	entries := buf.Tail(tail)
	if entries == nil {
		entries = []observability.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"kind":    kind,
		"entries": entries,
	})
}

func tailParam(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get("tail"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("tail must be a non-negative integer")
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

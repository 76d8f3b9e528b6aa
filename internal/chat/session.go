package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/duet/internal/conversation"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/pacing"
	"github.com/antoniostano/duet/internal/protocol"
	"github.com/antoniostano/duet/internal/reliability"
)

const (
	DefaultURL               = "wss://chatp.net:5333/server"
	DefaultJoinDelay         = time.Second
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultBackoff           = 12 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
)

// Config describes one bot account and how to reach the chat service.
type Config struct {
	Username string
	Password string
	Room     string
	URL      string
	// Auth is optional. Without it the password travels in the login frame.
	Auth              Authenticator
	JoinDelay         time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	Backoff           reliability.BackoffPolicy
}

// Hooks are invoked from the read loop and must not block.
type Hooks struct {
	OnStatus     func(Status)
	OnRoomJoined func(roomID string)
	OnChat       func(protocol.ChatMessage)
	OnUserJoined func(username string)
}

type Options struct {
	Hooks      Hooks
	Window     *conversation.Window
	Transcript *observability.LogBuffer
	Debug      *observability.LogBuffer
	Metrics    *observability.Metrics
	Sleep      pacing.Sleeper
}

// Session owns one authenticated websocket to the chat service and keeps it
// alive until Stop.
type Session struct {
	cfg        Config
	hooks      Hooks
	dialer     websocket.Dialer
	window     *conversation.Window
	transcript *observability.LogBuffer
	debug      *observability.LogBuffer
	metrics    *observability.Metrics
	sleep      pacing.Sleeper

	mu        sync.Mutex
	status    Status
	running   bool
	conn      *websocket.Conn
	roomID    string
	cancelRun context.CancelFunc

	writeMu sync.Mutex
}

func NewSession(cfg Config, opts Options) *Session {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.JoinDelay < 0 {
		cfg.JoinDelay = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = reliability.FixedBackoff(DefaultBackoff)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = pacing.Sleep
	}
	return &Session{
		cfg:        cfg,
		hooks:      opts.Hooks,
		window:     opts.Window,
		transcript: opts.Transcript,
		debug:      opts.Debug,
		metrics:    opts.Metrics,
		sleep:      sleep,
		status:     StatusIdle,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (s *Session) Username() string { return s.cfg.Username }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RoomID is the server-assigned room id, empty until the join is acknowledged.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run logs in, connects and reads until the socket drops, then waits the
// backoff and starts over. It returns when Stop is called, ctx ends, or the
// backoff policy runs out of attempts.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()
	defer s.endRun()

	failures := 0
	for {
		if !s.Running() || runCtx.Err() != nil {
			return nil
		}
		joined, err := s.cycle(runCtx)
		if !s.Running() || runCtx.Err() != nil {
			return nil
		}
		if joined {
			failures = 0
		}
		failures++
		if !s.cfg.Backoff.Allow(failures) {
			s.markStopped()
			return fmt.Errorf("session %s gave up after %d attempts: %w", s.cfg.Username, failures, err)
		}
		delay := s.cfg.Backoff.Delay(failures - 1)
		s.debugf("retrying in %s: %v", delay, err)
		if !s.sleep(runCtx, delay) {
			return nil
		}
	}
}

// cycle performs one login, dial and read loop. joined reports whether the
// room join was acknowledged before the connection ended.
func (s *Session) cycle(ctx context.Context) (joined bool, err error) {
	s.setStatus(StatusAuthenticating)
	token := ""
	if s.cfg.Auth != nil {
		token, err = s.cfg.Auth.Login(ctx, s.cfg.Username, s.cfg.Password)
		if err != nil {
			if errors.Is(err, ErrAuthFailure) {
				s.setStatus(StatusAuthFailed)
				s.metrics.ObserveConnectAttempt(s.cfg.Username, "auth_failed")
			} else {
				s.setStatus(StatusDisconnected)
				s.metrics.ObserveConnectAttempt(s.cfg.Username, "login_error")
			}
			return false, err
		}
	}

	s.setStatus(StatusConnecting)
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.setStatus(StatusDisconnected)
		s.metrics.ObserveConnectAttempt(s.cfg.Username, "dial_failed")
		return false, fmt.Errorf("%w: dial %s: %w", ErrTransportFailure, s.cfg.URL, err)
	}
	if !s.attach(conn) {
		_ = conn.Close()
		return false, nil
	}
	s.metrics.ObserveConnectAttempt(s.cfg.Username, "connected")
	s.setStatus(StatusConnected)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	password := ""
	if token == "" {
		password = s.cfg.Password
	}
	if err := s.write(conn, protocol.HandlerLogin, protocol.NewLogin(s.cfg.Username, token, password)); err != nil {
		s.detach(conn)
		s.setStatus(StatusDisconnected)
		return false, fmt.Errorf("%w: send login: %w", ErrTransportFailure, err)
	}
	go s.afterOpen(connCtx, conn)

	err = s.readLoop(conn)
	cancel()
	s.detach(conn)

	joined = s.RoomID() != ""
	if s.Status() == StatusAuthFailed {
		return joined, fmt.Errorf("%w: login rejected", ErrAuthFailure)
	}
	s.setStatus(StatusDisconnected)
	return joined, err
}

// afterOpen joins the room once the server had time to process the login,
// then keeps the socket alive with pings.
func (s *Session) afterOpen(ctx context.Context, conn *websocket.Conn) {
	if !s.sleep(ctx, s.cfg.JoinDelay) {
		return
	}
	if err := s.write(conn, protocol.HandlerRoomJoin, protocol.NewRoomJoin(s.cfg.Room)); err != nil {
		s.debugf("room join failed: %v", err)
		_ = conn.Close()
		return
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(conn, protocol.HandlerPing, protocol.NewPing()); err != nil {
				s.debugf("heartbeat failed: %v", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %w", ErrTransportFailure, err)
		}
		s.handleFrame(conn, data)
	}
}

func (s *Session) handleFrame(conn *websocket.Conn, data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		s.debugf("dropping frame: %v", err)
		return
	}
	handler := string(protocol.HandlerOf(ev))
	if handler == "" {
		handler = "unknown"
	}
	s.metrics.ObserveFrame("in", handler)

	switch e := ev.(type) {
	case protocol.LoginResult:
		if e.Success {
			s.debugf("login accepted")
			return
		}
		s.debugf("login rejected: %s", e.Reason)
		s.setStatus(StatusAuthFailed)
		_ = conn.Close()
	case protocol.RoomJoined:
		roomID := e.RoomID
		if roomID == "" {
			roomID = e.RoomName
		}
		if roomID == "" {
			roomID = s.cfg.Room
		}
		s.mu.Lock()
		s.roomID = roomID
		s.mu.Unlock()
		s.setStatus(StatusInRoom)
		s.debugf("joined room %s", roomID)
		if s.hooks.OnRoomJoined != nil {
			s.hooks.OnRoomJoined(roomID)
		}
	case protocol.ChatMessage:
		if strings.TrimSpace(e.Text) == "" {
			return
		}
		if s.hooks.OnChat != nil {
			s.hooks.OnChat(e)
		}
	case protocol.UserJoined:
		s.debugf("%s joined the room", e.Username)
		if strings.TrimSpace(e.Username) != "" && s.hooks.OnUserJoined != nil {
			s.hooks.OnUserJoined(e.Username)
		}
	}
}

// Send posts text to the room. Without a live socket it returns
// ErrNotConnected and does nothing else.
func (s *Session) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	room := s.roomID
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if room == "" {
		room = s.cfg.Room
	}
	if err := s.write(conn, protocol.HandlerRoomMessage, protocol.NewRoomMessage(room, text)); err != nil {
		return fmt.Errorf("%w: send message: %w", ErrTransportFailure, err)
	}
	if s.window != nil {
		s.window.Append(s.cfg.Username, text)
	}
	s.transcript.Add("chat", s.cfg.Username, text)
	return nil
}

// SendTyping is best effort; failures are only logged to the debug buffer.
func (s *Session) SendTyping(active bool) {
	s.mu.Lock()
	conn := s.conn
	room := s.roomID
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if room == "" {
		room = s.cfg.Room
	}
	if err := s.write(conn, protocol.HandlerTyping, protocol.NewTyping(room, active)); err != nil {
		s.debugf("typing indicator failed: %v", err)
	}
}

// Stop ends the reconnect loop and closes the socket. Safe to call more
// than once and from any goroutine.
func (s *Session) Stop() {
	s.mu.Lock()
	s.running = false
	cancel := s.cancelRun
	s.cancelRun = nil
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.markStopped()
}

// endRun releases the running flag when Run returns on its own, so a later
// Run can start over. A session that was stopped stays stopped.
func (s *Session) endRun() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.cancelRun = nil
	conn := s.conn
	s.conn = nil
	s.roomID = ""
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if wasRunning && s.Status() != StatusStopped {
		s.setStatus(StatusDisconnected)
	}
}

func (s *Session) markStopped() {
	s.mu.Lock()
	s.running = false
	changed := s.status != StatusStopped
	s.status = StatusStopped
	s.mu.Unlock()
	if changed {
		s.notifyStatus(StatusStopped)
	}
}

// attach installs conn as the live socket, closing any previous one.
// It refuses when the session was stopped meanwhile.
func (s *Session) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	prev := s.conn
	s.conn = conn
	s.roomID = ""
	s.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
	return true
}

func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	if s.status == StatusStopped && !s.running {
		s.mu.Unlock()
		return
	}
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed {
		s.notifyStatus(st)
	}
}

func (s *Session) notifyStatus(st Status) {
	s.metrics.ObserveSessionStatus(s.cfg.Username, string(st))
	s.debug.Add("status", s.cfg.Username, string(st))
	if s.hooks.OnStatus != nil {
		s.hooks.OnStatus(st)
	}
}

func (s *Session) write(conn *websocket.Conn, handler protocol.Handler, payload any) error {
	if conn == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	if err := conn.WriteJSON(payload); err != nil {
		return err
	}
	s.metrics.ObserveFrame("out", string(handler))
	return nil
}

func (s *Session) debugf(format string, args ...any) {
	if s.debug != nil {
		s.debug.Addf("debug", s.cfg.Username, format, args...)
		return
	}
	log.Printf("chat %s: "+format, append([]any{s.cfg.Username}, args...)...)
}

package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/antoniostano/duet/internal/conversation"
	"github.com/antoniostano/duet/internal/protocol"
	"github.com/antoniostano/duet/internal/reliability"
)

type chatServer struct {
	srv       *httptest.Server
	loginOK   bool
	roomID    string
	afterJoin []string

	mu     sync.Mutex
	frames []string
	conns  int
}

func newChatServer(t *testing.T, loginOK bool, roomID string, afterJoin ...string) *chatServer {
	t.Helper()
	cs := &chatServer{loginOK: loginOK, roomID: roomID, afterJoin: afterJoin}
	upgrader := websocket.Upgrader{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		cs.mu.Lock()
		cs.conns++
		cs.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			cs.mu.Lock()
			cs.frames = append(cs.frames, string(data))
			cs.mu.Unlock()

			switch gjson.GetBytes(data, "handler").String() {
			case "login":
				if cs.loginOK {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"handler":"login_event","type":"success"}`))
				} else {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"handler":"login_event","type":"failed","reason":"bad password"}`))
				}
			case "room_join":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"handler":"room_event","type":"you_joined","roomid":"`+cs.roomID+`","name":"lobby"}`))
				for _, f := range cs.afterJoin {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
				}
			}
		}
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) url() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

func (cs *chatServer) framesWith(handler string) []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out []string
	for _, f := range cs.frames {
		if gjson.Get(f, "handler").String() == handler {
			out = append(out, f)
		}
	}
	return out
}

func (cs *chatServer) connections() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conns
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type flakyAuth struct {
	mu       sync.Mutex
	failures int
	attempts []time.Time
}

func (a *flakyAuth) Login(_ context.Context, username, password string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, time.Now())
	if len(a.attempts) <= a.failures {
		return "", ErrAuthFailure
	}
	return "tok-" + username, nil
}

func (a *flakyAuth) times() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.attempts...)
}

type statusLog struct {
	mu   sync.Mutex
	seen []Status
}

func (l *statusLog) record(s Status) {
	l.mu.Lock()
	l.seen = append(l.seen, s)
	l.mu.Unlock()
}

func (l *statusLog) has(s Status) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.seen {
		if v == s {
			return true
		}
	}
	return false
}

func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	t.Cleanup(s.Stop)
	return done
}

func TestSessionReconnectsAfterFailedLogin(t *testing.T) {
	server := newChatServer(t, true, "r1")
	auth := &flakyAuth{failures: 1}
	statuses := &statusLog{}
	backoff := 80 * time.Millisecond

	s := NewSession(Config{
		Username:  "bot_a",
		Password:  "pw",
		Room:      "lobby",
		URL:       server.url(),
		Auth:      auth,
		JoinDelay: 5 * time.Millisecond,
		Backoff:   reliability.FixedBackoff(backoff),
	}, Options{Hooks: Hooks{OnStatus: statuses.record}})
	done := runSession(t, s)

	waitFor(t, "connected", func() bool { return s.Status().Live() })

	attempts := auth.times()
	if len(attempts) != 2 {
		t.Fatalf("login attempts = %d, want 2", len(attempts))
	}
	if gap := attempts[1].Sub(attempts[0]); gap < backoff {
		t.Fatalf("retry gap = %s, want >= %s", gap, backoff)
	}
	if !statuses.has(StatusAuthFailed) || !statuses.has(StatusConnected) {
		t.Fatalf("statuses = %v, want auth_failed then connected", statuses.seen)
	}
	if statuses.has(StatusStopped) {
		t.Fatal("session marked itself stopped after a failed login")
	}

	login := server.framesWith("login")
	if len(login) != 1 || gjson.Get(login[0], "token").String() != "tok-bot_a" {
		t.Fatalf("login frames = %v, want one with token", login)
	}
	if gjson.Get(login[0], "password").Exists() {
		t.Fatal("password must not be sent when a token is available")
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestSessionRoomJoinChatAndSend(t *testing.T) {
	server := newChatServer(t, true, "r123",
		`{"handler":"room_event","type":"text","from":"ravi","body":"kya haal","roomid":"r123"}`)
	window := conversation.NewWindow(12)

	var (
		mu     sync.Mutex
		joined []string
		chats  []protocol.ChatMessage
	)
	s := NewSession(Config{
		Username:          "bot_a",
		Password:          "pw",
		Room:              "lobby",
		URL:               server.url(),
		JoinDelay:         5 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}, Options{
		Window: window,
		Hooks: Hooks{
			OnRoomJoined: func(id string) {
				mu.Lock()
				joined = append(joined, id)
				mu.Unlock()
			},
			OnChat: func(m protocol.ChatMessage) {
				mu.Lock()
				chats = append(chats, m)
				mu.Unlock()
			},
		},
	})
	runSession(t, s)

	waitFor(t, "chat message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chats) == 1
	})
	if s.RoomID() != "r123" || s.Status() != StatusInRoom {
		t.Fatalf("room = %q status = %s, want r123 in_room", s.RoomID(), s.Status())
	}
	mu.Lock()
	if len(joined) != 1 || joined[0] != "r123" {
		t.Fatalf("joined = %v, want [r123]", joined)
	}
	if chats[0].Sender != "ravi" || chats[0].Text != "kya haal" {
		t.Fatalf("chat = %+v", chats[0])
	}
	mu.Unlock()

	login := server.framesWith("login")
	if len(login) != 1 || gjson.Get(login[0], "password").String() != "pw" {
		t.Fatalf("login frames = %v, want password login", login)
	}

	if err := s.Send("namaste"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, "room message", func() bool { return len(server.framesWith("room_message")) == 1 })
	msg := server.framesWith("room_message")[0]
	if gjson.Get(msg, "room").String() != "r123" || gjson.Get(msg, "body").String() != "namaste" {
		t.Fatalf("room_message = %s", msg)
	}
	if tail := window.Tail(1); len(tail) != 1 || tail[0] != "bot_a: namaste" {
		t.Fatalf("window tail = %v", tail)
	}

	waitFor(t, "heartbeat", func() bool { return len(server.framesWith("ping")) > 0 })
}

func TestSessionSendWithoutSocketIsNoop(t *testing.T) {
	window := conversation.NewWindow(4)
	s := NewSession(Config{Username: "bot_a", Room: "lobby"}, Options{Window: window})

	if err := s.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
	s.SendTyping(true)
	if window.Len() != 0 {
		t.Fatalf("window len = %d, want 0", window.Len())
	}
	if s.Status() != StatusIdle {
		t.Fatalf("Status() = %s, want idle", s.Status())
	}
}

func TestSessionStopTwiceStaysStopped(t *testing.T) {
	server := newChatServer(t, true, "r9")
	s := NewSession(Config{Username: "bot_b", Room: "lobby", URL: server.url()}, Options{})
	done := runSession(t, s)
	waitFor(t, "in room", func() bool { return s.Status() == StatusInRoom })

	s.Stop()
	s.Stop()
	if s.Status() != StatusStopped {
		t.Fatalf("Status() = %s, want stopped", s.Status())
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if s.Status() != StatusStopped {
		t.Fatalf("Status() after Run returned = %s, want stopped", s.Status())
	}
	if err := s.Send("late"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() after Stop error = %v, want ErrNotConnected", err)
	}
}

func TestSessionRejectedLoginGivesUpAfterMaxAttempts(t *testing.T) {
	server := newChatServer(t, false, "r1")
	policy := reliability.FixedBackoff(10 * time.Millisecond)
	policy.MaxAttempts = 2

	s := NewSession(Config{Username: "bot_a", Password: "wrong", Room: "lobby", URL: server.url(), Backoff: policy}, Options{})
	err := s.Run(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("Run() error = %v, want ErrAuthFailure", err)
	}
	if server.connections() != 2 {
		t.Fatalf("connections = %d, want 2", server.connections())
	}
	if s.Status() != StatusStopped {
		t.Fatalf("Status() = %s, want stopped", s.Status())
	}
}

func TestSessionRunReturnsOnContextCancel(t *testing.T) {
	auth := &flakyAuth{failures: 1000}
	s := NewSession(Config{Username: "bot_a", Room: "lobby", URL: "ws://127.0.0.1:1", Auth: auth, Backoff: reliability.FixedBackoff(time.Hour)}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "first attempt", func() bool { return len(auth.times()) == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSessionCanRunAgainAfterContextCancel(t *testing.T) {
	auth := &flakyAuth{failures: 1000}
	s := NewSession(Config{Username: "bot_a", Room: "lobby", URL: "ws://127.0.0.1:1", Auth: auth, Backoff: reliability.FixedBackoff(time.Hour)}, Options{})

	for round := 1; round <= 2; round++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		waitFor(t, "login attempt", func() bool { return len(auth.times()) == round })
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("round %d: Run() error = %v", round, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: Run did not return after cancel", round)
		}
		if s.Running() {
			t.Fatalf("round %d: Running() = true after Run returned", round)
		}
	}
	if st := s.Status(); st != StatusDisconnected {
		t.Fatalf("Status() = %s, want %s", st, StatusDisconnected)
	}
}

func TestSessionReportsUserJoins(t *testing.T) {
	server := newChatServer(t, true, "r123",
		`{"handler":"room_event","type":"join","nickname":"priya","roomid":"r123"}`,
		`{"handler":"room_event","type":"join","nickname":"","roomid":"r123"}`,
		`{"handler":"room_event","type":"user_joined","username":"neha","roomid":"r123"}`)

	var (
		mu    sync.Mutex
		users []string
	)
	s := NewSession(Config{
		Username:  "bot_a",
		Password:  "pw",
		Room:      "lobby",
		URL:       server.url(),
		JoinDelay: 5 * time.Millisecond,
	}, Options{
		Window: conversation.NewWindow(4),
		Hooks: Hooks{
			OnUserJoined: func(name string) {
				mu.Lock()
				users = append(users, name)
				mu.Unlock()
			},
		},
	})
	runSession(t, s)

	waitFor(t, "user joins", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(users) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if users[0] != "priya" || users[1] != "neha" {
		t.Fatalf("joined users = %v, want [priya neha]", users)
	}
}

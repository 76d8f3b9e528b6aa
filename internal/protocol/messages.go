package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Handler identifies chat-service frame variants.
type Handler string

const (
	HandlerLogin       Handler = "login"
	HandlerLoginEvent  Handler = "login_event"
	HandlerRoomJoin    Handler = "room_join"
	HandlerJoinRoomAlt Handler = "joinchatroom"
	HandlerRoomEvent   Handler = "room_event"
	HandlerRoomMessage Handler = "room_message"
	HandlerRoomMsgAlt  Handler = "chatroommessage"
	HandlerTyping      Handler = "typing"
	HandlerPing        Handler = "ping"
)

var ErrInvalidFrame = errors.New("invalid frame")

// Login authenticates the socket. Token is preferred; Password is only sent
// when the service has no separate HTTP login endpoint.
type Login struct {
	Handler  Handler `json:"handler"`
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Token    string  `json:"token,omitempty"`
	Password string  `json:"password,omitempty"`
	Platform string  `json:"platform"`
}

type RoomJoin struct {
	Handler Handler `json:"handler"`
	ID      string  `json:"id"`
	Name    string  `json:"name"`
}

type RoomMessage struct {
	Handler Handler `json:"handler"`
	ID      string  `json:"id"`
	Room    string  `json:"room"`
	Type    string  `json:"type"`
	Body    string  `json:"body"`
	URL     string  `json:"url"`
	Length  string  `json:"length"`
}

type Typing struct {
	Handler Handler `json:"handler"`
	ID      string  `json:"id"`
	Room    string  `json:"room"`
	Active  bool    `json:"active"`
}

type Ping struct {
	Handler Handler `json:"handler"`
	ID      string  `json:"id"`
}

func NewLogin(username, token, password string) Login {
	return Login{
		Handler:  HandlerLogin,
		ID:       uuid.NewString(),
		Username: username,
		Token:    token,
		Password: password,
		Platform: "web",
	}
}

func NewRoomJoin(name string) RoomJoin {
	return RoomJoin{Handler: HandlerRoomJoin, ID: uuid.NewString(), Name: name}
}

func NewRoomMessage(room, text string) RoomMessage {
	return RoomMessage{
		Handler: HandlerRoomMessage,
		ID:      uuid.NewString(),
		Room:    room,
		Type:    "text",
		Body:    text,
		Length:  "0",
	}
}

func NewTyping(room string, active bool) Typing {
	return Typing{Handler: HandlerTyping, ID: uuid.NewString(), Room: room, Active: active}
}

func NewPing() Ping {
	return Ping{Handler: HandlerPing, ID: uuid.NewString()}
}

// Event is one decoded inbound frame. Exactly one of the concrete types
// below: LoginResult, RoomJoined, ChatMessage, UserJoined or Unknown.
type Event interface {
	eventHandler() Handler
}

type LoginResult struct {
	Success bool
	Reason  string
}

type RoomJoined struct {
	RoomID   string
	RoomName string
}

type ChatMessage struct {
	Sender string
	Text   string
	RoomID string
}

type UserJoined struct {
	Username string
}

// Unknown carries frames the engine does not act on. It is not an error.
type Unknown struct {
	Handler Handler
}

func (LoginResult) eventHandler() Handler { return HandlerLoginEvent }
func (RoomJoined) eventHandler() Handler  { return HandlerRoomEvent }
func (ChatMessage) eventHandler() Handler { return HandlerRoomEvent }
func (UserJoined) eventHandler() Handler  { return HandlerRoomEvent }
func (u Unknown) eventHandler() Handler   { return u.Handler }

// HandlerOf reports the wire handler an event arrived on, for logs and
// metrics labels.
func HandlerOf(ev Event) Handler {
	if ev == nil {
		return ""
	}
	return ev.eventHandler()
}

// ParseEvent decodes one raw frame. Only malformed JSON is an error;
// unrecognized handlers decode to Unknown.
func ParseEvent(raw []byte) (Event, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not json", ErrInvalidFrame)
	}
	frame := gjson.ParseBytes(raw)
	if !frame.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidFrame)
	}

	handler := Handler(strings.ToLower(strings.TrimSpace(frame.Get("handler").String())))
	typ := strings.ToLower(strings.TrimSpace(frame.Get("type").String()))

	switch handler {
	case HandlerLoginEvent:
		return LoginResult{
			Success: typ == "success",
			Reason:  firstString(frame, "reason", "message", "error"),
		}, nil
	case HandlerRoomJoin, HandlerJoinRoomAlt:
		// Some deployments echo the join request back as the acknowledgment.
		return roomJoined(frame), nil
	case HandlerRoomMessage, HandlerRoomMsgAlt:
		return chatMessage(frame), nil
	case HandlerRoomEvent:
		switch typ {
		case "you_joined", "joined", "room_joined":
			return roomJoined(frame), nil
		case "text", "message":
			return chatMessage(frame), nil
		case "join", "user_joined":
			return UserJoined{Username: firstString(frame, "nickname", "username", "from")}, nil
		}
	}
	return Unknown{Handler: handler}, nil
}

func roomJoined(frame gjson.Result) RoomJoined {
	return RoomJoined{
		RoomID:   firstString(frame, "roomid", "room_id", "room.id"),
		RoomName: firstString(frame, "name", "room_name", "room.name", "room"),
	}
}

func chatMessage(frame gjson.Result) ChatMessage {
	return ChatMessage{
		Sender: firstString(frame, "from", "username", "nickname", "sender"),
		Text:   strings.TrimSpace(firstString(frame, "body", "text", "message")),
		RoomID: firstString(frame, "roomid", "room_id", "room"),
	}
}

func firstString(frame gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := frame.Get(p)
		if !v.Exists() || v.IsObject() || v.IsArray() {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

package ws

import "encoding/json"

// Client action types.
const (
	ActionChangeRoom     = "ChangeRoom"
	ActionSendMessage    = "SendMessage"
	ActionRequestHistory = "RequestHistory"
	ActionInviteToGroup  = "InviteToGroup"
	ActionRemoveUser     = "RemoveUser"
	ActionClose          = "Close"
)

// Server action types.
const (
	ActionHistoryPage = "HistoryPage"
	ActionMessage     = "Message"
	ActionGroupInvite = "GroupInvite"
	ActionKicked      = "Kicked"
	ActionError       = "Error"
	ActionUserJoined  = "UserJoined"
	ActionUserLeft    = "UserLeft"
)

// Envelope is one decoded client frame: the action type plus the raw frame, which
// the router unmarshals again into the typed request.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ──────────────────────────── Client requests ─────────────────────────────────

type ChangeRoomRequest struct {
	RoomID string `json:"room_id" validate:"required"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type RequestHistoryRequest struct {
	LoadedCount int `json:"loaded_count" validate:"gte=0"`
}

type InviteToGroupRequest struct {
	RoomID string `json:"room_id" validate:"required"`
}

type RemoveUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
	RoomID string `json:"room_id" validate:"required"`
	Reason string `json:"reason"  validate:"max=256"`
}

type CloseRequest struct{}

// ──────────────────────────── Server actions ──────────────────────────────────

// ServerAction is anything the server writes to a client. Values published to a
// room Channel are ServerActions too.
type ServerAction interface {
	ActionType() string
}

// HistoryMessage is one stored message as shown to clients.
type HistoryMessage struct {
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
	SentAt   int64  `json:"sent_at"`
}

// HistoryPage carries stored messages, newest first.
type HistoryPage struct {
	Type     string           `json:"type"`
	Messages []HistoryMessage `json:"messages"`
}

func NewHistoryPage(msgs []HistoryMessage) HistoryPage {
	if msgs == nil {
		msgs = []HistoryMessage{}
	}
	return HistoryPage{Type: ActionHistoryPage, Messages: msgs}
}

func (HistoryPage) ActionType() string { return ActionHistoryPage }

type Message struct {
	Type     string `json:"type"`
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
	SentAt   int64  `json:"sent_at"`
}

func NewMessage(nickname, content string, sentAt int64) Message {
	return Message{Type: ActionMessage, Nickname: nickname, Content: content, SentAt: sentAt}
}

func (Message) ActionType() string { return ActionMessage }

type GroupInvite struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

func NewGroupInvite(roomID, code string) GroupInvite {
	return GroupInvite{Type: ActionGroupInvite, RoomID: roomID, Code: code}
}

func (GroupInvite) ActionType() string { return ActionGroupInvite }

type Kicked struct {
	Type   string `json:"type"`
	From   string `json:"from"`
	Reason string `json:"reason"`
}

func NewKicked(from, reason string) Kicked {
	return Kicked{Type: ActionKicked, From: from, Reason: reason}
}

func (Kicked) ActionType() string { return ActionKicked }

type Error struct {
	Type string `json:"type"`
	Info string `json:"info"`
}

func NewError(info string) Error {
	return Error{Type: ActionError, Info: info}
}

func (Error) ActionType() string { return ActionError }

type UserJoined struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

func NewUserJoined(userID, nickname string) UserJoined {
	return UserJoined{Type: ActionUserJoined, UserID: userID, Nickname: nickname}
}

func (UserJoined) ActionType() string { return ActionUserJoined }

type UserLeft struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

func NewUserLeft(userID, nickname string) UserLeft {
	return UserLeft{Type: ActionUserLeft, UserID: userID, Nickname: nickname}
}

func (UserLeft) ActionType() string { return ActionUserLeft }

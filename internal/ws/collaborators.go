package ws

import (
	"context"
	"net/http"
	"time"
)

// Privilege names checked through Membership.HasPrivilege.
const (
	PrivilegeSend   = "send"
	PrivilegeInvite = "invite"
	PrivilegeKick   = "kick"
)

// Verifier resolves the authenticated user behind an upgrade request.
type Verifier interface {
	Verify(r *http.Request) (userID string, err error)
}

// Membership answers room existence and authorization questions.
type Membership interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	HasPrivilege(ctx context.Context, userID, roomID, action string) (bool, error)
	// Invalidate forgets any cached answer about userID in roomID.
	Invalidate(ctx context.Context, userID, roomID string) error
}

// Store persists and loads room messages.
type Store interface {
	StoreMessage(ctx context.Context, userID, roomID, content string) error
	// FetchHistory returns up to limit messages, newest first, skipping the
	// offset newest ones.
	FetchHistory(ctx context.Context, roomID string, limit, offset int) ([]HistoryMessage, error)
	FetchDisplayName(ctx context.Context, userID, roomID string) (string, error)
}

// Inviter creates invitation codes for a room.
type Inviter interface {
	CreateInvite(ctx context.Context, userID, roomID string) (code string, err error)
}

// PendingMessage is a live message whose persistence failed.
type PendingMessage struct {
	UserID  string
	RoomID  string
	Content string
	SentAt  time.Time
}

// RetryQueue takes messages the store rejected so they can be written later.
type RetryQueue interface {
	Enqueue(ctx context.Context, msg PendingMessage) error
}

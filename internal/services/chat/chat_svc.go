package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisGroupKeyPrefix = "grp:"
	groupCacheTTL       = 10 * time.Minute
	DefaultInviteTTL    = 24 * time.Hour
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrEmptyMessage  = errors.New("message is empty")
)

// IChatService is the Postgres-backed message store and invitation source used
// by the socket layer.
type IChatService interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	StoreMessage(ctx context.Context, userID, roomID, content string) error
	FetchHistory(ctx context.Context, roomID string, limit, offset int) ([]ws.HistoryMessage, error)
	FetchDisplayName(ctx context.Context, userID, roomID string) (string, error)
	CreateInvite(ctx context.Context, userID, roomID string) (string, error)
}

type chatService struct {
	rdc       *redis.Client
	db        *sql.DB
	inviteTTL time.Duration
}

var (
	_ ws.Store   = (*chatService)(nil)
	_ ws.Inviter = (*chatService)(nil)
)

func NewChatService(rdc *redis.Client, db *sql.DB, inviteTTL time.Duration) IChatService {
	if inviteTTL <= 0 {
		inviteTTL = DefaultInviteTTL
	}
	return &chatService{rdc: rdc, db: db, inviteTTL: inviteTTL}
}

func groupKey(roomID string) string { return redisGroupKeyPrefix + roomID }

// RoomExists answers from the Redis group cache first and falls back to Postgres,
// caching a positive answer.
func (svc *chatService) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return false, nil
	}

	n, err := svc.rdc.Exists(ctx, groupKey(roomID)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		zap.L().Debug("chat.group_cache", zap.String("room", roomID), zap.Error(err))
	}

	var name string
	err = svc.db.QueryRowContext(ctx, `SELECT name FROM groups WHERE id = $1`, roomID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = svc.rdc.Set(ctx, groupKey(roomID), name, groupCacheTTL).Err()
	return true, nil
}

func (svc *chatService) StoreMessage(ctx context.Context, userID, roomID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	const ins = `INSERT INTO messages (group_id, user_id, content) VALUES ($1, $2, $3)`
	if _, err := svc.db.ExecContext(ctx, ins, roomID, userID, content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FetchHistory returns up to limit messages of roomID, newest first, after
// skipping the offset newest ones.
func (svc *chatService) FetchHistory(ctx context.Context, roomID string, limit, offset int) ([]ws.HistoryMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT coalesce(nullif(gu.nickname, ''), u.login),
                      m.content,
                      extract(epoch FROM m.sent_at)::bigint
                 FROM messages m
                 JOIN users u ON u.id = m.user_id
            LEFT JOIN group_users gu ON gu.group_id = m.group_id AND gu.user_id = m.user_id
                WHERE m.group_id = $1
             ORDER BY m.id DESC
                LIMIT $2 OFFSET $3`
	rows, err := svc.db.QueryContext(ctx, q, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]ws.HistoryMessage, 0, limit)
	for rows.Next() {
		var m ws.HistoryMessage
		if err := rows.Scan(&m.Nickname, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// FetchDisplayName prefers the user's nickname in roomID and falls back to the
// login.
func (svc *chatService) FetchDisplayName(ctx context.Context, userID, roomID string) (string, error) {
	const q = `SELECT coalesce(nullif(gu.nickname, ''), u.login)
                 FROM users u
            LEFT JOIN group_users gu ON gu.user_id = u.id AND gu.group_id = $2
                WHERE u.id = $1`
	var name string
	err := svc.db.QueryRowContext(ctx, q, userID, roomID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return name, err
}

// CreateInvite records a fresh invitation code for roomID.
func (svc *chatService) CreateInvite(ctx context.Context, userID, roomID string) (string, error) {
	code := uuid.NewString()
	const ins = `INSERT INTO group_invitations (code, group_id, created_by, expires_at)
	             VALUES ($1, $2, $3, $4)`
	res, err := svc.db.ExecContext(ctx, ins, code, roomID, userID, time.Now().Add(svc.inviteTTL).UTC())
	if err != nil {
		return "", fmt.Errorf("insert invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrGroupNotFound
	}
	return code, nil
}

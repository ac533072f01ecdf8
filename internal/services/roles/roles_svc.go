package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"

	ActionSend   = "send"
	ActionInvite = "invite"
	ActionKick   = "kick"

	// cached in place of a role for users outside the group
	noRole = "-"
)

var (
	ErrNotMember     = errors.New("not a group member")
	ErrUnknownAction = errors.New("unknown action")
)

var rank = map[string]int{
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// minimum rank per action
var required = map[string]int{
	ActionSend:   rank[RoleMember],
	ActionInvite: rank[RoleMember],
	ActionKick:   rank[RoleAdmin],
}

type IRoleService interface {
	Role(ctx context.Context, userID, roomID string) (string, error)
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	HasPrivilege(ctx context.Context, userID, roomID, action string) (bool, error)
	Invalidate(ctx context.Context, userID, roomID string) error
}

type roleService struct {
	rdc *redis.Client
	db  *sql.DB
	ttl time.Duration
}

func NewRoleService(rdc *redis.Client, db *sql.DB, ttl time.Duration) IRoleService {
	return &roleService{rdc: rdc, db: db, ttl: ttl}
}

func roleKey(userID, roomID string) string {
	return "grp:" + roomID + ":role:" + userID
}

// Role returns the user's role in roomID, or ErrNotMember. Answers, negative
// ones included, are cached in Redis for the configured ttl; a zero ttl turns
// the cache off.
func (svc *roleService) Role(ctx context.Context, userID, roomID string) (string, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return "", ErrNotMember
	}
	if _, err := uuid.Parse(userID); err != nil {
		return "", ErrNotMember
	}

	key := roleKey(userID, roomID)
	if svc.ttl > 0 {
		cached, err := svc.rdc.Get(ctx, key).Result()
		switch {
		case err == nil && cached == noRole:
			return "", ErrNotMember
		case err == nil:
			return cached, nil
		case !errors.Is(err, redis.Nil):
			zap.L().Debug("roles.cache_get", zap.String("key", key), zap.Error(err))
		}
	}

	var role string
	err := svc.db.QueryRowContext(ctx,
		`SELECT role FROM group_users WHERE group_id = $1 AND user_id = $2`, roomID, userID).Scan(&role)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("role lookup: %w", err)
	}
	notMember := errors.Is(err, sql.ErrNoRows)

	if svc.ttl > 0 {
		val := role
		if notMember {
			val = noRole
		}
		if err := svc.rdc.Set(ctx, key, val, svc.ttl).Err(); err != nil {
			zap.L().Debug("roles.cache_set", zap.String("key", key), zap.Error(err))
		}
	}
	if notMember {
		return "", ErrNotMember
	}
	return role, nil
}

func (svc *roleService) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	_, err := svc.Role(ctx, userID, roomID)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	return err == nil, err
}

func (svc *roleService) HasPrivilege(ctx context.Context, userID, roomID, action string) (bool, error) {
	need, ok := required[action]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	role, err := svc.Role(ctx, userID, roomID)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rank[role] >= need, nil
}

// Invalidate drops the cached role, e.g. after a kick or a role change.
func (svc *roleService) Invalidate(ctx context.Context, userID, roomID string) error {
	return svc.rdc.Del(ctx, roleKey(userID, roomID)).Err()
}

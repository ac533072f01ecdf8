package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is a connection controller's lifecycle stage.
type State int32

const (
	StateAdmitted State = iota
	StateAwaitingRoomSelection
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateAwaitingRoomSelection:
		return "awaiting_room_selection"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Controller drives one physical connection: room selection, the receive loop,
// and teardown. Its fields are owned by the goroutine running Run.
type Controller struct {
	srv    *Server
	userID string
	connID string
	conn   *UserConn
	state  atomic.Int32

	room     *roomEntry
	nickname string
}

func newController(srv *Server, userID, connID string, conn *UserConn) *Controller {
	c := &Controller{srv: srv, userID: userID, connID: connID, conn: conn}
	c.setState(StateAdmitted)
	return c
}

func (c *Controller) State() State     { return State(c.state.Load()) }
func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// RoomID returns the joined room, or "" when not joined.
func (c *Controller) RoomID() string {
	if c.room == nil {
		return ""
	}
	return c.room.id
}

// Run processes client actions until the connection ends, then tears down.
// Only transport errors end the loop; everything else is answered with an
// Error action.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateAwaitingRoomSelection)
	defer c.teardown()

	for {
		env, err := c.conn.Receiver.Next()
		if err != nil {
			if errors.Is(err, ErrTransport) {
				return err
			}
			if err := c.reply(NewError(errorInfo(err))); err != nil {
				return err
			}
			continue
		}
		if env.Type == ActionClose {
			return nil
		}

		actx, cancel := context.WithTimeout(ctx, c.srv.cfg.ActionTimeout)
		err = c.srv.router.dispatch(actx, c, env)
		cancel()
		if err == nil {
			continue
		}
		if errors.Is(err, ErrTransport) {
			return err
		}
		zap.L().Debug("ws.action_failed",
			zap.String("user", c.userID),
			zap.String("action", env.Type),
			zap.Error(err))
		if err := c.reply(NewError(errorInfo(err))); err != nil {
			return err
		}
	}
}

func (c *Controller) reply(action ServerAction) error {
	return c.conn.Sender.Send(action)
}

// join runs the admission sequence for roomID. On failure the controller is left
// in AwaitingRoomSelection.
func (c *Controller) join(ctx context.Context, roomID string) error {
	exists, err := c.srv.members.RoomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room lookup: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	member, err := c.srv.members.IsMember(ctx, c.userID, roomID)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return fmt.Errorf("%w: not a member of %s", ErrAuthorizationDenied, roomID)
	}

	nickname, err := c.srv.store.FetchDisplayName(ctx, c.userID, roomID)
	if err != nil || nickname == "" {
		zap.L().Warn("ws.display_name", zap.String("user", c.userID), zap.Error(err))
		nickname = c.userID
	}

	// Subscribe before loading history so nothing published meanwhile is missed.
	entry, sub := c.srv.hub.join(roomID)

	history, err := c.srv.store.FetchHistory(ctx, roomID, c.srv.cfg.HistoryPageSize, 0)
	if err != nil {
		zap.L().Warn("ws.fetch_history", zap.String("room", roomID), zap.Error(err))
		history = nil
	}
	if err := c.reply(NewHistoryPage(history)); err != nil {
		sub.Close()
		return err
	}

	l := &Listener{
		Sender:    c.conn.Sender,
		Forwarder: NewForwarder(roomID, c.connID, sub, c.conn.Sender),
		Nickname:  nickname,
	}
	added, first := entry.conns.Connect(c.userID, c.connID, l)
	if !added {
		l.Stop()
		return fmt.Errorf("connection %s already registered in %s", c.connID, roomID)
	}

	c.room = entry
	c.nickname = nickname
	c.setState(StateJoined)
	zap.L().Debug("ws.joined",
		zap.String("user", c.userID),
		zap.String("room", roomID),
		zap.String("conn", c.connID),
		zap.Bool("first", first))
	return nil
}

// leave unregisters the connection from its room and stops its forwarder. The
// room hears UserLeft only when this was the user's last connection there.
func (c *Controller) leave() {
	entry := c.room
	if entry == nil {
		return
	}
	c.room = nil

	l, _ := entry.conns.Disconnect(c.userID, c.connID)
	entry.touch()
	if l == nil {
		return // already removed by a kick
	}
	l.Stop()
}

func (c *Controller) teardown() {
	c.setState(StateClosing)
	c.leave()
	c.conn.Sender.Close(websocket.CloseNormalClosure, "bye")
	c.setState(StateClosed)
}

// ─────────────────────────────── action handlers ─────────────────────────────

func (c *Controller) changeRoom(ctx context.Context, req ChangeRoomRequest) error {
	if c.room != nil {
		c.leave()
		c.setState(StateAwaitingRoomSelection)
	}
	return c.join(ctx, req.RoomID)
}

func (c *Controller) sendMessage(ctx context.Context, req SendMessageRequest) error {
	// A kicked connection stays pointed at its room until its read loop ends.
	if c.room == nil || !c.room.conns.Has(c.userID, c.connID) {
		return ErrNotJoined
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > c.srv.cfg.MaxMessageLength {
		return ErrMessageTooLong
	}
	roomID := c.room.id
	if err := c.requirePrivilege(ctx, roomID, PrivilegeSend); err != nil {
		return err
	}

	now := time.Now()
	c.room.channel.Publish(NewMessage(c.nickname, content, now.Unix()))

	// The live broadcast stands even if storing fails.
	if err := c.srv.store.StoreMessage(ctx, c.userID, roomID, content); err != nil {
		zap.L().Warn("ws.store_message", zap.String("room", roomID), zap.String("user", c.userID), zap.Error(err))
		if c.srv.retry != nil {
			pending := PendingMessage{UserID: c.userID, RoomID: roomID, Content: content, SentAt: now}
			if qerr := c.srv.retry.Enqueue(context.WithoutCancel(ctx), pending); qerr != nil {
				zap.L().Error("ws.retry_enqueue", zap.String("room", roomID), zap.Error(qerr))
			}
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (c *Controller) requestHistory(ctx context.Context, req RequestHistoryRequest) error {
	if c.room == nil || !c.room.conns.Has(c.userID, c.connID) {
		return ErrNotJoined
	}
	msgs, err := c.srv.store.FetchHistory(ctx, c.room.id, c.srv.cfg.HistoryPageSize, req.LoadedCount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return c.reply(NewHistoryPage(msgs))
}

func (c *Controller) inviteToGroup(ctx context.Context, req InviteToGroupRequest) error {
	if err := c.requirePrivilege(ctx, req.RoomID, PrivilegeInvite); err != nil {
		return err
	}
	if c.srv.inviter == nil {
		return fmt.Errorf("%w: invitations disabled", ErrProtocolViolation)
	}
	code, err := c.srv.inviter.CreateInvite(ctx, c.userID, req.RoomID)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return c.reply(NewGroupInvite(req.RoomID, code))
}

func (c *Controller) removeUser(ctx context.Context, req RemoveUserRequest) error {
	if req.UserID == c.userID {
		return fmt.Errorf("%w: cannot remove yourself", ErrAuthorizationDenied)
	}
	if err := c.requirePrivilege(ctx, req.RoomID, PrivilegeKick); err != nil {
		return err
	}

	from := c.nickname
	if c.RoomID() != req.RoomID {
		name, err := c.srv.store.FetchDisplayName(ctx, c.userID, req.RoomID)
		if err != nil || name == "" {
			name = c.userID
		}
		from = name
	}
	n := c.srv.hub.Kick(req.RoomID, req.UserID, NewKicked(from, req.Reason))
	if err := c.srv.members.Invalidate(ctx, req.UserID, req.RoomID); err != nil {
		zap.L().Warn("ws.invalidate_role", zap.String("room", req.RoomID), zap.String("user", req.UserID), zap.Error(err))
	}
	zap.L().Info("ws.kick",
		zap.String("room", req.RoomID),
		zap.String("by", c.userID),
		zap.String("user", req.UserID),
		zap.Int("connections", n))
	return nil
}

func (c *Controller) requirePrivilege(ctx context.Context, roomID, action string) error {
	ok, err := c.srv.members.HasPrivilege(ctx, c.userID, roomID, action)
	if err != nil {
		return fmt.Errorf("privilege lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrAuthorizationDenied, action, roomID)
	}
	return nil
}

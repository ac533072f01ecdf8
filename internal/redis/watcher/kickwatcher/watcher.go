package kickwatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pattern matches the per-group kick channels, grp:<room id>:kick.
const Pattern = "grp:*:kick"

var errBadChannel = errors.New("not a kick channel")

// Kicker is the part of ws.Hub the watcher drives.
type Kicker interface {
	Kick(roomID, userID string, terminal ws.ServerAction) int
}

// Request is the payload published on a kick channel.
type Request struct {
	UserID string `json:"user_id"`
	From   string `json:"from"`
	Reason string `json:"reason"`
}

// Run subscribes to kick requests published by other services and, in a
// background goroutine, removes the named user from the room on this instance
// until ctx is done. Run must be called once at boot.
func Run(ctx context.Context, rdb *redis.Client, k Kicker) {
	ps := rdb.PSubscribe(ctx, Pattern)
	go listen(ctx, ps, k)
}

func listen(ctx context.Context, ps *redis.PubSub, k Kicker) {
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if _, err := handle(k, m.Channel, m.Payload); err != nil {
				zap.L().Warn("kickwatcher.bad_request",
					zap.String("channel", m.Channel),
					zap.Error(err))
			}
		}
	}
}

func roomFromChannel(channel string) (string, error) {
	rest, ok := strings.CutPrefix(channel, "grp:")
	if !ok {
		return "", errBadChannel
	}
	room, ok := strings.CutSuffix(rest, ":kick")
	if !ok || room == "" {
		return "", errBadChannel
	}
	return room, nil
}

func handle(k Kicker, channel, payload string) (int, error) {
	roomID, err := roomFromChannel(channel)
	if err != nil {
		return 0, err
	}
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return 0, err
	}
	if req.UserID == "" {
		return 0, errors.New("missing user_id")
	}
	if req.From == "" {
		req.From = "system"
	}
	n := k.Kick(roomID, req.UserID, ws.NewKicked(req.From, req.Reason))
	zap.L().Info("kickwatcher.kick",
		zap.String("room", roomID),
		zap.String("user", req.UserID),
		zap.Int("connections", n))
	return n, nil
}

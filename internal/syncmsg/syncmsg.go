package syncmsg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStream = "chat:messages:retry"

	batchSize   = 100
	blockFor    = 2 * time.Second
	maxAttempts = 3
)

// Queue parks messages whose live insert failed on a Redis stream.
type Queue struct {
	rdc    *redis.Client
	stream string
}

var _ ws.RetryQueue = (*Queue)(nil)

func NewQueue(rdc *redis.Client, stream string) *Queue {
	if stream == "" {
		stream = DefaultStream
	}
	return &Queue{rdc: rdc, stream: stream}
}

func entryValues(msg ws.PendingMessage) []any {
	return []any{
		"uid", msg.UserID,
		"gid", msg.RoomID,
		"content", msg.Content,
		"at", strconv.FormatInt(msg.SentAt.Unix(), 10),
	}
}

func (q *Queue) Enqueue(ctx context.Context, msg ws.PendingMessage) error {
	return q.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: entryValues(msg),
	}).Err()
}

// Run tails the retry stream and writes every parked message to Postgres. A
// batch is removed from the stream once it commits; one that keeps failing is
// dropped after maxAttempts.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB, stream string) {
	if stream == "" {
		stream = DefaultStream
	}
	go func() {
		lastID := "0-0"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			next, err := step(ctx, rdc, db, stream, lastID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Warn("syncmsg.step", zap.Error(err))
				time.Sleep(time.Second)
			}
			lastID = next
		}
	}()
}

// step reads one batch after lastID and persists it, returning the id to read
// after next.
func step(ctx context.Context, rdc *redis.Client, db *sql.DB, stream, lastID string) (string, error) {
	res, err := rdc.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   batchSize,
		Block:   blockFor,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return lastID, nil
	}
	if err != nil {
		return lastID, fmt.Errorf("xread: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return lastID, nil
	}

	entries := res[0].Messages
	next := entries[len(entries)-1].ID

	for attempt := 1; ; attempt++ {
		err = persist(ctx, db, entries)
		if err == nil {
			break
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			zap.L().Error("syncmsg.persist_dropped",
				zap.Int("messages", len(entries)),
				zap.String("first", entries[0].ID),
				zap.Error(err))
			break
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if derr := rdc.XDel(ctx, stream, ids...).Err(); derr != nil {
		zap.L().Warn("syncmsg.xdel", zap.Error(derr))
	}
	return next, nil
}

func persist(ctx context.Context, db *sql.DB, msgs []redis.XMessage) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const ins = `INSERT INTO messages (group_id, user_id, content, sent_at)
	             VALUES ($1, $2, $3, to_timestamp($4))`
	for _, m := range msgs {
		gid, _ := m.Values["gid"].(string)
		uid, _ := m.Values["uid"].(string)
		content, _ := m.Values["content"].(string)
		at, _ := m.Values["at"].(string)
		if gid == "" || uid == "" || content == "" {
			zap.L().Warn("syncmsg.malformed", zap.String("id", m.ID))
			continue
		}
		ts, _ := strconv.ParseInt(at, 10, 64)
		if _, err := tx.ExecContext(ctx, ins, gid, uid, content, ts); err != nil {
			return fmt.Errorf("insert %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

package syncmsg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stream = "test:retry"

func TestEnqueue(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	q := NewQueue(rdc, stream)
	msg := ws.PendingMessage{UserID: "U1", RoomID: "R1", Content: "hi", SentAt: time.Unix(1700000000, 0)}

	mock.ExpectXAdd(&redis.XAddArgs{Stream: stream, Values: entryValues(msg)}).SetVal("1-0")
	require.NoError(t, q.Enqueue(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func readArgs(lastID string) *redis.XReadArgs {
	return &redis.XReadArgs{Streams: []string{stream, lastID}, Count: batchSize, Block: blockFor}
}

func TestStepPersistsBatchAndTrims(t *testing.T) {
	rdc, rmock := redismock.NewClientMock()
	db, smock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rmock.ExpectXRead(readArgs("0-0")).SetVal([]redis.XStream{{
		Stream: stream,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{"uid": "U1", "gid": "R1", "content": "a", "at": "1700000000"}},
			{ID: "2-0", Values: map[string]any{"uid": "U2", "gid": "R1", "content": "b", "at": "1700000001"}},
		},
	}})
	smock.ExpectBegin()
	smock.ExpectExec("INSERT INTO messages").WithArgs("R1", "U1", "a", int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	smock.ExpectExec("INSERT INTO messages").WithArgs("R1", "U2", "b", int64(1700000001)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	smock.ExpectCommit()
	rmock.ExpectXDel(stream, "1-0", "2-0").SetVal(2)

	next, err := step(context.Background(), rdc, db, stream, "0-0")
	require.NoError(t, err)
	assert.Equal(t, "2-0", next)
	require.NoError(t, smock.ExpectationsWereMet())
	require.NoError(t, rmock.ExpectationsWereMet())
}

func TestStepNothingNew(t *testing.T) {
	rdc, rmock := redismock.NewClientMock()
	rmock.ExpectXRead(readArgs("5-0")).RedisNil()

	next, err := step(context.Background(), rdc, nil, stream, "5-0")
	require.NoError(t, err)
	assert.Equal(t, "5-0", next)
}

func TestStepReadError(t *testing.T) {
	rdc, rmock := redismock.NewClientMock()
	rmock.ExpectXRead(readArgs("5-0")).SetErr(errors.New("conn refused"))

	next, err := step(context.Background(), rdc, nil, stream, "5-0")
	require.Error(t, err)
	assert.Equal(t, "5-0", next)
}

func TestPersistSkipsMalformedAndRollsBackOnError(t *testing.T) {
	db, smock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	smock.ExpectBegin()
	smock.ExpectExec("INSERT INTO messages").WithArgs("R1", "U1", "ok", int64(0)).
		WillReturnError(errors.New("fk violation"))
	smock.ExpectRollback()

	err = persist(context.Background(), db, []redis.XMessage{
		{ID: "1-0", Values: map[string]any{"uid": "U1"}},
		{ID: "2-0", Values: map[string]any{"uid": "U1", "gid": "R1", "content": "ok"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2-0")
	require.NoError(t, smock.ExpectationsWereMet())
}

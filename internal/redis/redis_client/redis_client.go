package redis_client

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options builds the client options used by NewRedisClient. The pool grows with
// the number of CPUs up to 512 connections.
func Options(host string, port uint16) *redis.Options {
	maxPool := runtime.NumCPU() * 8
	if maxPool > 512 {
		maxPool = 512
	}
	return &redis.Options{
		Addr:         net.JoinHostPort(host, strconv.Itoa(int(port))),
		PoolSize:     maxPool,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, host string, port uint16) (*redis.Client, error) {
	rc := redis.NewClient(Options(host, port))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		err = fmt.Errorf("redis connection failed: %w", err)
		zap.L().Error("redis_connect", zap.Error(err))
		return nil, err
	}
	return rc, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adimac93/chad-chat-sub000/internal/auth"
	"github.com/Adimac93/chad-chat-sub000/internal/config"
	"github.com/Adimac93/chad-chat-sub000/internal/database/db_client"
	"github.com/Adimac93/chad-chat-sub000/internal/database/migrations"
	"github.com/Adimac93/chad-chat-sub000/internal/http/grouphandler"
	"github.com/Adimac93/chad-chat-sub000/internal/http/http_server"
	"github.com/Adimac93/chad-chat-sub000/internal/redis/redis_client"
	"github.com/Adimac93/chad-chat-sub000/internal/redis/watcher/kickwatcher"
	"github.com/Adimac93/chad-chat-sub000/internal/roomsweep"
	"github.com/Adimac93/chad-chat-sub000/internal/services/chat"
	"github.com/Adimac93/chad-chat-sub000/internal/services/roles"
	"github.com/Adimac93/chad-chat-sub000/internal/syncmsg"
	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

// membership answers ws.Membership from the chat and role services.
type membership struct {
	chat.IChatService
	roles.IRoleService
}

var _ ws.Membership = membership{}

func main() {
	defer func() { _ = Log.Sync() }()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.AppEnv == "prod" {
		if prod, err := zap.NewProduction(); err == nil {
			Log = prod
			zap.ReplaceGlobals(Log)
		}
	}
	Log.Debug("Configuration loaded successfully", zap.String("env", cfg.AppEnv))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err := redis_client.NewRedisClient(ctx, cfg.RedisHost, cfg.RedisPort)
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client + schema
	pgDb, err := db_client.Open(ctx, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	if applied, err := migrations.Apply(ctx, pgDb); err != nil {
		Log.Fatal("pg-migrate", zap.Error(err))
	} else if len(applied) > 0 {
		Log.Info("schema migrated", zap.Strings("files", applied))
	}

	// 5. Services
	chatService := chat.NewChatService(redisClient, pgDb, chat.DefaultInviteTTL)
	roleService := roles.NewRoleService(redisClient, pgDb, cfg.RoleCacheTTL)
	members := membership{IChatService: chatService, IRoleService: roleService}
	verifier := auth.RequestVerifier{JWT: auth.New(cfg.JwtSecret)}
	retryQueue := syncmsg.NewQueue(redisClient, cfg.PersistRetryStream)

	// 6. Room registry + socket server
	hub := ws.NewHub(cfg.RoomChannelCapacity)
	wsSrv := ws.NewServer(hub, ws.Deps{
		Verifier:   verifier,
		Membership: members,
		Store:      chatService,
		Inviter:    chatService,
		Retry:      retryQueue,
	}, ws.Config{
		HistoryPageSize:  cfg.HistoryPageSize,
		MaxMessageLength: cfg.MessageMaxLength,
	})

	// 7. Background: kick requests from other services, persistence retries,
	// idle-room eviction
	kickwatcher.Run(ctx, redisClient, hub)
	syncmsg.Run(ctx, redisClient, pgDb, cfg.PersistRetryStream)
	roomsweep.Run(ctx, hub, cfg.RoomIdleTTL, cfg.RoomSweepInterval)

	// 8. HTTP + WS server
	groups := grouphandler.New(verifier, members, hub, chatService)
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, groups)

	errc := make(chan error, 1)
	go func() { errc <- httpServer.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			Log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	case <-ctx.Done():
	}

	// 9. Shutdown: close live sockets, then drain HTTP
	n := hub.Shutdown(ws.NewError("server_shutdown"))
	Log.Info("shutting down", zap.Int("connections_closed", n))
	if err := httpServer.Dispose(); err != nil {
		Log.Error("http shutdown", zap.Error(err))
	}
}

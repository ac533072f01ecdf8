package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 50 * time.Second // must be < pongWait
	maxFrameBytes = 16 * 1024

	// bytes per content rune when a client escapes it as a surrogate pair
	escapedRuneBytes = 12
	envelopeBytes    = 1024
)

// Config tunes per-connection behaviour.
type Config struct {
	HistoryPageSize  int
	MaxMessageLength int
	ActionTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 20
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 2000
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 5 * time.Second
	}
	return c
}

// readLimit is the largest client frame accepted: a SendMessage carrying
// MaxMessageLength fully escaped runes must still fit.
func (c Config) readLimit() int64 {
	n := int64(c.MaxMessageLength)*escapedRuneBytes + envelopeBytes
	if n < maxFrameBytes {
		return maxFrameBytes
	}
	return n
}

// Deps are the collaborators a Server reaches through narrow interfaces.
// Inviter and Retry may be nil.
type Deps struct {
	Verifier   Verifier
	Membership Membership
	Store      Store
	Inviter    Inviter
	Retry      RetryQueue
}

type Server struct {
	hub      *Hub
	router   *Router
	verifier Verifier
	members  Membership
	store    Store
	inviter  Inviter
	retry    RetryQueue
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(h *Hub, deps Deps, cfg Config) *Server {
	srv := &Server{
		hub:      h,
		router:   NewRouter(),
		verifier: deps.Verifier,
		members:  deps.Membership,
		store:    deps.Store,
		inviter:  deps.Inviter,
		retry:    deps.Retry,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev‑only
		},
	}
	srv.registerHandlers() // ← all client actions configured here
	return srv
}

func (s *Server) Hub() *Hub { return s.hub }

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *Server) Handle(ginCtx *gin.Context) {
	userID, err := s.verifier.Verify(ginCtx.Request)
	if err != nil {
		ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.cfg.readLimit())
	_ = rawConn.SetReadDeadline(time.Now().Add(pongWait))
	rawConn.SetPongHandler(func(string) error {
		return rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := NewUserConn(rawConn)
	done := make(chan struct{})
	go s.pinger(conn.Sender, done)

	err = s.admit(ginCtx.Request.Context(), conn, userID)
	close(done)
	zap.L().Debug("ws.closed", zap.String("user", userID), zap.Error(err))
}

// Admit runs an already authenticated connection until it closes. It is the
// transport-agnostic entry point; Handle wraps it for HTTP upgrades.
func (s *Server) Admit(ctx context.Context, t Transport, userID string) error {
	return s.admit(ctx, NewUserConn(t), userID)
}

func (s *Server) admit(ctx context.Context, conn *UserConn, userID string) error {
	c := newController(s, userID, uuid.NewString(), conn)

	// Unblocks the pending read when the process shuts down.
	stop := context.AfterFunc(ctx, func() {
		conn.Sender.Close(websocket.CloseGoingAway, "server shutdown")
	})
	defer stop()

	return c.Run(ctx)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *Server) registerHandlers() {
	Register(s.router, ActionChangeRoom,
		func(ctx context.Context, c *Controller, req ChangeRoomRequest) error {
			return c.changeRoom(ctx, req)
		})
	Register(s.router, ActionSendMessage,
		func(ctx context.Context, c *Controller, req SendMessageRequest) error {
			return c.sendMessage(ctx, req)
		})
	Register(s.router, ActionRequestHistory,
		func(ctx context.Context, c *Controller, req RequestHistoryRequest) error {
			return c.requestHistory(ctx, req)
		})
	Register(s.router, ActionInviteToGroup,
		func(ctx context.Context, c *Controller, req InviteToGroupRequest) error {
			return c.inviteToGroup(ctx, req)
		})
	Register(s.router, ActionRemoveUser,
		func(ctx context.Context, c *Controller, req RemoveUserRequest) error {
			return c.removeUser(ctx, req)
		})
}

func (s *Server) pinger(sender *Sender, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sender.Ping(); err != nil {
				sender.Close(websocket.CloseNormalClosure, "ping timeout")
				return
			}
		}
	}
}

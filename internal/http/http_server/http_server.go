package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Adimac93/chad-chat-sub000/internal/http/grouphandler"
	"github.com/Adimac93/chad-chat-sub000/internal/ws"
	"github.com/abrar71/swaggerfilesv2" // swagger embed files
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type httpServer struct {
	listenPort uint16
	srv        http.Server
	ln         net.Listener
	wsSrv      *ws.Server
	groups     *grouphandler.Handler
	ctx        context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, wsSrv *ws.Server, groups *grouphandler.Handler) *httpServer {
	return &httpServer{
		listenPort: listenPort,
		wsSrv:      wsSrv,
		groups:     groups,
		ctx:        ctx,
	}
}

// Router builds the gin engine with every route mounted.
func (h *httpServer) Router() *gin.Engine {
	routerEngine := gin.New()
	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Swagger UI and API specs
	routerEngine.StaticFS("/swagger-apis", http.FS(swaggerfilesv2.FS))

	routerEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": h.wsSrv.Hub().Rooms()})
	})
	routerEngine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// websocket endpoint
	routerEngine.GET("/ws", h.wsSrv.Handle)

	// REST API
	h.groups.Register(routerEngine)
	return routerEngine
}

// Start listens on the configured port and serves until Dispose is called.
func (h *httpServer) Start() error {
	var err error
	h.ln, err = net.Listen("tcp", fmt.Sprintf(":%d", h.listenPort))
	if err != nil {
		return err
	}
	// Request contexts, and so the sockets, end with the server context.
	h.srv = http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return h.ctx },
	}
	zap.L().Info("http_listen", zap.String("addr", h.ln.Addr().String()))

	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}
	return nil
}

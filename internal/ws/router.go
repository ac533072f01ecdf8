package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *Controller, frame json.RawMessage) error

// Router keeps a map[action type]handler, à‑la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
	validate *validator.Validate
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]rawHandler), validate: validator.New()}
}

// Register binds an action type to a strongly‑typed handler. The whole frame is
// decoded into Req and validated before the handler runs.
func Register[Req any](
	r *Router,
	action string,
	h func(ctx context.Context, c *Controller, req Req) error,
) {
	if action == "" {
		panic("ws router: empty action")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[action] = func(ctx context.Context, c *Controller, frame json.RawMessage) error {
		var req Req
		if len(frame) > 0 {
			if err := json.Unmarshal(frame, &req); err != nil {
				return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
			}
		}
		if err := r.validate.Struct(req); err != nil {
			return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the controller's receive loop.
func (r *Router) dispatch(ctx context.Context, c *Controller, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrProtocolViolation, env.Type)
	}
	return h(ctx, c, env.Raw)
}

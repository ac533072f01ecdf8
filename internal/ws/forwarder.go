package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Forwarder relays a room subscription to one connection.
type Forwarder struct {
	roomID string
	connID string
	sub    *Subscription
	sender *Sender

	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func NewForwarder(roomID, connID string, sub *Subscription, sender *Sender) *Forwarder {
	return &Forwarder{
		roomID: roomID,
		connID: connID,
		sub:    sub,
		sender: sender,
		done:   make(chan struct{}),
	}
}

// start launches the relay goroutine. ConnSet calls it while registering.
func (f *Forwarder) start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.started = true
	go f.run(ctx)
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)
	defer f.sub.Close()

	for {
		msg, err := f.sub.Recv(ctx)
		if err != nil {
			var lag *LagError
			if errors.As(err, &lag) {
				zap.L().Debug("ws.forward_lagged",
					zap.String("room", f.roomID),
					zap.String("conn", f.connID),
					zap.Uint64("skipped", lag.Skipped))
				continue
			}
			return // cancelled or channel closed
		}

		if err := f.sender.Send(msg); err != nil {
			zap.L().Debug("ws.forward_send", zap.String("conn", f.connID), zap.Error(err))
			// The controller's read loop ends on the closed transport and unregisters us.
			f.sender.Close(websocket.CloseInternalServerErr, "write failed")
			return
		}
		messagesDelivered.Inc()
	}
}

// halt cancels the relay without waiting for it. The relay forwards nothing
// published after halt returns.
func (f *Forwarder) halt() {
	if f.started {
		f.cancel()
	}
}

// Stop cancels the relay and waits for it to exit. Safe to call more than once and
// on a forwarder that never started, in which case only the subscription is released.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		if !f.started {
			f.sub.Close()
			return
		}
		f.cancel()
		<-f.done
	})
}

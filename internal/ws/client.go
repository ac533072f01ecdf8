package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the message-oriented connection underneath a UserConn.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Sender is the only path to a connection's outbound half. The controller and the
// forwarding task share one Sender per connection.
type Sender struct {
	t         Transport
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func NewSender(t Transport) *Sender { return &Sender{t: t} }

// Send encodes action as one text frame. Any error means the connection is dead.
func (s *Sender) Send(action ServerAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode %s: %w", action.ActionType(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: connection closed", ErrTransport)
	}
	_ = s.t.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.t.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Ping writes a ping control frame.
func (s *Sender) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: connection closed", ErrTransport)
	}
	if err := s.t.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Close sends a close frame and closes the transport. Later calls are no-ops.
// Closing the transport also ends the read side, which is how a kick or a dead
// forwarder reaches the connection's controller.
func (s *Sender) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		_ = s.t.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		s.mu.Unlock()
		_ = s.t.Close()
	})
}

// Receiver decodes client frames from the inbound half.
type Receiver struct {
	t Transport
}

func NewReceiver(t Transport) *Receiver { return &Receiver{t: t} }

// Next blocks for the next client frame. Transport failures wrap ErrTransport;
// frames that are not a typed JSON object wrap ErrProtocolViolation and leave the
// connection usable.
func (r *Receiver) Next() (Envelope, error) {
	mt, data, err := r.t.ReadMessage()
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if mt != websocket.TextMessage {
		return Envelope{}, fmt.Errorf("%w: frame type %d", ErrProtocolViolation, mt)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrProtocolViolation)
	}
	env.Raw = data
	return env, nil
}

// UserConn is one physical client connection split into its two halves.
type UserConn struct {
	Sender   *Sender
	Receiver *Receiver
}

func NewUserConn(t Transport) *UserConn {
	return &UserConn{Sender: NewSender(t), Receiver: NewReceiver(t)}
}

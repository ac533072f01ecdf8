package ws

import (
	"context"
	"sync"
)

// DefaultChannelCapacity is the number of messages a room keeps in flight.
const DefaultChannelCapacity = 100

// Channel is a bounded multi-producer, multi-consumer broadcast ring. Every
// Subscription has its own read cursor into the shared buffer, so a slow reader
// never holds up the publisher or the other readers; it loses the oldest unread
// messages instead.
type Channel struct {
	mu     sync.RWMutex
	buf    []ServerAction
	next   uint64        // sequence number of the next published message
	wake   chan struct{} // closed and replaced on every publish
	subs   int
	closed bool
}

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Channel{
		buf:  make([]ServerAction, capacity),
		wake: make(chan struct{}),
	}
}

// Publish enqueues msg for every current subscriber and returns how many
// subscribers there were. It never waits on a subscriber.
func (c *Channel) Publish(msg ServerAction) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.buf[c.next%uint64(len(c.buf))] = msg
	c.next++
	n := c.subs
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()

	if n > 0 {
		messagesPublished.Inc()
	}
	return n
}

// Subscribe returns a receiver positioned after the last published message.
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	return &Subscription{ch: c, cursor: c.next}
}

// Subscribers reports the number of open subscriptions.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs
}

// Close wakes every reader with ErrChannelClosed. Only the hub closes a channel,
// when it evicts an idle room.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.wake)
}

// Subscription is one reader of a Channel. It must be used by a single goroutine.
type Subscription struct {
	ch     *Channel
	cursor uint64
	once   sync.Once
}

// Recv blocks until the next message is available or ctx is done. When the subscriber has
// fallen more than the channel capacity behind, Recv returns a *LagError once and
// moves the cursor to the oldest message still buffered.
func (s *Subscription) Recv(ctx context.Context) (ServerAction, error) {
	c := s.ch
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.mu.RLock()
		if s.cursor < c.next {
			size := uint64(len(c.buf))
			if c.next-s.cursor > size {
				oldest := c.next - size
				skipped := oldest - s.cursor
				s.cursor = oldest
				c.mu.RUnlock()
				messagesLagged.Add(float64(skipped))
				return nil, &LagError{Skipped: skipped}
			}
			msg := c.buf[s.cursor%size]
			s.cursor++
			c.mu.RUnlock()
			return msg, nil
		}
		if c.closed {
			c.mu.RUnlock()
			return nil, ErrChannelClosed
		}
		wake := c.wake
		c.mu.RUnlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.ch.mu.Lock()
		s.ch.subs--
		s.ch.mu.Unlock()
	})
}

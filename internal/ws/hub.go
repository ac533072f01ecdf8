package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// Hub is the room registry: roomID -> channel + connection set. Entries are
// created on first join. An entry is only removed by SweepIdle, and a later join
// transparently creates a fresh one.
type Hub struct {
	rooms    sync.Map // roomID -> *roomEntry
	capacity int
}

func NewHub(channelCapacity int) *Hub {
	if channelCapacity <= 0 {
		channelCapacity = DefaultChannelCapacity
	}
	return &Hub{capacity: channelCapacity}
}

type roomEntry struct {
	id      string
	channel *Channel
	conns   *ConnSet

	mu       sync.Mutex // guards evicted against concurrent subscribe
	evicted  bool
	lastSeen atomic.Int64 // unix nanos of the last join or leave
}

func newRoomEntry(id string, capacity int) *roomEntry {
	e := &roomEntry{id: id, channel: NewChannel(capacity), conns: newConnSet()}
	e.conns.announce = func(a ServerAction) { e.channel.Publish(a) }
	e.touch()
	return e
}

func (e *roomEntry) touch() { e.lastSeen.Store(time.Now().UnixNano()) }

// subscribe fails only if the entry was evicted after the caller loaded it.
func (e *roomEntry) subscribe() (*Subscription, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return nil, false
	}
	e.touch()
	return e.channel.Subscribe(), true
}

func (h *Hub) load(roomID string) (*roomEntry, bool) {
	v, ok := h.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	return v.(*roomEntry), true
}

// join fetches or atomically creates the room entry and subscribes to it.
func (h *Hub) join(roomID string) (*roomEntry, *Subscription) {
	for {
		e, ok := h.load(roomID)
		if !ok {
			v, loaded := h.rooms.LoadOrStore(roomID, newRoomEntry(roomID, h.capacity))
			if !loaded {
				wsRooms.Inc()
			}
			e = v.(*roomEntry)
		}
		if sub, ok := e.subscribe(); ok {
			return e, sub
		}
		// Lost a race with SweepIdle; the evicted entry is already unmapped.
	}
}

// Join returns the room's publisher and a new subscription to it.
func (h *Hub) Join(roomID string) (*Channel, *Subscription) {
	e, sub := h.join(roomID)
	return e.channel, sub
}

// WithEntry runs fn against the room's connection set. It returns false, without
// calling fn, when the room has no entry.
func (h *Hub) WithEntry(roomID string, fn func(*ConnSet)) bool {
	e, ok := h.load(roomID)
	if !ok {
		return false
	}
	fn(e.conns)
	return true
}

// Publish broadcasts msg to the room, returning the subscriber count. Rooms
// without an entry have no subscribers.
func (h *Hub) Publish(roomID string, msg ServerAction) int {
	e, ok := h.load(roomID)
	if !ok {
		return 0
	}
	return e.channel.Publish(msg)
}

// Kick unregisters every connection of userID in roomID and tells the rest of the
// room the user left. The connections receive terminal and are closed in the
// background, so Kick never waits on a slow client. It returns the number of
// connections removed.
func (h *Hub) Kick(roomID, userID string, terminal ServerAction) int {
	e, ok := h.load(roomID)
	if !ok {
		return 0
	}
	n := e.conns.DisconnectAll(userID, terminal)
	if n == 0 {
		return 0
	}
	e.touch()
	kicks.Add(float64(n))
	return n
}

// Presence lists the users connected to roomID.
func (h *Hub) Presence(roomID string) []string {
	var users []string
	if !h.WithEntry(roomID, func(cs *ConnSet) { users = cs.Users() }) {
		return []string{}
	}
	return users
}

// Rooms returns the number of registry entries.
func (h *Hub) Rooms() int {
	n := 0
	h.rooms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// SweepIdle evicts rooms that have had no subscriber and no connection for at
// least ttl. It returns how many entries were removed.
func (h *Hub) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl).UnixNano()
	n := 0
	h.rooms.Range(func(k, v any) bool {
		e := v.(*roomEntry)
		e.mu.Lock()
		if !e.evicted && e.lastSeen.Load() <= cutoff &&
			e.channel.Subscribers() == 0 && e.conns.Len() == 0 {
			e.evicted = true
			h.rooms.CompareAndDelete(k, e)
			e.channel.Close()
			wsRooms.Dec()
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// Shutdown closes every connection in every room with terminal and returns once
// all of them are closed.
func (h *Hub) Shutdown(terminal ServerAction) int {
	n := 0
	h.rooms.Range(func(_, v any) bool {
		n += v.(*roomEntry).conns.closeAll(terminal)
		return true
	})
	return n
}

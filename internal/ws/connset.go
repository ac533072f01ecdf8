package ws

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Listener is the one record kept per registered connection: its outbound guard
// and the forwarding task that writes room broadcasts through it. Removing a
// Listener from a ConnSet hands it to exactly one caller, who must Stop it.
type Listener struct {
	Sender    *Sender
	Forwarder *Forwarder
	Nickname  string
}

// Stop cancels the forwarding task and waits for it.
func (l *Listener) Stop() { l.Forwarder.Stop() }

// ConnSet tracks every live connection per user within one room.
type ConnSet struct {
	mu    sync.Mutex
	users map[string]map[string]*Listener // userID -> connID -> listener

	// announce is called with UserJoined and UserLeft while mu is held, so the
	// room hears presence changes in registry order. It must not block.
	announce func(ServerAction)
}

func newConnSet() *ConnSet {
	return &ConnSet{users: make(map[string]map[string]*Listener)}
}

func (s *ConnSet) notify(action ServerAction) {
	if s.announce != nil {
		s.announce(action)
	}
}

// Connect registers l under (userID, connID) and starts its forwarder. A second
// registration of the same pair is a no-op and reports added=false; the caller
// then still owns l. first reports whether userID had no other connection here.
func (s *ConnSet) Connect(userID, connID string, l *Listener) (added, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]*Listener)
		s.users[userID] = conns
	}
	if _, dup := conns[connID]; dup {
		return false, false
	}
	first = len(conns) == 0
	l.Forwarder.start()
	conns[connID] = l
	wsConnections.Inc()
	if first {
		s.notify(NewUserJoined(userID, l.Nickname))
	}
	return true, first
}

// Disconnect removes (userID, connID) and returns its listener, which the caller
// must Stop. last reports whether the user has no connection left in the room,
// in which case the room is told the user left.
// A nil listener means the entry was already gone, e.g. removed by a kick.
func (s *ConnSet) Disconnect(userID, connID string) (l *Listener, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	l, ok = conns[connID]
	if !ok {
		return nil, false
	}
	delete(conns, connID)
	wsConnections.Dec()
	l.Forwarder.halt()
	if len(conns) == 0 {
		delete(s.users, userID)
		s.notify(NewUserLeft(userID, l.Nickname))
		return l, true
	}
	return l, false
}

// DisconnectAll removes every connection of userID and tells the room the user
// left. Each removed connection then has its forwarder stopped, receives terminal
// (best effort) and is closed in the background. It returns the number removed.
func (s *ConnSet) DisconnectAll(userID string, terminal ServerAction) int {
	removed := s.removeUser(userID)
	closeListeners(removed, terminal)
	return len(removed)
}

func (s *ConnSet) removeUser(userID string) []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.users[userID]
	delete(s.users, userID)
	out := make([]*Listener, 0, len(conns))
	for _, l := range conns {
		l.Forwarder.halt()
		out = append(out, l)
	}
	if len(out) > 0 {
		wsConnections.Sub(float64(len(out)))
		s.notify(NewUserLeft(userID, out[0].Nickname))
	}
	return out
}

// closeListeners tears down each listener on its own goroutine, so a connection
// stuck in a write holds up only itself. Wait on the result to block until all
// of them are closed.
func closeListeners(ls []*Listener, terminal ServerAction) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, l := range ls {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			l.Stop()
			if terminal != nil {
				if err := l.Sender.Send(terminal); err != nil {
					zap.L().Debug("ws.terminal_send", zap.Error(err))
				}
			}
			l.Sender.Close(websocket.ClosePolicyViolation, "removed from room")
		}(l)
	}
	return &wg
}

// Users returns the ids of users with at least one connection, sorted.
func (s *ConnSet) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Has reports whether (userID, connID) is registered.
func (s *ConnSet) Has(userID, connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID][connID]
	return ok
}

// Connections returns how many connections userID has.
func (s *ConnSet) Connections(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users[userID])
}

// Len returns the total number of registered connections.
func (s *ConnSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, conns := range s.users {
		n += len(conns)
	}
	return n
}

// closeAll removes, stops and closes every connection and waits until all of them
// are closed; used when the process shuts down.
func (s *ConnSet) closeAll(terminal ServerAction) int {
	var removed []*Listener
	for _, id := range s.Users() {
		removed = append(removed, s.removeUser(id)...)
	}
	closeListeners(removed, terminal).Wait()
	return len(removed)
}

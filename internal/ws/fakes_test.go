package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake transport closed")

type fakeFrame struct {
	mt   int
	data []byte
}

// fakeTransport is an in-memory Transport. The test plays the client: it pushes
// frames with send and reads the server's frames with next.
type fakeTransport struct {
	in     chan fakeFrame
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	failWrites bool
	gate       chan struct{}
	held       int // writes currently blocked on gate
	closeCode  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan fakeFrame, 16),
		out:    make(chan []byte, 512),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.mt, fr.data, nil
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeTransport) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	fail, gate := f.failWrites, f.gate
	if !fail && gate != nil {
		f.held++
	}
	f.mu.Unlock()
	if fail {
		return errors.New("fake write failure")
	}
	if gate != nil {
		defer func() {
			f.mu.Lock()
			f.held--
			f.mu.Unlock()
		}()
		select {
		case <-gate:
		case <-f.closed:
			return errFakeClosed
		}
	}
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return errFakeClosed
	}
}

func (f *fakeTransport) WriteControl(mt int, data []byte, _ time.Time) error {
	if mt == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCode = int(data[0])<<8 | int(data[1])
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) setFailWrites(v bool) {
	f.mu.Lock()
	f.failWrites = v
	f.mu.Unlock()
}

// holdWrites makes every write block, like a client that stopped reading, until
// release is called.
func (f *fakeTransport) holdWrites() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeTransport) writeHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held > 0
}

func (f *fakeTransport) sendRaw(t *testing.T, data string) {
	t.Helper()
	select {
	case f.in <- fakeFrame{mt: websocket.TextMessage, data: []byte(data)}:
	case <-time.After(time.Second):
		t.Fatal("client frame not consumed")
	}
}

func (f *fakeTransport) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.sendRaw(t, string(data))
}

// wireAction decodes any server action.
type wireAction struct {
	Type     string           `json:"type"`
	Messages []HistoryMessage `json:"messages"`
	Nickname string           `json:"nickname"`
	Content  string           `json:"content"`
	SentAt   int64            `json:"sent_at"`
	From     string           `json:"from"`
	Reason   string           `json:"reason"`
	Info     string           `json:"info"`
	RoomID   string           `json:"room_id"`
	Code     string           `json:"code"`
	UserID   string           `json:"user_id"`
}

func (f *fakeTransport) next(t *testing.T, timeout time.Duration) (wireAction, bool) {
	t.Helper()
	select {
	case data := <-f.out:
		var a wireAction
		require.NoError(t, json.Unmarshal(data, &a))
		return a, true
	case <-time.After(timeout):
		return wireAction{}, false
	}
}

// expect reads frames until one of the given type arrives, failing after 2s.
func (f *fakeTransport) expect(t *testing.T, typ string) wireAction {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, ok := f.next(t, time.Until(deadline))
		if !ok {
			break
		}
		if a.Type == typ {
			return a
		}
	}
	t.Fatalf("no %s frame received", typ)
	return wireAction{}
}

// drain returns every frame that arrives until the connection is quiet.
func (f *fakeTransport) drain(t *testing.T, quiet time.Duration) []wireAction {
	t.Helper()
	var out []wireAction
	for {
		a, ok := f.next(t, quiet)
		if !ok {
			return out
		}
		out = append(out, a)
	}
}

// ─────────────────────────────── collaborators ───────────────────────────────

type storedMessage struct {
	userID  string
	roomID  string
	content string
}

type memStore struct {
	mu       sync.Mutex
	messages []storedMessage
	names    map[string]string
	failNext bool
	fetches  int
}

func newMemStore() *memStore { return &memStore{names: make(map[string]string)} }

func (m *memStore) StoreMessage(_ context.Context, userID, roomID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("db down")
	}
	m.messages = append(m.messages, storedMessage{userID, roomID, content})
	return nil
}

func (m *memStore) FetchHistory(_ context.Context, roomID string, limit, offset int) ([]HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	var newestFirst []HistoryMessage
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.roomID != roomID {
			continue
		}
		newestFirst = append(newestFirst, HistoryMessage{Nickname: m.names[msg.userID], Content: msg.content, SentAt: int64(i)})
	}
	if offset >= len(newestFirst) {
		return []HistoryMessage{}, nil
	}
	end := offset + limit
	if end > len(newestFirst) {
		end = len(newestFirst)
	}
	return newestFirst[offset:end], nil
}

func (m *memStore) FetchDisplayName(_ context.Context, userID, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.names[userID]; ok {
		return n, nil
	}
	return "", fmt.Errorf("user %s not found", userID)
}

func (m *memStore) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *memStore) count(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.roomID == roomID {
			n++
		}
	}
	return n
}

type memMembership struct {
	mu          sync.Mutex
	roles       map[string]map[string]string // roomID -> userID -> role
	invalidated []string                     // roomID/userID
}

func newMemMembership() *memMembership {
	return &memMembership{roles: make(map[string]map[string]string)}
}

func (m *memMembership) add(roomID, userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[roomID] == nil {
		m.roles[roomID] = make(map[string]string)
	}
	m.roles[roomID][userID] = role
}

func (m *memMembership) remove(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles[roomID], userID)
}

func (m *memMembership) Invalidate(_ context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, roomID+"/"+userID)
	return nil
}

func (m *memMembership) invalidations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invalidated...)
}

func (m *memMembership) RoomExists(_ context.Context, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roles[roomID]
	return ok, nil
}

func (m *memMembership) IsMember(_ context.Context, userID, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roles[roomID][userID]
	return ok, nil
}

func (m *memMembership) HasPrivilege(_ context.Context, userID, roomID, action string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roomID][userID]
	if !ok {
		return false, nil
	}
	switch action {
	case PrivilegeKick:
		return role == "admin" || role == "owner", nil
	default:
		return true, nil
	}
}

type memInviter struct{}

func (memInviter) CreateInvite(_ context.Context, userID, roomID string) (string, error) {
	return "code-" + roomID + "-" + userID, nil
}

type memRetry struct {
	mu      sync.Mutex
	pending []PendingMessage
}

func (m *memRetry) Enqueue(_ context.Context, msg PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, msg)
	return nil
}

func (m *memRetry) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

type staticVerifier struct{}

func (staticVerifier) Verify(r *http.Request) (string, error) {
	if u := r.URL.Query().Get("user"); u != "" {
		return u, nil
	}
	return "", errors.New("no user")
}

// ─────────────────────────────── harness ─────────────────────────────────────

type testEnv struct {
	srv     *Server
	store   *memStore
	members *memMembership
	retry   *memRetry
}

func newTestEnv(t *testing.T, pageSize int) *testEnv {
	t.Helper()
	env := &testEnv{store: newMemStore(), members: newMemMembership(), retry: &memRetry{}}
	env.srv = NewServer(NewHub(DefaultChannelCapacity), Deps{
		Verifier:   staticVerifier{},
		Membership: env.members,
		Store:      env.store,
		Inviter:    memInviter{},
		Retry:      env.retry,
	}, Config{HistoryPageSize: pageSize, MaxMessageLength: 50})
	return env
}

type testConn struct {
	ft   *fakeTransport
	ctrl *Controller
	done chan error
}

func (e *testEnv) connect(t *testing.T, userID string) *testConn {
	t.Helper()
	ft := newFakeTransport()
	ctrl := newController(e.srv, userID, fmt.Sprintf("%s-%p", userID, ft), NewUserConn(ft))
	tc := &testConn{ft: ft, ctrl: ctrl, done: make(chan error, 1)}
	go func() { tc.done <- ctrl.Run(context.Background()) }()
	t.Cleanup(func() { _ = ft.Close() })
	return tc
}

// joinRoom selects roomID and waits for the join history page.
func (c *testConn) joinRoom(t *testing.T, roomID string) []HistoryMessage {
	t.Helper()
	c.ft.send(t, map[string]any{"type": ActionChangeRoom, "room_id": roomID})
	page := c.ft.expect(t, ActionHistoryPage)
	require.Eventually(t, func() bool { return c.ctrl.State() == StateJoined }, time.Second, 5*time.Millisecond)
	return page.Messages
}

func (c *testConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
	require.Equal(t, StateClosed, c.ctrl.State())
}

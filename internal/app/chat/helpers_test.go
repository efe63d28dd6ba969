package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/db"
	"relaychat/internal/app/message"
	"relaychat/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.InitWithWriter(io.Discard, zerolog.Disabled)
	os.Exit(m.Run())
}

// fakeConn records every frame sent to it.
type fakeConn struct {
	id string

	mu       sync.Mutex
	open     bool
	frames   [][]byte
	failSend bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return ErrClientClosed
	}
	if f.failSend {
		return ErrSendQueueFull
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeConn) shut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

// drain returns the decoded frames received so far and forgets them.
func (f *fakeConn) drain(t *testing.T) []map[string]any {
	t.Helper()

	f.mu.Lock()
	frames := f.frames
	f.frames = nil
	f.mu.Unlock()

	events := make([]map[string]any, 0, len(frames))
	for _, frame := range frames {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(frame, &ev))
		events = append(events, ev)
	}
	return events
}

// flakyStore wraps a MemoryStore with switchable failures.
type flakyStore struct {
	*db.MemoryStore

	failInsert  bool
	failSummary bool
	failHistory bool
}

func (s *flakyStore) InsertMessage(ctx context.Context, draft message.Draft) (message.Message, error) {
	if s.failInsert {
		return message.Message{}, errors.New("insert failed")
	}
	return s.MemoryStore.InsertMessage(ctx, draft)
}

func (s *flakyStore) UpdateLastMessage(ctx context.Context, userID, content string, at time.Time) error {
	if s.failSummary {
		return errors.New("summary failed")
	}
	return s.MemoryStore.UpdateLastMessage(ctx, userID, content, at)
}

func (s *flakyStore) MessagesByParticipant(ctx context.Context, userID string, limit int) ([]message.Message, error) {
	if s.failHistory {
		return nil, errors.New("history failed")
	}
	return s.MemoryStore.MessagesByParticipant(ctx, userID, limit)
}

type harness struct {
	registry *Registry
	router   *Router
	store    *flakyStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := &flakyStore{MemoryStore: db.NewMemoryStore()}
	registry := NewRegistry()
	router := NewRouter(registry, NewBroadcaster(registry), store, store)

	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	router.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	return &harness{registry: registry, router: router, store: store}
}

func (h *harness) connect(id string) (*Connection, *fakeConn) {
	conn := newFakeConn(id)
	return NewConnection(conn, h.router), conn
}

// login connects and authenticates, discarding the frames produced by the handshake.
func (h *harness) login(t *testing.T, userID, username string) (*Connection, *fakeConn) {
	t.Helper()

	c, conn := h.connect("conn-" + userID)
	c.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "auth", "userId": userID, "username": username,
	}))
	require.Equal(t, StateAuthenticated, c.State())
	conn.drain(t)
	return c, conn
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func ofType(events []map[string]any, typ EventType) []map[string]any {
	var out []map[string]any
	for _, ev := range events {
		if ev["type"] == string(typ) {
			out = append(out, ev)
		}
	}
	return out
}

func draftBetween(from, to string) message.Draft {
	return message.Draft{
		SenderID:   from,
		ReceiverID: to,
		Content:    "unrelated",
		Timestamp:  time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/user"
)

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	res.Body.Close()

	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)

		var ev map[string]any
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev["type"] == typ {
			return ev
		}
	}
}

func TestWebSocketPrivateMessaging(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice, err := srv.deps.Store.CreateUser(ctx, user.Draft{Username: "Alice", Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	bob, err := srv.deps.Store.CreateUser(ctx, user.Draft{Username: "Bob", Email: "bob@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	aliceConn := srv.dial(t)
	send(t, aliceConn, map[string]any{"type": "auth", "userId": alice.ID, "username": "Alice"})
	readUntil(t, aliceConn, "message_history")

	bobConn := srv.dial(t)
	send(t, bobConn, map[string]any{"type": "auth", "userId": bob.ID, "username": "Bob"})
	readUntil(t, bobConn, "message_history")

	list := readUntil(t, aliceConn, "user_list")
	assert.Len(t, list["users"], 2)

	send(t, aliceConn, map[string]any{"type": "private_message", "recipientId": bob.ID, "content": "hi bob"})

	received := readUntil(t, bobConn, "private_message")
	assert.Equal(t, "hi bob", received["content"])
	assert.Equal(t, alice.ID, received["senderId"])
	assert.Equal(t, "Alice", received["senderName"])
	assert.NotContains(t, received, "status")

	echo := readUntil(t, aliceConn, "private_message")
	assert.Equal(t, "delivered", echo["status"])
	assert.Equal(t, received["messageId"], echo["messageId"])

	send(t, bobConn, map[string]any{"type": "typing", "recipientId": alice.ID, "isTyping": true})
	typing := readUntil(t, aliceConn, "typing")
	assert.Equal(t, bob.ID, typing["senderId"])
	assert.Equal(t, true, typing["isTyping"])

	status, env := srv.do(t, http.MethodGet, "/api/auth/users", "", nil)
	require.Equal(t, http.StatusOK, status)

	var users []UserSummary
	require.NoError(t, json.Unmarshal(env.Data, &users))
	require.Len(t, users, 2)
	for _, u := range users {
		assert.True(t, u.Online)
		assert.Equal(t, "hi bob", u.LastMessage)
	}

	require.NoError(t, bobConn.Close())

	list = readUntil(t, aliceConn, "user_list")
	assert.Equal(t, []any{
		map[string]any{"userId": alice.ID, "username": "Alice", "status": "online"},
	}, list["users"])

	send(t, aliceConn, map[string]any{"type": "private_message", "recipientId": bob.ID, "content": "you left"})
	pending := readUntil(t, aliceConn, "private_message")
	assert.Equal(t, "pending", pending["status"])
}

func TestWebSocketRejectsEventsBeforeAuth(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t)

	send(t, conn, map[string]any{"type": "private_message", "recipientId": "u2", "content": "hi"})
	ev := readUntil(t, conn, "error")
	assert.Equal(t, "You must be authenticated.", ev["content"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev = readUntil(t, conn, "error")
	assert.NotEmpty(t, ev["content"])

	send(t, conn, map[string]any{"type": "auth", "userId": "u1", "username": "Alice"})
	history := readUntil(t, conn, "message_history")
	assert.Empty(t, history["messages"])

	status, env := srv.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","service":"RelayChat Server","online":1}`, string(env.Data))
}

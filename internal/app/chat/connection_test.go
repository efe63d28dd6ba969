package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/errs"
)

func TestAuthAnnouncesUserAndReplaysHistory(t *testing.T) {
	h := newHarness(t)
	_, bobConn := h.login(t, "u2", "Bob")

	alice, aliceConn := h.connect("c-alice")
	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "auth", "userId": "u1", "username": "Alice",
	}))

	assert.Equal(t, StateAuthenticated, alice.State())
	id, ok := alice.Identity()
	require.True(t, ok)
	assert.Equal(t, Identity{UserID: "u1", Username: "Alice"}, id)

	lists := ofType(bobConn.drain(t), TypeUserList)
	require.Len(t, lists, 1)
	assert.Contains(t, lists[0]["users"], map[string]any{
		"userId": "u1", "username": "Alice", "status": "online",
	})

	events := aliceConn.drain(t)
	require.Len(t, events, 2)
	assert.Equal(t, "user_list", events[0]["type"])
	assert.Equal(t, "message_history", events[1]["type"])
	assert.Empty(t, events[1]["messages"])
}

func TestAuthRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	c, conn := h.connect("c1")

	c.HandleFrame(context.Background(), frame(t, map[string]any{"type": "auth", "userId": "u1"}))

	assert.Equal(t, StateConnecting, c.State())
	events := conn.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])
	assert.EqualValues(t, errs.ErrIdentityRequired, events[0]["code"])
	assert.Equal(t, 0, h.registry.Len())
}

func TestPrivateMessageToOnlineRecipient(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")
	aliceConn.drain(t)

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "hello bob",
	}))

	toBob := bobConn.drain(t)
	require.Len(t, toBob, 1)
	assert.Equal(t, "private_message", toBob[0]["type"])
	assert.Equal(t, "hello bob", toBob[0]["content"])
	assert.Equal(t, "u1", toBob[0]["senderId"])
	assert.Equal(t, "Alice", toBob[0]["senderName"])
	assert.NotContains(t, toBob[0], "status")

	toAlice := aliceConn.drain(t)
	require.Len(t, toAlice, 1)
	assert.Equal(t, "delivered", toAlice[0]["status"])

	stored, err := h.store.MessagesByParticipant(context.Background(), "u2", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, toBob[0]["messageId"])
	assert.Equal(t, stored[0].ID, toAlice[0]["messageId"])
	assert.Equal(t, toBob[0]["timestamp"], toAlice[0]["timestamp"])
}

func TestPrivateMessageToOfflineRecipientIsPending(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u9", "content": "are you there?",
	}))

	events := aliceConn.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, "private_message", events[0]["type"])
	assert.Equal(t, "pending", events[0]["status"])

	stored, err := h.store.MessagesByParticipant(context.Background(), "u9", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "u1", stored[0].SenderID)
	assert.Equal(t, "u9", stored[0].ReceiverID)
	assert.Equal(t, "are you there?", stored[0].Content)
}

func TestPrivateMessageToClosedRecipientIsPending(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")
	aliceConn.drain(t)
	bobConn.shut()

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "hi",
	}))

	events := aliceConn.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0]["status"])
}

func TestEventsBeforeAuthAreRejected(t *testing.T) {
	h := newHarness(t)
	c, conn := h.connect("c1")

	c.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "sneaky",
	}))
	c.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "typing", "recipientId": "u2", "isTyping": true,
	}))

	events := conn.drain(t)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "error", ev["type"])
		assert.EqualValues(t, errs.ErrNotAuthenticated, ev["code"])
	}
	assert.Equal(t, StateConnecting, c.State())

	recent, err := h.store.RecentMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	h := newHarness(t)
	c, conn := h.connect("c1")

	c.HandleFrame(context.Background(), []byte("{not json"))
	c.HandleFrame(context.Background(), []byte(`{"type":"join_room"}`))

	events := conn.drain(t)
	require.Len(t, events, 2)
	assert.EqualValues(t, errs.ErrMalformedFrame, events[0]["code"])
	assert.EqualValues(t, errs.ErrUnsupportedEvent, events[1]["code"])
	assert.Equal(t, StateConnecting, c.State())
	assert.True(t, conn.IsOpen())
}

func TestPrivateMessageValidation(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		wantCode int
	}{
		{"missing recipient", map[string]any{"content": "hi"}, errs.ErrRecipientRequired},
		{"blank content", map[string]any{"recipientId": "u2", "content": "   "}, errs.ErrMessageContentEmpty},
		{"too long", map[string]any{"recipientId": "u2", "content": strings.Repeat("x", MaxContentBytes+1)}, errs.ErrMessageContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			alice, aliceConn := h.login(t, "u1", "Alice")

			tt.payload["type"] = "private_message"
			alice.HandleFrame(context.Background(), frame(t, tt.payload))

			events := aliceConn.drain(t)
			require.Len(t, events, 1)
			assert.EqualValues(t, tt.wantCode, events[0]["code"])

			recent, err := h.store.RecentMessages(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestStoreFailureIsReportedAndNothingDelivered(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")
	aliceConn.drain(t)
	h.store.failInsert = true

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "lost",
	}))

	events := aliceConn.drain(t)
	require.Len(t, events, 1)
	assert.EqualValues(t, errs.ErrMessageNotStored, events[0]["code"])
	assert.Empty(t, bobConn.drain(t))
	assert.Equal(t, StateAuthenticated, alice.State())
}

func TestSummaryFailureDoesNotBlockDelivery(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")
	aliceConn.drain(t)
	h.store.failSummary = true

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "still here",
	}))

	assert.Len(t, bobConn.drain(t), 1)
	events := aliceConn.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, "delivered", events[0]["status"])
}

func TestTypingIsRelayedAndNeverStored(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")
	aliceConn.drain(t)

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "typing", "recipientId": "u2", "isTyping": true,
	}))
	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "typing", "recipientId": "u9", "isTyping": true,
	}))

	toBob := bobConn.drain(t)
	require.Len(t, toBob, 1)
	assert.Equal(t, map[string]any{
		"type": "typing", "senderId": "u1", "senderName": "Alice", "isTyping": true,
	}, toBob[0])
	assert.Empty(t, aliceConn.drain(t))

	for _, userID := range []string{"u1", "u2", "u9"} {
		history, err := h.store.MessagesByParticipant(context.Background(), userID, HistoryLimit)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestHistoryIsCappedAndNewestFirst(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.login(t, "u1", "Alice")

	for i := range HistoryLimit + 5 {
		recipient := "u2"
		if i%2 == 0 {
			recipient = "u3"
		}
		alice.HandleFrame(context.Background(), frame(t, map[string]any{
			"type": "private_message", "recipientId": recipient, "content": "m",
		}))
	}
	_, err := h.store.InsertMessage(context.Background(), draftBetween("u7", "u8"))
	require.NoError(t, err)

	c, conn := h.connect("c-alice-2")
	c.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "auth", "userId": "u1", "username": "Alice",
	}))

	histories := ofType(conn.drain(t), TypeMessageHistory)
	require.Len(t, histories, 1)

	messages, ok := histories[0]["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, HistoryLimit)

	var prev string
	for _, raw := range messages {
		m := raw.(map[string]any)
		assert.True(t, m["senderId"] == "u1" || m["receiverId"] == "u1")
		ts := m["timestamp"].(string)
		if prev != "" {
			assert.GreaterOrEqual(t, prev, ts)
		}
		prev = ts
	}
}

func TestHistoryFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.store.failHistory = true

	c, conn := h.connect("c1")
	c.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "auth", "userId": "u1", "username": "Alice",
	}))

	assert.Equal(t, StateAuthenticated, c.State())
	events := conn.drain(t)
	assert.Empty(t, ofType(events, TypeMessageHistory))
	assert.Empty(t, ofType(events, TypeError))
}

func TestCloseRemovesUserFromList(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")

	alice.Close()
	alice.Close()

	assert.Equal(t, StateClosed, alice.State())
	lists := ofType(bobConn.drain(t), TypeUserList)
	require.Len(t, lists, 1)
	assert.Equal(t, []any{
		map[string]any{"userId": "u2", "username": "Bob", "status": "online"},
	}, lists[0]["users"])

	_, ok := h.registry.Lookup("u1")
	assert.False(t, ok)

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "ghost",
	}))
	assert.Empty(t, bobConn.drain(t))
}

func TestCloseBeforeAuthBroadcastsNothing(t *testing.T) {
	h := newHarness(t)
	_, bobConn := h.login(t, "u2", "Bob")

	c, _ := h.connect("c1")
	c.Close()

	assert.Empty(t, bobConn.drain(t))
}

func TestReconnectTargetsNewestConnection(t *testing.T) {
	h := newHarness(t)
	oldSession, oldConn := h.login(t, "u1", "Alice")
	_, newConn := h.login(t, "u1", "Alice")
	bob, bobConn := h.login(t, "u2", "Bob")
	oldConn.drain(t)
	newConn.drain(t)

	s, ok := h.registry.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, newConn, s.Conn)

	bob.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u1", "content": "which one?",
	}))
	assert.Empty(t, oldConn.drain(t))
	assert.Len(t, newConn.drain(t), 1)
	bobConn.drain(t)

	oldSession.Close()

	assert.True(t, h.registry.IsOnline("u1"), "late close of the replaced connection must not evict the new one")
	assert.Empty(t, bobConn.drain(t))
}

func TestReauthRebindsIdentity(t *testing.T) {
	h := newHarness(t)
	c, conn := h.login(t, "u1", "Alice")

	c.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "auth", "userId": "u5", "username": "Eve",
	}))

	id, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, "u5", id.UserID)

	_, ok = h.registry.Lookup("u1")
	assert.False(t, ok)
	assert.True(t, h.registry.IsOnline("u5"))

	lists := ofType(conn.drain(t), TypeUserList)
	require.Len(t, lists, 1)
	assert.Equal(t, []any{
		map[string]any{"userId": "u5", "username": "Eve", "status": "online"},
	}, lists[0]["users"])
}

func TestBroadcastSkipsFailingConnection(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry)

	first, middle, last := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("c3")
	middle.failSend = true
	registry.Register("u1", "Alice", first)
	registry.Register("u2", "Bob", middle)
	registry.Register("u3", "Carol", last)

	broadcaster.BroadcastAll(ErrorEvent{Content: "maintenance soon", Code: errs.ErrUnknown})

	for _, conn := range []*fakeConn{first, last} {
		events := conn.drain(t)
		require.Len(t, events, 1, conn.ID())
		assert.Equal(t, "maintenance soon", events[0]["content"])
	}
	assert.Empty(t, middle.drain(t))

	broadcaster.BroadcastUserList()

	for _, conn := range []*fakeConn{first, last} {
		events := conn.drain(t)
		require.Len(t, events, 1, conn.ID())
		assert.Equal(t, "user_list", events[0]["type"])
		assert.Len(t, events[0]["users"], 3)
	}
	assert.Empty(t, middle.drain(t))
}

func TestBroadcastSkipsClosedConnection(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry)

	open, closed := newFakeConn("c1"), newFakeConn("c2")
	closed.shut()
	registry.Register("u1", "Alice", open)
	registry.Register("u2", "Bob", closed)

	broadcaster.BroadcastAll(TypingOut{SenderID: "u9", SenderName: "Zed", IsTyping: true})

	assert.Len(t, open.drain(t), 1)
	assert.Empty(t, closed.drain(t))
}

func TestPrivateMessageFailedRecipientWriteIsPending(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.login(t, "u1", "Alice")
	_, bobConn := h.login(t, "u2", "Bob")
	aliceConn.drain(t)
	bobConn.failSend = true

	alice.HandleFrame(context.Background(), frame(t, map[string]any{
		"type": "private_message", "recipientId": "u2", "content": "queue is full",
	}))

	events := aliceConn.drain(t)
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0]["status"])
	assert.Empty(t, bobConn.drain(t))

	stored, err := h.store.MessagesByParticipant(context.Background(), "u2", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "queue is full", stored[0].Content)
}

package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/user"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("c1")

	assert.Nil(t, r.Register("u1", "Alice", conn))

	s, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "Alice", s.Username)
	assert.Equal(t, user.StatusOnline, s.Status)
	assert.Same(t, conn, s.Conn)
	assert.True(t, r.IsOnline("u1"))

	_, ok = r.Lookup("u2")
	assert.False(t, ok)
	assert.False(t, r.IsOnline("u2"))
}

func TestRegistryReplaceKeepsOnlyNewestConnection(t *testing.T) {
	r := NewRegistry()
	oldConn, newConn := newFakeConn("old"), newFakeConn("new")

	r.Register("u1", "Alice", oldConn)
	replaced := r.Register("u1", "Alice", newConn)

	assert.Same(t, oldConn, replaced)
	assert.True(t, oldConn.IsOpen(), "registry must not close the replaced connection")
	assert.Equal(t, 1, r.Len())

	assert.False(t, r.Deregister("u1", oldConn), "stale connection must not evict its replacement")

	s, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, newConn, s.Conn)

	assert.True(t, r.Deregister("u1", newConn))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Deregister("u1", newConn))
}

func TestRegistrySnapshotFollowsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	c1, c2, c3 := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("c3")

	r.Register("u1", "Alice", c1)
	r.Register("u2", "Bob", c2)
	r.Register("u3", "Carol", c3)
	r.Register("u1", "Alice", newFakeConn("c1b"))

	var ids []string
	for _, s := range r.Snapshot() {
		ids = append(ids, s.UserID)
	}
	assert.Equal(t, []string{"u2", "u3", "u1"}, ids)

	assert.False(t, r.IsOnline("missing"))
	c2.shut()
	assert.False(t, r.IsOnline("u2"))
}

func TestRegistryConcurrentMutationsKeepOneSessionPerUser(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			userID := fmt.Sprintf("u%d", i%5)
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			r.Register(userID, userID, conn)
			if i%3 == 0 {
				r.Deregister(userID, conn)
			}
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, s := range r.Snapshot() {
		assert.False(t, seen[s.UserID], "duplicate session for %s", s.UserID)
		seen[s.UserID] = true
	}
	assert.LessOrEqual(t, r.Len(), 5)
}

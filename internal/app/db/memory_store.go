package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/randx"
)

// MemoryStore implements Store in process memory. Data is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	messages []storedMessage
	users    map[string]*user.User
	byEmail  map[string]string
	order    []string
}

type storedMessage struct {
	message.Message
	seq int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*user.User),
		byEmail: make(map[string]string),
	}
}

// InsertMessage stores a copy of the draft under a new id.
func (s *MemoryStore) InsertMessage(ctx context.Context, draft message.Draft) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}

	msg := message.Message{
		ID:         randx.RecordID(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Content:    draft.Content,
		Timestamp:  draft.Timestamp.UTC(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, storedMessage{Message: msg, seq: len(s.messages)})
	s.mu.Unlock()

	return msg, nil
}

// MessagesByParticipant returns the newest messages sent or received by userID.
func (s *MemoryStore) MessagesByParticipant(ctx context.Context, userID string, limit int) ([]message.Message, error) {
	return s.query(ctx, limit, func(m message.Message) bool { return m.Involves(userID) })
}

// RecentMessages returns the newest messages of any participant.
func (s *MemoryStore) RecentMessages(ctx context.Context, limit int) ([]message.Message, error) {
	return s.query(ctx, limit, func(message.Message) bool { return true })
}

func (s *MemoryStore) query(ctx context.Context, limit int, keep func(message.Message) bool) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]storedMessage, 0)
	for _, m := range s.messages {
		if keep(m.Message) {
			matched = append(matched, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].seq > matched[j].seq
	})

	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]message.Message, len(matched))
	for i, m := range matched {
		out[i] = m.Message
		if u, ok := s.lookupUser(m.SenderID); ok {
			out[i].SenderName = u.Username
		}
	}

	return out, nil
}

func (s *MemoryStore) lookupUser(id string) (user.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, false
	}
	return *u, true
}

// UpdateLastMessage sets the summary of a known user; unknown ids are ignored.
func (s *MemoryStore) UpdateLastMessage(ctx context.Context, userID, content string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		at = at.UTC()
		u.LastMessage = content
		u.LastMessageAt = &at
	}

	return nil
}

// CreateUser stores a new user; emails compare case-insensitively.
func (s *MemoryStore) CreateUser(ctx context.Context, draft user.Draft) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	key := strings.ToLower(draft.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[key]; taken {
		return user.User{}, ErrDuplicate
	}

	u := &user.User{
		ID:           randx.RecordID(),
		Username:     draft.Username,
		Email:        draft.Email,
		PasswordHash: draft.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	s.order = append(s.order, u.ID)

	return *u, nil
}

// UserByEmail looks a user up by email.
func (s *MemoryStore) UserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, ErrNotFound
	}

	return *s.users[id], nil
}

// ListUsers returns users in creation order.
func (s *MemoryStore) ListUsers(ctx context.Context, limit int) ([]user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit >= 0 && n > limit {
		n = limit
	}

	users := make([]user.User, 0, n)
	for _, id := range s.order[:n] {
		users = append(users, *s.users[id])
	}

	return users, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

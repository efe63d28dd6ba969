package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

// Broadcaster writes events to one connection, one user, or every registered user.
// A failed write is logged and never aborts the rest of a broadcast.
type Broadcaster struct {
	registry *Registry

	// listMu serialises user list broadcasts so the last list sent reflects the
	// latest registry state.
	listMu sync.Mutex

	logger zerolog.Logger
}

// NewBroadcaster returns a Broadcaster over the given registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logx.Component("Broadcaster"),
	}
}

// Send encodes event and writes it to conn.
func (b *Broadcaster) Send(conn Conn, event OutboundEvent) error {
	data, err := Encode(event)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to encode outbound event")
		return err
	}

	return b.write(conn, data)
}

// SendTo writes event to the connection registered for userID. It reports
// whether the event reached an open connection.
func (b *Broadcaster) SendTo(userID string, event OutboundEvent) bool {
	s, ok := b.registry.Lookup(userID)
	if !ok || !s.Conn.IsOpen() {
		return false
	}

	return b.Send(s.Conn, event) == nil
}

// BroadcastAll encodes event once and writes it to every registered open connection.
func (b *Broadcaster) BroadcastAll(event OutboundEvent) {
	b.broadcastEvent(b.registry.Snapshot(), event)
}

// BroadcastUserList sends the current list of online users to every registered connection.
func (b *Broadcaster) BroadcastUserList() {
	b.listMu.Lock()
	defer b.listMu.Unlock()

	sessions := b.registry.Snapshot()

	event := UserListEvent{Users: make([]UserEntry, 0, len(sessions))}
	for _, s := range sessions {
		event.Users = append(event.Users, UserEntry{
			UserID:   s.UserID,
			Username: s.Username,
			Status:   s.Status,
		})
	}

	b.broadcastEvent(sessions, event)

	b.logger.Debug().Int("online", len(sessions)).Msg("User list broadcast")
}

// broadcastEvent encodes event once and writes it to each open connection in
// sessions. A failed write is logged and the remaining connections still get the event.
func (b *Broadcaster) broadcastEvent(sessions []Session, event OutboundEvent) {
	data, err := Encode(event)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to encode broadcast event")
		return
	}

	for _, s := range sessions {
		if !s.Conn.IsOpen() {
			continue
		}

		_ = b.write(s.Conn, data)
	}
}

func (b *Broadcaster) write(conn Conn, data []byte) error {
	if err := conn.Send(data); err != nil {
		b.logger.Warn().Err(err).
			Str("conn_id", conn.ID()).
			Msg("Failed to write event to connection")
		return err
	}
	return nil
}

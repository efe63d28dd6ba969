package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/message"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	// HistoryLimit is the number of messages replayed to a newly authenticated connection.
	HistoryLimit = 50

	// MaxContentBytes is the maximum size of a private message.
	MaxContentBytes = 5000

	// summaryTimeout bounds each last-message summary update.
	summaryTimeout = 3 * time.Second
)

// MessageStore persists messages and answers history queries.
type MessageStore interface {
	InsertMessage(ctx context.Context, draft message.Draft) (message.Message, error)
	MessagesByParticipant(ctx context.Context, userID string, limit int) ([]message.Message, error)
}

// UserDirectory keeps the last-message summary of each user.
type UserDirectory interface {
	UpdateLastMessage(ctx context.Context, userID, content string, at time.Time) error
}

// Identity is the user bound to an authenticated connection.
type Identity struct {
	UserID   string
	Username string
}

// Router turns inbound events into registry changes, store calls and outbound events.
// It holds no per-connection state.
type Router struct {
	registry    *Registry
	broadcaster *Broadcaster
	messages    MessageStore
	users       UserDirectory

	now    func() time.Time
	logger zerolog.Logger
}

// NewRouter constructs a Router.
func NewRouter(registry *Registry, broadcaster *Broadcaster, messages MessageStore, users UserDirectory) *Router {
	return &Router{
		registry:    registry,
		broadcaster: broadcaster,
		messages:    messages,
		users:       users,
		now:         time.Now,
		logger:      logx.Component("Router"),
	}
}

// Authenticate binds conn to the identity carried by ev, announces the new user
// list and replays the user's history to conn. When conn was already bound to
// another identity, that binding is released first.
func (r *Router) Authenticate(ctx context.Context, conn Conn, previous *Identity, ev AuthEvent) (Identity, *errs.CustomError) {
	id := Identity{
		UserID:   strings.TrimSpace(ev.UserID),
		Username: strings.TrimSpace(ev.Username),
	}

	if id.UserID == "" || id.Username == "" {
		return Identity{}, errs.NewError(errs.ErrIdentityRequired)
	}

	if previous != nil && previous.UserID != id.UserID {
		r.registry.Deregister(previous.UserID, conn)
	}

	if replaced := r.registry.Register(id.UserID, id.Username, conn); replaced != nil {
		r.logger.Info().
			Str("user_id", id.UserID).
			Str("replaced_conn_id", replaced.ID()).
			Str("conn_id", conn.ID()).
			Msg("User re-authenticated on a new connection")
	}

	r.logger.Info().Str("user_id", id.UserID).Str("conn_id", conn.ID()).Msg("User authenticated")

	r.broadcaster.BroadcastUserList()
	r.SendHistory(ctx, id, conn)

	return id, nil
}

// PrivateMessage stores a message from sender and relays it to the recipient.
// The message is persisted before any event is sent; the sender receives a copy
// with status delivered when the recipient's connection took it, pending otherwise.
func (r *Router) PrivateMessage(ctx context.Context, sender Identity, conn Conn, ev PrivateMessageEvent) {
	recipientID := strings.TrimSpace(ev.RecipientID)

	switch {
	case recipientID == "":
		r.reject(conn, errs.NewError(errs.ErrRecipientRequired))
		return
	case strings.TrimSpace(ev.Content) == "":
		r.reject(conn, errs.NewError(errs.ErrMessageContentEmpty))
		return
	case len(ev.Content) > MaxContentBytes:
		r.reject(conn, errs.NewError(errs.ErrMessageContentTooLong, MaxContentBytes))
		return
	}

	// A closed connection does not cancel persistence.
	ctx = context.WithoutCancel(ctx)

	stored, err := r.messages.InsertMessage(ctx, message.Draft{
		SenderID:   sender.UserID,
		ReceiverID: recipientID,
		Content:    ev.Content,
		Timestamp:  r.now().UTC(),
	})
	if err != nil {
		r.logger.Error().Err(err).
			Str("sender_id", sender.UserID).
			Str("recipient_id", recipientID).
			Msg("Failed to store private message")
		r.reject(conn, errs.NewError(errs.ErrMessageNotStored))
		return
	}

	r.updateSummaries(ctx, stored)

	out := PrivateMessageOut{
		MessageID:  stored.ID,
		Content:    stored.Content,
		SenderID:   sender.UserID,
		SenderName: sender.Username,
		Timestamp:  stored.Timestamp,
	}

	echo := out
	echo.Status = StatusPending
	if r.broadcaster.SendTo(recipientID, out) {
		echo.Status = StatusDelivered
	}

	if err := r.broadcaster.Send(conn, echo); err != nil {
		r.logger.Warn().Err(err).Str("message_id", stored.ID).Msg("Failed to echo message to sender")
	}

	r.logger.Debug().
		Str("message_id", stored.ID).
		Str("sender_id", sender.UserID).
		Str("recipient_id", recipientID).
		Str("status", string(echo.Status)).
		Msg("Private message routed")
}

// updateSummaries records the message as the last message of both participants.
// Failures are logged and never surfaced.
func (r *Router) updateSummaries(ctx context.Context, m message.Message) {
	participants := []string{m.SenderID}
	if m.ReceiverID != m.SenderID {
		participants = append(participants, m.ReceiverID)
	}

	for _, userID := range participants {
		uctx, cancel := context.WithTimeout(ctx, summaryTimeout)
		err := r.users.UpdateLastMessage(uctx, userID, m.Content, m.Timestamp)
		cancel()

		if err != nil {
			r.logger.Warn().Err(err).
				Str("user_id", userID).
				Str("message_id", m.ID).
				Msg("Failed to update last message summary")
		}
	}
}

// Typing relays a typing indicator to an online recipient. Indicators for
// offline or unknown recipients are dropped.
func (r *Router) Typing(sender Identity, ev TypingEvent) {
	recipientID := strings.TrimSpace(ev.RecipientID)
	if recipientID == "" {
		return
	}

	r.broadcaster.SendTo(recipientID, TypingOut{
		SenderID:   sender.UserID,
		SenderName: sender.Username,
		IsTyping:   ev.IsTyping,
	})
}

// SendHistory replays the most recent messages of id to conn. Failures are logged.
func (r *Router) SendHistory(ctx context.Context, id Identity, conn Conn) {
	messages, err := r.messages.MessagesByParticipant(ctx, id.UserID, HistoryLimit)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", id.UserID).Msg("Failed to load message history")
		return
	}

	if err := r.broadcaster.Send(conn, MessageHistoryEvent{Messages: messages}); err != nil {
		r.logger.Warn().Err(err).Str("user_id", id.UserID).Msg("Failed to send message history")
	}
}

// Disconnect releases the binding of id to conn and announces the new user list.
func (r *Router) Disconnect(id Identity, conn Conn) {
	if !r.registry.Deregister(id.UserID, conn) {
		return
	}

	r.logger.Info().Str("user_id", id.UserID).Str("conn_id", conn.ID()).Msg("User disconnected")
	r.broadcaster.BroadcastUserList()
}

func (r *Router) reject(conn Conn, err *errs.CustomError) {
	if sendErr := r.broadcaster.Send(conn, NewErrorEvent(err)); sendErr != nil {
		r.logger.Warn().Err(sendErr).Int("code", err.Code).Msg("Failed to send error event")
	}
}

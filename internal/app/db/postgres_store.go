package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/randx"
)

const messageColumns = `
	m.id::text, m.sender_id, COALESCE(u.username, ''), m.receiver_id, m.content, m.created_at`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an initialized (and migrated) pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertMessage stores the draft; the database assigns the message id.
func (s *PostgresStore) InsertMessage(ctx context.Context, draft message.Draft) (message.Message, error) {
	const query = `
		INSERT INTO messages (sender_id, receiver_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, created_at`

	msg := message.Message{
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Content:    draft.Content,
	}

	err := s.pool.QueryRow(ctx, query, draft.SenderID, draft.ReceiverID, draft.Content, draft.Timestamp).
		Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return message.Message{}, fmt.Errorf("postgres: insert message: %w", err)
	}

	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

// MessagesByParticipant returns the newest messages sent or received by userID.
func (s *PostgresStore) MessagesByParticipant(ctx context.Context, userID string, limit int) ([]message.Message, error) {
	query := `SELECT` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.sender_id = $1 OR m.receiver_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: messages by participant: %w", err)
	}

	return collectMessages(rows)
}

// RecentMessages returns the newest messages of any participant.
func (s *PostgresStore) RecentMessages(ctx context.Context, limit int) ([]message.Message, error) {
	query := `SELECT` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent messages: %w", err)
	}

	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]message.Message, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (message.Message, error) {
		var m message.Message
		err := row.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.ReceiverID, &m.Content, &m.Timestamp)
		m.Timestamp = m.Timestamp.UTC()
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan messages: %w", err)
	}

	return messages, nil
}

// UpdateLastMessage sets the summary columns of the user; unknown ids update nothing.
func (s *PostgresStore) UpdateLastMessage(ctx context.Context, userID, content string, at time.Time) error {
	const query = `UPDATE users SET last_message = $2, last_message_at = $3 WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, userID, content, at); err != nil {
		return fmt.Errorf("postgres: update last message: %w", err)
	}

	return nil
}

// CreateUser inserts a user with a generated id.
func (s *PostgresStore) CreateUser(ctx context.Context, draft user.Draft) (user.User, error) {
	const query = `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	u := user.User{
		ID:           randx.RecordID(),
		Username:     draft.Username,
		Email:        draft.Email,
		PasswordHash: draft.PasswordHash,
	}

	err := s.pool.QueryRow(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash).Scan(&u.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, ErrDuplicate
		}
		return user.User{}, fmt.Errorf("postgres: create user: %w", err)
	}

	return u, nil
}

// UserByEmail looks a user up by email.
func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (user.User, error) {
	const query = `
		SELECT id, username, email, password_hash, last_message, last_message_at, created_at
		FROM users
		WHERE email = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, ErrNotFound
		}
		return user.User{}, fmt.Errorf("postgres: user by email: %w", err)
	}

	return u, nil
}

// ListUsers returns the oldest accounts first.
func (s *PostgresStore) ListUsers(ctx context.Context, limit int) ([]user.User, error) {
	const query = `
		SELECT id, username, email, password_hash, last_message, last_message_at, created_at
		FROM users
		ORDER BY created_at ASC, id ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}

	return users, nil
}

func scanUser(row pgx.Row) (user.User, error) {
	var (
		u             user.User
		lastMessage   pgtype.Text
		lastMessageAt pgtype.Timestamptz
	)

	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &lastMessage, &lastMessageAt, &u.CreatedAt); err != nil {
		return user.User{}, err
	}

	u.LastMessage = lastMessage.String
	if lastMessageAt.Valid {
		at := lastMessageAt.Time.UTC()
		u.LastMessageAt = &at
	}

	return u, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

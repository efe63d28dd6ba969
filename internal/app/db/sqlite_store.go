package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/randx"
)

// SQLiteStore implements Store on a single SQLite database file.
// Timestamps are stored as Unix nanoseconds so ordering is numeric.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// one writer at a time; avoids SQLITE_BUSY under concurrent sends
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := runMigrations(sqlDB, "sqlite3", "migrations/sqlite"); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &SQLiteStore{db: sqlDB}, nil
}

// InsertMessage stores the draft under a new time-ordered id.
func (s *SQLiteStore) InsertMessage(ctx context.Context, draft message.Draft) (message.Message, error) {
	const query = `
		INSERT INTO messages (id, sender_id, receiver_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)`

	msg := message.Message{
		ID:         randx.RecordID(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Content:    draft.Content,
		Timestamp:  draft.Timestamp.UTC(),
	}

	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp.UnixNano()); err != nil {
		return message.Message{}, fmt.Errorf("sqlite: insert message: %w", err)
	}

	return msg, nil
}

// MessagesByParticipant returns the newest messages sent or received by userID.
func (s *SQLiteStore) MessagesByParticipant(ctx context.Context, userID string, limit int) ([]message.Message, error) {
	const query = `
		SELECT m.id, m.sender_id, COALESCE(u.username, ''), m.receiver_id, m.content, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.sender_id = ? OR m.receiver_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: messages by participant: %w", err)
	}

	return scanSQLMessages(rows)
}

// RecentMessages returns the newest messages of any participant.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]message.Message, error) {
	const query = `
		SELECT m.id, m.sender_id, COALESCE(u.username, ''), m.receiver_id, m.content, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent messages: %w", err)
	}

	return scanSQLMessages(rows)
}

func scanSQLMessages(rows *sql.Rows) ([]message.Message, error) {
	defer rows.Close()

	var messages []message.Message
	for rows.Next() {
		var (
			m       message.Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.ReceiverID, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, created).UTC()
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read messages: %w", err)
	}

	return messages, nil
}

// UpdateLastMessage sets the summary columns of the user; unknown ids update nothing.
func (s *SQLiteStore) UpdateLastMessage(ctx context.Context, userID, content string, at time.Time) error {
	const query = `UPDATE users SET last_message = ?, last_message_at = ? WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, content, at.UTC().UnixNano(), userID); err != nil {
		return fmt.Errorf("sqlite: update last message: %w", err)
	}

	return nil
}

// CreateUser inserts a user with a generated id.
func (s *SQLiteStore) CreateUser(ctx context.Context, draft user.Draft) (user.User, error) {
	const query = `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`

	u := user.User{
		ID:           randx.RecordID(),
		Username:     draft.Username,
		Email:        draft.Email,
		PasswordHash: draft.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt.UnixNano()); err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, ErrDuplicate
		}
		return user.User{}, fmt.Errorf("sqlite: create user: %w", err)
	}

	return u, nil
}

// UserByEmail looks a user up by email.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (user.User, error) {
	const query = `
		SELECT id, username, email, password_hash, last_message, last_message_at, created_at
		FROM users
		WHERE email = ?`

	u, err := scanSQLUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, ErrNotFound
		}
		return user.User{}, fmt.Errorf("sqlite: user by email: %w", err)
	}

	return u, nil
}

// ListUsers returns the oldest accounts first.
func (s *SQLiteStore) ListUsers(ctx context.Context, limit int) ([]user.User, error) {
	const query = `
		SELECT id, username, email, password_hash, last_message, last_message_at, created_at
		FROM users
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanSQLUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list users: %w", err)
	}

	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLUser(row rowScanner) (user.User, error) {
	var (
		u             user.User
		lastMessage   sql.NullString
		lastMessageAt sql.NullInt64
		created       int64
	)

	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &lastMessage, &lastMessageAt, &created); err != nil {
		return user.User{}, err
	}

	u.LastMessage = lastMessage.String
	if lastMessageAt.Valid {
		at := time.Unix(0, lastMessageAt.Int64).UTC()
		u.LastMessageAt = &at
	}
	u.CreatedAt = time.Unix(0, created).UTC()

	return u, nil
}

// Ping checks that the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

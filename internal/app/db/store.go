/*
Package db provides the durable message store and user directory behind the chat hub.

Three backends implement Store: PostgreSQL (pgx pool, goose migrations), SQLite
(go-sqlite3, goose migrations) and an in-memory store for development and tests.
*/
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/configs"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("db: record not found")

	// ErrDuplicate is returned when a unique constraint (user email) is violated.
	ErrDuplicate = errors.New("db: duplicate record")
)

// Store is the persistence boundary of the application.
type Store interface {
	// InsertMessage stores a draft and returns the record with its store-assigned id.
	InsertMessage(ctx context.Context, draft message.Draft) (message.Message, error)

	// MessagesByParticipant returns up to limit messages sent or received by userID, newest first.
	MessagesByParticipant(ctx context.Context, userID string, limit int) ([]message.Message, error)

	// RecentMessages returns up to limit messages of any participant, newest first.
	RecentMessages(ctx context.Context, limit int) ([]message.Message, error)

	// UpdateLastMessage records the latest message summary of a user. Unknown users are ignored.
	UpdateLastMessage(ctx context.Context, userID, content string, at time.Time) error

	// CreateUser stores a new user. A taken email yields ErrDuplicate.
	CreateUser(ctx context.Context, draft user.Draft) (user.User, error)

	// UserByEmail returns the user with the given email or ErrNotFound.
	UserByEmail(ctx context.Context, email string) (user.User, error)

	// ListUsers returns up to limit users, oldest account first.
	ListUsers(ctx context.Context, limit int) ([]user.User, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Open creates the Store selected by cfg.StoreDriver and applies pending migrations.
func Open(ctx context.Context, cfg *configs.AppConfig) (Store, error) {
	switch cfg.StoreDriver {
	case configs.DriverPostgres:
		pool, err := NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil

	case configs.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)

	case configs.DriverMemory:
		return NewMemoryStore(), nil
	}

	return nil, fmt.Errorf("db: unsupported store driver %q", cfg.StoreDriver)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

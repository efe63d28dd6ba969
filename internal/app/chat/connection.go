package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// State is the lifecycle state of a Connection.
type State int

const (
	// StateConnecting is the initial state; the identity is unknown.
	StateConnecting State = iota

	// StateAuthenticated means the identity is bound and registered.
	StateAuthenticated

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection drives one physical connection through its lifecycle. Frames are
// handled one at a time, in the order they are passed to HandleFrame.
type Connection struct {
	conn   Conn
	router *Router

	// mu serialises frame handling and Close.
	mu       sync.Mutex
	state    State
	identity Identity

	logger zerolog.Logger
}

// NewConnection returns a Connection in StateConnecting.
func NewConnection(conn Conn, router *Router) *Connection {
	return &Connection{
		conn:   conn,
		router: router,
		state:  StateConnecting,
		logger: logx.Component("Connection").With().Str("conn_id", conn.ID()).Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Identity returns the bound identity, if authenticated.
func (c *Connection) Identity() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.identity, c.state == StateAuthenticated
}

// HandleFrame decodes one inbound frame and dispatches it. Protocol errors are
// reported to the client with an error event; the connection stays open.
func (c *Connection) HandleFrame(ctx context.Context, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}

	event, decodeErr := DecodeInbound(data)
	if decodeErr != nil {
		c.logger.Warn().Int("code", decodeErr.Code).Int("frame_len", len(data)).Msg("Rejected inbound frame")
		c.router.reject(c.conn, decodeErr)
		return
	}

	switch ev := event.(type) {
	case AuthEvent:
		c.authenticate(ctx, ev)

	case PrivateMessageEvent:
		if !c.requireAuth() {
			return
		}
		c.router.PrivateMessage(ctx, c.identity, c.conn, ev)

	case TypingEvent:
		if !c.requireAuth() {
			return
		}
		c.router.Typing(c.identity, ev)

	default:
		c.logger.Error().Type("event", event).Msg("Unhandled inbound event")
	}
}

func (c *Connection) authenticate(ctx context.Context, ev AuthEvent) {
	var previous *Identity
	if c.state == StateAuthenticated {
		prev := c.identity
		previous = &prev
	}

	id, err := c.router.Authenticate(ctx, c.conn, previous, ev)
	if err != nil {
		c.router.reject(c.conn, err)
		return
	}

	c.identity = id
	c.state = StateAuthenticated
}

func (c *Connection) requireAuth() bool {
	if c.state == StateAuthenticated {
		return true
	}

	c.router.reject(c.conn, errs.NewError(errs.ErrNotAuthenticated))
	return false
}

// Close moves the connection to StateClosed. An authenticated connection is
// deregistered and the remaining users receive the new user list. Calling Close
// more than once has no further effect.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}

	wasAuthenticated := c.state == StateAuthenticated
	c.state = StateClosed

	if wasAuthenticated {
		c.router.Disconnect(c.identity, c.conn)
	}

	c.logger.Debug().Msg("Connection closed")
}

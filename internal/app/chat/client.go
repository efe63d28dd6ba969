/*
Package chat contains the realtime core: the presence registry, the per-connection
session state machine, the router for private messages and typing indicators, and
the websocket transport that feeds them.

This file defines the Client struct, the websocket side of one connection. It runs
the read and write loops (ReadPump and WritePump), owns the outbound queue and
limits the rate of inbound frames.
*/
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. Leaves room
	// for MaxContentBytes of escaped content plus the event envelope.
	maxFrameSize = 32 * 1024

	// capacity of the outbound queue of one client.
	sendQueueSize = 256
)

var (
	// ErrClientClosed is returned by Send once the client has been closed.
	ErrClientClosed = errors.New("chat: client closed")

	// ErrSendQueueFull is returned by Send when the client is not draining its queue.
	ErrSendQueueFull = errors.New("chat: client send queue full")
)

// Client is an active websocket connection. It implements Conn.
type Client struct {
	id string

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// a buffered channel used to queue frames waiting to be written.
	send chan []byte

	// mu guards closed and the closing of send.
	mu     sync.Mutex
	closed bool

	// limiter throttles inbound frames.
	limiter *rate.Limiter

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient wraps an upgraded websocket connection.
func NewClient(id string, wsConn *websocket.Conn, limiter *rate.Limiter, remoteAddr string) *Client {
	clientLogger := logx.Component("Client").With().
		Str("conn_id", id).
		Str("remote_ip", logx.AnonymizeIP(remoteAddr)).
		Logger()

	return &Client{
		id:      id,
		conn:    wsConn,
		send:    make(chan []byte, sendQueueSize),
		limiter: limiter,
		logger:  clientLogger,
	}
}

// ID implements Conn.
func (c *Client) ID() string {
	return c.id
}

// IsOpen implements Conn.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.closed
}

// Send implements Conn. It never blocks: a full queue is reported as ErrSendQueueFull.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return ErrSendQueueFull
	}
}

// Close stops accepting frames. WritePump drains the queue, sends a close frame
// and closes the websocket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}

// ReadPump reads frames and hands them to session until the connection fails or
// is closed. On exit the session is closed, which deregisters its user.
func (c *Client) ReadPump(ctx context.Context, session *Connection) {
	defer c.cleanupOnDisconnect(session)

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn().Msg("Client exceeded inbound frame rate")
			c.sendError(errs.NewError(errs.ErrRateLimitExceeded))
			continue
		}

		session.HandleFrame(ctx, frame)
	}
}

// cleanupOnDisconnect closes the session and the client when ReadPump terminates.
func (c *Client) cleanupOnDisconnect(session *Connection) {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	session.Close()
	c.Close()
}

func (c *Client) sendError(err *errs.CustomError) {
	data, encErr := Encode(NewErrorEvent(err))
	if encErr != nil {
		c.logger.Error().Err(encErr).Msg("Failed to encode error event")
		return
	}

	_ = c.Send(data)
}

// WritePump writes queued frames to the websocket and keeps the connection alive
// with pings. It returns when the queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close()

		// ensure the connection is closed on exit so ReadPump unblocks
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send queue. A closed queue
// results in a close frame. Returns false if WritePump should terminate.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteMessage(websocket.CloseMessage, closeFrame); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePing sends a periodic Ping. Returns false if WritePump should terminate.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// forceClose closes the underlying websocket without a close handshake.
func (c *Client) forceClose() {
	c.Close()
	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection force close error")
	}
}

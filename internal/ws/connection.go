package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps one open socket. Writes are serialized through a
// single writer goroutine; the buffered queue gives every recipient
// FIFO delivery in sender emission order. The wrapper carries identity
// resolved at attach time and is owned by the gateway for its lifetime.
type Connection struct {
	id         string
	userID     string
	username   string
	sessionID  string
	attachedAt time.Time

	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded socket and starts its writer goroutine.
// queueSize bounds the outbound queue; a full queue means the peer is too
// slow to keep and the enqueue fails instead of blocking the sender.
func NewConnection(conn *websocket.Conn, userID, username, sessionID string, queueSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		userID:       userID,
		username:     username,
		sessionID:    sessionID,
		attachedAt:   time.Now(),
		conn:         conn,
		writeCh:      make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying socket.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send marshals v and enqueues it for delivery. Never blocks: a closed
// connection returns ErrConnectionClosed, a full queue ErrSendQueueFull.
// Callers treat a full queue as a dead recipient.
func (c *Connection) Send(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// CloseWithCode sends a close control frame with the given code and
// reason, then tears the connection down. Safe to call more than once.
func (c *Connection) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.writeTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		// Best effort: the peer may already be gone.
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Close tears down the connection without a close frame, used when the
// peer initiated the close or the socket already failed.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Ping sends a control-frame ping with a write deadline.
func (c *Connection) Ping(timeout time.Duration) error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(timeout))
}

// ReadMessage blocks for the next inbound frame. Only the gateway's read
// loop calls this.
func (c *Connection) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// SetReadDeadline bounds how long the read loop waits for traffic.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetPongHandler installs the handler that extends the read deadline.
func (c *Connection) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

// Done is closed once the connection is torn down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) ID() string            { return c.id }
func (c *Connection) UserID() string        { return c.userID }
func (c *Connection) Username() string      { return c.username }
func (c *Connection) SessionID() string     { return c.sessionID }
func (c *Connection) AttachedAt() time.Time { return c.attachedAt }

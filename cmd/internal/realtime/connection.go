package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	v1 "fintrack/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

// Transport is the duplex channel behind a Connection. *websocket.Conn satisfies it.
type Transport interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	StateConnected ConnState = iota
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection is one live channel bound to an authenticated user.
//
// Writes from any goroutine are serialized by writeMu, so each frame reaches
// the peer as one unit. Close is idempotent.
type Connection struct {
	UserID    UserID
	SessionID string

	transport    Transport
	writeTimeout time.Duration

	writeMu   sync.Mutex
	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps a transport for userID.
func NewConnection(userID UserID, sessionID string, t Transport, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Connection{
		UserID:       userID,
		SessionID:    sessionID,
		transport:    t,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// State reports whether the connection is still usable.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Connected is shorthand for State() == StateConnected.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Deliver writes a routed chat message as a single frame.
func (c *Connection) Deliver(ctx context.Context, msg RoutedMessage) error {
	return c.writeJSON(ctx, v1.Delivered{Sender: int64(msg.Sender), Content: msg.Content})
}

// Notify writes an error notice frame.
func (c *Connection) Notify(ctx context.Context, text string) error {
	return c.writeJSON(ctx, v1.ErrorFrame{Error: text})
}

// Close marks the connection disconnected and closes the transport.
func (c *Connection) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		if c.transport != nil {
			_ = c.transport.Close(code, reason)
		}
	})
}

// closeAsync marks the connection disconnected at once and runs the transport
// close handshake in the background. A vanished peer can hold the handshake
// for seconds.
func (c *Connection) closeAsync(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		if c.transport != nil {
			go func() { _ = c.transport.Close(code, reason) }()
		}
	})
}

func (c *Connection) writeJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(ctx, b)
}

// writeLocked requires writeMu. A failed write leaves the connection closed.
func (c *Connection) writeLocked(ctx context.Context, b []byte) error {
	if !c.Connected() {
		return ErrConnectionClosed
	}

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := c.transport.Write(wctx, websocket.MessageText, b); err != nil {
		c.Close(websocket.StatusAbnormalClosure, "write failed")
		return err
	}
	return nil
}

// flushLocked writes queued mailbox entries in order and returns how many were sent.
// The caller holds writeMu so no live delivery can overtake the backlog.
func (c *Connection) flushLocked(ctx context.Context, msgs []RoutedMessage) (int, error) {
	for i, m := range msgs {
		b, err := json.Marshal(v1.Delivered{Sender: int64(m.Sender), Content: m.Content})
		if err != nil {
			return i, err
		}
		if err := c.writeLocked(ctx, b); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

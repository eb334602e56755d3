package push

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrChannelClosed is returned by Send once a channel has been closed.
var ErrChannelClosed = errors.New("push channel closed")

// Channel is a write-only, single-subscriber output. Close must be idempotent:
// the registry and the connection's own disconnect handling may both close it.
type Channel interface {
	Send(frame []byte) error
	Close() error
	Done() <-chan struct{}
}

// WSChannel is a Channel backed by a server-side websocket connection.
type WSChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func NewWSChannel(conn *websocket.Conn, writeTimeout time.Duration) *WSChannel {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSChannel{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *WSChannel) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Ping writes a keep-alive control frame.
func (c *WSChannel) Ping() error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Best effort; the peer may already be gone.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

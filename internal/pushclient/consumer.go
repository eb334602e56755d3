// Package pushclient is the client half of the push channel: a consumer that
// keeps one websocket open while its view is mounted, and a tracker for the
// transient highlight of notes that just changed.
package pushclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"notecrm/api/internal/push"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

type ConsumerConfig struct {
	// URL is the ws:// or wss:// address of the push endpoint.
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	OnTitleUpdate func(noteID, title string)
	OnStateChange func(State)

	// ReadTimeout drops a silent connection. Zero disables it; the server's
	// keep-alive pings extend it.
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

// Consumer owns at most one push connection. It reconnects only when Focus
// is called while Disconnected; there is no timer-based retry.
type Consumer struct {
	cfg ConsumerConfig

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	cancel    context.CancelFunc
	attempt   uint64
	mounted   bool
	unmounted bool
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Consumer{cfg: cfg}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mount opens the push connection. Calls after Unmount are ignored.
func (c *Consumer) Mount() {
	c.mu.Lock()
	if c.unmounted || c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.connectLocked()
}

// Focus reconnects if the connection was lost while the view was mounted.
func (c *Consumer) Focus() {
	c.mu.Lock()
	if !c.mounted || c.unmounted || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.connectLocked()
}

// Unmount closes the connection, whatever the current state, and disables
// further reconnects.
func (c *Consumer) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	c.attempt++
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	changed := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}
	if changed {
		c.notify(Disconnected)
	}
}

// connectLocked must be called with mu held; it releases it.
func (c *Consumer) connectLocked() {
	c.attempt++
	attempt := c.attempt
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = Connecting
	c.mu.Unlock()

	c.notify(Connecting)
	go c.run(ctx, attempt)
}

func (c *Consumer) run(ctx context.Context, attempt uint64) {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		c.cfg.Logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("push connect failed")
		c.disconnected(attempt, nil)
		return
	}

	c.mu.Lock()
	if attempt != c.attempt {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()
	c.notify(Connected)
	c.cfg.Logger.Info().Str("url", c.cfg.URL).Msg("push connected")

	err = c.readLoop(conn)
	c.cfg.Logger.Info().Err(err).Msg("push connection lost")
	c.disconnected(attempt, conn)
}

func (c *Consumer) readLoop(conn *websocket.Conn) error {
	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		conn.SetPingHandler(func(appData string) error {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		})
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

type frame struct {
	Kind   push.EventKind `json:"kind"`
	NoteID string         `json:"noteId"`
	Title  string         `json:"title"`
}

func (c *Consumer) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.cfg.Logger.Warn().Err(err).Int("bytes", len(data)).Msg("ignoring unparsable push frame")
		return
	}
	switch f.Kind {
	case push.KindTitleUpdated:
		if f.NoteID == "" {
			c.cfg.Logger.Warn().Msg("ignoring title_updated frame without noteId")
			return
		}
		if c.cfg.OnTitleUpdate != nil {
			c.cfg.OnTitleUpdate(f.NoteID, f.Title)
		}
	default:
		c.cfg.Logger.Debug().Str("kind", string(f.Kind)).Msg("ignoring push frame")
	}
}

// disconnected clears the handle for attempt, if it is still the current one,
// so a later Focus can reconnect.
func (c *Consumer) disconnected(attempt uint64, conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	c.mu.Lock()
	if attempt != c.attempt {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.conn, c.cancel = nil, nil
	c.state = Disconnected
	c.mu.Unlock()
	c.notify(Disconnected)
}

func (c *Consumer) notify(state State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state)
	}
}

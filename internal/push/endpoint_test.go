package push

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAuth() Authenticator {
	return AuthenticatorFunc(func(r *http.Request) (string, error) {
		token := r.URL.Query().Get("access_token")
		if !strings.HasPrefix(token, "tok-") {
			return "", ErrUnauthenticated
		}
		return strings.TrimPrefix(token, "tok-"), nil
	})
}

func newTestEndpoint(t *testing.T, cfg EndpointConfig) (*Registry, *httptest.Server) {
	t.Helper()
	registry := NewRegistry()
	// Connection goroutines outlive the test; they must not log through t.
	srv := httptest.NewServer(NewEndpoint(registry, tokenAuth(), cfg, zerolog.Nop()))
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return registry, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForChannel(t *testing.T, registry *Registry, userID string) Channel {
	t.Helper()
	var ch Channel
	require.Eventually(t, func() bool {
		var ok bool
		ch, ok = registry.Lookup(userID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return ch
}

func TestEndpointRejectsUnauthenticated(t *testing.T) {
	registry, srv := newTestEndpoint(t, EndpointConfig{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?access_token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, registry.Len())
}

func TestEndpointDeliversPublishedEvent(t *testing.T) {
	registry, srv := newTestEndpoint(t, EndpointConfig{})
	conn := dial(t, srv, "tok-u1")
	waitForChannel(t, registry, "u1")

	delivered := NewBroadcaster(registry, zerolog.Nop()).Publish("u1", NewTitleUpdate("n1", "Milk Reminder", "u1", fixedTime))
	require.True(t, delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)

	var event TitleUpdateEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, KindTitleUpdated, event.Kind)
	assert.Equal(t, "n1", event.NoteID)
	assert.Equal(t, "Milk Reminder", event.Title)
	assert.Equal(t, "u1", event.UserID)
}

func TestEndpointLastConnectionWins(t *testing.T) {
	registry, srv := newTestEndpoint(t, EndpointConfig{})
	first := dial(t, srv, "tok-u1")
	firstCh := waitForChannel(t, registry, "u1")

	dial(t, srv, "tok-u1")
	require.Eventually(t, func() bool {
		ch, ok := registry.Lookup("u1")
		return ok && ch != firstCh
	}, 2*time.Second, 5*time.Millisecond)

	// The replaced connection is closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	}

	// The stale disconnect must not evict the live channel.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, registry.Len())
}

func TestEndpointUnregistersOnClientClose(t *testing.T) {
	registry, srv := newTestEndpoint(t, EndpointConfig{})
	conn := dial(t, srv, "tok-u1")
	waitForChannel(t, registry, "u1")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "tab closed")))
	_ = conn.Close()

	require.Eventually(t, func() bool { return registry.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, NewBroadcaster(registry, zerolog.Nop()).Publish("u1", NewTitleUpdate("n1", "t", "u1", fixedTime)))
}

func TestEndpointSendsKeepAlivePings(t *testing.T) {
	_, srv := newTestEndpoint(t, EndpointConfig{KeepAlive: 20 * time.Millisecond})
	conn := dial(t, srv, "tok-u1")

	var pings atomic.Int32
	conn.SetPingHandler(func(appData string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	assert.Eventually(t, func() bool { return pings.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestWSChannelCloseIsIdempotent(t *testing.T) {
	registry, srv := newTestEndpoint(t, EndpointConfig{})
	dial(t, srv, "tok-u1")
	ch := waitForChannel(t, registry, "u1")

	first := ch.Close()
	second := ch.Close()
	assert.Equal(t, first, second)
	assert.ErrorIs(t, ch.Send([]byte(`{}`)), ErrChannelClosed)
	select {
	case <-ch.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"https://app.notecrm.dev"})
	req := httptest.NewRequest(http.MethodGet, "http://api.notecrm.dev/api/events", nil)

	req.Header.Set("Origin", "https://app.notecrm.dev")
	assert.True(t, p.allow(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, p.allow(req))
	req.Header.Del("Origin")
	assert.True(t, p.allow(req), "non-browser clients send no origin")

	assert.True(t, newOriginPolicy([]string{"*"}).allow(withOrigin(req, "https://anything.example")))
	assert.True(t, newOriginPolicy(nil).allow(withOrigin(req, "https://anything.example")))
}

func withOrigin(r *http.Request, origin string) *http.Request {
	clone := r.Clone(r.Context())
	clone.Header.Set("Origin", origin)
	return clone
}

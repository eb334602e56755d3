package push

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrUnauthenticated is returned by an Authenticator that found no usable session.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the subscriber behind an upgrade request using the
// existing session mechanism.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type AuthenticatorFunc func(r *http.Request) (string, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) {
	return f(r)
}

type EndpointConfig struct {
	// KeepAlive is the ping interval; peers that miss two pongs are dropped.
	KeepAlive    time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins lists browser origins allowed to connect. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
}

// Endpoint upgrades authenticated requests to websocket push channels and
// keeps the registry in step with each connection's lifetime.
type Endpoint struct {
	registry     *Registry
	auth         Authenticator
	upgrader     websocket.Upgrader
	keepAlive    time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger
}

func NewEndpoint(registry *Registry, auth Authenticator, cfg EndpointConfig, logger zerolog.Logger) *Endpoint {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	e := &Endpoint{
		registry:     registry,
		auth:         auth,
		keepAlive:    cfg.KeepAlive,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}
	origins := newOriginPolicy(cfg.AllowedOrigins)
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.allow,
	}
	return e
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := e.auth.Authenticate(r)
	if err != nil || userID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "UNAUTHORIZED", "error": "Unauthorized"})
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("push upgrade failed")
		return
	}

	e.attach(conn, userID)
}

func (e *Endpoint) attach(conn *websocket.Conn, userID string) {
	ch := NewWSChannel(conn, e.writeTimeout)
	e.registry.Register(userID, ch)
	e.logger.Info().Str("user_id", userID).Str("remote", conn.RemoteAddr().String()).Msg("push channel opened")

	var once sync.Once
	release := func(cause error) {
		once.Do(func() {
			removed := e.registry.Unregister(userID, ch)
			_ = ch.Close()
			e.logger.Info().
				Str("user_id", userID).
				Bool("unregistered", removed).
				AnErr("cause", cause).
				Msg("push channel closed")
		})
	}

	go e.keepAliveLoop(ch, release)
	go e.readLoop(conn, release)
}

// readLoop discards client frames; its only job is to notice the close and
// to extend the read deadline on every pong.
func (e *Endpoint) readLoop(conn *websocket.Conn, release func(error)) {
	idle := 2 * e.keepAlive
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			release(err)
			return
		}
	}
}

func (e *Endpoint) keepAliveLoop(ch *WSChannel, release func(error)) {
	ticker := time.NewTicker(e.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ch.Done():
			release(nil)
			return
		case <-ticker.C:
			if err := ch.Ping(); err != nil {
				release(err)
				return
			}
		}
	}
}

type originPolicy struct {
	any     bool
	origins map[string]bool
	hosts   map[string]bool
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{origins: make(map[string]bool), hosts: make(map[string]bool)}
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		switch trimmed {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		p.origins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			p.hosts[parsed.Host] = true
		}
	}
	if len(p.origins) == 0 {
		p.any = true
	}
	return p
}

func (p originPolicy) allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.any || p.origins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return p.hosts[parsed.Host] || parsed.Host == r.Host
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"notecrm/api/internal/jobs"
	"notecrm/api/internal/push"
	"notecrm/api/internal/store"
	"notecrm/api/internal/titlegen"
)

type titleFlow struct {
	server   *httptest.Server
	registry *push.Registry
	runner   *jobs.Runner
	release  chan struct{}

	mu        sync.Mutex
	persisted map[string]string
}

// newTitleFlow wires the real runner, broadcaster and push endpoint behind
// the HTTP server. The generator answers "Milk Reminder" once released.
func newTitleFlow(t *testing.T) *titleFlow {
	t.Helper()
	flow := &titleFlow{
		registry:  push.NewRegistry(),
		release:   make(chan struct{}),
		persisted: make(map[string]string),
	}
	fs := &fakeStore{
		updateNoteTitleFn: func(_ context.Context, noteID, title string) (store.Note, error) {
			flow.mu.Lock()
			defer flow.mu.Unlock()
			flow.persisted[noteID] = title
			return store.Note{ID: noteID, OwnerID: "user-1", Title: title, TitleSource: store.TitleGenerated}, nil
		},
	}
	svc := newTestService(fs)
	gen := titlegen.GeneratorFunc(func(ctx context.Context, content string) (string, error) {
		select {
		case <-flow.release:
		case <-ctx.Done():
			return "", &titlegen.GenerationError{Reason: "timeout", Err: ctx.Err()}
		}
		if !strings.Contains(content, "milk") {
			return "", &titlegen.GenerationError{Reason: "unexpected content"}
		}
		return `"Milk Reminder"`, nil
	})
	flow.runner = jobs.NewRunner(gen, svc, push.NewBroadcaster(flow.registry, zerolog.Nop()), jobs.RunnerConfig{
		MaxConcurrent: 2,
		Timeout:       5 * time.Second,
		Logger:        zerolog.Nop(),
	})
	enableTitleGeneration(svc, flow.runner)

	endpoint := push.NewEndpoint(flow.registry, svc, push.EndpointConfig{}, zerolog.Nop())
	server := NewHTTPServer(svc, HTTPConfig{
		CORSOrigin:  "*",
		Events:      endpoint,
		Connections: flow.registry.Len,
		Logger:      zerolog.Nop(),
	})
	flow.server = httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		flow.registry.CloseAll()
		flow.server.Close()
	})
	return flow
}

func (f *titleFlow) persistedTitle(noteID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	title, ok := f.persisted[noteID]
	return title, ok
}

func (f *titleFlow) login(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/api/session/login", "application/json", bytes.NewBufferString(`{"name":"Avery"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("parse login: %v", err)
	}
	return payload["token"].(string)
}

func (f *titleFlow) createNote(t *testing.T, token, content string) map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/notes", bytes.NewBufferString(`{"content":"`+content+`"}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var payload struct {
		Note map[string]any `json:"note"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("parse note: %v", err)
	}
	return payload.Note
}

func (f *titleFlow) shutdownRunner(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.runner.Shutdown(ctx); err != nil {
		t.Fatalf("runner shutdown: %v", err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMilkReminderDeliveredToConnectedUser(t *testing.T) {
	flow := newTitleFlow(t)
	token := flow.login(t)

	wsURL := "ws" + strings.TrimPrefix(flow.server.URL, "http") + "/api/events?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial push channel: %v", err)
	}
	defer conn.Close()
	waitUntil(t, "push registration", func() bool { return flow.registry.Len() == 1 })

	// The request returns with the fallback title while generation is still blocked.
	note := flow.createNote(t, token, "buy milk tomorrow")
	if note["title"] != "buy milk tomorrow" || note["titleSource"] != "fallback" {
		t.Fatalf("expected fallback title in create response, got %v", note)
	}
	noteID := note["id"].(string)
	close(flow.release)

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read push frame: %v", err)
	}
	var event push.TitleUpdateEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("parse push frame %s: %v", data, err)
	}
	if event.Kind != push.KindTitleUpdated || event.NoteID != noteID || event.Title != "Milk Reminder" || event.UserID != "user-1" {
		t.Fatalf("unexpected event %+v", event)
	}

	// Persisted before published.
	if title, ok := flow.persistedTitle(noteID); !ok || title != "Milk Reminder" {
		t.Fatalf("expected persisted title, got %q (%v)", title, ok)
	}
	flow.shutdownRunner(t)
}

func TestMilkReminderPersistedWithoutSubscriber(t *testing.T) {
	flow := newTitleFlow(t)
	token := flow.login(t)

	note := flow.createNote(t, token, "buy milk tomorrow")
	noteID := note["id"].(string)
	close(flow.release)
	flow.shutdownRunner(t)

	if title, ok := flow.persistedTitle(noteID); !ok || title != "Milk Reminder" {
		t.Fatalf("expected persisted title, got %q (%v)", title, ok)
	}
	if n := flow.registry.Len(); n != 0 {
		t.Fatalf("expected no push channels, got %d", n)
	}
}

func TestPushUpgradeRejectsBadToken(t *testing.T) {
	flow := newTitleFlow(t)

	wsURL := "ws" + strings.TrimPrefix(flow.server.URL, "http") + "/api/events?access_token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}
}

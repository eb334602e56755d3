package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"notecrm/api/internal/store"
)

func login(t *testing.T, server *HTTPServer, name string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewBufferString(`{"name":"`+name+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse login response: %v", err)
	}
	return payload
}

func TestSessionLoginReturnsContract(t *testing.T) {
	var ensuredName string
	fs := &fakeStore{
		ensureUserByNameFn: func(_ context.Context, userName string) (store.User, error) {
			ensuredName = userName
			return store.User{ID: "user-1", DisplayName: userName, Role: "member"}, nil
		},
	}
	server := newTestHTTPServer(newTestService(fs))

	payload := login(t, server, "  Avery  ")

	token, _ := payload["token"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if token == "" || refreshToken == "" {
		t.Fatalf("expected token and refreshToken, got %v", payload)
	}
	if payload["userName"] != "Avery" || payload["userId"] != "user-1" || payload["role"] != "member" {
		t.Fatalf("unexpected login payload %v", payload)
	}
	if ensuredName != "Avery" {
		t.Fatalf("expected trimmed name, got %q", ensuredName)
	}
	if len(fs.savedRefresh) != 1 {
		t.Fatalf("expected one refresh session, got %d", len(fs.savedRefresh))
	}
}

func TestSessionEndpointReflectsToken(t *testing.T) {
	server := newTestHTTPServer(newTestService(&fakeStore{}))
	payload := login(t, server, "Avery")

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+payload["token"].(string))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var session map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &session); err != nil {
		t.Fatalf("parse session response: %v", err)
	}
	if session["authenticated"] != true || session["userId"] != "user-1" {
		t.Fatalf("unexpected session payload %v", session)
	}

	anon := httptest.NewRecorder()
	server.Handler().ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if err := json.Unmarshal(anon.Body.Bytes(), &session); err != nil {
		t.Fatalf("parse session response: %v", err)
	}
	if session["authenticated"] != false {
		t.Fatalf("expected anonymous session, got %v", session)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := &fakeStore{}
	server := newTestHTTPServer(newTestService(fs))
	payload := login(t, server, "Avery")
	token := payload["token"].(string)

	req := httptest.NewRequest(http.MethodPost, "/api/session/logout", bytes.NewBufferString(`{"refreshToken":"`+payload["refreshToken"].(string)+`"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	if len(fs.revokedAccessTokens) != 1 || len(fs.revokedRefresh) != 1 {
		t.Fatalf("expected access and refresh revocation, got %v / %v", fs.revokedAccessTokens, fs.revokedRefresh)
	}

	notes := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	notes.Header.Set("Authorization", "Bearer "+token)
	after := httptest.NewRecorder()
	server.Handler().ServeHTTP(after, notes)
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to get 401, got %d", after.Code)
	}
}

func TestRefreshWithUnknownTokenIsUnauthorized(t *testing.T) {
	server := newTestHTTPServer(newTestService(&fakeStore{}))

	req := httptest.NewRequest(http.MethodPost, "/api/session/refresh", bytes.NewBufferString(`{"refreshToken":"nope"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestHTTPServer(newTestService(&fakeStore{}))

	for _, path := range []string{"/api/notes", "/api/notes/note-1", "/api/search?q=milk"} {
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

package tui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIClientLoginThenList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session/login":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != "Ada" {
				http.Error(w, "bad name", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-ada"})
		case "/api/notes":
			if r.Header.Get("Authorization") != "Bearer tok-ada" {
				http.Error(w, `{"code":"UNAUTHORIZED"}`, http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"notes": []map[string]any{
				{"id": "n1", "title": "buy milk", "titleSource": "fallback"},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL+"/", "")
	if _, err := client.ListNotes(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 before login, got %v", err)
	}
	if err := client.Login(context.Background(), "Ada"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if client.Token() != "tok-ada" {
		t.Fatalf("token = %q", client.Token())
	}
	notes, err := client.ListNotes(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "n1" || notes[0].TitleSource != "fallback" {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestEventsURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/api/events?access_token=t+1"},
		{base: "https://notes.example.com/", want: "wss://notes.example.com/api/events?access_token=t+1"},
	}
	for _, tc := range cases {
		got, err := NewAPIClient(tc.base, "t 1").EventsURL()
		if err != nil {
			t.Fatalf("EventsURL(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("EventsURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

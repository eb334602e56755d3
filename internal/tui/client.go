package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Note is a row of the note list as served by GET /api/notes.
type Note struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	TitleSource string `json:"titleSource"`
	Content     string `json:"content"`
	CreatedAt   string `json:"createdAt"`
}

// APIClient makes REST calls to the notecrm API.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) Token() string {
	return c.token
}

// Login exchanges a display name for a session and keeps its access token.
func (c *APIClient) Login(ctx context.Context, name string) error {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/session/login", map[string]string{"name": name}, &out); err != nil {
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("login: empty token")
	}
	c.token = out.Token
	return nil
}

func (c *APIClient) ListNotes(ctx context.Context) ([]Note, error) {
	var out struct {
		Notes []Note `json:"notes"`
	}
	if err := c.get(ctx, "/api/notes", &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

// EventsURL is the websocket address of the push channel. The token travels
// as a query parameter, the same way a browser has to send it.
func (c *APIClient) EventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/events"
	q := u.Query()
	q.Set("access_token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *APIClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *APIClient) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *APIClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

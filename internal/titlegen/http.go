package titlegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const systemPrompt = "You write short titles for personal notes. Reply with the title only, at most eight words, no quotes."

// maxContentBytes bounds how much of a note is sent to the model.
const maxContentBytes = 4000

// HTTPGenerator calls an OpenAI-compatible chat completions endpoint.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewHTTPGenerator(endpoint, apiKey, model string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPGenerator{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &GenerationError{Reason: "empty content"}
	}
	content = truncateUTF8(content, maxContentBytes)

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		MaxTokens:   24,
		Temperature: 0.2,
	})
	if err != nil {
		return "", &GenerationError{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &GenerationError{Reason: "timeout", Err: err}
		}
		return "", &GenerationError{Reason: "request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &GenerationError{Reason: "read response", Err: err}
	}

	var decoded chatResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			reason = "quota exceeded"
		}
		if decodeErr == nil && decoded.Error != nil {
			return "", &GenerationError{Reason: reason, Err: errors.New(decoded.Error.Message)}
		}
		return "", &GenerationError{Reason: reason}
	}
	if decodeErr != nil {
		return "", &GenerationError{Reason: "decode response", Err: decodeErr}
	}
	if len(decoded.Choices) == 0 {
		return "", &GenerationError{Reason: "no choices"}
	}

	title := Clean(decoded.Choices[0].Message.Content)
	if title == "" {
		return "", &GenerationError{Reason: "empty title"}
	}
	return title, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Package titlegen derives short note titles from note content.
package titlegen

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxTitleRunes    = 80
	maxFallbackRunes = 60
	untitled         = "Untitled note"
)

// Generator derives a title for note content. Implementations return a
// *GenerationError on failure.
type Generator interface {
	Generate(ctx context.Context, content string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, content string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

// GenerationError wraps any failure to produce a title: transport, timeout,
// quota, or an unusable response.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "title generation failed: " + e.Reason
	}
	return fmt.Sprintf("title generation failed: %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Clean normalises a generated title: surrounding quotes and a "Title:" prefix
// are dropped, whitespace collapsed, and the result capped in length.
func Clean(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if len(title) > 6 && strings.EqualFold(title[:6], "title:") {
		title = strings.TrimSpace(title[6:])
	}
	title = strings.Trim(title, "\"'`“”‘’")
	title = strings.TrimRightFunc(title, func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
	return truncate(title, maxTitleRunes)
}

// FallbackTitle is the title a note is created with when none was supplied:
// the first non-blank line of content.
func FallbackTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			return truncate(line, maxFallbackRunes)
		}
	}
	return untitled
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// TitleSource records where a note's current title came from.
type TitleSource string

const (
	TitleExplicit  TitleSource = "explicit"
	TitleFallback  TitleSource = "fallback"
	TitleGenerated TitleSource = "generated"
)

type Note struct {
	ID          string
	OwnerID     string
	Title       string
	TitleSource TitleSource
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

package push

import (
	"encoding/json"
	"time"
)

// EventKind is the "kind" discriminator carried by every push frame.
type EventKind string

const (
	KindTitleUpdated EventKind = "title_updated"
)

// Event is anything that can be written to a push channel as one JSON frame.
type Event interface {
	EventKind() EventKind
}

// TitleUpdateEvent announces that a note received a generated title.
type TitleUpdateEvent struct {
	Kind      EventKind `json:"kind"`
	NoteID    string    `json:"noteId"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTitleUpdate(noteID, title, userID string, at time.Time) TitleUpdateEvent {
	return TitleUpdateEvent{
		Kind:      KindTitleUpdated,
		NoteID:    noteID,
		Title:     title,
		UserID:    userID,
		Timestamp: at.UTC(),
	}
}

func (e TitleUpdateEvent) EventKind() EventKind {
	return KindTitleUpdated
}

// Encode renders an event as a single text frame.
func Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

package search

// Result is a single note hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	TitleSource string `json:"titleSource"`
}

// Query describes a search request. OwnerID is mandatory: users only ever
// search their own notes.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push notes into a search index.
type Indexer interface {
	IndexNote(n NoteRecord) error
	IndexNotes(notes []NoteRecord) error
	DeleteNote(id string) error
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	TitleSource string `json:"titleSource"`
}

func normalizePage(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxNotes = "notecrm_notes"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures the notes index. An
// unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := client.Health(); err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNotes,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug().Err(err).Str("index", idxNotes).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxNotes)
	filterable := []interface{}{"ownerId", "titleSource"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn().Err(err).Str("index", idxNotes).Msg("update filterable attributes")
	}
	searchable := []string{"title", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Str("index", idxNotes).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	q = normalizePage(q)

	resp, err := m.client.Index(idxNotes).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		Filter:                ownerFilter(q.OwnerID),
		AttributesToHighlight: []string{"title", "content"},
		AttributesToCrop:      []string{"content"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func ownerFilter(ownerID string) string {
	return fmt.Sprintf("ownerId = %q", ownerID)
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:          decodeString(hit, "id"),
		Title:       firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:     firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content")),
		TitleSource: decodeString(hit, "titleSource"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexNote(n NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]NoteRecord{n}, nil)
	return err
}

func (m *Meili) IndexNotes(notes []NoteRecord) error {
	if len(notes) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNotes).AddDocuments(notes, nil)
	return err
}

func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(id, nil)
	return err
}

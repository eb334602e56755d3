package search

import (
	"context"

	"github.com/rs/zerolog"
)

type primaryIndex interface {
	Searcher
	Indexer
}

type fallbackSearcher interface {
	Searcher
	LoadAllNotes(ctx context.Context) ([]NoteRecord, error)
}

// Service tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary primaryIndex
	pgfts   fallbackSearcher
	logger  zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(m *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	s := &Service{logger: logger}
	if m != nil {
		s.primary = m
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails; backend errors degrade to an empty result set.
func (s *Service) Search(q Query) Response {
	q = normalizePage(q)
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.logger.Error().Err(err).Msg("pgfts search")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNote pushes a note to Meilisearch in the background. PG FTS needs no
// indexing: its vector is a generated column.
func (s *Service) IndexNote(n NoteRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexNote(n); err != nil {
			s.logger.Warn().Err(err).Str("note_id", n.ID).Msg("index note")
		}
	}()
}

func (s *Service) DeleteNote(id string) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteNote(id); err != nil {
			s.logger.Warn().Err(err).Str("note_id", id).Msg("delete note from index")
		}
	}()
}

// ReindexAllFromPG copies every note from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryHealthy() || s.pgfts == nil {
		return
	}
	notes, err := s.pgfts.LoadAllNotes(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.primary.IndexNotes(notes); err != nil {
		s.logger.Error().Err(err).Int("notes", len(notes)).Msg("reindex notes")
		return
	}
	s.logger.Info().Int("notes", len(notes)).Msg("reindexed notes")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

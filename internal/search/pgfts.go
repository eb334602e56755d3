package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches notes with PostgreSQL full-text search. It is the fallback
// whenever Meilisearch is absent or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgftsWhere = `n.owner_id = $2 AND n.fts @@ plainto_tsquery('english', $1)`

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizePage(q)
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM notes n WHERE `+pgftsWhere, q.Text, q.OwnerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT n.id::text, n.title, n.title_source,
			ts_headline('english', n.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM notes n
		WHERE `+pgftsWhere+`
		ORDER BY ts_rank(n.fts, plainto_tsquery('english', $1)) DESC, n.created_at DESC
		LIMIT $3 OFFSET $4`,
		q.Text, q.OwnerID, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.TitleSource, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllNotes returns every note for a full reindex.
func (p *PgFTS) LoadAllNotes(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, owner_id::text, title, content, title_source
		FROM notes
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	notes := make([]NoteRecord, 0)
	for rows.Next() {
		var n NoteRecord
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.TitleSource); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (display_name)
		VALUES ($1)
		ON CONFLICT (display_name) DO UPDATE SET updated_at = NOW()
		RETURNING id, display_name, role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", userID, classify(err))
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", classify(err))
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const noteColumns = `id, owner_id, title, title_source, content, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var note Note
	var source string
	if err := row.Scan(&note.ID, &note.OwnerID, &note.Title, &source, &note.Content, &note.CreatedAt, &note.UpdatedAt); err != nil {
		return Note{}, err
	}
	note.TitleSource = TitleSource(source)
	return note, nil
}

// InsertNote commits a new note and returns it with database timestamps.
func (s *PostgresStore) InsertNote(ctx context.Context, note Note) (Note, error) {
	source := note.TitleSource
	if source == "" {
		source = TitleExplicit
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (id, owner_id, title, title_source, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+noteColumns,
		note.ID, note.OwnerID, note.Title, string(source), note.Content)
	created, err := scanNote(row)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", classify(err))
	}
	return created, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	note, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1`, noteID))
	if err != nil {
		return Note{}, fmt.Errorf("get note %s: %w", noteID, classify(err))
	}
	return note, nil
}

func (s *PostgresStore) ListNotesByOwner(ctx context.Context, ownerID string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+`
		FROM notes
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

// UpdateNoteTitle stores a generated title. A missing note yields ErrNotFound.
func (s *PostgresStore) UpdateNoteTitle(ctx context.Context, noteID, title string) (Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Note{}, fmt.Errorf("update note title: empty title")
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE notes
		SET title = $2, title_source = 'generated', updated_at = NOW()
		WHERE id = $1
		RETURNING `+noteColumns,
		noteID, title)
	note, err := scanNote(row)
	if err != nil {
		return Note{}, fmt.Errorf("update note title %s: %w", noteID, classify(err))
	}
	return note, nil
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	other := errors.New("boom")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "no rows", in: fmt.Errorf("scan: %w", sql.ErrNoRows), want: ErrNotFound},
		{name: "unique", in: &pgconn.PgError{Code: pgUniqueViolation}, want: ErrConflict},
		{name: "foreign key", in: &pgconn.PgError{Code: pgForeignKeyViolation}, want: ErrNotFound},
		{name: "other pg", in: &pgconn.PgError{Code: "42P01"}, want: nil},
		{name: "other", in: other, want: other},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.in)
			if tc.name == "other pg" {
				var pgErr *pgconn.PgError
				if !errors.As(got, &pgErr) {
					t.Fatalf("expected pg error passthrough, got %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) && got != tc.want {
				t.Fatalf("classify(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

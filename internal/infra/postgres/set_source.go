package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"spi-exam-service/internal/app"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SetSource serves question sets from the question_sets table. A row's slug
// is its location and updated_at is its modification time.
type SetSource struct {
	pool *pgxpool.Pool
}

func NewSetSource(pool *pgxpool.Pool) *SetSource {
	return &SetSource{pool: pool}
}

func (s *SetSource) Scan(ctx context.Context) ([]app.SetRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug, mode, category, updated_at FROM question_sets ORDER BY mode, category, slug`)
	if err != nil {
		return nil, fmt.Errorf("scan question sets: %w", err)
	}
	defer rows.Close()

	var refs []app.SetRef
	for rows.Next() {
		var ref app.SetRef
		if err := rows.Scan(&ref.Placement.Slug, &ref.Placement.Mode, &ref.Placement.Category, &ref.ModTime); err != nil {
			return nil, fmt.Errorf("scan question set row: %w", err)
		}
		ref.Location = ref.Placement.Slug
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *SetSource) Stat(ctx context.Context, location string) (time.Time, error) {
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT updated_at FROM question_sets WHERE slug=$1`, location).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, notFound(location, err)
	}
	return updatedAt, nil
}

func (s *SetSource) Read(ctx context.Context, location string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM question_sets WHERE slug=$1`, location).Scan(&raw)
	if err != nil {
		return nil, notFound(location, err)
	}
	return raw, nil
}

func notFound(location string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("question set %s: %w", location, fs.ErrNotExist)
	}
	return fmt.Errorf("question set %s: %w", location, err)
}

var _ app.SetSource = (*SetSource)(nil)

package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"jk-analytics/models"
)

// SaveExclusion inserts or refreshes an exclusion entry keyed by complex id.
// It reports whether the entry was newly created.
func (s *Store) SaveExclusion(ctx context.Context, e models.ExclusionEntry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("storage: begin exclusion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, args, err := s.builder().Select("COUNT(*)").
		From("exclusions").
		Where(sq.Eq{"complex_id": e.ComplexID}).
		ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("storage: check exclusion %s: %w", e.ComplexID, err)
	}

	q, args, err = s.builder().Insert("exclusions").
		Columns("complex_id", "complex_name", "reason", "excluded_at").
		Values(e.ComplexID, e.ComplexName, e.Reason, e.ExcludedAt.UTC()).
		Suffix("ON CONFLICT (complex_id) DO UPDATE SET complex_name = excluded.complex_name, reason = excluded.reason, excluded_at = excluded.excluded_at").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("storage: build save exclusion: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return false, fmt.Errorf("storage: save exclusion %s: %w", e.ComplexID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("storage: commit exclusion: %w", err)
	}
	return n == 0, nil
}

// DeleteExclusion removes the entry for complexID and reports whether one
// existed.
func (s *Store) DeleteExclusion(ctx context.Context, complexID string) (bool, error) {
	q, args, err := s.builder().Delete("exclusions").
		Where(sq.Eq{"complex_id": complexID}).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("storage: delete exclusion %s: %w", complexID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListExclusions(ctx context.Context) ([]models.ExclusionEntry, error) {
	q, args, err := s.builder().Select("complex_id", "complex_name", "reason", "excluded_at").
		From("exclusions").
		OrderBy("complex_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list exclusions: %w", err)
	}
	defer rows.Close()

	var out []models.ExclusionEntry
	for rows.Next() {
		var e models.ExclusionEntry
		if err := rows.Scan(&e.ComplexID, &e.ComplexName, &e.Reason, &e.ExcludedAt); err != nil {
			return nil, fmt.Errorf("storage: scan exclusion: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

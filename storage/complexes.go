package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/patrickmn/go-cache"

	"jk-analytics/models"
)

// NameKey folds a complex name for case-insensitive lookup. Folding happens
// in Go because SQLite's lower() only handles ASCII.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ResolveComplex finds a complex by external id or by name (case
// insensitive). An id match wins over a name match.
func (s *Store) ResolveComplex(ctx context.Context, nameOrID string) (models.Complex, error) {
	key := strings.TrimSpace(nameOrID)
	if key == "" {
		return models.Complex{}, &models.NotFoundError{Key: nameOrID}
	}

	q, args, err := s.builder().Select("complex_id", "name", "city", "district").
		From("residential_complexes").
		Where(sq.Or{
			sq.Eq{"complex_id": key},
			sq.Eq{"name_key": NameKey(key)},
		}).
		OrderByClause("CASE WHEN complex_id = ? THEN 0 ELSE 1 END", key).
		Limit(1).
		ToSql()
	if err != nil {
		return models.Complex{}, fmt.Errorf("storage: build resolve: %w", err)
	}

	var c models.Complex
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&c.ID, &c.Name, &c.City, &c.District)
	if err != nil {
		return models.Complex{}, wrapErr(err, nameOrID)
	}
	return c, nil
}

// ListComplexes returns the directory, optionally restricted to cities.
func (s *Store) ListComplexes(ctx context.Context, cities []string) ([]models.Complex, error) {
	b := s.builder().Select("complex_id", "name", "city", "district").
		From("residential_complexes").
		OrderBy("name")
	if len(cities) > 0 {
		b = b.Where(sq.Eq{"city": cities})
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build list complexes: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list complexes: %w", err)
	}
	defer rows.Close()

	var out []models.Complex
	for rows.Next() {
		var c models.Complex
		if err := rows.Scan(&c.ID, &c.Name, &c.City, &c.District); err != nil {
			return nil, fmt.Errorf("storage: scan complex: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertComplex adds a complex to the directory or refreshes its details.
func (s *Store) UpsertComplex(ctx context.Context, c models.Complex) error {
	if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Name) == "" {
		return &models.ValidationError{Field: "complex", Reason: "id and name are required"}
	}

	q, args, err := s.builder().Insert("residential_complexes").
		Columns("complex_id", "name", "name_key", "city", "district").
		Values(c.ID, c.Name, NameKey(c.Name), c.City, c.District).
		Suffix("ON CONFLICT (complex_id) DO UPDATE SET name = excluded.name, name_key = excluded.name_key, " +
			"city = excluded.city, district = excluded.district").
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build upsert complex: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("storage: upsert complex %s: %w", c.ID, err)
	}
	return nil
}

// ComplexSource is the persistence behind a CachedDirectory.
type ComplexSource interface {
	ResolveComplex(ctx context.Context, nameOrID string) (models.Complex, error)
	ListComplexes(ctx context.Context, cities []string) ([]models.Complex, error)
	UpsertComplex(ctx context.Context, c models.Complex) error
}

// CachedDirectory memoises complex resolution. Misses are not cached, so a
// complex added later resolves on the next lookup.
type CachedDirectory struct {
	src   ComplexSource
	cache *cache.Cache
}

func NewCachedDirectory(src ComplexSource, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		src:   src,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (d *CachedDirectory) Resolve(ctx context.Context, nameOrID string) (models.Complex, error) {
	key := NameKey(nameOrID)
	if v, ok := d.cache.Get(key); ok {
		return v.(models.Complex), nil
	}

	c, err := d.src.ResolveComplex(ctx, nameOrID)
	if err != nil {
		return models.Complex{}, err
	}
	d.cache.SetDefault(key, c)
	return c, nil
}

func (d *CachedDirectory) List(ctx context.Context, cities []string) ([]models.Complex, error) {
	return d.src.ListComplexes(ctx, cities)
}

// Upsert writes through and drops every cached resolution, since a rename
// changes which keys resolve to the complex.
func (d *CachedDirectory) Upsert(ctx context.Context, c models.Complex) error {
	if err := d.src.UpsertComplex(ctx, c); err != nil {
		return err
	}
	d.cache.Flush()
	return nil
}

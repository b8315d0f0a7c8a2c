package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"jk-analytics/models"
)

var listingColumns = []string{
	"id", "listing_id", "kind", "price", "area", "rooms", "complex_name",
	"floor", "total_floors", "construction_year", "parking", "description",
	"url", "observed_on", "created_at", "updated_at",
}

// Upsert stores rec under its (listing_id, kind, observed_on) key. An
// existing row is overwritten only if some field differs, in which case
// updated_at is bumped; identical re-ingestion writes nothing.
func (s *Store) Upsert(ctx context.Context, rec *models.ListingRecord) (models.UpsertResult, error) {
	if err := models.ValidateRecord(rec); err != nil {
		return models.Unchanged, err
	}

	unlock := s.keys.Lock(rec.Key())
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Unchanged, fmt.Errorf("storage: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.upsertTx(ctx, tx, rec)
	if err != nil {
		return models.Unchanged, err
	}
	if err := tx.Commit(); err != nil {
		return models.Unchanged, fmt.Errorf("storage: commit upsert %s: %w", rec.Key(), err)
	}
	return res, nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, rec *models.ListingRecord) (models.UpsertResult, error) {
	existing, err := s.getListing(ctx, tx, rec.ListingID, rec.Kind, rec.ObservedOn)
	if err != nil && !models.IsNotFound(err) {
		return models.Unchanged, err
	}

	if existing == nil {
		inserted, err := s.insertListing(ctx, tx, rec)
		if err != nil {
			return models.Unchanged, err
		}
		if inserted {
			return models.Inserted, nil
		}
		// another writer inserted the key between our read and write
		existing, err = s.getListing(ctx, tx, rec.ListingID, rec.Kind, rec.ObservedOn)
		if err != nil {
			s.logger.Error("[storage] listing key vanished after insert conflict",
				zap.String("key", rec.Key()), zap.Error(err))
			return models.Unchanged, &models.ConflictError{Key: rec.Key(), Err: err}
		}
	}

	if existing.SameContent(rec) {
		rec.ID, rec.CreatedAt, rec.UpdatedAt = existing.ID, existing.CreatedAt, existing.UpdatedAt
		return models.Unchanged, nil
	}

	now := s.now()
	q, args, err := s.builder().Update("listings").
		SetMap(map[string]any{
			"price":             rec.Price,
			"area":              rec.Area,
			"rooms":             nullInt(rec.Rooms),
			"complex_name":      rec.ComplexName,
			"floor":             nullInt(rec.Floor),
			"total_floors":      nullInt(rec.TotalFloors),
			"construction_year": nullInt(rec.ConstructionYear),
			"parking":           rec.Parking,
			"description":       rec.Description,
			"url":               rec.URL,
			"updated_at":        now,
		}).
		Where(sq.Eq{"id": existing.ID}).
		ToSql()
	if err != nil {
		return models.Unchanged, fmt.Errorf("storage: build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return models.Unchanged, fmt.Errorf("storage: update %s: %w", rec.Key(), err)
	}

	rec.ID, rec.CreatedAt, rec.UpdatedAt = existing.ID, existing.CreatedAt, now
	return models.Updated, nil
}

func (s *Store) insertListing(ctx context.Context, tx *sql.Tx, rec *models.ListingRecord) (bool, error) {
	now := s.now()
	q, args, err := s.builder().Insert("listings").
		Columns(
			"listing_id", "kind", "price", "area", "rooms", "complex_name",
			"floor", "total_floors", "construction_year", "parking", "description",
			"url", "observed_on", "created_at", "updated_at",
		).
		Values(
			rec.ListingID, string(rec.Kind), rec.Price, rec.Area, nullInt(rec.Rooms), rec.ComplexName,
			nullInt(rec.Floor), nullInt(rec.TotalFloors), nullInt(rec.ConstructionYear), rec.Parking, rec.Description,
			rec.URL, string(rec.ObservedOn), now, now,
		).
		Suffix("ON CONFLICT (listing_id, kind, observed_on) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("storage: build insert: %w", err)
	}

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("storage: insert %s: %w", rec.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: insert %s: %w", rec.Key(), err)
	}
	if n == 0 {
		return false, nil
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	return true, nil
}

func (s *Store) getListing(ctx context.Context, db queryer, listingID string, kind models.Kind, on models.Date) (*models.ListingRecord, error) {
	q, args, err := s.builder().Select(listingColumns...).
		From("listings").
		Where(sq.Eq{"listing_id": listingID, "kind": string(kind), "observed_on": string(on)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select: %w", err)
	}

	rec, err := scanListing(db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapErr(err, fmt.Sprintf("%s/%s/%s", listingID, kind, on))
	}
	return rec, nil
}

// Query returns the listings matching q, ordered by observation date and
// listing id. There is no implicit limit.
func (s *Store) Query(ctx context.Context, q models.ListingQuery) ([]*models.ListingRecord, error) {
	if !q.Kind.Valid() {
		return nil, &models.ValidationError{Field: "kind", Reason: "query needs RENTAL or SALE"}
	}

	b := s.builder().Select(listingColumns...).
		From("listings").
		Where(sq.Eq{"kind": string(q.Kind)}).
		OrderBy("observed_on", "listing_id")
	if q.ComplexName != nil {
		b = b.Where(sq.Eq{"complex_name": *q.ComplexName})
	}
	if q.From != nil {
		b = b.Where(sq.GtOrEq{"observed_on": string(*q.From)})
	}
	if q.To != nil {
		b = b.Where(sq.LtOrEq{"observed_on": string(*q.To)})
	}
	if q.MinArea != nil {
		b = b.Where(sq.GtOrEq{"area": *q.MinArea})
	}
	if q.MaxArea != nil {
		b = b.Where(sq.LtOrEq{"area": *q.MaxArea})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query listings: %w", err)
	}
	defer rows.Close()

	var out []*models.ListingRecord
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan listing: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestObservationDate returns the newest observed_on for a complex and
// kind, or nil when the complex has no such listings.
func (s *Store) LatestObservationDate(ctx context.Context, complexName string, kind models.Kind) (*models.Date, error) {
	q, args, err := s.builder().Select("MAX(observed_on)").
		From("listings").
		Where(sq.Eq{"complex_name": complexName, "kind": string(kind)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build latest date: %w", err)
	}

	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&latest); err != nil {
		return nil, fmt.Errorf("storage: latest date %s/%s: %w", complexName, kind, err)
	}
	if !latest.Valid || latest.String == "" {
		return nil, nil
	}
	d := models.Date(latest.String)
	return &d, nil
}

// ObservationDates lists the distinct observation dates for a complex and
// kind, newest first.
func (s *Store) ObservationDates(ctx context.Context, complexName string, kind models.Kind) ([]models.Date, error) {
	q, args, err := s.builder().Select("DISTINCT observed_on").
		From("listings").
		Where(sq.Eq{"complex_name": complexName, "kind": string(kind)}).
		OrderBy("observed_on DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build dates: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: observation dates: %w", err)
	}
	defer rows.Close()

	var out []models.Date
	for rows.Next() {
		var d models.Date
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("storage: scan date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountListings counts stored rows for one listing id and kind across all
// observation dates.
func (s *Store) CountListings(ctx context.Context, listingID string, kind models.Kind) (int, error) {
	q, args, err := s.builder().Select("COUNT(*)").
		From("listings").
		Where(sq.Eq{"listing_id": listingID, "kind": string(kind)}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count listings: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.ListingRecord, error) {
	rec := &models.ListingRecord{}
	var kind string
	if err := row.Scan(
		&rec.ID, &rec.ListingID, &kind, &rec.Price, &rec.Area, &rec.Rooms, &rec.ComplexName,
		&rec.Floor, &rec.TotalFloors, &rec.ConstructionYear, &rec.Parking, &rec.Description,
		&rec.URL, &rec.ObservedOn, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Kind = models.Kind(kind)
	return rec, nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"jk-analytics/models"
)

var statsPrefixes = []string{"yield", "rent_ppm2", "sale_ppm2"}

func snapshotColumns() []string {
	cols := []string{"id", "complex_name", "snapshot_date", "total_rentals", "total_sales"}
	for _, p := range statsPrefixes {
		cols = append(cols, p+"_count", p+"_min", p+"_max", p+"_mean", p+"_median")
	}
	return append(cols, "insufficient_data", "buckets", "created_at", "updated_at")
}

// UpsertSnapshot writes snap under (complex_name, snapshot_date), replacing
// any earlier snapshot for that key, and returns the stored row.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	buckets, err := json.Marshal(snap.Buckets)
	if err != nil {
		return nil, fmt.Errorf("storage: encode snapshot buckets: %w", err)
	}
	if snap.Buckets == nil {
		buckets = []byte("[]")
	}

	now := s.now()
	values := map[string]any{
		"complex_name":      snap.ComplexName,
		"snapshot_date":     string(snap.SnapshotDate),
		"total_rentals":     snap.TotalRentals,
		"total_sales":       snap.TotalSales,
		"insufficient_data": snap.InsufficientData,
		"buckets":           string(buckets),
		"created_at":        now,
		"updated_at":        now,
	}
	addStats(values, "yield", snap.RentalYield)
	addStats(values, "rent_ppm2", snap.RentalPricePerM2)
	addStats(values, "sale_ppm2", snap.SalePricePerM2)

	cols := make([]string, 0, len(values))
	vals := make([]any, 0, len(values))
	set := ""
	for _, c := range snapshotColumns()[1:] {
		v, ok := values[c]
		if !ok {
			continue
		}
		cols = append(cols, c)
		vals = append(vals, v)
		if c == "complex_name" || c == "snapshot_date" || c == "created_at" {
			continue
		}
		if set != "" {
			set += ", "
		}
		set += c + " = excluded." + c
	}

	q, args, err := s.builder().Insert("performance_snapshots").
		Columns(cols...).
		Values(vals...).
		Suffix("ON CONFLICT (complex_name, snapshot_date) DO UPDATE SET " + set).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build snapshot upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("storage: upsert snapshot %s@%s: %w", snap.ComplexName, snap.SnapshotDate, err)
	}

	return s.GetSnapshot(ctx, snap.ComplexName, snap.SnapshotDate)
}

func (s *Store) GetSnapshot(ctx context.Context, complexName string, date models.Date) (*models.Snapshot, error) {
	q, args, err := s.builder().Select(snapshotColumns()...).
		From("performance_snapshots").
		Where(sq.Eq{"complex_name": complexName, "snapshot_date": string(date)}).
		ToSql()
	if err != nil {
		return nil, err
	}
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, wrapErr(err, complexName+"@"+string(date))
	}
	return snap, nil
}

// ListSnapshots returns a complex's snapshots in the window, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, query models.SnapshotQuery) ([]*models.Snapshot, error) {
	b := s.builder().Select(snapshotColumns()...).
		From("performance_snapshots").
		Where(sq.Eq{"complex_name": query.ComplexName}).
		OrderBy("snapshot_date ASC")
	if query.From != nil {
		b = b.Where(sq.GtOrEq{"snapshot_date": string(*query.From)})
	}
	if query.To != nil {
		b = b.Where(sq.LtOrEq{"snapshot_date": string(*query.To)})
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func addStats(values map[string]any, prefix string, st models.AggregateStatistics) {
	values[prefix+"_count"] = st.Count
	if st.Empty() {
		values[prefix+"_min"] = nil
		values[prefix+"_max"] = nil
		values[prefix+"_mean"] = nil
		values[prefix+"_median"] = nil
		return
	}
	values[prefix+"_min"] = st.Min
	values[prefix+"_max"] = st.Max
	values[prefix+"_mean"] = st.Mean
	values[prefix+"_median"] = st.Median
}

type nullStats struct {
	count                  int
	min, max, mean, median sql.NullFloat64
}

func (n *nullStats) dest() []any {
	return []any{&n.count, &n.min, &n.max, &n.mean, &n.median}
}

func (n *nullStats) stats() models.AggregateStatistics {
	return models.AggregateStatistics{
		Count:  n.count,
		Min:    n.min.Float64,
		Max:    n.max.Float64,
		Mean:   n.mean.Float64,
		Median: n.median.Float64,
	}
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	var yield, rent, sale nullStats
	var buckets string

	dest := []any{&snap.ID, &snap.ComplexName, &snap.SnapshotDate, &snap.TotalRentals, &snap.TotalSales}
	dest = append(dest, yield.dest()...)
	dest = append(dest, rent.dest()...)
	dest = append(dest, sale.dest()...)
	dest = append(dest, &snap.InsufficientData, &buckets, &snap.CreatedAt, &snap.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	snap.RentalYield = yield.stats()
	snap.RentalPricePerM2 = rent.stats()
	snap.SalePricePerM2 = sale.stats()

	if buckets != "" {
		if err := json.Unmarshal([]byte(buckets), &snap.Buckets); err != nil {
			return nil, fmt.Errorf("decode snapshot buckets: %w", err)
		}
	}
	return snap, nil
}

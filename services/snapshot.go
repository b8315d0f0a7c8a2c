package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"jk-analytics/models"
)

// SnapshotStore persists performance snapshots.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, q models.SnapshotQuery) ([]*models.Snapshot, error)
}

// SnapshotRecorder freezes analyses into one row per complex and day.
type SnapshotRecorder struct {
	store  SnapshotStore
	logger *zap.Logger
}

func NewSnapshotRecorder(store SnapshotStore, logger *zap.Logger) *SnapshotRecorder {
	return &SnapshotRecorder{store: store, logger: logger}
}

// Record stores a for complexName on date. Recording the same complex and
// date again overwrites the earlier snapshot.
func (r *SnapshotRecorder) Record(ctx context.Context, complexName string, date models.Date, a *models.Analysis) (*models.Snapshot, error) {
	if strings.TrimSpace(complexName) == "" {
		return nil, &models.ValidationError{Field: "complex_name", Reason: "is required"}
	}
	if _, err := models.ParseDate(string(date)); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &models.ValidationError{Field: "stats", Reason: "analysis is required"}
	}

	snap := BuildSnapshot(complexName, date, a)
	saved, err := r.store.UpsertSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s@%s: %w", complexName, date, err)
	}

	r.logger.Info("[snapshot] recorded",
		zap.String("complex", complexName),
		zap.String("date", date.String()),
		zap.Int("rentals", saved.TotalRentals),
		zap.Int("sales", saved.TotalSales),
		zap.Bool("insufficient", saved.InsufficientData))
	return saved, nil
}

// List returns a complex's snapshots between from and to (inclusive, either
// may be nil), oldest first.
func (r *SnapshotRecorder) List(ctx context.Context, complexName string, from, to *models.Date) ([]*models.Snapshot, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, &models.ValidationError{Field: "date_range", Reason: "from is after to"}
	}
	return r.store.ListSnapshots(ctx, models.SnapshotQuery{ComplexName: complexName, From: from, To: to})
}

// BuildSnapshot maps an analysis onto the persisted snapshot shape.
func BuildSnapshot(complexName string, date models.Date, a *models.Analysis) *models.Snapshot {
	snap := &models.Snapshot{
		ComplexName:      complexName,
		SnapshotDate:     date,
		TotalRentals:     a.RentalPrice.Count,
		TotalSales:       a.SalePrice.Count,
		RentalPricePerM2: a.RentalPricePerM2,
		SalePricePerM2:   a.SalePricePerM2,
		InsufficientData: a.InsufficientData,
	}
	if a.Yield != nil {
		snap.RentalYield = *a.Yield
	}

	for _, b := range a.Buckets {
		if b.RentalPrice.Empty() && b.SalePrice.Empty() {
			continue
		}
		sb := models.SnapshotBucket{
			FlatType:    b.FlatType,
			RentalCount: b.RentalPrice.Count,
			SaleCount:   b.SalePrice.Count,
		}
		if b.Yield != nil {
			sb.MedianYield = floatPtr(b.Yield.Median)
			sb.MeanYield = floatPtr(b.Yield.Mean)
		}
		if !b.RentalPricePerM2.Empty() {
			sb.MedianRentPerM2 = floatPtr(b.RentalPricePerM2.Median)
		}
		if !b.SalePricePerM2.Empty() {
			sb.MedianSalePerM2 = floatPtr(b.SalePricePerM2.Median)
		}
		snap.Buckets = append(snap.Buckets, sb)
	}
	return snap
}

func floatPtr(f float64) *float64 { return &f }

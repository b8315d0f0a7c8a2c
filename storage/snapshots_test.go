package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jk-analytics/models"
)

func ptr(f float64) *float64 { return &f }

func TestSnapshotUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := &models.Snapshot{
		ComplexName:  "X",
		SnapshotDate: "2025-01-15",
		TotalRentals: 4,
		TotalSales:   6,
		RentalYield:  models.AggregateStatistics{Count: 3, Min: 0.05, Max: 0.09, Mean: 0.07, Median: 0.07},
		Buckets: []models.SnapshotBucket{
			{FlatType: models.FlatOneBed, RentalCount: 2, SaleCount: 3, MedianYield: ptr(0.07)},
		},
	}
	_, err := s.UpsertSnapshot(ctx, first)
	require.NoError(t, err)

	second := &models.Snapshot{
		ComplexName:      "X",
		SnapshotDate:     "2025-01-15",
		TotalRentals:     0,
		TotalSales:       7,
		SalePricePerM2:   models.AggregateStatistics{Count: 7, Min: 500_000, Max: 700_000, Mean: 600_000, Median: 610_000},
		InsufficientData: true,
	}
	stored, err := s.UpsertSnapshot(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, 0, stored.TotalRentals)
	assert.Equal(t, 7, stored.TotalSales)
	assert.True(t, stored.InsufficientData)
	assert.True(t, stored.RentalYield.Empty())
	assert.Equal(t, 610_000.0, stored.SalePricePerM2.Median)
	assert.Empty(t, stored.Buckets)

	all, err := s.ListSnapshots(ctx, models.SnapshotQuery{ComplexName: "X"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, stored.ID, all[0].ID)
}

func TestListSnapshotsOrderedAndBounded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, d := range []models.Date{"2025-01-20", "2025-01-05", "2025-01-12", "2025-01-01"} {
		_, err := s.UpsertSnapshot(ctx, &models.Snapshot{
			ComplexName:  "Nurly Tau",
			SnapshotDate: d,
			TotalSales:   1,
			Buckets: []models.SnapshotBucket{
				{FlatType: models.FlatStudio, SaleCount: 1, MedianSalePerM2: ptr(650_000)},
			},
		})
		require.NoError(t, err)
	}
	_, err := s.UpsertSnapshot(ctx, &models.Snapshot{ComplexName: "Other", SnapshotDate: "2025-01-12"})
	require.NoError(t, err)

	from, to := models.Date("2025-01-05"), models.Date("2025-01-20")
	got, err := s.ListSnapshots(ctx, models.SnapshotQuery{ComplexName: "Nurly Tau", From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.Date("2025-01-05"), got[0].SnapshotDate)
	assert.Equal(t, models.Date("2025-01-12"), got[1].SnapshotDate)
	assert.Equal(t, models.Date("2025-01-20"), got[2].SnapshotDate)

	require.Len(t, got[0].Buckets, 1)
	require.NotNil(t, got[0].Buckets[0].MedianSalePerM2)
	assert.Equal(t, 650_000.0, *got[0].Buckets[0].MedianSalePerM2)
	assert.Nil(t, got[0].Buckets[0].MedianYield)
}

func TestGetSnapshotNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSnapshot(context.Background(), "nowhere", "2025-01-01")
	assert.True(t, models.IsNotFound(err))
}

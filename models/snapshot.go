package models

import "time"

// Snapshot is a persisted point-in-time analysis for one complex. At most one
// exists per (ComplexName, SnapshotDate).
type Snapshot struct {
	ID           int64
	ComplexName  string
	SnapshotDate Date

	TotalRentals int
	TotalSales   int

	RentalYield      AggregateStatistics
	RentalPricePerM2 AggregateStatistics
	SalePricePerM2   AggregateStatistics

	InsufficientData bool
	Buckets          []SnapshotBucket

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotBucket keeps the per flat-type figures of a snapshot. Absent
// figures are nil rather than zero.
type SnapshotBucket struct {
	FlatType        FlatType `json:"flat_type"`
	RentalCount     int      `json:"rental_count"`
	SaleCount       int      `json:"sale_count"`
	MedianYield     *float64 `json:"median_yield,omitempty"`
	MeanYield       *float64 `json:"mean_yield,omitempty"`
	MedianRentPerM2 *float64 `json:"median_rent_per_m2,omitempty"`
	MedianSalePerM2 *float64 `json:"median_sale_per_m2,omitempty"`
}

// SnapshotQuery selects a complex's snapshots in a date window.
type SnapshotQuery struct {
	ComplexName string
	From        *Date
	To          *Date
}

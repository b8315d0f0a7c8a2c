package storage

import (
	"context"

	"jk-analytics/models"
)

// RawListingWriter archives unprocessed scraped data for debugging parsers.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}

// OpportunityExporter writes a ranked opportunity list to a report file.
type OpportunityExporter interface {
	Export(candidates []*models.OpportunityCandidate) error
	Close() error
}

// RunLock guards a named job against overlapping runs. Acquire returns false
// when another holder owns the lock.
type RunLock interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

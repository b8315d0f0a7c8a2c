package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"jk-analytics/models"
)

// CSVWriter appends rows to a CSV file after a fixed header. It is safe for
// concurrent use; the orchestrator's workers share one raw archive.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var rawHeader = []string{
	"listing_id", "kind", "complex", "city", "title", "raw_price", "raw_area",
	"raw_rooms", "raw_floor", "raw_year", "parking", "url", "scraped_at",
}

var opportunityHeader = []string{
	"rank", "tier", "deal", "complex", "city", "flat_type", "listing_id", "price",
	"area", "price_per_m2", "comparable_median", "comparable_scope", "price_vs_median_pct",
	"yield_pct", "url",
}

// NewCSVWriter creates (or truncates) the CSV file at path and writes the
// raw-listing header. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	return newCSV(path, rawHeader)
}

// NewOpportunityCSV creates a CSV report for ranked opportunities.
func NewOpportunityCSV(path string) (*CSVWriter, error) {
	return newCSV(path, opportunityHeader)
}

func newCSV(path string, header []string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends raw listings.
func (c *CSVWriter) WriteRaw(listings []*models.RawListing) error {
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{
			l.ListingID,
			string(l.Kind),
			l.ComplexName,
			l.City,
			l.Title,
			l.RawPrice,
			l.RawArea,
			l.RawRooms,
			l.RawFloor,
			l.RawYear,
			l.Parking,
			l.URL,
			l.ScrapedAt.Format(time.RFC3339),
		})
	}
	return c.writeRows(rows)
}

// Export appends candidates in rank order.
func (c *CSVWriter) Export(candidates []*models.OpportunityCandidate) error {
	rows := make([][]string, 0, len(candidates))
	for i, cand := range candidates {
		rows = append(rows, opportunityRow(i+1, cand))
	}
	return c.writeRows(rows)
}

func (c *CSVWriter) writeRows(rows [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, row := range rows {
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}

func opportunityRow(rank int, c *models.OpportunityCandidate) []string {
	l := c.Listing
	return []string{
		strconv.Itoa(rank),
		c.Tier.String(),
		string(c.Deal),
		c.Complex.Name,
		c.Complex.City,
		string(c.FlatType),
		l.ListingID,
		strconv.FormatInt(l.Price, 10),
		strconv.FormatFloat(l.Area, 'f', 1, 64),
		strconv.FormatFloat(l.PricePerM2(), 'f', 0, 64),
		strconv.FormatFloat(c.Comparable.Median, 'f', 0, 64),
		c.ComparableScope,
		strconv.FormatFloat(c.PriceVsMedian*100, 'f', 1, 64),
		strconv.FormatFloat(c.Yield*100, 'f', 2, 64),
		l.URL,
	}
}

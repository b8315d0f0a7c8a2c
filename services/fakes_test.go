package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"jk-analytics/config"
	"jk-analytics/models"
)

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		AreaTolerance:      5,
		FlatTypeThresholds: []float64{35, 50, 75},
		DiscountThreshold:  0.15,
		YieldThreshold:     0.06,
		StrongBuyYield:     0.20,
		BuyYield:           0.06,
		ConsiderYield:      0.05,
		DiscountScenarios:  []float64{0.10, 0.20},
		MaxDiscount:        0.5,
		OpportunityLimit:   50,
	}
}

func listing(id string, kind models.Kind, complexName string, price int64, area float64, rooms int, on models.Date) *models.ListingRecord {
	return &models.ListingRecord{
		ListingID:   id,
		Kind:        kind,
		Price:       price,
		Area:        area,
		Rooms:       models.IntPtr(rooms),
		ComplexName: complexName,
		URL:         "https://krisha.kz/a/show/" + id,
		ObservedOn:  on,
	}
}

// memListings is an in-memory historical store.
type memListings struct {
	mu      sync.Mutex
	rows    map[string]*models.ListingRecord
	failFor map[string]error
}

func newMemListings(recs ...*models.ListingRecord) *memListings {
	m := &memListings{rows: make(map[string]*models.ListingRecord)}
	for _, r := range recs {
		_, _ = m.Upsert(context.Background(), r)
	}
	return m
}

func (m *memListings) Upsert(_ context.Context, rec *models.ListingRecord) (models.UpsertResult, error) {
	if err := models.ValidateRecord(rec); err != nil {
		return models.Unchanged, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[rec.ListingID]; err != nil {
		return models.Unchanged, err
	}
	cp := *rec
	existing, ok := m.rows[rec.Key()]
	switch {
	case !ok:
		m.rows[rec.Key()] = &cp
		return models.Inserted, nil
	case existing.SameContent(rec):
		return models.Unchanged, nil
	default:
		m.rows[rec.Key()] = &cp
		return models.Updated, nil
	}
}

func (m *memListings) Query(_ context.Context, q models.ListingQuery) ([]*models.ListingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ListingRecord
	for _, r := range m.rows {
		switch {
		case r.Kind != q.Kind:
		case q.ComplexName != nil && r.ComplexName != *q.ComplexName:
		case q.From != nil && r.ObservedOn.Before(*q.From):
		case q.To != nil && q.To.Before(r.ObservedOn):
		case q.MinArea != nil && r.Area < *q.MinArea:
		case q.MaxArea != nil && r.Area > *q.MaxArea:
		default:
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObservedOn != out[j].ObservedOn {
			return out[i].ObservedOn.Before(out[j].ObservedOn)
		}
		return out[i].ListingID < out[j].ListingID
	})
	return out, nil
}

func (m *memListings) ObservationDates(_ context.Context, complexName string, kind models.Kind) ([]models.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[models.Date]struct{})
	var out []models.Date
	for _, r := range m.rows {
		if r.ComplexName != complexName || r.Kind != kind {
			continue
		}
		if _, ok := seen[r.ObservedOn]; !ok {
			seen[r.ObservedOn] = struct{}{}
			out = append(out, r.ObservedOn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out, nil
}

func (m *memListings) LatestObservationDate(ctx context.Context, complexName string, kind models.Kind) (*models.Date, error) {
	dates, _ := m.ObservationDates(ctx, complexName, kind)
	if len(dates) == 0 {
		return nil, nil
	}
	return &dates[0], nil
}

func (m *memListings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memDirectory is an in-memory complex directory.
type memDirectory struct {
	complexes []models.Complex
}

func (d *memDirectory) Resolve(_ context.Context, nameOrID string) (models.Complex, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	for _, c := range d.complexes {
		if c.ID == nameOrID {
			return c, nil
		}
	}
	for _, c := range d.complexes {
		if strings.ToLower(c.Name) == key {
			return c, nil
		}
	}
	return models.Complex{}, &models.NotFoundError{Key: nameOrID}
}

func (d *memDirectory) List(_ context.Context, cities []string) ([]models.Complex, error) {
	var out []models.Complex
	for _, c := range d.complexes {
		if len(cities) == 0 {
			out = append(out, c)
			continue
		}
		for _, city := range cities {
			if c.City == city {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// memExclusions is an in-memory exclusion table.
type memExclusions struct {
	mu      sync.Mutex
	entries map[string]models.ExclusionEntry
	loads   int
	listErr error
}

func newMemExclusions(entries ...models.ExclusionEntry) *memExclusions {
	m := &memExclusions{entries: make(map[string]models.ExclusionEntry)}
	for _, e := range entries {
		m.entries[e.ComplexID] = e
	}
	return m
}

func (m *memExclusions) SaveExclusion(_ context.Context, e models.ExclusionEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.entries[e.ComplexID]
	m.entries[e.ComplexID] = e
	return !existed, nil
}

func (m *memExclusions) DeleteExclusion(_ context.Context, complexID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.entries[complexID]
	delete(m.entries, complexID)
	return existed, nil
}

func (m *memExclusions) ListExclusions(context.Context) ([]models.ExclusionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]models.ExclusionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComplexName < out[j].ComplexName })
	return out, nil
}

// memSnapshots is an in-memory snapshot table.
type memSnapshots struct {
	mu   sync.Mutex
	rows map[string]*models.Snapshot
	next int64
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{rows: make(map[string]*models.Snapshot)}
}

func (m *memSnapshots) UpsertSnapshot(_ context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snap.ComplexName + "@" + string(snap.SnapshotDate)
	cp := *snap
	now := time.Now().UTC()
	if old, ok := m.rows[key]; ok {
		cp.ID, cp.CreatedAt = old.ID, old.CreatedAt
	} else {
		m.next++
		cp.ID, cp.CreatedAt = m.next, now
	}
	cp.UpdatedAt = now
	m.rows[key] = &cp
	out := cp
	return &out, nil
}

func (m *memSnapshots) ListSnapshots(_ context.Context, q models.SnapshotQuery) ([]*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Snapshot
	for _, s := range m.rows {
		switch {
		case s.ComplexName != q.ComplexName:
		case q.From != nil && s.SnapshotDate.Before(*q.From):
		case q.To != nil && q.To.Before(s.SnapshotDate):
		default:
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	return out, nil
}

package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"jk-analytics/models"
	"jk-analytics/storage"
)

// ExclusionStore persists exclusion entries.
type ExclusionStore interface {
	SaveExclusion(ctx context.Context, e models.ExclusionEntry) (bool, error)
	DeleteExclusion(ctx context.Context, complexID string) (bool, error)
	ListExclusions(ctx context.Context) ([]models.ExclusionEntry, error)
}

// ComplexResolver maps a complex name or id onto the directory entry.
type ComplexResolver interface {
	Resolve(ctx context.Context, nameOrID string) (models.Complex, error)
}

// ExclusionRegistry is the authoritative list of complexes that must never
// be scraped or ingested. Entries are cached in memory and the cache is
// rebuilt from the store after every change.
type ExclusionRegistry struct {
	store     ExclusionStore
	directory ComplexResolver
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	loaded bool
	byID   map[string]models.ExclusionEntry
	byName map[string]models.ExclusionEntry
}

func NewExclusionRegistry(store ExclusionStore, directory ComplexResolver, logger *zap.Logger) *ExclusionRegistry {
	return &ExclusionRegistry{
		store:     store,
		directory: directory,
		logger:    logger,
		now:       time.Now,
	}
}

// IsExcluded reports whether the complex identified by name or id is on the
// list. A key that is neither excluded nor known to the directory yields a
// NotFoundError.
func (r *ExclusionRegistry) IsExcluded(ctx context.Context, nameOrID string) (bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return false, err
	}
	if _, ok := r.lookup(nameOrID); ok {
		return true, nil
	}

	c, err := r.directory.Resolve(ctx, nameOrID)
	if err != nil {
		return false, err
	}
	_, ok := r.lookup(c.ID)
	return ok, nil
}

// IsExcludedComplex checks an already resolved complex by id and name.
func (r *ExclusionRegistry) IsExcludedComplex(ctx context.Context, c models.Complex) (bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return false, err
	}
	if _, ok := r.lookup(c.ID); ok {
		return true, nil
	}
	_, ok := r.lookup(c.Name)
	return ok, nil
}

// Add excludes a complex. Adding an already excluded complex refreshes the
// reason and reports created=false.
func (r *ExclusionRegistry) Add(ctx context.Context, nameOrID, reason string) (models.ExclusionEntry, bool, error) {
	c, err := r.directory.Resolve(ctx, nameOrID)
	if err != nil {
		return models.ExclusionEntry{}, false, err
	}

	entry := models.ExclusionEntry{
		ComplexID:   c.ID,
		ComplexName: c.Name,
		Reason:      strings.TrimSpace(reason),
		ExcludedAt:  r.now().UTC(),
	}
	created, err := r.store.SaveExclusion(ctx, entry)
	if err != nil {
		return models.ExclusionEntry{}, false, fmt.Errorf("registry: add %s: %w", c.Name, err)
	}
	r.invalidate()

	r.logger.Info("[registry] complex excluded",
		zap.String("complex_id", c.ID),
		zap.String("complex", c.Name),
		zap.String("reason", entry.Reason),
		zap.Bool("created", created))
	return entry, created, nil
}

// Remove lifts an exclusion. Removing a complex that is not excluded is a
// no-op reported as removed=false.
func (r *ExclusionRegistry) Remove(ctx context.Context, nameOrID string) (bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return false, err
	}

	id := ""
	if e, ok := r.lookup(nameOrID); ok {
		id = e.ComplexID
	} else {
		c, err := r.directory.Resolve(ctx, nameOrID)
		if err != nil {
			if models.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		id = c.ID
	}

	removed, err := r.store.DeleteExclusion(ctx, id)
	if err != nil {
		return false, fmt.Errorf("registry: remove %s: %w", nameOrID, err)
	}
	r.invalidate()

	if removed {
		r.logger.Info("[registry] exclusion lifted", zap.String("complex_id", id))
	}
	return removed, nil
}

// List returns every exclusion entry ordered by complex name.
func (r *ExclusionRegistry) List(ctx context.Context) ([]models.ExclusionEntry, error) {
	return r.store.ListExclusions(ctx)
}

func (r *ExclusionRegistry) lookup(key string) (models.ExclusionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byID[strings.TrimSpace(key)]; ok {
		return e, true
	}
	e, ok := r.byName[storage.NameKey(key)]
	return e, ok
}

func (r *ExclusionRegistry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	entries, err := r.store.ListExclusions(ctx)
	if err != nil {
		return fmt.Errorf("registry: load exclusions: %w", err)
	}

	byID := make(map[string]models.ExclusionEntry, len(entries))
	byName := make(map[string]models.ExclusionEntry, len(entries))
	for _, e := range entries {
		byID[e.ComplexID] = e
		byName[storage.NameKey(e.ComplexName)] = e
	}

	r.mu.Lock()
	r.byID, r.byName, r.loaded = byID, byName, true
	r.mu.Unlock()
	return nil
}

func (r *ExclusionRegistry) invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
}

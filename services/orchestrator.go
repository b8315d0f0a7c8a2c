package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jk-analytics/config"
	"jk-analytics/models"
	"jk-analytics/storage"
	"jk-analytics/utils"
)

// ErrCycleInProgress is returned when another process holds the cycle lock.
var ErrCycleInProgress = errors.New("ingestion cycle already running")

const cycleLockName = "ingest-cycle"

// Scraper fetches the current listings of one complex and kind.
// Network failures are reported as FetchError, malformed pages as ParseError.
type Scraper interface {
	Fetch(ctx context.Context, complex models.Complex, kind models.Kind, maxPages int) ([]*models.RawListing, error)
}

// ListingWriter is the write side of the historical store.
type ListingWriter interface {
	Upsert(ctx context.Context, rec *models.ListingRecord) (models.UpsertResult, error)
	LatestObservationDate(ctx context.Context, complexName string, kind models.Kind) (*models.Date, error)
}

// ExclusionChecker answers whether a resolved complex is excluded.
type ExclusionChecker interface {
	IsExcludedComplex(ctx context.Context, c models.Complex) (bool, error)
}

// Orchestrator runs ingestion cycles: fetch, normalise and store every
// target on a bounded worker pool, isolating failures per target.
type Orchestrator struct {
	scraper    Scraper
	store      ListingWriter
	registry   ExclusionChecker
	normalizer *Normalizer
	retrier    *utils.Retrier
	logger     *zap.Logger

	concurrency int
	rateLimit   time.Duration
	timeout     time.Duration
	maxPages    int

	lock  storage.RunLock
	raw   storage.RawListingWriter
	rawMu sync.Mutex
}

func NewOrchestrator(
	scraper Scraper,
	store ListingWriter,
	registry ExclusionChecker,
	normalizer *Normalizer,
	cfg config.IngestConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		scraper:    scraper,
		store:      store,
		registry:   registry,
		normalizer: normalizer,
		retrier: &utils.Retrier{
			Attempts:    cfg.RetryAttempts,
			Backoff:     cfg.RetryBackoff(),
			Exponential: true,
			Retryable:   models.IsTransient,
			Logger:      logger,
		},
		logger:      logger,
		concurrency: cfg.MaxConcurrency,
		rateLimit:   cfg.RateLimit,
		timeout:     cfg.RequestTimeout,
		maxPages:    cfg.PagesToScrape,
	}
}

// WithRunLock makes cycles mutually exclusive across processes sharing lock.
func (o *Orchestrator) WithRunLock(lock storage.RunLock) *Orchestrator {
	o.lock = lock
	return o
}

// WithRawWriter archives every fetched raw batch.
func (o *Orchestrator) WithRawWriter(w storage.RawListingWriter) *Orchestrator {
	o.raw = w
	return o
}

// Targets expands complexes and kinds into one target per pair.
func Targets(complexes []models.Complex, kinds ...models.Kind) []models.Target {
	out := make([]models.Target, 0, len(complexes)*len(kinds))
	for _, c := range complexes {
		for _, k := range kinds {
			out = append(out, models.Target{Complex: c, Kind: k})
		}
	}
	return out
}

// RunCycle processes targets and reports per-target outcomes. A failing
// target never aborts the cycle. If ctx is cancelled, targets not yet
// started are reported as failed and ctx.Err() is returned with the report.
func (o *Orchestrator) RunCycle(ctx context.Context, targets []models.Target, opts models.CycleOptions) (*models.CycleReport, error) {
	if o.lock != nil {
		ok, err := o.lock.Acquire(ctx, cycleLockName)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: acquire lock: %w", err)
		}
		if !ok {
			return nil, ErrCycleInProgress
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.lock.Release(releaseCtx, cycleLockName); err != nil {
				o.logger.Warn("[orchestrator] failed to release cycle lock", zap.Error(err))
			}
		}()
	}

	report := &models.CycleReport{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	observedOn := opts.ObservedOn
	if observedOn.IsZero() {
		observedOn = models.Today()
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = o.maxPages
	}

	o.logger.Info("[orchestrator] cycle starting",
		zap.String("cycle_id", report.ID),
		zap.Int("targets", len(targets)),
		zap.String("observed_on", observedOn.String()),
		zap.Bool("skip_if_present", opts.SkipIfPresent))

	results := make([]models.TargetResult, len(targets))
	dispatch := make([]bool, len(targets))
	for i, t := range targets {
		results[i] = models.TargetResult{Target: t}
		status, err := o.precheck(ctx, t, opts.SkipIfPresent, observedOn)
		switch {
		case err != nil:
			results[i].Status, results[i].Err = models.StatusFailed, err
		case status != "":
			results[i].Status = status
		default:
			dispatch[i] = true
		}
	}

	pool := utils.NewWorkerPool(o.concurrency, o.rateLimit)
	for i, t := range targets {
		i, t := i, t
		if !dispatch[i] {
			continue
		}
		if ctx.Err() != nil {
			results[i].Status, results[i].Err = models.StatusFailed, fmt.Errorf("not started: %w", ctx.Err())
			continue
		}
		err := pool.Submit(ctx, func() {
			results[i] = o.runTarget(ctx, t, maxPages, observedOn)
		})
		if err != nil {
			results[i].Status, results[i].Err = models.StatusFailed, fmt.Errorf("not started: %w", err)
		}
	}
	pool.Wait()

	for _, res := range results {
		report.Add(res)
	}
	report.Elapsed = time.Since(report.StartedAt)

	o.logger.Info("[orchestrator] cycle finished",
		zap.String("cycle_id", report.ID),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped_excluded", report.SkippedExcluded),
		zap.Int("skipped_present", report.SkippedPresent),
		zap.Duration("elapsed", report.Elapsed))

	return report, ctx.Err()
}

func (o *Orchestrator) precheck(ctx context.Context, t models.Target, skipIfPresent bool, on models.Date) (models.TargetStatus, error) {
	excluded, err := o.registry.IsExcludedComplex(ctx, t.Complex)
	if err != nil {
		return "", fmt.Errorf("exclusion check: %w", err)
	}
	if excluded {
		o.logger.Info("[orchestrator] skipping excluded complex", zap.String("target", t.String()))
		return models.StatusSkippedExcluded, nil
	}

	if skipIfPresent {
		latest, err := o.store.LatestObservationDate(ctx, t.Complex.Name, t.Kind)
		if err != nil {
			return "", fmt.Errorf("presence check: %w", err)
		}
		if latest != nil && *latest == on {
			o.logger.Debug("[orchestrator] already observed today", zap.String("target", t.String()))
			return models.StatusSkippedPresent, nil
		}
	}
	return "", nil
}

func (o *Orchestrator) runTarget(ctx context.Context, t models.Target, maxPages int, on models.Date) models.TargetResult {
	start := time.Now()
	res := models.TargetResult{Target: t}
	finish := func(err error) models.TargetResult {
		res.Elapsed = time.Since(start)
		if err != nil {
			res.Status, res.Err = models.StatusFailed, err
			o.logger.Error("[orchestrator] target failed",
				zap.String("target", t.String()),
				zap.Int("attempts", res.Attempts),
				zap.Error(err))
			return res
		}
		res.Status = models.StatusSucceeded
		o.logger.Info("[orchestrator] target done",
			zap.String("target", t.String()),
			zap.Int("fetched", res.Fetched),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated),
			zap.Int("unchanged", res.Unchanged),
			zap.Int("rejected", res.Rejected),
			zap.Duration("elapsed", res.Elapsed))
		return res
	}

	var raw []*models.RawListing
	calls, err := o.retrier.Do(ctx, "fetch "+t.String(), func(ctx context.Context) error {
		out, err := o.fetchOnce(ctx, t, maxPages)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	res.Attempts = calls
	if err != nil {
		return finish(err)
	}
	res.Fetched = len(raw)
	o.archive(raw)

	for _, r := range raw {
		if r.Kind == "" {
			r.Kind = t.Kind
		}
		if r.ComplexName == "" {
			r.ComplexName = t.Complex.Name
		}
	}
	records, rejected := o.normalizer.NormalizeAll(raw, on)
	res.Rejected = len(rejected)

	for _, rec := range records {
		outcome, err := o.store.Upsert(ctx, rec)
		if err != nil {
			if models.IsValidation(err) {
				res.Rejected++
				continue
			}
			return finish(fmt.Errorf("store %s: %w", rec.Key(), err))
		}
		switch outcome {
		case models.Inserted:
			res.Inserted++
		case models.Updated:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	return finish(nil)
}

// fetchOnce applies the per-request timeout. A timeout counts as a transient
// fetch failure; cancellation of the whole cycle does not.
func (o *Orchestrator) fetchOnce(ctx context.Context, t models.Target, maxPages int) ([]*models.RawListing, error) {
	reqCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	out, err := o.scraper.Fetch(reqCtx, t.Complex, t.Kind, maxPages)
	if err != nil && !models.IsTransient(err) && ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return nil, &models.FetchError{Target: t.String(), Err: err}
	}
	return out, err
}

func (o *Orchestrator) archive(raw []*models.RawListing) {
	if o.raw == nil || len(raw) == 0 {
		return
	}
	o.rawMu.Lock()
	defer o.rawMu.Unlock()
	if err := o.raw.WriteRaw(raw); err != nil {
		o.logger.Warn("[orchestrator] raw archive write failed", zap.Error(err))
	}
}

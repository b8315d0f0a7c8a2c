package models

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

type TargetStatus string

const (
	StatusSucceeded       TargetStatus = "succeeded"
	StatusFailed          TargetStatus = "failed"
	StatusSkippedExcluded TargetStatus = "skipped_excluded"
	StatusSkippedPresent  TargetStatus = "skipped_present"
)

// TargetResult is the per-target line of a CycleReport.
type TargetResult struct {
	Target    Target
	Status    TargetStatus
	Attempts  int
	Fetched   int
	Inserted  int
	Updated   int
	Unchanged int
	Rejected  int
	Err       error
	Elapsed   time.Duration
}

// CycleOptions tune a single ingestion cycle.
type CycleOptions struct {
	// SkipIfPresent skips targets that already hold an observation for
	// ObservedOn ("scrape only if missing").
	SkipIfPresent bool
	MaxPages      int
	ObservedOn    Date
}

// CycleReport is what one orchestrator cycle did.
type CycleReport struct {
	ID              string
	StartedAt       time.Time
	Elapsed         time.Duration
	Attempted       int
	Succeeded       int
	SkippedExcluded int
	SkippedPresent  int
	Failed          int
	Results         []TargetResult
}

// Add folds a target result into the counters.
func (r *CycleReport) Add(res TargetResult) {
	switch res.Status {
	case StatusSucceeded:
		r.Attempted++
		r.Succeeded++
	case StatusFailed:
		// a target that failed before its first fetch was never attempted
		if res.Attempts > 0 {
			r.Attempted++
		}
		r.Failed++
	case StatusSkippedExcluded:
		r.SkippedExcluded++
	case StatusSkippedPresent:
		r.SkippedPresent++
	}
	r.Results = append(r.Results, res)
}

// Skipped returns the targets that were not attempted for the given reason.
func (r *CycleReport) Skipped(status TargetStatus) []Target {
	var out []Target
	for _, res := range r.Results {
		if res.Status == status {
			out = append(out, res.Target)
		}
	}
	return out
}

// Err combines the causes of all failed targets, or nil.
func (r *CycleReport) Err() error {
	var err error
	for _, res := range r.Results {
		if res.Status == StatusFailed && res.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", res.Target, res.Err))
		}
	}
	return err
}

package models

import "time"

// Complex is a residential complex (JK) as known to the complex directory.
type Complex struct {
	ID       string
	Name     string
	City     string
	District string
}

// ExclusionEntry marks a complex that must never be scraped or ingested.
type ExclusionEntry struct {
	ComplexID   string
	ComplexName string
	Reason      string
	ExcludedAt  time.Time
}

// Target is one unit of ingestion work: a complex and a listing kind.
type Target struct {
	Complex Complex
	Kind    Kind
}

func (t Target) String() string {
	return t.Complex.Name + "/" + string(t.Kind)
}

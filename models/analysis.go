package models

// FlatType is the flat-size bucket used to group listings.
type FlatType string

const (
	FlatStudio    FlatType = "Studio"
	FlatOneBed    FlatType = "1BR"
	FlatTwoBed    FlatType = "2BR"
	FlatThreePlus FlatType = "3BR+"
)

// FlatTypes lists the buckets from smallest to largest.
var FlatTypes = []FlatType{FlatStudio, FlatOneBed, FlatTwoBed, FlatThreePlus}

// AggregateStatistics summarises a numeric series. A zero Count means the
// series was empty and the other fields carry no information.
type AggregateStatistics struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

func (s AggregateStatistics) Empty() bool { return s.Count == 0 }

// KindFilter selects which series an analysis covers.
type KindFilter string

const (
	FilterBoth   KindFilter = "BOTH"
	FilterRental KindFilter = "RENTAL"
	FilterSale   KindFilter = "SALE"
)

func (f KindFilter) Includes(k Kind) bool {
	return f == "" || f == FilterBoth || string(f) == string(k)
}

// MatchPolicy records how rental and sale observation dates were chosen.
type MatchPolicy string

const (
	MatchSameDate          MatchPolicy = "same_date"
	MatchIndependentLatest MatchPolicy = "independent_latest"
	MatchExplicitDate      MatchPolicy = "explicit_date"
)

// BucketStats is the per flat-type slice of an analysis.
type BucketStats struct {
	FlatType         FlatType
	RentalPrice      AggregateStatistics
	SalePrice        AggregateStatistics
	RentalPricePerM2 AggregateStatistics
	SalePricePerM2   AggregateStatistics
	Yield            *AggregateStatistics
}

// AnalyzeRequest parameterises one aggregation run.
type AnalyzeRequest struct {
	ComplexName   string
	Kinds         KindFilter
	AreaTolerance *float64
	Date          *Date
}

// Analysis is the aggregation engine result for one complex. When
// InsufficientData is set, Message explains why and the Count fields of the
// price statistics carry the raw sample sizes.
type Analysis struct {
	ComplexName   string
	Kinds         KindFilter
	RentalDate    *Date
	SaleDate      *Date
	MatchPolicy   MatchPolicy
	AreaTolerance float64

	RentalPrice      AggregateStatistics
	SalePrice        AggregateStatistics
	RentalPricePerM2 AggregateStatistics
	SalePricePerM2   AggregateStatistics

	// Yield is nil when no rental/sale pair could be matched.
	Yield        *AggregateStatistics
	MatchedPairs int

	Buckets []BucketStats

	InsufficientData bool
	Message          string

	Rentals []*ListingRecord
	Sales   []*ListingRecord
}

// Bucket returns the breakdown for ft, or nil.
func (a *Analysis) Bucket(ft FlatType) *BucketStats {
	for i := range a.Buckets {
		if a.Buckets[i].FlatType == ft {
			return &a.Buckets[i]
		}
	}
	return nil
}

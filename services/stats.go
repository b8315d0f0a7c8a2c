package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"jk-analytics/models"
)

// Describe computes count, min, max, mean and median of values. The median
// of an even-length series is the mean of the two middle values after an
// ascending sort. The input slice is not modified.
func Describe(values []float64) models.AggregateStatistics {
	if len(values) == 0 {
		return models.AggregateStatistics{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := decimal.Zero
	for _, v := range sorted {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(sorted))))

	return models.AggregateStatistics{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   mean.InexactFloat64(),
		Median: median(sorted),
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return decimal.NewFromFloat(sorted[n/2-1]).
		Add(decimal.NewFromFloat(sorted[n/2])).
		Div(decimal.NewFromInt(2)).
		InexactFloat64()
}

// Bucketer assigns flat types from room count, falling back to area cutoffs.
// Cutoffs are upper bounds (inclusive) for Studio, 1BR and 2BR; anything
// larger is 3BR+.
type Bucketer struct {
	Cutoffs []float64
}

func NewBucketer(cutoffs []float64) Bucketer {
	if len(cutoffs) != len(models.FlatTypes)-1 {
		cutoffs = []float64{35, 50, 75}
	}
	return Bucketer{Cutoffs: cutoffs}
}

func (b Bucketer) FlatType(rec *models.ListingRecord) models.FlatType {
	if rec.Rooms != nil {
		switch r := *rec.Rooms; {
		case r <= 0:
			return models.FlatStudio
		case r == 1:
			return models.FlatOneBed
		case r == 2:
			return models.FlatTwoBed
		default:
			return models.FlatThreePlus
		}
	}
	for i, cutoff := range b.Cutoffs {
		if rec.Area <= cutoff {
			return models.FlatTypes[i]
		}
	}
	return models.FlatThreePlus
}

func round(f float64, places int32) float64 {
	return decimal.NewFromFloat(f).Round(places).InexactFloat64()
}

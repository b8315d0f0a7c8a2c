package services

import (
	"fmt"
	"strconv"
	"strings"

	"jk-analytics/models"
)

const na = "n/a"

// StatsView is the display form of AggregateStatistics.
type StatsView struct {
	Count  string
	Min    string
	Max    string
	Mean   string
	Median string
}

// BucketView is one flat-type row of an analysis.
type BucketView struct {
	FlatType    string
	Rentals     string
	Sales       string
	RentMedian  string
	SaleMedian  string
	SalePerM2   string
	YieldMedian string
}

// AnalysisView is the rendered form of an Analysis. Every field is set on
// every path; absent figures render as "n/a".
type AnalysisView struct {
	Complex     string
	Dates       string
	Policy      string
	Tolerance   string
	Status      string
	Rental      StatsView
	Sale        StatsView
	RentalPerM2 StatsView
	SalePerM2   StatsView
	Yield       StatsView
	Pairs       string
	Buckets     []BucketView
}

// FormatAnalysis derives the display view of a.
func FormatAnalysis(a *models.Analysis) AnalysisView {
	v := AnalysisView{
		Complex:     a.ComplexName,
		Dates:       fmt.Sprintf("rentals %s, sales %s", dateOrNA(a.RentalDate), dateOrNA(a.SaleDate)),
		Policy:      string(a.MatchPolicy),
		Tolerance:   fmt.Sprintf("±%.1f m²", a.AreaTolerance),
		Status:      "ok",
		Rental:      formatStats(a.RentalPrice, formatMoney),
		Sale:        formatStats(a.SalePrice, formatMoney),
		RentalPerM2: formatStats(a.RentalPricePerM2, formatMoney),
		SalePerM2:   formatStats(a.SalePricePerM2, formatMoney),
		Yield:       formatStats(models.AggregateStatistics{}, formatPct),
		Pairs:       strconv.Itoa(a.MatchedPairs),
	}
	if v.Policy == "" {
		v.Policy = na
	}
	if a.Yield != nil {
		v.Yield = formatStats(*a.Yield, formatPct)
	}
	if a.InsufficientData {
		v.Status = "insufficient data: " + a.Message
	}

	for _, b := range a.Buckets {
		bv := BucketView{
			FlatType:    string(b.FlatType),
			Rentals:     strconv.Itoa(b.RentalPrice.Count),
			Sales:       strconv.Itoa(b.SalePrice.Count),
			RentMedian:  medianOrNA(b.RentalPrice, formatMoney),
			SaleMedian:  medianOrNA(b.SalePrice, formatMoney),
			SalePerM2:   medianOrNA(b.SalePricePerM2, formatMoney),
			YieldMedian: na,
		}
		if b.Yield != nil {
			bv.YieldMedian = formatPct(b.Yield.Median)
		}
		v.Buckets = append(v.Buckets, bv)
	}
	return v
}

func formatStats(s models.AggregateStatistics, f func(float64) string) StatsView {
	if s.Empty() {
		return StatsView{Count: "0", Min: na, Max: na, Mean: na, Median: na}
	}
	return StatsView{
		Count:  strconv.Itoa(s.Count),
		Min:    f(s.Min),
		Max:    f(s.Max),
		Mean:   f(s.Mean),
		Median: f(s.Median),
	}
}

func medianOrNA(s models.AggregateStatistics, f func(float64) string) string {
	if s.Empty() {
		return na
	}
	return f(s.Median)
}

func dateOrNA(d *models.Date) string {
	if d == nil {
		return na
	}
	return d.String()
}

// formatMoney renders whole currency units with space-grouped thousands.
func formatMoney(f float64) string {
	n := int64(round(f, 0))
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// formatPct renders a fraction as a percentage with two decimals.
func formatPct(f float64) string {
	return strconv.FormatFloat(round(f*100, 2), 'f', 2, 64) + "%"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

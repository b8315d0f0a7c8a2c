package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"jk-analytics/config"
	"jk-analytics/models"
)

// ListingReader is the read side of the historical store.
type ListingReader interface {
	Query(ctx context.Context, q models.ListingQuery) ([]*models.ListingRecord, error)
	ObservationDates(ctx context.Context, complexName string, kind models.Kind) ([]models.Date, error)
}

// AnalyticsService is the aggregation engine: descriptive price statistics,
// flat-type buckets and rental yields over a complex's latest known state.
type AnalyticsService struct {
	store     ListingReader
	bucketer  Bucketer
	tolerance float64
	logger    *zap.Logger
}

func NewAnalyticsService(store ListingReader, cfg config.AnalyticsConfig, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		store:     store,
		bucketer:  NewBucketer(cfg.FlatTypeThresholds),
		tolerance: cfg.AreaTolerance,
		logger:    logger,
	}
}

// Analyze aggregates one complex. Without an explicit date, rentals and
// sales are taken from the latest day on which both kinds were observed; if
// no such day exists each kind uses its own latest day.
func (s *AnalyticsService) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.Analysis, error) {
	name := strings.TrimSpace(req.ComplexName)
	if name == "" {
		return nil, &models.ValidationError{Field: "complex_name", Reason: "is required"}
	}
	tolerance := s.tolerance
	if req.AreaTolerance != nil {
		tolerance = *req.AreaTolerance
	}
	if tolerance < 0 {
		return nil, &models.ValidationError{Field: "area_tolerance", Reason: "must be >= 0"}
	}
	kinds := req.Kinds
	if kinds == "" {
		kinds = models.FilterBoth
	}

	rentalDate, saleDate, policy, err := s.pickDates(ctx, name, kinds, req.Date)
	if err != nil {
		return nil, err
	}

	rentals, err := s.load(ctx, name, models.KindRental, rentalDate)
	if err != nil {
		return nil, err
	}
	sales, err := s.load(ctx, name, models.KindSale, saleDate)
	if err != nil {
		return nil, err
	}

	a := Aggregate(name, kinds, rentals, sales, tolerance, s.bucketer)
	a.RentalDate, a.SaleDate, a.MatchPolicy = rentalDate, saleDate, policy

	s.logger.Debug("[analytics] analysed complex",
		zap.String("complex", name),
		zap.Int("rentals", len(rentals)),
		zap.Int("sales", len(sales)),
		zap.Int("pairs", a.MatchedPairs),
		zap.String("policy", string(policy)),
		zap.Bool("insufficient", a.InsufficientData))
	return a, nil
}

func (s *AnalyticsService) pickDates(ctx context.Context, name string, kinds models.KindFilter, explicit *models.Date) (rental, sale *models.Date, policy models.MatchPolicy, err error) {
	if explicit != nil {
		if _, err := models.ParseDate(string(*explicit)); err != nil {
			return nil, nil, "", err
		}
		d := *explicit
		if kinds.Includes(models.KindRental) {
			rental = &d
		}
		if kinds.Includes(models.KindSale) {
			sale = &d
		}
		return rental, sale, models.MatchExplicitDate, nil
	}

	var rentalDates, saleDates []models.Date
	if kinds.Includes(models.KindRental) {
		if rentalDates, err = s.store.ObservationDates(ctx, name, models.KindRental); err != nil {
			return nil, nil, "", fmt.Errorf("analytics: rental dates: %w", err)
		}
	}
	if kinds.Includes(models.KindSale) {
		if saleDates, err = s.store.ObservationDates(ctx, name, models.KindSale); err != nil {
			return nil, nil, "", fmt.Errorf("analytics: sale dates: %w", err)
		}
	}

	if len(rentalDates) > 0 && len(saleDates) > 0 {
		saleSet := make(map[models.Date]struct{}, len(saleDates))
		for _, d := range saleDates {
			saleSet[d] = struct{}{}
		}
		for _, d := range rentalDates {
			if _, ok := saleSet[d]; ok {
				common := d
				return &common, &common, models.MatchSameDate, nil
			}
		}
	}

	if len(rentalDates) > 0 {
		rental = &rentalDates[0]
	}
	if len(saleDates) > 0 {
		sale = &saleDates[0]
	}
	return rental, sale, models.MatchIndependentLatest, nil
}

func (s *AnalyticsService) load(ctx context.Context, name string, kind models.Kind, on *models.Date) ([]*models.ListingRecord, error) {
	if on == nil {
		return nil, nil
	}
	recs, err := s.store.Query(ctx, models.ListingQuery{
		Kind:        kind,
		ComplexName: &name,
		From:        on,
		To:          on,
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: load %s %s: %w", name, kind, err)
	}
	return recs, nil
}

// Aggregate is the pure part of Analyze: it summarises already selected
// rental and sale series.
func Aggregate(name string, kinds models.KindFilter, rentals, sales []*models.ListingRecord, tolerance float64, b Bucketer) *models.Analysis {
	a := &models.Analysis{
		ComplexName:   name,
		Kinds:         kinds,
		AreaTolerance: tolerance,
		Rentals:       rentals,
		Sales:         sales,
	}

	a.RentalPrice, a.RentalPricePerM2 = priceSeries(rentals)
	a.SalePrice, a.SalePricePerM2 = priceSeries(sales)

	rentalByType := groupByType(rentals, b)
	saleByType := groupByType(sales, b)

	yields, pairsByType := matchYields(rentals, sales, tolerance, b)
	a.MatchedPairs = len(yields)
	if len(yields) > 0 {
		st := Describe(yields)
		a.Yield = &st
	}

	for _, ft := range models.FlatTypes {
		bs := models.BucketStats{FlatType: ft}
		bs.RentalPrice, bs.RentalPricePerM2 = priceSeries(rentalByType[ft])
		bs.SalePrice, bs.SalePricePerM2 = priceSeries(saleByType[ft])
		if y := pairsByType[ft]; len(y) > 0 {
			st := Describe(y)
			bs.Yield = &st
		}
		a.Buckets = append(a.Buckets, bs)
	}

	a.InsufficientData, a.Message = sufficiency(a, kinds)
	return a
}

func sufficiency(a *models.Analysis, kinds models.KindFilter) (bool, string) {
	counts := fmt.Sprintf("(rentals=%d, sales=%d)", a.RentalPrice.Count, a.SalePrice.Count)
	switch {
	case kinds == models.FilterRental && a.RentalPrice.Empty():
		return true, "no rental listings on the selected date " + counts
	case kinds == models.FilterSale && a.SalePrice.Empty():
		return true, "no sale listings on the selected date " + counts
	case kinds != models.FilterBoth:
		return false, ""
	case a.RentalPrice.Empty() && a.SalePrice.Empty():
		return true, "no listings for this complex " + counts
	case a.RentalPrice.Empty():
		return true, "no rental listings, yield not computed " + counts
	case a.SalePrice.Empty():
		return true, "no sale listings, yield not computed " + counts
	case a.Yield == nil:
		return true, fmt.Sprintf("no rental/sale pair within %.1f m², yield not computed %s", a.AreaTolerance, counts)
	}
	return false, ""
}

func priceSeries(recs []*models.ListingRecord) (price, perM2 models.AggregateStatistics) {
	prices := make([]float64, 0, len(recs))
	ppm := make([]float64, 0, len(recs))
	for _, r := range recs {
		prices = append(prices, float64(r.Price))
		ppm = append(ppm, r.PricePerM2())
	}
	return Describe(prices), Describe(ppm)
}

func groupByType(recs []*models.ListingRecord, b Bucketer) map[models.FlatType][]*models.ListingRecord {
	out := make(map[models.FlatType][]*models.ListingRecord)
	for _, r := range recs {
		ft := b.FlatType(r)
		out[ft] = append(out[ft], r)
	}
	return out
}

// matchYields pairs every rental with every sale whose area is within
// tolerance and returns annual gross yields (rent*12/sale price). Pairs
// whose listings share a flat type are also collected per bucket.
func matchYields(rentals, sales []*models.ListingRecord, tolerance float64, b Bucketer) ([]float64, map[models.FlatType][]float64) {
	var all []float64
	byType := make(map[models.FlatType][]float64)
	for _, r := range rentals {
		rt := b.FlatType(r)
		for _, s := range sales {
			if math.Abs(r.Area-s.Area) > tolerance {
				continue
			}
			y := AnnualYield(r.Price, s.Price)
			all = append(all, y)
			if b.FlatType(s) == rt {
				byType[rt] = append(byType[rt], y)
			}
		}
	}
	return all, byType
}

// AnnualYield is monthly rent * 12 / sale price, as a fraction.
func AnnualYield(monthlyRent, salePrice int64) float64 {
	return grossYield(float64(monthlyRent), salePrice)
}

// grossYield takes the rent as a float so that medians of even-length
// series keep their fractional part.
func grossYield(monthlyRent float64, salePrice int64) float64 {
	if salePrice <= 0 {
		return 0
	}
	return monthlyRent * 12 / float64(salePrice)
}

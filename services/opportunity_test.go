package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jk-analytics/models"
)

func opportunityListings() *memListings {
	return newMemListings(
		// Nurly Tau: one cheap 2BR against a strong rent.
		listing("n-r1", models.KindRental, "Nurly Tau", 440_000, 60, 2, day1),
		listing("n-s1", models.KindSale, "Nurly Tau", 24_000_000, 60, 2, day1),

		// Esentai City: two 2BR sales around a 65M median.
		listing("e-r1", models.KindRental, "Esentai City", 350_000, 65, 2, day1),
		listing("e-s1", models.KindSale, "Esentai City", 60_000_000, 65, 2, day1),
		listing("e-s2", models.KindSale, "Esentai City", 70_000_000, 66, 2, day1),

		// Highvill is in Astana.
		listing("h-r1", models.KindRental, "Highvill", 500_000, 70, 2, day1),
		listing("h-s1", models.KindSale, "Highvill", 25_000_000, 70, 2, day1),
	)
}

func newTestFinder(t *testing.T, excluded ...models.ExclusionEntry) *OpportunityFinder {
	t.Helper()
	cfg := testAnalyticsConfig()
	dir := testDirectory()
	registry := NewExclusionRegistry(newMemExclusions(excluded...), dir, zap.NewNop())
	analytics := NewAnalyticsService(opportunityListings(), cfg, zap.NewNop())
	return NewOpportunityFinder(dir, registry, analytics, cfg, zap.NewNop())
}

func TestFindRanksStrongBuyFirst(t *testing.T) {
	f := newTestFinder(t)
	req := f.DefaultRequest()
	req.Cities = []string{"Almaty"}

	cands, err := f.Find(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	assert.Equal(t, "n-s1", cands[0].Listing.ListingID)
	assert.Equal(t, models.TierStrongBuy, cands[0].Tier)
	assert.InDelta(t, 0.22, cands[0].Yield, 1e-9)
	assert.Equal(t, "complex", cands[0].ComparableScope)

	assert.Equal(t, "e-s1", cands[1].Listing.ListingID)
	assert.Equal(t, models.TierBuy, cands[1].Tier)
	assert.InDelta(t, 0.07, cands[1].Yield, 1e-9)
	assert.InDelta(t, -5.0/65.0, cands[1].PriceVsMedian, 1e-9)
	assert.Equal(t, models.DealGood, cands[1].Deal)
	assert.Equal(t, "bucket", cands[1].ComparableScope)

	assert.Equal(t, "e-s2", cands[2].Listing.ListingID)
	assert.Equal(t, models.TierConsider, cands[2].Tier)
	assert.Equal(t, models.DealAboveMarket, cands[2].Deal)
}

func TestFindSkipsExcludedComplexes(t *testing.T) {
	f := newTestFinder(t, models.ExclusionEntry{ComplexID: "102", ComplexName: "Esentai City"})
	req := f.DefaultRequest()
	req.Cities = []string{"Almaty"}

	cands, err := f.Find(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "Nurly Tau", cands[0].Complex.Name)
}

func TestFindFilters(t *testing.T) {
	f := newTestFinder(t)

	req := f.DefaultRequest()
	maxPrice := int64(30_000_000)
	req.MaxPrice = &maxPrice
	cands, err := f.Find(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.LessOrEqual(t, c.Listing.Price, maxPrice)
	}

	req = f.DefaultRequest()
	req.Limit = 1
	cands, err = f.Find(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, cands, 1)

	req = f.DefaultRequest()
	req.FlatTypes = []models.FlatType{models.FlatOneBed}
	cands, err = f.Find(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, cands)

	req = f.DefaultRequest()
	req.YieldThreshold = 0.5
	req.DiscountThreshold = 0.5
	cands, err = f.Find(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestFindRejectsBadThresholds(t *testing.T) {
	f := newTestFinder(t)
	_, err := f.Find(context.Background(), models.FindRequest{DiscountThreshold: 1.5})
	assert.True(t, models.IsValidation(err))
	_, err = f.Find(context.Background(), models.FindRequest{YieldThreshold: -0.1})
	assert.True(t, models.IsValidation(err))
}

func TestScenarioRederivesYield(t *testing.T) {
	f := newTestFinder(t)
	cand := &models.OpportunityCandidate{
		Listing:      listing("n-s1", models.KindSale, "Nurly Tau", 24_000_000, 60, 2, day1),
		Comparable:   models.AggregateStatistics{Count: 1, Median: 24_000_000},
		RentalMedian: 440_000,
	}

	s := f.Scenario(cand, 0.10)
	assert.Equal(t, int64(21_600_000), s.Price)
	assert.Equal(t, int64(2_400_000), s.Savings)
	assert.InDelta(t, 440_000*12/21_600_000.0, s.Yield, 1e-9)
	assert.InDelta(t, -0.10, s.PriceVsMedian, 1e-9)
	assert.Equal(t, models.TierStrongBuy, s.Tier)
}

func TestFindScansLatestSaleInventory(t *testing.T) {
	cfg := testAnalyticsConfig()
	dir := testDirectory()
	store := newMemListings(
		listing("r1", models.KindRental, "Nurly Tau", 440_000, 60, 2, day1),
		listing("s1", models.KindSale, "Nurly Tau", 24_000_000, 60, 2, day1),
		// sales were scraped again the next day, rentals were not
		listing("s1", models.KindSale, "Nurly Tau", 26_000_000, 60, 2, day2),
		listing("s2", models.KindSale, "Nurly Tau", 20_000_000, 61, 2, day2),
	)
	registry := NewExclusionRegistry(newMemExclusions(), dir, zap.NewNop())
	f := NewOpportunityFinder(dir, registry, NewAnalyticsService(store, cfg, zap.NewNop()), cfg, zap.NewNop())

	req := f.DefaultRequest()
	req.Cities = []string{"Almaty"}
	cands, err := f.Find(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, "s2", cands[0].Listing.ListingID)
	assert.Equal(t, "s1", cands[1].Listing.ListingID)
	for _, c := range cands {
		assert.Equal(t, day2, c.Listing.ObservedOn)
		assert.Equal(t, "bucket", c.ComparableScope)
		assert.InDelta(t, 23_000_000.0, c.Comparable.Median, 1e-6)
		assert.InDelta(t, 440_000.0, c.RentalMedian, 1e-6)
	}
	assert.InDelta(t, 440_000*12/26_000_000.0, cands[1].Yield, 1e-12)
}

func TestEvaluateKeepsFractionalRentMedian(t *testing.T) {
	f := newTestFinder(t)
	rentals := []*models.ListingRecord{
		listing("r1", models.KindRental, "Nurly Tau", 300_001, 60, 2, day1),
		listing("r2", models.KindRental, "Nurly Tau", 300_000, 60, 2, day1),
	}
	sale := listing("s1", models.KindSale, "Nurly Tau", 10_000_000, 60, 2, day1)
	a := Aggregate("Nurly Tau", models.FilterBoth, rentals, []*models.ListingRecord{sale}, 5, NewBucketer(nil))

	cand := f.Evaluate(models.Complex{ID: "101", Name: "Nurly Tau", City: "Almaty"}, a, a, sale)
	require.NotNil(t, cand)
	assert.Equal(t, 300_000.5, cand.RentalMedian)
	assert.InDelta(t, 300_000.5*12/10_000_000, cand.Yield, 1e-12)

	s := f.Scenario(cand, 0.5)
	assert.Equal(t, int64(5_000_000), s.Price)
	assert.InDelta(t, 300_000.5*12/5_000_000, s.Yield, 1e-12)
}

func TestMaxDiscountDropsImplausibleListings(t *testing.T) {
	cfg := testAnalyticsConfig()
	dir := testDirectory()
	store := newMemListings(
		listing("e-r1", models.KindRental, "Esentai City", 350_000, 65, 2, day1),
		listing("e-s1", models.KindSale, "Esentai City", 60_000_000, 65, 2, day1),
		listing("e-s2", models.KindSale, "Esentai City", 70_000_000, 66, 2, day1),
		listing("e-s3", models.KindSale, "Esentai City", 65_000_000, 64, 2, day1),
		listing("e-typo", models.KindSale, "Esentai City", 6_500_000, 65, 2, day1),
	)
	registry := NewExclusionRegistry(newMemExclusions(), dir, zap.NewNop())
	f := NewOpportunityFinder(dir, registry, NewAnalyticsService(store, cfg, zap.NewNop()), cfg, zap.NewNop())

	cands, err := f.Find(context.Background(), f.DefaultRequest())
	require.NoError(t, err)
	for _, c := range cands {
		assert.NotEqual(t, "e-typo", c.Listing.ListingID)
	}
}

func TestTierAndDealBands(t *testing.T) {
	s := Scorer{StrongBuyYield: 0.20, BuyYield: 0.06, ConsiderYield: 0.05}
	tests := []struct {
		yield, pvm float64
		want       models.Tier
	}{
		{0.22, 0.10, models.TierStrongBuy},
		{0.07, -0.05, models.TierBuy},
		{0.07, 0.05, models.TierConsider},
		{0.055, -0.20, models.TierConsider},
		{0.04, -0.30, models.TierNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Tier(tt.yield, tt.pvm), "yield=%v pvm=%v", tt.yield, tt.pvm)
	}

	assert.Equal(t, models.DealExcellent, Deal(-0.20))
	assert.Equal(t, models.DealGood, Deal(-0.10))
	assert.Equal(t, models.DealFair, Deal(0.0))
	assert.Equal(t, models.DealAboveMarket, Deal(0.10))
}

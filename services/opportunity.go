package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jk-analytics/config"
	"jk-analytics/models"
)

// minBucketComparables is the smallest bucket sale sample a listing is
// scored against before falling back to the complex-wide series.
const minBucketComparables = 2

// ComplexLister enumerates the complex directory.
type ComplexLister interface {
	List(ctx context.Context, cities []string) ([]models.Complex, error)
}

// Analyzer produces the latest-state analysis of one complex.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.Analysis, error)
}

// Scorer turns a yield and a price position into a tier.
type Scorer struct {
	StrongBuyYield float64
	BuyYield       float64
	ConsiderYield  float64
}

// Tier applies the thresholds from the highest tier down, so the first
// satisfied tier wins.
func (s Scorer) Tier(yield, priceVsMedian float64) models.Tier {
	switch {
	case yield > s.StrongBuyYield:
		return models.TierStrongBuy
	case yield > s.BuyYield && priceVsMedian < 0:
		return models.TierBuy
	case yield > s.ConsiderYield:
		return models.TierConsider
	}
	return models.TierNone
}

// Deal grades a price position against the comparable median.
func Deal(priceVsMedian float64) models.DealBand {
	switch {
	case priceVsMedian <= -0.15:
		return models.DealExcellent
	case priceVsMedian <= -0.05:
		return models.DealGood
	case priceVsMedian <= 0.05:
		return models.DealFair
	}
	return models.DealAboveMarket
}

// OpportunityFinder scans current sale listings for under-priced or
// high-yield flats.
type OpportunityFinder struct {
	directory ComplexLister
	registry  ExclusionChecker
	analyzer  Analyzer
	bucketer  Bucketer
	scorer    Scorer
	cfg       config.AnalyticsConfig
	logger    *zap.Logger
}

func NewOpportunityFinder(
	directory ComplexLister,
	registry ExclusionChecker,
	analyzer Analyzer,
	cfg config.AnalyticsConfig,
	logger *zap.Logger,
) *OpportunityFinder {
	return &OpportunityFinder{
		directory: directory,
		registry:  registry,
		analyzer:  analyzer,
		bucketer:  NewBucketer(cfg.FlatTypeThresholds),
		scorer: Scorer{
			StrongBuyYield: cfg.StrongBuyYield,
			BuyYield:       cfg.BuyYield,
			ConsiderYield:  cfg.ConsiderYield,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// DefaultRequest fills a FindRequest from configuration.
func (f *OpportunityFinder) DefaultRequest() models.FindRequest {
	return models.FindRequest{
		DiscountThreshold: f.cfg.DiscountThreshold,
		YieldThreshold:    f.cfg.YieldThreshold,
		Limit:             f.cfg.OpportunityLimit,
	}
}

// Find returns qualifying candidates ranked by tier, then yield, then
// discount. A listing qualifies when it is at least DiscountThreshold below
// its comparable median or yields at least YieldThreshold.
func (f *OpportunityFinder) Find(ctx context.Context, req models.FindRequest) ([]*models.OpportunityCandidate, error) {
	if req.DiscountThreshold < 0 || req.DiscountThreshold >= 1 {
		return nil, &models.ValidationError{Field: "discount_threshold", Reason: "must be in [0, 1)"}
	}
	if req.YieldThreshold < 0 {
		return nil, &models.ValidationError{Field: "yield_threshold", Reason: "must be >= 0"}
	}

	complexes, err := f.directory.List(ctx, req.Cities)
	if err != nil {
		return nil, fmt.Errorf("opportunities: list complexes: %w", err)
	}

	eligible := make([]models.Complex, 0, len(complexes))
	for _, c := range complexes {
		excluded, err := f.registry.IsExcludedComplex(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("opportunities: exclusion check %s: %w", c.Name, err)
		}
		if !excluded {
			eligible = append(eligible, c)
		}
	}

	var (
		mu         sync.Mutex
		candidates []*models.OpportunityCandidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range eligible {
		c := c
		g.Go(func() error {
			market, err := f.analyzer.Analyze(gctx, models.AnalyzeRequest{ComplexName: c.Name, Kinds: models.FilterBoth})
			if err != nil {
				return fmt.Errorf("opportunities: analyse %s: %w", c.Name, err)
			}
			// the matched-date market can trail the newest sale scrape
			inventory, err := f.analyzer.Analyze(gctx, models.AnalyzeRequest{ComplexName: c.Name, Kinds: models.FilterSale})
			if err != nil {
				return fmt.Errorf("opportunities: analyse %s sales: %w", c.Name, err)
			}
			found := f.evaluateComplex(c, inventory, market, req)
			mu.Lock()
			candidates = append(candidates, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	Rank(candidates)
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	f.logger.Info("[opportunities] scan finished",
		zap.Strings("cities", req.Cities),
		zap.Int("complexes", len(eligible)),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

func (f *OpportunityFinder) evaluateComplex(c models.Complex, inventory, market *models.Analysis, req models.FindRequest) []*models.OpportunityCandidate {
	var out []*models.OpportunityCandidate
	for _, l := range inventory.Sales {
		cand := f.Evaluate(c, inventory, market, l)
		if cand == nil {
			continue
		}
		if cand.PriceVsMedian < -f.cfg.MaxDiscount && f.cfg.MaxDiscount > 0 {
			f.logger.Debug("[opportunities] discount implausible, skipping",
				zap.String("listing_id", l.ListingID),
				zap.Float64("price_vs_median", cand.PriceVsMedian))
			continue
		}
		if req.MaxPrice != nil && l.Price > *req.MaxPrice {
			continue
		}
		if len(req.FlatTypes) > 0 && !containsFlatType(req.FlatTypes, cand.FlatType) {
			continue
		}
		if cand.PriceVsMedian > -req.DiscountThreshold && cand.Yield < req.YieldThreshold {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// Evaluate scores one sale listing. Comparable sale medians come from
// inventory, the partition the listing was observed in; the rent estimate
// comes from market, the date-matched analysis. It returns nil when there is
// no comparable sale median.
func (f *OpportunityFinder) Evaluate(c models.Complex, inventory, market *models.Analysis, l *models.ListingRecord) *models.OpportunityCandidate {
	ft := f.bucketer.FlatType(l)

	cand := &models.OpportunityCandidate{Listing: l, Complex: c, FlatType: ft}
	switch bucket := inventory.Bucket(ft); {
	case bucket != nil && bucket.SalePrice.Count >= minBucketComparables:
		cand.Comparable, cand.ComparableScope = bucket.SalePrice, "bucket"
	case !inventory.SalePrice.Empty():
		cand.Comparable, cand.ComparableScope = inventory.SalePrice, "complex"
	default:
		return nil
	}
	if cand.Comparable.Median <= 0 {
		return nil
	}

	switch bucket := market.Bucket(ft); {
	case bucket != nil && !bucket.RentalPrice.Empty():
		cand.RentalMedian = bucket.RentalPrice.Median
	case !market.RentalPricePerM2.Empty():
		cand.RentalMedian = market.RentalPricePerM2.Median * l.Area
	}

	cand.PriceVsMedian = priceVsMedian(l.Price, cand.Comparable.Median)
	cand.Yield = grossYield(cand.RentalMedian, l.Price)
	cand.Tier = f.scorer.Tier(cand.Yield, cand.PriceVsMedian)
	cand.Deal = Deal(cand.PriceVsMedian)
	for _, d := range f.cfg.DiscountScenarios {
		cand.Scenarios = append(cand.Scenarios, f.Scenario(cand, d))
	}
	return cand
}

// Scenario re-derives a candidate's price, yield and tier at a hypothetical
// discount off the listed price.
func (f *OpportunityFinder) Scenario(c *models.OpportunityCandidate, discount float64) models.DiscountScenario {
	listed := decimal.NewFromInt(c.Listing.Price)
	price := listed.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discount))).Round(0)

	s := models.DiscountScenario{
		Discount: discount,
		Price:    price.IntPart(),
		Savings:  listed.Sub(price).IntPart(),
	}
	s.Yield = grossYield(c.RentalMedian, s.Price)
	s.PriceVsMedian = priceVsMedian(s.Price, c.Comparable.Median)
	s.Tier = f.scorer.Tier(s.Yield, s.PriceVsMedian)
	return s
}

// Rank orders candidates by tier, yield and discount, highest first.
func Rank(cands []*models.OpportunityCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		if a.Yield != b.Yield {
			return a.Yield > b.Yield
		}
		if a.PriceVsMedian != b.PriceVsMedian {
			return a.PriceVsMedian < b.PriceVsMedian
		}
		return a.Listing.ListingID < b.Listing.ListingID
	})
}

func priceVsMedian(price int64, median float64) float64 {
	if median <= 0 {
		return 0
	}
	return decimal.NewFromInt(price).
		Sub(decimal.NewFromFloat(median)).
		Div(decimal.NewFromFloat(median)).
		InexactFloat64()
}

func containsFlatType(types []models.FlatType, ft models.FlatType) bool {
	for _, t := range types {
		if t == ft {
			return true
		}
	}
	return false
}

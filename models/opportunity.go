package models

// Tier is a recommendation level. Higher values rank first.
type Tier int

const (
	TierNone Tier = iota
	TierConsider
	TierBuy
	TierStrongBuy
)

func (t Tier) String() string {
	switch t {
	case TierStrongBuy:
		return "STRONG_BUY"
	case TierBuy:
		return "BUY"
	case TierConsider:
		return "CONSIDER"
	default:
		return "NONE"
	}
}

// DealBand grades price_vs_median.
type DealBand string

const (
	DealExcellent   DealBand = "EXCELLENT"
	DealGood        DealBand = "GOOD"
	DealFair        DealBand = "FAIR"
	DealAboveMarket DealBand = "ABOVE_MARKET"
)

// DiscountScenario re-derives a candidate's figures at a hypothetical
// discount off the listed price.
type DiscountScenario struct {
	Discount      float64
	Price         int64
	Savings       int64
	Yield         float64
	PriceVsMedian float64
	Tier          Tier
}

// OpportunityCandidate is a current sale listing scored against its
// complex's aggregates.
type OpportunityCandidate struct {
	Listing  *ListingRecord
	Complex  Complex
	FlatType FlatType

	// Comparable is the sale price series the listing was scored against;
	// ComparableScope is "bucket" or "complex".
	Comparable      AggregateStatistics
	ComparableScope string
	RentalMedian    float64

	PriceVsMedian float64
	Yield         float64
	Tier          Tier
	Deal          DealBand
	Scenarios     []DiscountScenario
}

// DiscountPct is the discount versus median as a positive fraction when the
// listing is below market.
func (c *OpportunityCandidate) DiscountPct() float64 {
	return -c.PriceVsMedian
}

// FindRequest parameterises an opportunity scan. Nil/empty filters are off.
type FindRequest struct {
	Cities            []string
	DiscountThreshold float64
	YieldThreshold    float64
	MaxPrice          *int64
	FlatTypes         []FlatType
	Limit             int
}

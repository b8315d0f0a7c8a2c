package services

import (
	"fmt"
	"io"
	"strings"
	"time"

	"jk-analytics/models"
)

var (
	sep  = strings.Repeat("═", 64)
	thin = strings.Repeat("─", 64)
)

// Printer renders reports for a terminal.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

func (p *Printer) banner(title string) {
	fmt.Fprintf(p.w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(p.w, "\033[1;35m  %s\033[0m\n", title)
	fmt.Fprintf(p.w, "\033[1;35m%s\033[0m\n\n", sep)
}

func (p *Printer) section(title string) {
	fmt.Fprintf(p.w, "\033[1;33m  %s\033[0m\n", title)
	fmt.Fprintf(p.w, "  %s\n", thin)
}

func (p *Printer) footer() {
	fmt.Fprintf(p.w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// Analysis prints one complex analysis, including partial results.
func (p *Printer) Analysis(a *models.Analysis) {
	v := FormatAnalysis(a)
	p.banner("📊 " + strings.ToUpper(v.Complex))

	p.section("Overview")
	fmt.Fprintf(p.w, "  Observed    : %s\n", v.Dates)
	fmt.Fprintf(p.w, "  Match policy: %s (%s)\n", v.Policy, v.Tolerance)
	if a.InsufficientData {
		fmt.Fprintf(p.w, "  Status      : \033[1;31m%s\033[0m\n", v.Status)
	} else {
		fmt.Fprintf(p.w, "  Status      : \033[1;32m%s\033[0m\n", v.Status)
	}
	fmt.Fprintln(p.w)

	p.section("Prices")
	fmt.Fprintf(p.w, "  %-14s %6s %14s %14s %14s\n", "", "count", "min", "median", "max")
	p.statsRow("Rent / month", v.Rental)
	p.statsRow("Rent / m²", v.RentalPerM2)
	p.statsRow("Sale", v.Sale)
	p.statsRow("Sale / m²", v.SalePerM2)
	fmt.Fprintln(p.w)

	p.section("Rental Yield (annual, gross)")
	fmt.Fprintf(p.w, "  Matched pairs : \033[1m%s\033[0m\n", v.Pairs)
	fmt.Fprintf(p.w, "  Median yield  : \033[1;32m%s\033[0m\n", v.Yield.Median)
	fmt.Fprintf(p.w, "  Mean yield    : %s\n", v.Yield.Mean)
	fmt.Fprintf(p.w, "  Range         : %s .. %s\n", v.Yield.Min, v.Yield.Max)
	fmt.Fprintln(p.w)

	p.section("By Flat Type")
	fmt.Fprintf(p.w, "  %-6s %5s %5s %14s %14s %12s %9s\n", "type", "rent", "sale", "rent median", "sale median", "sale/m²", "yield")
	for _, b := range v.Buckets {
		fmt.Fprintf(p.w, "  %-6s %5s %5s %14s %14s %12s %9s\n",
			b.FlatType, b.Rentals, b.Sales, b.RentMedian, b.SaleMedian, b.SalePerM2, b.YieldMedian)
	}
	p.footer()
}

func (p *Printer) statsRow(label string, s StatsView) {
	fmt.Fprintf(p.w, "  %-14s %6s %14s %14s %14s\n", label, s.Count, s.Min, s.Median, s.Max)
}

// Cycle prints an ingestion cycle report.
func (p *Printer) Cycle(r *models.CycleReport) {
	p.banner("🏗  INGESTION CYCLE " + r.ID)

	p.section("Summary")
	fmt.Fprintf(p.w, "  Attempted        : \033[1m%d\033[0m\n", r.Attempted)
	fmt.Fprintf(p.w, "  Succeeded        : \033[1;32m%d\033[0m\n", r.Succeeded)
	fmt.Fprintf(p.w, "  Failed           : \033[1;31m%d\033[0m\n", r.Failed)
	fmt.Fprintf(p.w, "  Skipped excluded : %d\n", r.SkippedExcluded)
	fmt.Fprintf(p.w, "  Skipped present  : %d\n", r.SkippedPresent)
	fmt.Fprintf(p.w, "  Elapsed          : %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(p.w)

	p.section("Targets")
	for _, res := range r.Results {
		line := fmt.Sprintf("  %-34s %-16s", truncate(res.Target.String(), 34), res.Status)
		switch res.Status {
		case models.StatusSucceeded:
			fmt.Fprintf(p.w, "%s +%d ~%d =%d ✗%d\n", line, res.Inserted, res.Updated, res.Unchanged, res.Rejected)
		case models.StatusFailed:
			fmt.Fprintf(p.w, "%s \033[1;31m%v\033[0m\n", line, res.Err)
		default:
			fmt.Fprintln(p.w, line)
		}
	}
	p.footer()
}

// Opportunities prints a ranked candidate list.
func (p *Printer) Opportunities(cands []*models.OpportunityCandidate) {
	p.banner("💡 INVESTMENT OPPORTUNITIES")
	if len(cands) == 0 {
		fmt.Fprintf(p.w, "  No opportunities matched the thresholds\n")
		p.footer()
		return
	}

	for i, c := range cands {
		fmt.Fprintf(p.w, "  \033[1m%d.\033[0m %-11s %-24s %-5s %14s  yield \033[1;32m%s\033[0m  vs median %s (%s)\n",
			i+1, c.Tier, truncate(c.Complex.Name, 24), c.FlatType,
			formatMoney(float64(c.Listing.Price)), formatPct(c.Yield),
			formatPct(c.PriceVsMedian), c.Deal)
		for _, s := range c.Scenarios {
			fmt.Fprintf(p.w, "       at -%s: %14s  yield %s  %s\n",
				formatPct(s.Discount), formatMoney(float64(s.Price)), formatPct(s.Yield), s.Tier)
		}
		fmt.Fprintf(p.w, "       %s\n", c.Listing.URL)
	}
	p.footer()
}

// Trend prints a complex's snapshot history, oldest first.
func (p *Printer) Trend(complexName string, snaps []*models.Snapshot) {
	p.banner("📈 TREND " + strings.ToUpper(complexName))
	if len(snaps) == 0 {
		fmt.Fprintf(p.w, "  No snapshots recorded\n")
		p.footer()
		return
	}

	fmt.Fprintf(p.w, "  %-10s %6s %6s %12s %12s %9s\n", "date", "rent", "sale", "rent/m²", "sale/m²", "yield")
	var prev *models.Snapshot
	for _, s := range snaps {
		yield := na
		if !s.RentalYield.Empty() {
			yield = formatPct(s.RentalYield.Median)
		}
		change := ""
		if prev != nil && !prev.SalePricePerM2.Empty() && !s.SalePricePerM2.Empty() {
			delta := (s.SalePricePerM2.Median - prev.SalePricePerM2.Median) / prev.SalePricePerM2.Median
			change = " " + formatPct(delta)
		}
		fmt.Fprintf(p.w, "  %-10s %6d %6d %12s %12s %9s%s\n",
			s.SnapshotDate, s.TotalRentals, s.TotalSales,
			medianOrNA(s.RentalPricePerM2, formatMoney),
			medianOrNA(s.SalePricePerM2, formatMoney),
			yield, change)
		prev = s
	}
	p.footer()
}

// Exclusions prints the exclusion list.
func (p *Printer) Exclusions(entries []models.ExclusionEntry) {
	p.section("Excluded complexes")
	if len(entries) == 0 {
		fmt.Fprintf(p.w, "  none\n")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(p.w, "  %-10s %-30s %s  %s\n",
			e.ComplexID, truncate(e.ComplexName, 30), e.ExcludedAt.Format("2006-01-02"), e.Reason)
	}
}

// Complexes prints the complex directory.
func (p *Printer) Complexes(cs []models.Complex) {
	p.section("Residential complexes")
	if len(cs) == 0 {
		fmt.Fprintf(p.w, "  none\n")
		return
	}
	for _, c := range cs {
		fmt.Fprintf(p.w, "  %-10s %-30s %-12s %s\n", c.ID, truncate(c.Name, 30), c.City, c.District)
	}
}

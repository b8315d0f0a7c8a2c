package krisha

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"jk-analytics/config"
	"jk-analytics/models"
	"jk-analytics/utils"
)

// Scraper walks krisha.kz search pages for one residential complex.
type Scraper struct {
	fetcher Fetcher
	baseURL string
	city    string
	logger  *zap.Logger
}

func New(cfg *config.Config, fetcher Fetcher, logger *zap.Logger) *Scraper {
	return &Scraper{
		fetcher: fetcher,
		baseURL: cfg.Ingest.BaseURL,
		city:    cfg.City,
		logger:  logger,
	}
}

// NewFetcher picks the fetcher for the configured FETCH_MODE.
func NewFetcher(cfg config.IngestConfig, logger *zap.Logger) Fetcher {
	if cfg.FetchMode == "browser" {
		return NewBrowserFetcher(cfg.ChromeBin, logger)
	}
	return NewHTTPFetcher(cfg.RequestTimeout)
}

// SearchURL builds the listing search URL for a complex, kind and 1-based page.
func SearchURL(baseURL, city string, kind models.Kind, complexID string, page int) string {
	section := "prodazha"
	if kind == models.KindRental {
		section = "arenda"
	}
	q := url.Values{}
	q.Set("das[map.complex]", complexID)
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s/%s/kvartiry/%s/?%s", baseURL, section, citySlug(city), q.Encode())
}

// Fetch collects listings from up to maxPages search pages. It stops early
// at the first page that contributes no new listing.
func (s *Scraper) Fetch(ctx context.Context, c models.Complex, kind models.Kind, maxPages int) ([]*models.RawListing, error) {
	if maxPages < 1 {
		maxPages = 1
	}
	target := models.Target{Complex: c, Kind: kind}.String()
	city := c.City
	if city == "" {
		city = s.city
	}

	seen := utils.NewKeySet()
	var out []*models.RawListing
	for page := 1; page <= maxPages; page++ {
		pageURL := SearchURL(s.baseURL, city, kind, c.ID, page)
		s.logger.Debug("[krisha] fetching page",
			zap.String("target", target), zap.Int("page", page), zap.String("url", pageURL))

		html, err := s.fetcher.Get(ctx, pageURL)
		if err != nil {
			return nil, &models.FetchError{Target: target, Err: err}
		}
		cards, err := ParseSearchPage(html, kind, s.baseURL)
		if err != nil {
			return nil, &models.ParseError{Target: target, Err: fmt.Errorf("page %d: %w", page, err)}
		}

		fresh := 0
		for _, card := range cards {
			if !seen.Add(card.ListingID) {
				continue
			}
			// results are filtered by complex id; the card's own label may differ
			card.ComplexName = c.Name
			card.City = city
			out = append(out, card)
			fresh++
		}
		s.logger.Debug("[krisha] page parsed",
			zap.String("target", target), zap.Int("page", page),
			zap.Int("cards", len(cards)), zap.Int("new", fresh))
		if fresh == 0 {
			break
		}
	}

	s.logger.Info("[krisha] target scraped", zap.String("target", target), zap.Int("listings", len(out)))
	return out, nil
}

func citySlug(city string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(city), " ", "-"))
}

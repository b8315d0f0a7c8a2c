package krisha

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jk-analytics/models"
)

var (
	errUnrecognisedPage = errors.New("no listing container on page")
	yearRegexp          = regexp.MustCompile(`(\d{4})\s*г\.\s*п\.`)
)

// ParseSearchPage extracts listing cards from a search results page. Cards
// without an id or a price are skipped; a page with no recognisable result
// list at all is an error.
func ParseSearchPage(html string, kind models.Kind, baseURL string) ([]*models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	cards := doc.Find("div.a-card[data-id]")
	if cards.Length() == 0 {
		if doc.Find(".a-search-list, .a-list, .a-search-empty").Length() == 0 {
			return nil, errUnrecognisedPage
		}
		return nil, nil
	}

	now := time.Now().UTC()
	out := make([]*models.RawListing, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		id, _ := card.Attr("data-id")
		id = strings.TrimSpace(id)
		price := text(card.Find(".a-card__price"))
		if id == "" || price == "" {
			return
		}

		title := text(card.Find(".a-card__title"))
		href, _ := card.Find("a.a-card__title, a.a-card__image").First().Attr("href")
		preview := text(card.Find(".a-card__text-preview"))

		out = append(out, &models.RawListing{
			ListingID:   id,
			Kind:        kind,
			Title:       title,
			RawPrice:    price,
			RawArea:     title,
			RawRooms:    title,
			RawFloor:    title,
			RawYear:     firstMatch(yearRegexp, preview),
			ComplexName: text(card.Find(".a-card__complex, .a-card__subtitle-complex")),
			Description: preview,
			URL:         absoluteURL(baseURL, href, id),
			ScrapedAt:   now,
		})
	})
	return out, nil
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return ""
}

func absoluteURL(base, href, id string) string {
	switch {
	case strings.HasPrefix(href, "http"):
		return href
	case strings.HasPrefix(href, "/"):
		return base + href
	}
	return base + "/a/show/" + id
}

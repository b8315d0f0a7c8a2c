package services

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"jk-analytics/models"
)

var (
	// digits possibly grouped by regular, no-break or thin spaces: "25 000 000"
	priceRegexp = regexp.MustCompile(`\d[\d \x{00A0}\x{202F}]*(?:[.,]\d+)?`)

	millionRegexp = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*млн`)
	areaRegexp    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:м²|м2|кв\.?\s*м|m²|sq)`)
	numberRegexp  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	roomsRegexp   = regexp.MustCompile(`(\d+)\s*-?\s*(?:комн|room|br\b)`)
	floorRegexp   = regexp.MustCompile(`(-?\d+)\s*(?:/|из|of)\s*(\d+)`)
	singleFloor   = regexp.MustCompile(`(-?\d+)\s*эт`)
	yearRegexp    = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2}|2100)\b`)
	idFromURL     = regexp.MustCompile(`/a/show/(\d+)`)
)

// Normalizer turns RawListings into validated ListingRecords.
type Normalizer struct {
	logger *zap.Logger
	policy *bluemonday.Policy
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{
		logger: logger,
		policy: bluemonday.StrictPolicy(),
	}
}

// Normalize parses one raw listing observed on the given day. Missing or
// unparseable required fields yield a ValidationError; optional fields that
// cannot be parsed are left absent.
func (n *Normalizer) Normalize(raw *models.RawListing, observedOn models.Date) (*models.ListingRecord, error) {
	if raw == nil {
		return nil, &models.ValidationError{Reason: "nil raw listing"}
	}

	url := strings.TrimSpace(raw.URL)
	id := strings.TrimSpace(raw.ListingID)
	if id == "" {
		if m := idFromURL.FindStringSubmatch(url); len(m) == 2 {
			id = m[1]
		}
	}

	price, ok := parsePrice(raw.RawPrice)
	if !ok {
		return nil, &models.ValidationError{Field: "Price", Reason: fmt.Sprintf("cannot parse %q", raw.RawPrice)}
	}

	area, ok := parseArea(raw.RawArea)
	if !ok {
		area, ok = parseArea(raw.Title)
	}
	if !ok {
		return nil, &models.ValidationError{Field: "Area", Reason: fmt.Sprintf("cannot parse %q", raw.RawArea)}
	}

	rooms := parseRooms(raw.RawRooms)
	if rooms == nil {
		rooms = parseRooms(raw.Title)
	}

	floorText := raw.RawFloor
	if floorText == "" {
		floorText = raw.Title
	}
	floor, total := parseFloor(floorText)

	rec := &models.ListingRecord{
		ListingID:        id,
		Kind:             raw.Kind,
		Price:            price,
		Area:             area,
		Rooms:            rooms,
		ComplexName:      normaliseText(raw.ComplexName),
		Floor:            floor,
		TotalFloors:      total,
		ConstructionYear: parseYear(raw.RawYear),
		Parking:          normaliseText(raw.Parking),
		Description:      n.sanitise(raw.Description),
		URL:              url,
		ObservedOn:       observedOn,
	}

	if err := models.ValidateRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// NormalizeAll normalises a batch, dropping repeated listing ids. Rejected
// records are returned alongside the accepted ones.
func (n *Normalizer) NormalizeAll(raw []*models.RawListing, observedOn models.Date) ([]*models.ListingRecord, []error) {
	seen := make(map[string]struct{})
	result := make([]*models.ListingRecord, 0, len(raw))
	var rejected []error

	for _, r := range raw {
		rec, err := n.Normalize(r, observedOn)
		if err != nil {
			n.logger.Debug("[normalizer] rejected listing",
				zap.String("listing_id", r.ListingID), zap.String("url", r.URL), zap.Error(err))
			rejected = append(rejected, err)
			continue
		}

		key := string(rec.Kind) + "/" + rec.ListingID
		if _, dup := seen[key]; dup {
			n.logger.Debug("[normalizer] duplicate listing skipped", zap.String("listing_id", rec.ListingID))
			continue
		}
		seen[key] = struct{}{}
		result = append(result, rec)
	}

	n.logger.Info("[normalizer] normalised batch",
		zap.Int("raw", len(raw)), zap.Int("accepted", len(result)), zap.Int("rejected", len(rejected)))
	return result, rejected
}

func (n *Normalizer) sanitise(s string) string {
	return normaliseText(html.UnescapeString(n.policy.Sanitize(s)))
}

// parsePrice extracts a whole-unit price.
//
//	"25 000 000 〒"  -> 25000000
//	"350 000 〒/мес" -> 350000
//	"25,5 млн 〒"    -> 25500000
func parsePrice(raw string) (int64, bool) {
	raw = strings.ToLower(raw)

	if m := millionRegexp.FindStringSubmatch(raw); len(m) == 2 {
		f, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil || f <= 0 {
			return 0, false
		}
		return int64(f*1_000_000 + 0.5), true
	}

	match := priceRegexp.FindString(raw)
	if match == "" {
		return 0, false
	}
	// fractional sub-units are dropped: prices are whole currency units
	if i := strings.IndexAny(match, ".,"); i >= 0 {
		match = match[:i]
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, match)

	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseArea extracts square meters, preferring a number followed by a unit.
func parseArea(raw string) (float64, bool) {
	raw = strings.ToLower(raw)
	match := ""
	if m := areaRegexp.FindStringSubmatch(raw); len(m) == 2 {
		match = m[1]
	} else if strings.TrimSpace(raw) != "" && !strings.ContainsAny(raw, "·|") {
		match = numberRegexp.FindString(raw)
	}
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func parseRooms(raw string) *int {
	raw = strings.ToLower(raw)
	if strings.Contains(raw, "студи") || strings.Contains(raw, "studio") {
		return models.IntPtr(0)
	}
	if m := roomsRegexp.FindStringSubmatch(raw); len(m) == 2 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return &v
		}
	}
	if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v >= 0 {
		return &v
	}
	return nil
}

// parseFloor reads "5/9", "5 из 9" or "5 этаж" forms.
func parseFloor(raw string) (floor, total *int) {
	raw = strings.ToLower(raw)
	if m := floorRegexp.FindStringSubmatch(raw); len(m) == 3 {
		f, err1 := strconv.Atoi(m[1])
		t, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil && t > 0 && f <= t {
			return &f, &t
		}
	}
	if m := singleFloor.FindStringSubmatch(raw); len(m) == 2 {
		if f, err := strconv.Atoi(m[1]); err == nil {
			return &f, nil
		}
	}
	if f, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return &f, nil
	}
	return nil, nil
}

func parseYear(raw string) *int {
	m := yearRegexp.FindStringSubmatch(raw)
	if len(m) < 2 {
		return nil
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &v
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

package services

import (
	"testing"

	"go.uber.org/zap"

	"jk-analytics/models"
)

func newTestNormalizer() *Normalizer { return NewNormalizer(zap.NewNop()) }

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"25 000 000 〒", 25_000_000, true},
		{"350 000 〒 / мес.", 350_000, true},
		{"от 18 500 000 〒", 18_500_000, true},
		{"25,5 млн 〒", 25_500_000, true},
		{"120000", 120_000, true},
		{"", 0, false},
		{"договорная", 0, false},
		{"0 〒", 0, false},
	}

	for _, tt := range tests {
		got, ok := parsePrice(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parsePrice(%q) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"45.5 м²", 45.5, true},
		{"45,5 м2", 45.5, true},
		{"2-комнатная квартира · 65 м² · 5/9 этаж", 65, true},
		{"38", 38, true},
		{"", 0, false},
		{"n/a", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseArea(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseArea(%q) = %.2f, %v; want %.2f, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseRoomsAndFloor(t *testing.T) {
	if r := parseRooms("3-комнатная квартира"); r == nil || *r != 3 {
		t.Errorf("parseRooms(3-комнатная): got %v, want 3", r)
	}
	if r := parseRooms("Студия"); r == nil || *r != 0 {
		t.Errorf("parseRooms(Студия): got %v, want 0", r)
	}
	if r := parseRooms("квартира"); r != nil {
		t.Errorf("parseRooms(квартира): got %d, want absent", *r)
	}

	f, total := parseFloor("5 из 9")
	if f == nil || total == nil || *f != 5 || *total != 9 {
		t.Errorf("parseFloor(5 из 9): got %v/%v, want 5/9", f, total)
	}
	f, total = parseFloor("12 этаж")
	if f == nil || *f != 12 || total != nil {
		t.Errorf("parseFloor(12 этаж): got %v/%v, want 12/absent", f, total)
	}
	f, total = parseFloor("")
	if f != nil || total != nil {
		t.Errorf("parseFloor(empty): want both absent")
	}
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer()

	raw := &models.RawListing{
		Kind:        models.KindSale,
		Title:       "2-комнатная квартира · 65 м² · 5/9 этаж",
		RawPrice:    "32 500 000 〒",
		RawYear:     "2019 г.п.",
		ComplexName: "  Nurly   Tau ",
		Description: "<p>Sunny &amp; <b>quiet</b></p>",
		URL:         "https://krisha.kz/a/show/687654321",
	}

	rec, err := n.Normalize(raw, "2025-01-15")
	if err != nil {
		t.Fatalf("Normalize: unexpected error %v", err)
	}
	if rec.ListingID != "687654321" {
		t.Errorf("ListingID: got %q, want id from URL", rec.ListingID)
	}
	if rec.Price != 32_500_000 || rec.Area != 65 {
		t.Errorf("price/area: got %d/%.1f", rec.Price, rec.Area)
	}
	if rec.Rooms == nil || *rec.Rooms != 2 {
		t.Errorf("Rooms: got %v, want 2", rec.Rooms)
	}
	if rec.Floor == nil || *rec.Floor != 5 || rec.TotalFloors == nil || *rec.TotalFloors != 9 {
		t.Errorf("floor: got %v/%v, want 5/9", rec.Floor, rec.TotalFloors)
	}
	if rec.ConstructionYear == nil || *rec.ConstructionYear != 2019 {
		t.Errorf("ConstructionYear: got %v, want 2019", rec.ConstructionYear)
	}
	if rec.ComplexName != "Nurly Tau" {
		t.Errorf("ComplexName: got %q", rec.ComplexName)
	}
	if rec.Description != "Sunny & quiet" {
		t.Errorf("Description: got %q, want sanitised text", rec.Description)
	}
	if rec.Parking != "" {
		t.Errorf("Parking: got %q, want empty", rec.Parking)
	}
}

func TestNormalizeRejects(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name  string
		raw   *models.RawListing
		field string
	}{
		{"no price", &models.RawListing{Kind: models.KindRental, RawArea: "40 м²", URL: "https://krisha.kz/a/show/1"}, "Price"},
		{"no area", &models.RawListing{Kind: models.KindRental, RawPrice: "300 000", URL: "https://krisha.kz/a/show/1"}, "Area"},
		{"no id", &models.RawListing{Kind: models.KindRental, RawPrice: "300 000", RawArea: "40", URL: "https://example.com/x"}, "ListingID"},
		{"no kind", &models.RawListing{ListingID: "1", RawPrice: "300 000", RawArea: "40", URL: "https://krisha.kz/a/show/1"}, "Kind"},
	}

	for _, tt := range tests {
		_, err := n.Normalize(tt.raw, "2025-01-15")
		ve, ok := err.(*models.ValidationError)
		if !ok {
			t.Errorf("%s: got %v, want ValidationError", tt.name, err)
			continue
		}
		if ve.Field != tt.field {
			t.Errorf("%s: field got %q, want %q", tt.name, ve.Field, tt.field)
		}
	}
}

func TestNormalizeAllDropsDuplicates(t *testing.T) {
	n := newTestNormalizer()
	raw := []*models.RawListing{
		{ListingID: "1", Kind: models.KindRental, RawPrice: "300 000", RawArea: "40", URL: "u1"},
		{ListingID: "1", Kind: models.KindRental, RawPrice: "300 000", RawArea: "40", URL: "u1"},
		{ListingID: "2", Kind: models.KindRental, RawPrice: "", RawArea: "40", URL: "u2"},
		{ListingID: "3", Kind: models.KindRental, RawPrice: "280 000", RawArea: "38", URL: "u3"},
	}

	recs, rejected := n.NormalizeAll(raw, "2025-01-15")
	if len(recs) != 2 {
		t.Errorf("accepted: got %d, want 2", len(recs))
	}
	if len(rejected) != 1 {
		t.Errorf("rejected: got %d, want 1", len(rejected))
	}
}

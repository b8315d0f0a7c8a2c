package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates rental and sale listings.
type Kind string

const (
	KindRental Kind = "RENTAL"
	KindSale   Kind = "SALE"
)

// ParseKind accepts the CLI spellings ("rental", "rent", "sale", "sales").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rental", "rentals", "rent":
		return KindRental, nil
	case "sale", "sales":
		return KindSale, nil
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown listing kind %q", s)}
}

func (k Kind) Valid() bool { return k == KindRental || k == KindSale }

func (k Kind) String() string { return string(k) }

// RawListing holds unprocessed scraped data straight from a search page card.
// Every field is text as the source rendered it.
type RawListing struct {
	ListingID   string
	Kind        Kind
	Title       string
	RawPrice    string
	RawArea     string
	RawRooms    string
	RawFloor    string
	RawYear     string
	ComplexName string
	City        string
	Parking     string
	Description string
	URL         string
	ScrapedAt   time.Time
}

// ListingRecord is the canonical, validated listing row kept by the
// historical store. (ListingID, Kind, ObservedOn) is the unique key.
type ListingRecord struct {
	ID               int64
	ListingID        string  `validate:"required"`
	Kind             Kind    `validate:"required,oneof=RENTAL SALE"`
	Price            int64   `validate:"gt=0"`
	Area             float64 `validate:"gt=0"`
	Rooms            *int    `validate:"omitempty,gte=0,lte=20"`
	ComplexName      string
	Floor            *int `validate:"omitempty,gte=-5,lte=200"`
	TotalFloors      *int `validate:"omitempty,gte=1,lte=200"`
	ConstructionYear *int `validate:"omitempty,gte=1800,lte=2100"`
	Parking          string
	Description      string
	URL              string `validate:"required"`
	ObservedOn       Date   `validate:"required"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key renders the dedup key for logs and errors.
func (r *ListingRecord) Key() string {
	return fmt.Sprintf("%s/%s/%s", r.ListingID, r.Kind, r.ObservedOn)
}

// PricePerM2 is price divided by area.
func (r *ListingRecord) PricePerM2() float64 {
	if r.Area <= 0 {
		return 0
	}
	return float64(r.Price) / r.Area
}

// SameContent reports whether two records with the same key carry identical
// field values. Store-assigned fields (ID, timestamps) are ignored.
func (r *ListingRecord) SameContent(o *ListingRecord) bool {
	return r.Price == o.Price &&
		r.Area == o.Area &&
		equalInt(r.Rooms, o.Rooms) &&
		r.ComplexName == o.ComplexName &&
		equalInt(r.Floor, o.Floor) &&
		equalInt(r.TotalFloors, o.TotalFloors) &&
		equalInt(r.ConstructionYear, o.ConstructionYear) &&
		r.Parking == o.Parking &&
		r.Description == o.Description &&
		r.URL == o.URL
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IntPtr is a convenience for optional integer fields.
func IntPtr(v int) *int { return &v }

// UpsertResult tells the caller what an upsert did.
type UpsertResult int

const (
	Unchanged UpsertResult = iota
	Inserted
	Updated
)

func (u UpsertResult) String() string {
	switch u {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// ListingQuery bounds a historical store query. Nil fields are not filtered on.
type ListingQuery struct {
	Kind        Kind
	ComplexName *string
	From        *Date
	To          *Date
	MinArea     *float64
	MaxArea     *float64
	Limit       int
}

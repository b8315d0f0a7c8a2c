package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day in ISO form (YYYY-MM-DD). It is the partition key
// of the historical store and of performance snapshots; lexical order is
// chronological order.
type Date string

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate validates an ISO calendar date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not an ISO date", s)}
	}
	return DateOf(t), nil
}

func (d Date) String() string { return string(d) }

func (d Date) IsZero() bool { return d == "" }

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

func (d Date) Before(o Date) bool { return d < o }

// AddDays shifts the date by n days (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Value() (driver.Value, error) {
	return string(d), nil
}

// Scan accepts the text representation used by both SQL dialects, and
// time values for drivers that map DATE columns to time.Time.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*d = Date(trimDay(v))
	case []byte:
		*d = Date(trimDay(string(v)))
	case time.Time:
		*d = DateOf(v.UTC())
	case nil:
		*d = ""
	default:
		return fmt.Errorf("models: cannot scan %T into Date", src)
	}
	return nil
}

func trimDay(s string) string {
	if len(s) > len(dateLayout) {
		return s[:len(dateLayout)]
	}
	return s
}

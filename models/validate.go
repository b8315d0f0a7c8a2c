package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRecord checks the required fields and ranges of a listing record.
// The first violation is returned as a ValidationError.
func ValidateRecord(rec *ListingRecord) error {
	if rec == nil {
		return &ValidationError{Reason: "nil record"}
	}
	err := recordValidator().Struct(rec)
	if err == nil {
		if strings.TrimSpace(rec.ListingID) == "" {
			return &ValidationError{Field: "ListingID", Reason: "is required"}
		}
		if _, perr := ParseDate(string(rec.ObservedOn)); perr != nil {
			return &ValidationError{Field: "ObservedOn", Reason: fmt.Sprintf("%q is not an ISO date", rec.ObservedOn)}
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: describe(fe)}
	}
	return &ValidationError{Reason: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return fmt.Sprintf("failed %s check", fe.Tag())
}

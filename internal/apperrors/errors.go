package apperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// InsufficientStockError is returned when a withdrawal would drive a zone
// below zero. It carries the quantities needed for the user-facing reply.
type InsufficientStockError struct {
	ItemName  string  `json:"item_name"`
	Zone      string  `json:"zone"`
	Available float64 `json:"available"`
	Requested float64 `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %g, requested %g",
		e.ItemName, e.Available, e.Requested)
}

// ItemNotFoundError is the normal business outcome of a resolution miss. It
// is distinct from a store read failure, which is reported as a plain error.
type ItemNotFoundError struct {
	SearchTerm string `json:"search_term"`
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %q not found in inventory", e.SearchTerm)
}

// ExtractionError is returned when the language-model collaborator produced a
// response that failed schema validation. Structural failures are not
// retried.
type ExtractionError struct {
	Reason    string `json:"reason"`
	Transient bool   `json:"transient"`
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

// NewTransientExtractionError marks a failure worth retrying (empty response,
// malformed JSON, transport error).
func NewTransientExtractionError(reason string) *ExtractionError {
	return &ExtractionError{Reason: reason, Transient: true}
}

// NewValidationExtractionError marks a structural failure that propagates
// immediately.
func NewValidationExtractionError(reason string) *ExtractionError {
	return &ExtractionError{Reason: reason, Transient: false}
}

// IsInsufficientStock checks if err is an insufficient stock error.
func IsInsufficientStock(err error) bool {
	var stockErr *InsufficientStockError
	return errors.As(err, &stockErr)
}

// GetInsufficientStockDetails extracts details from an insufficient stock error.
func GetInsufficientStockDetails(err error) (*InsufficientStockError, bool) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr, true
	}
	return nil, false
}

// IsItemNotFound checks if err is a resolution miss.
func IsItemNotFound(err error) bool {
	var nfErr *ItemNotFoundError
	return errors.As(err, &nfErr)
}

// IsTransientExtraction reports whether err is an extraction failure worth
// retrying.
func IsTransientExtraction(err error) bool {
	var exErr *ExtractionError
	if errors.As(err, &exErr) {
		return exErr.Transient
	}
	return false
}

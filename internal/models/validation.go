package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidAction indicates an unknown transaction action
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidUnit indicates a unit outside the enumerated set
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrInvalidQuantity indicates a negative quantity
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidConfidence indicates a confidence outside [0, 1]
	ErrInvalidConfidence = errors.New("invalid confidence")

	// ErrMissingConfirmation indicates an empty confirmation text
	ErrMissingConfirmation = errors.New("confirmation text cannot be empty")

	// ErrMissingFingerprint indicates an empty request fingerprint
	ErrMissingFingerprint = errors.New("request fingerprint cannot be empty")
)

// validate is the validator instance
var validate = validator.New()

// ValidateTransaction checks the structural invariants of a candidate
// transaction. It is applied to every item of a collaborator response; a
// single invalid item fails the whole extraction call.
func ValidateTransaction(t *Transaction) error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Qty":
				return fmt.Errorf("%w: must not be negative", ErrInvalidQuantity)
			case "Confidence":
				return fmt.Errorf("%w: must be between 0 and 1", ErrInvalidConfidence)
			}
		}
		return err
	}

	if !t.Action.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, t.Action)
	}

	if !t.Unit.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, t.Unit)
	}

	if t.ConfirmationText == "" {
		return ErrMissingConfirmation
	}

	if t.RequestID == "" {
		return ErrMissingFingerprint
	}

	return nil
}

// ApplyDefaults substitutes the defaults the schema guarantees: unit and
// confirmation text are never absent, even for low-confidence extractions.
func ApplyDefaults(t *Transaction) {
	if t.Unit == "" || !t.Unit.IsValid() {
		t.Unit = NormalizeUnit(string(t.Unit))
	}
	if t.ConfirmationText == "" {
		t.ConfirmationText = DefaultConfirmation
	}
}

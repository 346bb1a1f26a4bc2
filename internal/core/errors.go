package core

import (
	"errors"
	"fmt"
)

// Validation errors: bad input, rejected before the ledger is touched.
var (
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDueDay        = errors.New("due day must be between 1 and 31")
	ErrInvalidClosingOffset = errors.New("closing offset must be between 1 and 31 days")
	ErrInvalidInstallments  = errors.New("invalid installment count")
	ErrInvalidCompetency    = errors.New("invalid competency")
	ErrEmptyDescription     = errors.New("empty description")
	ErrDescriptionTooLong   = errors.New("description too long (max 200 characters)")
	ErrEmptyName            = errors.New("empty name")
	ErrNameTooLong          = errors.New("name too long (max 100 characters)")
	ErrInvalidLastDigits    = errors.New("last digits must be exactly 4 digits")
	ErrInvalidKind          = errors.New("card kind must be credit or debit")
	ErrInvalidMethod        = errors.New("invalid payment method")
	ErrCycleImmutable       = errors.New("due day and closing offset cannot change after creation")
)

// Business-rule conflicts: expected and recoverable, surfaced with their reason.
var (
	ErrInsufficientLimit    = errors.New("insufficient available limit")
	ErrCompetencyPaidLocked = errors.New("invoice for this competency is already paid")
	ErrCycleNotClosed       = errors.New("billing cycle is not closed yet")
	ErrAlreadyPaid          = errors.New("invoice already paid")
	ErrCardHasOpenCharges   = errors.New("card has charges in the current or a future competency")
	ErrKindChangeBlocked    = errors.New("card kind cannot change while charges are outstanding")
)

// Lookup errors.
var (
	ErrCardNotFound   = errors.New("card not found")
	ErrChargeNotFound = errors.New("charge not found")
	ErrInvalidCard    = errors.New("card is missing or does not support this payment method")
)

// Consistency violations indicate a bug, not bad input.
var (
	ErrConsistency     = errors.New("ledger consistency violation")
	ErrVersionConflict = errors.New("card was modified concurrently")
)

// ValidationError ties a validation failure to the offending field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassConflict   ErrorClass = "conflict"
	ClassNotFound   ErrorClass = "not_found"
	ClassInternal   ErrorClass = "internal"
)

var (
	validationErrors = []error{
		ErrInvalidDate, ErrInvalidAmount, ErrInvalidDueDay, ErrInvalidClosingOffset,
		ErrInvalidInstallments, ErrInvalidCompetency, ErrEmptyDescription,
		ErrDescriptionTooLong, ErrEmptyName, ErrNameTooLong, ErrInvalidLastDigits,
		ErrInvalidKind, ErrInvalidMethod, ErrCycleImmutable, ErrInvalidCard,
	}
	conflictErrors = []error{
		ErrInsufficientLimit, ErrCompetencyPaidLocked, ErrCycleNotClosed,
		ErrAlreadyPaid, ErrCardHasOpenCharges, ErrKindChangeBlocked,
	}
	notFoundErrors = []error{ErrCardNotFound, ErrChargeNotFound}
)

// Classify places err in the error taxonomy. Anything unknown is internal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case isAny(err, validationErrors):
		return ClassValidation
	case isAny(err, conflictErrors):
		return ClassConflict
	case isAny(err, notFoundErrors):
		return ClassNotFound
	default:
		return ClassInternal
	}
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

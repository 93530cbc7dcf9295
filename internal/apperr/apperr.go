// Package apperr defines the error taxonomy shared by the ledger, shop and
// governance services and its mapping onto HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidAmount          = errors.New("amount must not be negative")
	ErrInsufficientTokens     = errors.New("insufficient tokens")
	ErrNotActive              = errors.New("proposal is not open for voting")
	ErrDuplicateVote          = errors.New("member has already voted on this proposal")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrMissingShippingAddress = errors.New("shipping address is required")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateIdentity      = errors.New("identity already registered")
	ErrInvalidTransition      = errors.New("invalid status transition")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failure from the database, including constraint
// violations and cancelled contexts.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store wraps err as a StoreError unless it already belongs to the
// taxonomy, in which case it is returned unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

var domainErrors = []error{
	ErrInvalidAmount, ErrInsufficientTokens, ErrNotActive, ErrDuplicateVote,
	ErrEmptyCart, ErrMissingShippingAddress, ErrInsufficientStock, ErrNotFound,
	ErrDuplicateIdentity, ErrInvalidTransition,
}

// IsDomain reports whether err is a validation or business-rule error.
func IsDomain(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error from the services onto a response status.
func HTTPStatus(err error) int {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrMissingShippingAddress):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientTokens):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicateVote),
		errors.Is(err, ErrDuplicateIdentity),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrNotActive),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Message returns the text safe to show a client. Store failures are not
// described beyond a generic message.
func Message(err error) string {
	if IsDomain(err) {
		return err.Error()
	}
	return "internal error"
}

// Package errs defines the error taxonomy shared across the payment broker.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates the account registry holds no usable
// configuration (for example, no eligible payment account). Callers must
// surface it, not retry.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// ValidationError indicates malformed caller input (bad amount, bad session
// fields).
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NotFoundError indicates an unknown session or reference.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// SignatureError indicates no configured account authenticated a webhook
// payload. The accounts scanned are logged internally and never returned to
// the caller.
type SignatureError struct {
	Msg string
}

func (e *SignatureError) Error() string { return e.Msg }

// PaymentProviderError wraps an upstream charge-creation or update failure.
// The provider message is preserved verbatim; credentials never appear in it.
type PaymentProviderError struct {
	Account string
	Err     error
}

func (e *PaymentProviderError) Error() string {
	return fmt.Sprintf("payment provider (%s): %v", e.Account, e.Err)
}

func (e *PaymentProviderError) Unwrap() error { return e.Err }

// OrderCreationError wraps a commerce-platform failure that happened after a
// verified payment confirmation. The session stays unprocessed so an
// out-of-band pass can retry order creation.
type OrderCreationError struct {
	SessionID string
	Err       error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("order creation for session %s: %v", e.SessionID, e.Err)
}

func (e *OrderCreationError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsSignature reports whether err is a SignatureError.
func IsSignature(err error) bool {
	var e *SignatureError
	return errors.As(err, &e)
}

// IsPaymentProvider reports whether err is a PaymentProviderError.
func IsPaymentProvider(err error) bool {
	var e *PaymentProviderError
	return errors.As(err, &e)
}

// IsOrderCreation reports whether err is an OrderCreationError.
func IsOrderCreation(err error) bool {
	var e *OrderCreationError
	return errors.As(err, &e)
}

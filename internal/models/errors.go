package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies checkout and payment failures
type ErrorKind string

const (
	KindValidation              ErrorKind = "validation"
	KindEmptySelection          ErrorKind = "empty_selection"
	KindInvalidPromotion        ErrorKind = "invalid_promotion"
	KindInventoryExceeded       ErrorKind = "inventory_exceeded"
	KindAuthenticationRequired  ErrorKind = "authentication_required"
	KindPaymentInitiationFailed ErrorKind = "payment_initiation_failed"
	KindOTPInvalid              ErrorKind = "otp_invalid"
	KindPaymentCancelled        ErrorKind = "payment_cancelled"
	KindNetwork                 ErrorKind = "network"
)

// Common errors used throughout the checkout engine. They match any
// CheckoutError of the same kind through errors.Is.
var (
	ErrValidation              = &CheckoutError{Kind: KindValidation}
	ErrEmptySelection          = &CheckoutError{Kind: KindEmptySelection}
	ErrInvalidPromotion        = &CheckoutError{Kind: KindInvalidPromotion}
	ErrInventoryExceeded       = &CheckoutError{Kind: KindInventoryExceeded}
	ErrAuthenticationRequired  = &CheckoutError{Kind: KindAuthenticationRequired}
	ErrPaymentInitiationFailed = &CheckoutError{Kind: KindPaymentInitiationFailed}
	ErrOTPInvalid              = &CheckoutError{Kind: KindOTPInvalid}
	ErrPaymentCancelled        = &CheckoutError{Kind: KindPaymentCancelled}
	ErrNetwork                 = &CheckoutError{Kind: KindNetwork}

	ErrOfferingNotFound  = errors.New("ticket offering not found")
	ErrSessionNotFound   = errors.New("checkout session not found")
	ErrOrderNotCreated   = errors.New("checkout order has not been created")
	ErrInvalidTransition = errors.New("invalid payment state transition")
	ErrPaymentInFlight   = errors.New("a payment step is already in progress")
)

// fallbackMessages are shown to the buyer when no provider message is available
var fallbackMessages = map[ErrorKind]string{
	KindValidation:              "Please check your input and try again.",
	KindEmptySelection:          "Select at least one ticket to continue.",
	KindInvalidPromotion:        "This promotion code is not valid for this event.",
	KindInventoryExceeded:       "Some tickets are no longer available. Your selection has been updated.",
	KindAuthenticationRequired:  "Please sign in to continue.",
	KindPaymentInitiationFailed: "We could not start your payment. Please try again.",
	KindOTPInvalid:              "The code you entered is incorrect. Please try again.",
	KindPaymentCancelled:        "Payment was cancelled.",
	KindNetwork:                 "We could not reach the server. Check your connection and try again.",
}

// CheckoutError is a classified failure with an optional buyer-facing message
type CheckoutError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewCheckoutError creates a checkout error of the given kind
func NewCheckoutError(kind ErrorKind, message string, err error) *CheckoutError {
	return &CheckoutError{Kind: kind, Message: message, Err: err}
}

func (e *CheckoutError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fallbackMessages[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Is matches any CheckoutError with the same kind
func (e *CheckoutError) Is(target error) bool {
	t, ok := target.(*CheckoutError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first CheckoutError in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// UserMessage returns a short human-readable message for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *CheckoutError
	if errors.As(err, &ce) {
		if ce.Message != "" {
			return ce.Message
		}
		return fallbackMessages[ce.Kind]
	}
	return "Something went wrong. Please try again."
}

package models

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// Email validation regex
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// QuantityUpdateRequest changes one selection line. Delta is used when
// Quantity is nil.
type QuantityUpdateRequest struct {
	OfferingID string `json:"offering_id"`
	Quantity   *int   `json:"quantity,omitempty"`
	Delta      int    `json:"delta,omitempty"`
}

// PromotionApplyRequest carries a promotion code typed by the buyer
type PromotionApplyRequest struct {
	Code string `json:"code"`
}

// CheckoutSubmitRequest carries the buyer contact used for receipts
type CheckoutSubmitRequest struct {
	Email string `json:"email"`
}

// PaymentRequest selects a payment method for an order
type PaymentRequest struct {
	Method      PaymentMethod       `json:"method"`
	MobileMoney *MobileMoneyDetails `json:"mobile_money,omitempty"`
}

// OTPSubmitRequest carries the code sent to the buyer's phone
type OTPSubmitRequest struct {
	OTP string `json:"otp"`
}

// Validate validates the payment request
func (r *PaymentRequest) Validate() error {
	switch r.Method {
	case PaymentMethodCard:
		return nil
	case PaymentMethodMobileMoney:
		if r.MobileMoney == nil {
			return errors.New("mobile money details are required")
		}
		return r.MobileMoney.Validate()
	default:
		return errors.New("payment method must be card or mobile_money")
	}
}

// ValidateOTP validates the shape of a one-time passcode
func ValidateOTP(otp string) error {
	if len(strings.TrimSpace(otp)) != OTPLength {
		return errors.New("the code must be 6 characters long")
	}
	return nil
}

// ValidateEmail validates a buyer email address
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}

	if len(email) > 255 {
		return errors.New("email must be less than 255 characters")
	}

	if !emailRegex.MatchString(email) {
		return errors.New("email format is invalid")
	}

	return nil
}

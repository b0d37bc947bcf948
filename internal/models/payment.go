package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the protocol used to pay for an order
type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

// PaymentState is a state of the payment state machine
type PaymentState string

const (
	PaymentSelectingMethod PaymentState = "selecting_method"
	PaymentInitiating      PaymentState = "initiating"
	PaymentCardRedirect    PaymentState = "card_redirect"
	PaymentAwaitingOTP     PaymentState = "awaiting_otp"
	PaymentCompleting      PaymentState = "completing"
	PaymentConfirmed       PaymentState = "confirmed"
	PaymentFailed          PaymentState = "failed"
)

// IsTerminal reports whether no further transition can leave the state
func (s PaymentState) IsTerminal() bool {
	return s == PaymentConfirmed || s == PaymentFailed
}

func (s PaymentState) String() string {
	return string(s)
}

// OTPLength is the number of characters in a mobile-money OTP
const OTPLength = 6

// Credential is the opaque bearer credential issued by the auth system
type Credential string

// IsZero reports whether no credential is attached
func (c Credential) IsZero() bool {
	return strings.TrimSpace(string(c)) == ""
}

// MobileMoneyDetails identifies the wallet charged in a mobile-money payment
type MobileMoneyDetails struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

// Validate validates the wallet details
func (d *MobileMoneyDetails) Validate() error {
	if strings.TrimSpace(d.Phone) == "" {
		return errors.New("mobile money phone number is required")
	}
	if strings.TrimSpace(d.Provider) == "" {
		return errors.New("mobile money provider is required")
	}
	return nil
}

// Charge is what the buyer pays for one order
type Charge struct {
	OrderCode string          `json:"order_code"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Email     string          `json:"email"`
}

// MinorUnits returns the amount in the currency's minor unit (cents, pesewas, kobo)
func (c Charge) MinorUnits() int64 {
	return c.Amount.Round(2).Shift(2).IntPart()
}

// Transition records one state change of a payment attempt
type Transition struct {
	From PaymentState `json:"from"`
	To   PaymentState `json:"to"`
	At   time.Time    `json:"at"`
}

// PaymentAttempt is a snapshot of one traversal of the payment state machine
type PaymentAttempt struct {
	ID               string        `json:"id"`
	OrderCode        string        `json:"order_code"`
	Method           PaymentMethod `json:"method,omitempty"`
	Reference        string        `json:"reference,omitempty"`
	State            PaymentState  `json:"state"`
	OTPRequired      bool          `json:"otp_required"`
	AuthorizationURL string        `json:"authorization_url,omitempty"`
	DisplayText      string        `json:"display_text,omitempty"`
	Message          string        `json:"message,omitempty"`
	Abandoned        bool          `json:"abandoned"`
	History          []Transition  `json:"history"`
}

// Confirmation is handed to the navigation collaborator once an order is paid
type Confirmation struct {
	OrderCode   string        `json:"order_code"`
	Reference   string        `json:"reference"`
	Method      PaymentMethod `json:"method"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
}

package services

import (
	"context"
	"time"

	"event-ticketing-checkout/internal/models"

	"github.com/shopspring/decimal"
)

// CheckoutBackend is the marketplace backend that owns events, discounts and orders
type CheckoutBackend interface {
	ResolveDiscount(ctx context.Context, cred models.Credential, code, eventID string) (*DiscountResult, error)
	CreateCheckout(ctx context.Context, cred models.Credential, req *CheckoutRequest) (string, error)
	GetCheckout(ctx context.Context, cred models.Credential, orderCode string) (*models.CheckoutSummary, error)
	GetTicketOfferings(ctx context.Context, cred models.Credential, eventID string) ([]models.TicketOffering, error)
}

// CardGateway opens a hosted card payment for a charge
type CardGateway interface {
	Open(ctx context.Context, charge CardCharge) (*CardSession, error)
}

// MobileMoneyProvider charges mobile-money wallets
type MobileMoneyProvider interface {
	ChargeMobileMoney(ctx context.Context, charge MobileMoneyCharge) (*ChargeResult, error)
	SubmitOTP(ctx context.Context, reference, otp string) (*ChargeResult, error)
}

// Navigator receives confirmed payments
type Navigator interface {
	Navigate(ctx context.Context, confirmation models.Confirmation) error
}

// DiscountResult is the backend's answer for a promotion code
type DiscountResult struct {
	ID                   string
	DiscountType         string // "amount" or "percentage"
	DiscountAmount       decimal.Decimal
	IsValid              bool
	Message              string
	ValidFrom            *time.Time
	ValidUntil           *time.Time
	RemainingRedemptions *int
	ApplicableTickets    []string
}

// CheckoutRequest is submitted to the backend to create an order
type CheckoutRequest struct {
	EventID        string
	Lines          []models.OrderLine
	Coupon         string
	IdempotencyKey string
}

// CardCharge is what the card gateway is asked to collect
type CardCharge struct {
	Reference string
	Email     string
	Amount    decimal.Decimal
	Currency  string
	Metadata  map[string]string
}

// CardOutcome is the gateway's callback: a success reference, or a close
type CardOutcome struct {
	Reference string
	Closed    bool
}

// CardSession is an opened card payment. Outcome delivers exactly one value,
// or is closed without one when the payment is released.
type CardSession struct {
	Reference        string
	AuthorizationURL string
	Outcome          <-chan CardOutcome
	Release          func()
}

// MobileMoneyCharge is a wallet charge request
type MobileMoneyCharge struct {
	Amount      decimal.Decimal
	Email       string
	Currency    string
	MobileMoney models.MobileMoneyDetails
	Reference   string
}

// ChargeResult is a provider's answer to a charge or OTP submission
type ChargeResult struct {
	Status      string
	Reference   string
	DisplayText string
	Message     string
}

// ChargeStatusSendOTP asks the buyer for the code sent to their phone
const ChargeStatusSendOTP = "send_otp"

// CardCallbacks resolves open card payments when the provider reports back
type CardCallbacks interface {
	HandleCallback(ctx context.Context, reference string) error
	Cancel(reference string) bool
	HandleWebhook(payload []byte, signature string) error
}

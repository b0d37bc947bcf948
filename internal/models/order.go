package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricedLine is one display-ready line of a priced order
type PricedLine struct {
	OfferingID          string          `json:"offering_id"`
	Name                string          `json:"name"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	DiscountedUnitPrice decimal.Decimal `json:"discounted_unit_price"`
	LineTotal           decimal.Decimal `json:"line_total"`
}

// PricedOrder is the computed summary of a selection and an optional promotion
type PricedOrder struct {
	Lines         []PricedLine    `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ServiceFee    decimal.Decimal `json:"service_fee"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Currency      string          `json:"currency"`
	PromotionID   string          `json:"promotion_id,omitempty"`
}

// TotalQuantity returns the number of tickets across all lines
func (p *PricedOrder) TotalQuantity() int {
	total := 0
	for _, line := range p.Lines {
		total += line.Quantity
	}
	return total
}

// OrderLine is an offering and quantity as submitted to the backend
type OrderLine struct {
	OfferingID string `json:"offering_id"`
	Quantity   int    `json:"quantity"`
}

// CheckoutOrder is the backend-issued transaction handle. It is never
// modified after creation.
type CheckoutOrder struct {
	OrderCode   string      `json:"order_code"`
	EventID     string      `json:"event_id"`
	Lines       []OrderLine `json:"lines"`
	PromotionID string      `json:"promotion_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CheckoutSummaryTicket is one ticket row of the backend's order summary
type CheckoutSummaryTicket struct {
	TicketName string          `json:"ticketName"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// CheckoutSummary is the backend's view of an order
type CheckoutSummary struct {
	Email        string                  `json:"email"`
	Currency     string                  `json:"currency"`
	PaymentTotal decimal.Decimal         `json:"paymentTotal"`
	Subtotal     decimal.Decimal         `json:"subtotal"`
	Total        decimal.Decimal         `json:"total"`
	Tickets      []CheckoutSummaryTicket `json:"tickets"`
	Coupon       string                  `json:"coupon,omitempty"`
	CouponType   string                  `json:"couponType,omitempty"`
}

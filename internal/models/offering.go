package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPerOrderCap is the maximum number of tickets of one type per order
const DefaultPerOrderCap = 5

// TicketOffering represents a purchasable ticket class for one event
type TicketOffering struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Currency          string          `json:"currency"`
	RemainingQuantity int             `json:"remaining_quantity"`
	Unlimited         bool            `json:"unlimited"`
}

// SelectionLine represents one entry in the buyer's cart
type SelectionLine struct {
	OfferingID        string `json:"offering_id"`
	RequestedQuantity int    `json:"requested_quantity"`
}

// Validate validates the offering data
func (o *TicketOffering) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("ticket offering id is required")
	}

	if o.UnitPrice.IsNegative() {
		return errors.New("ticket price cannot be negative")
	}

	if o.RemainingQuantity < 0 {
		return errors.New("remaining quantity cannot be negative")
	}

	if len(strings.TrimSpace(o.Currency)) != 3 {
		return errors.New("currency must be a three-letter code")
	}

	return nil
}

// IsSoldOut returns true if no tickets of this type can be bought
func (o *TicketOffering) IsSoldOut() bool {
	return !o.Unlimited && o.RemainingQuantity <= 0
}

// MaxPurchasable returns the highest quantity a buyer may request under perOrderCap
func (o *TicketOffering) MaxPurchasable(perOrderCap int) int {
	if perOrderCap < 0 {
		perOrderCap = 0
	}
	if o.Unlimited {
		return perOrderCap
	}
	if o.RemainingQuantity < perOrderCap {
		if o.RemainingQuantity < 0 {
			return 0
		}
		return o.RemainingQuantity
	}
	return perOrderCap
}

// Package pricing derives display-ready order totals from a ticket selection
// and an optional promotion.
package pricing

import (
	"fmt"

	"event-ticketing-checkout/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the service fee charged on the discounted subtotal
var DefaultFeeRate = decimal.RequireFromString("0.10")

var hundred = decimal.NewFromInt(100)

// Calculator prices selections. It holds no state besides the fee rate and is
// safe for concurrent use.
type Calculator struct {
	FeeRate decimal.Decimal
}

// NewCalculator creates a calculator with the given fee rate
func NewCalculator(feeRate decimal.Decimal) *Calculator {
	return &Calculator{FeeRate: feeRate}
}

// Price computes the priced order for lines against offerings. promo may be
// nil. Lines with a zero quantity are skipped.
func (c *Calculator) Price(lines []models.SelectionLine, offerings []models.TicketOffering, promo *models.PromotionDescriptor) (*models.PricedOrder, error) {
	byID := make(map[string]models.TicketOffering, len(offerings))
	for _, o := range offerings {
		byID[o.ID] = o
	}

	order := &models.PricedOrder{
		Lines:         []models.PricedLine{},
		Subtotal:      decimal.Zero,
		ServiceFee:    decimal.Zero,
		DiscountTotal: decimal.Zero,
		GrandTotal:    decimal.Zero,
	}

	for _, line := range lines {
		if line.RequestedQuantity <= 0 {
			continue
		}

		offering, ok := byID[line.OfferingID]
		if !ok {
			return nil, models.NewCheckoutError(models.KindValidation,
				"", fmt.Errorf("%w: %s", models.ErrOfferingNotFound, line.OfferingID))
		}

		if order.Currency == "" {
			order.Currency = offering.Currency
		} else if order.Currency != offering.Currency {
			return nil, models.NewCheckoutError(models.KindValidation,
				"All tickets in an order must use the same currency.",
				fmt.Errorf("mixed currencies %s and %s", order.Currency, offering.Currency))
		}

		qty := decimal.NewFromInt(int64(line.RequestedQuantity))
		discounted := DiscountedUnitPrice(offering, promo)
		lineTotal := discounted.Mul(qty)

		order.Lines = append(order.Lines, models.PricedLine{
			OfferingID:          offering.ID,
			Name:                offering.Name,
			Quantity:            line.RequestedQuantity,
			UnitPrice:           offering.UnitPrice,
			DiscountedUnitPrice: discounted,
			LineTotal:           lineTotal,
		})

		order.Subtotal = order.Subtotal.Add(lineTotal)
		order.DiscountTotal = order.DiscountTotal.Add(offering.UnitPrice.Sub(discounted).Mul(qty))
	}

	order.ServiceFee = order.Subtotal.Mul(c.FeeRate).Round(2)
	order.GrandTotal = order.Subtotal.Add(order.ServiceFee)

	if promo != nil {
		order.PromotionID = promo.ID
	}

	if order.Currency == "" && len(offerings) > 0 {
		order.Currency = offerings[0].Currency
	}

	return order, nil
}

// DiscountedUnitPrice applies promo to one offering's unit price. The result
// is rounded to two decimal places and never negative.
func DiscountedUnitPrice(offering models.TicketOffering, promo *models.PromotionDescriptor) decimal.Decimal {
	price := offering.UnitPrice
	if promo == nil || !promo.AppliesTo(offering.ID) {
		return price
	}

	var discounted decimal.Decimal
	switch promo.ValueType {
	case models.DiscountPercentage:
		pct := decimal.Min(decimal.Max(promo.Value, decimal.Zero), hundred)
		discounted = price.Mul(hundred.Sub(pct)).Div(hundred)
	case models.DiscountFixed:
		discounted = price.Sub(decimal.Max(promo.Value, decimal.Zero))
	default:
		return price
	}

	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted.Round(2)
}

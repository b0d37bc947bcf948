package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountValueType is how a promotion's value is interpreted
type DiscountValueType string

const (
	DiscountPercentage DiscountValueType = "percentage"
	DiscountFixed      DiscountValueType = "fixed"
)

// PromotionDescriptor is the result of resolving a promotion code against an event
type PromotionDescriptor struct {
	ID                    string            `json:"id"`
	Code                  string            `json:"code"`
	ValueType             DiscountValueType `json:"value_type"`
	Value                 decimal.Decimal   `json:"value"`
	ApplicableOfferingIDs []string          `json:"applicable_offering_ids"`
	ValidFrom             time.Time         `json:"valid_from"`
	ValidUntil            time.Time         `json:"valid_until"`
	RemainingRedemptions  int               `json:"remaining_redemptions"` // 0 means unlimited
}

// UsableAt reports whether the promotion may be applied at now.
// A zero ValidFrom or ValidUntil leaves that side of the window open.
func (p *PromotionDescriptor) UsableAt(now time.Time) bool {
	if !p.ValidFrom.IsZero() && now.Before(p.ValidFrom) {
		return false
	}
	if !p.ValidUntil.IsZero() && now.After(p.ValidUntil) {
		return false
	}
	return p.RemainingRedemptions >= 0
}

// AppliesTo reports whether the promotion covers the given offering.
// An empty applicability list covers every offering.
func (p *PromotionDescriptor) AppliesTo(offeringID string) bool {
	if len(p.ApplicableOfferingIDs) == 0 {
		return true
	}
	for _, id := range p.ApplicableOfferingIDs {
		if id == offeringID {
			return true
		}
	}
	return false
}

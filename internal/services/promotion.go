package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"event-ticketing-checkout/internal/models"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// PromotionResolver validates promotion codes against an event
type PromotionResolver struct {
	backend CheckoutBackend
	now     func() time.Time
	logger  log.FieldLogger
}

// NewPromotionResolver creates a new promotion resolver
func NewPromotionResolver(backend CheckoutBackend, logger log.FieldLogger) *PromotionResolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PromotionResolver{
		backend: backend,
		now:     time.Now,
		logger:  logger.WithField("component", "promotion"),
	}
}

// Resolve turns a code into a usable promotion descriptor. Blank codes fail
// with a validation error before any network call.
func (r *PromotionResolver) Resolve(ctx context.Context, cred models.Credential, code, eventID string) (*models.PromotionDescriptor, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, models.NewCheckoutError(models.KindValidation, "Enter a promotion code.", nil)
	}

	result, err := r.backend.ResolveDiscount(ctx, cred, code, eventID)
	if err != nil {
		r.logger.WithError(err).WithField("event_id", eventID).Info("Promotion lookup failed")
		return nil, err
	}

	if !result.IsValid {
		return nil, models.NewCheckoutError(models.KindInvalidPromotion, result.Message,
			fmt.Errorf("code %q reported invalid", code))
	}

	promo, err := descriptorFromDiscount(code, result)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if !promo.ValidFrom.IsZero() && now.Before(promo.ValidFrom) {
		return nil, models.NewCheckoutError(models.KindInvalidPromotion, "This promotion code is not active yet.", nil)
	}
	if !promo.ValidUntil.IsZero() && now.After(promo.ValidUntil) {
		return nil, models.NewCheckoutError(models.KindInvalidPromotion, "This promotion code has expired.", nil)
	}
	if !promo.UsableAt(now) {
		return nil, models.NewCheckoutError(models.KindInvalidPromotion, "This promotion code has been fully redeemed.", nil)
	}

	return promo, nil
}

func descriptorFromDiscount(code string, result *DiscountResult) (*models.PromotionDescriptor, error) {
	promo := &models.PromotionDescriptor{
		ID:                    result.ID,
		Code:                  code,
		Value:                 result.DiscountAmount,
		ApplicableOfferingIDs: result.ApplicableTickets,
	}

	switch strings.ToLower(result.DiscountType) {
	case "percentage", "percent":
		promo.ValueType = models.DiscountPercentage
		if promo.Value.GreaterThan(decimal.NewFromInt(100)) {
			promo.Value = decimal.NewFromInt(100)
		}
	case "amount", "fixed":
		promo.ValueType = models.DiscountFixed
	default:
		return nil, models.NewCheckoutError(models.KindInvalidPromotion, "",
			fmt.Errorf("unsupported discount type %q", result.DiscountType))
	}

	if promo.Value.IsNegative() {
		return nil, models.NewCheckoutError(models.KindInvalidPromotion, "",
			errors.New("negative discount value"))
	}

	if result.ValidFrom != nil {
		promo.ValidFrom = *result.ValidFrom
	}
	if result.ValidUntil != nil {
		promo.ValidUntil = *result.ValidUntil
	}
	if result.RemainingRedemptions != nil {
		promo.RemainingRedemptions = *result.RemainingRedemptions
	}

	return promo, nil
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"event-ticketing-checkout/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var promoNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(backend CheckoutBackend) *PromotionResolver {
	r := NewPromotionResolver(backend, nil)
	r.now = func() time.Time { return promoNow }
	return r
}

func TestPromotionResolver_BlankCodeMakesNoCall(t *testing.T) {
	backend := new(MockBackend)
	r := newTestResolver(backend)

	_, err := r.Resolve(context.Background(), "token", "   ", "evt-1")

	assert.ErrorIs(t, err, models.ErrValidation)
	backend.AssertNotCalled(t, "ResolveDiscount", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPromotionResolver_Percentage(t *testing.T) {
	backend := new(MockBackend)
	backend.On("ResolveDiscount", mock.Anything, models.Credential("token"), "SAVE10", "evt-1").
		Return(&DiscountResult{ID: "42", DiscountType: "percentage", DiscountAmount: money("10"), IsValid: true}, nil)

	promo, err := newTestResolver(backend).Resolve(context.Background(), "token", " SAVE10 ", "evt-1")

	require.NoError(t, err)
	assert.Equal(t, "42", promo.ID)
	assert.Equal(t, "SAVE10", promo.Code)
	assert.Equal(t, models.DiscountPercentage, promo.ValueType)
	assert.True(t, money("10").Equal(promo.Value))
	backend.AssertExpectations(t)
}

func TestPromotionResolver_FixedAmountAndScope(t *testing.T) {
	backend := new(MockBackend)
	backend.On("ResolveDiscount", mock.Anything, mock.Anything, "FIVE", "evt-1").
		Return(&DiscountResult{ID: "7", DiscountType: "amount", DiscountAmount: money("5"), IsValid: true, ApplicableTickets: []string{"ga"}}, nil)

	promo, err := newTestResolver(backend).Resolve(context.Background(), "", "FIVE", "evt-1")

	require.NoError(t, err)
	assert.Equal(t, models.DiscountFixed, promo.ValueType)
	assert.True(t, promo.AppliesTo("ga"))
	assert.False(t, promo.AppliesTo("vip"))
}

func TestPromotionResolver_PercentageAbove100IsClamped(t *testing.T) {
	backend := new(MockBackend)
	backend.On("ResolveDiscount", mock.Anything, mock.Anything, "ALL", "evt-1").
		Return(&DiscountResult{ID: "1", DiscountType: "percentage", DiscountAmount: money("150"), IsValid: true}, nil)

	promo, err := newTestResolver(backend).Resolve(context.Background(), "", "ALL", "evt-1")

	require.NoError(t, err)
	assert.True(t, money("100").Equal(promo.Value))
}

func TestPromotionResolver_Rejections(t *testing.T) {
	before := promoNow.Add(-time.Hour)
	after := promoNow.Add(time.Hour)
	exhausted := -1

	tests := []struct {
		name    string
		result  *DiscountResult
		message string
	}{
		{
			name:    "reported invalid",
			result:  &DiscountResult{DiscountType: "percentage", DiscountAmount: money("10"), Message: "Coupon has expired"},
			message: "Coupon has expired",
		},
		{
			name:    "not yet active",
			result:  &DiscountResult{DiscountType: "percentage", DiscountAmount: money("10"), IsValid: true, ValidFrom: &after},
			message: "This promotion code is not active yet.",
		},
		{
			name:    "expired",
			result:  &DiscountResult{DiscountType: "percentage", DiscountAmount: money("10"), IsValid: true, ValidUntil: &before},
			message: "This promotion code has expired.",
		},
		{
			name:    "exhausted",
			result:  &DiscountResult{DiscountType: "percentage", DiscountAmount: money("10"), IsValid: true, RemainingRedemptions: &exhausted},
			message: "This promotion code has been fully redeemed.",
		},
		{
			name:   "unknown type",
			result: &DiscountResult{DiscountType: "bogo", DiscountAmount: money("1"), IsValid: true},
		},
		{
			name:   "negative value",
			result: &DiscountResult{DiscountType: "amount", DiscountAmount: money("-5"), IsValid: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(MockBackend)
			backend.On("ResolveDiscount", mock.Anything, mock.Anything, "CODE", "evt-1").Return(tt.result, nil)

			_, err := newTestResolver(backend).Resolve(context.Background(), "", "CODE", "evt-1")

			assert.ErrorIs(t, err, models.ErrInvalidPromotion)
			if tt.message != "" {
				assert.Equal(t, tt.message, models.UserMessage(err))
			}
		})
	}
}

func TestPromotionResolver_BackendErrorsPassThrough(t *testing.T) {
	backend := new(MockBackend)
	netErr := models.NewCheckoutError(models.KindNetwork, "", errors.New("connection refused"))
	backend.On("ResolveDiscount", mock.Anything, mock.Anything, "CODE", "evt-1").Return(nil, netErr)

	_, err := newTestResolver(backend).Resolve(context.Background(), "", "CODE", "evt-1")

	assert.ErrorIs(t, err, models.ErrNetwork)
}

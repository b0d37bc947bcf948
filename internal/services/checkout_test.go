package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"event-ticketing-checkout/internal/metrics"
	"event-ticketing-checkout/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testCred = models.Credential("token")

type sessionFixture struct {
	session *CheckoutSession
	backend *MockBackend
	momo    *MockMobileMoney
	card    *MockCardGateway
	nav     *MockNavigator
	metrics *metrics.Metrics
	clock   *fakeClock
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		backend: new(MockBackend),
		momo:    new(MockMobileMoney),
		card:    new(MockCardGateway),
		nav:     new(MockNavigator),
		metrics: metrics.New(nil),
		clock:   &fakeClock{now: promoNow},
	}
	f.session = NewCheckoutSession("session-1", "evt-1", testOfferings(), SessionDeps{
		Backend:     f.backend,
		Promotions:  newTestResolver(f.backend),
		Payments:    PaymentDeps{MobileMoney: f.momo, Card: f.card, Navigator: f.nav},
		Metrics:     f.metrics,
		PerOrderCap: models.DefaultPerOrderCap,
		Now:         f.clock.Now,
	})
	return f
}

func percentOff(id, code, value string, tickets ...string) *DiscountResult {
	return &DiscountResult{ID: id, DiscountType: "percentage", DiscountAmount: money(value), IsValid: true, ApplicableTickets: tickets}
}

func assertTotals(t *testing.T, priced *models.PricedOrder, subtotal, fee, total string) {
	t.Helper()
	require.NotNil(t, priced)
	assert.Equal(t, subtotal, priced.Subtotal.StringFixed(2), "subtotal")
	assert.Equal(t, fee, priced.ServiceFee.StringFixed(2), "service fee")
	assert.Equal(t, total, priced.GrandTotal.StringFixed(2), "grand total")
}

func TestCheckoutSession_PricingWithPromotion(t *testing.T) {
	f := newSessionFixture(t)
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "SAVE10", "evt-1").
		Return(percentOff("p10", "SAVE10", "10"), nil)

	_, err := f.session.SetQuantity("ga", 2)
	require.NoError(t, err)

	priced, err := f.session.Priced()
	require.NoError(t, err)
	assertTotals(t, priced, "60.00", "6.00", "66.00")

	priced, err = f.session.ApplyPromotion(context.Background(), testCred, "SAVE10")
	require.NoError(t, err)
	assertTotals(t, priced, "54.00", "5.40", "59.40")
	assert.Equal(t, "p10", priced.PromotionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PromotionLookups.WithLabelValues("applied")))

	priced = f.session.ClearPromotion()
	assertTotals(t, priced, "60.00", "6.00", "66.00")
	assert.Nil(t, f.session.Promotion())
}

func TestCheckoutSession_ScopedPromotionLeavesOtherLinesAlone(t *testing.T) {
	f := newSessionFixture(t)
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "VIPONLY", "evt-1").
		Return(percentOff("pv", "VIPONLY", "50", "vip"), nil)

	_, err := f.session.SetQuantity("ga", 2)
	require.NoError(t, err)

	priced, err := f.session.ApplyPromotion(context.Background(), testCred, "VIPONLY")
	require.NoError(t, err)
	assertTotals(t, priced, "60.00", "6.00", "66.00")
}

func TestCheckoutSession_InvalidPromotionKeepsPrevious(t *testing.T) {
	f := newSessionFixture(t)
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "SAVE10", "evt-1").
		Return(percentOff("p10", "SAVE10", "10"), nil)
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "BOGUS", "evt-1").
		Return(&DiscountResult{DiscountType: "percentage", Message: "Coupon not found"}, nil)

	_, err := f.session.SetQuantity("ga", 2)
	require.NoError(t, err)
	_, err = f.session.ApplyPromotion(context.Background(), testCred, "SAVE10")
	require.NoError(t, err)

	_, err = f.session.ApplyPromotion(context.Background(), testCred, "BOGUS")
	assert.ErrorIs(t, err, models.ErrInvalidPromotion)
	assert.Equal(t, "Coupon not found", models.UserMessage(err))

	assert.Equal(t, "SAVE10", f.session.Promotion().Code)
	priced, err := f.session.Priced()
	require.NoError(t, err)
	assertTotals(t, priced, "54.00", "5.40", "59.40")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PromotionLookups.WithLabelValues("invalid")))
}

func TestCheckoutSession_StalePromotionIsDiscarded(t *testing.T) {
	f := newSessionFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "SLOW", "evt-1").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(percentOff("slow", "SLOW", "10"), nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.ApplyPromotion(context.Background(), testCred, "SLOW")
		done <- err
	}()

	<-entered
	f.session.ClearPromotion()
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Nil(t, f.session.Promotion())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PromotionLookups.WithLabelValues("superseded")))
}

func TestCheckoutSession_SubmitEmptySelectionMakesNoCall(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")

	assert.ErrorIs(t, err, models.ErrEmptySelection)
	f.backend.AssertNotCalled(t, "CreateCheckout", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutSession_SubmitRequiresCredentialAndEmail(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.session.SetQuantity("ga", 1)
	require.NoError(t, err)

	_, err = f.session.SubmitCheckout(context.Background(), "", "buyer@example.com")
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)

	_, err = f.session.SubmitCheckout(context.Background(), testCred, "not-an-email")
	assert.ErrorIs(t, err, models.ErrValidation)

	f.backend.AssertNotCalled(t, "CreateCheckout", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutSession_SubmitCreatesOrderOnce(t *testing.T) {
	f := newSessionFixture(t)
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "SAVE10", "evt-1").
		Return(percentOff("p10", "SAVE10", "10"), nil)
	f.backend.On("CreateCheckout", mock.Anything, testCred, mock.MatchedBy(func(req *CheckoutRequest) bool {
		return req.EventID == "evt-1" &&
			req.IdempotencyKey == "session-1" &&
			req.Coupon == "SAVE10" &&
			len(req.Lines) == 1 && req.Lines[0] == models.OrderLine{OfferingID: "ga", Quantity: 2}
	})).Return("ORD-1", nil).Once()

	_, err := f.session.SetQuantity("ga", 2)
	require.NoError(t, err)
	_, err = f.session.ApplyPromotion(context.Background(), testCred, "SAVE10")
	require.NoError(t, err)

	order, err := f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", order.OrderCode)
	assert.Equal(t, "p10", order.PromotionID)

	again, err := f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", again.OrderCode)
	f.backend.AssertNumberOfCalls(t, "CreateCheckout", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutSubmits.WithLabelValues("created")))

	_, err = f.session.SetQuantity("ga", 3)
	require.NoError(t, err)
	_, err = f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
	assert.ErrorIs(t, err, ErrOrderAlreadyCreated)
}

func TestCheckoutSession_SubmitInFlightGuard(t *testing.T) {
	f := newSessionFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.On("CreateCheckout", mock.Anything, testCred, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return("ORD-1", nil).Once()

	_, err := f.session.SetQuantity("ga", 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
		done <- err
	}()

	<-entered
	_, err = f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
	assert.ErrorIs(t, err, ErrCheckoutInFlight)
	assert.ErrorIs(t, err, models.ErrValidation)

	close(release)
	require.NoError(t, <-done)
	f.backend.AssertNumberOfCalls(t, "CreateCheckout", 1)
}

func TestCheckoutSession_InventoryConflictRefreshesSelection(t *testing.T) {
	f := newSessionFixture(t)
	conflict := models.NewCheckoutError(models.KindInventoryExceeded, "", errors.New("sold out"))
	f.backend.On("CreateCheckout", mock.Anything, testCred, mock.Anything).Return("", conflict)

	updated := testOfferings()
	updated[1].RemainingQuantity = 1
	f.backend.On("GetTicketOfferings", mock.Anything, testCred, "evt-1").Return(updated, nil)

	_, err := f.session.SetQuantity("vip", 2)
	require.NoError(t, err)

	_, err = f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
	assert.ErrorIs(t, err, models.ErrInventoryExceeded)

	view := f.session.View()
	require.Len(t, view.Offerings, 2)
	assert.Equal(t, 1, view.Offerings[1].Quantity)
	assert.Equal(t, 1, view.Offerings[1].MaxQuantity)
	assertTotals(t, view.Priced, "120.00", "12.00", "132.00")
	assert.Nil(t, view.Order)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckoutSubmits.WithLabelValues(string(models.KindInventoryExceeded))))
}

func TestCheckoutSession_SummaryNeedsOrder(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.Summary(context.Background(), testCred)
	assert.ErrorIs(t, err, models.ErrOrderNotCreated)
}

func submitTestOrder(t *testing.T, f *sessionFixture) {
	t.Helper()
	f.backend.On("CreateCheckout", mock.Anything, testCred, mock.Anything).Return("ORD-1", nil)
	_, err := f.session.SetQuantity("ga", 2)
	require.NoError(t, err)
	_, err = f.session.SubmitCheckout(context.Background(), testCred, "buyer@example.com")
	require.NoError(t, err)
}

func TestCheckoutSession_StartPaymentNeedsOrder(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.StartPayment(context.Background(), models.PaymentRequest{Method: models.PaymentMethodMobileMoney, MobileMoney: testWallet})
	assert.ErrorIs(t, err, models.ErrOrderNotCreated)
}

func TestCheckoutSession_PaymentRetryUsesNewReference(t *testing.T) {
	f := newSessionFixture(t)
	submitTestOrder(t, f)

	var refs []string
	f.momo.On("ChargeMobileMoney", mock.Anything, mock.MatchedBy(func(c MobileMoneyCharge) bool {
		return c.Amount.Equal(money("66")) && c.Email == "buyer@example.com"
	})).
		Run(func(args mock.Arguments) {
			refs = append(refs, args.Get(1).(MobileMoneyCharge).Reference)
		}).
		Return(&ChargeResult{Status: ChargeStatusSendOTP}, nil)

	req := models.PaymentRequest{Method: models.PaymentMethodMobileMoney, MobileMoney: testWallet}

	first, err := f.session.StartPayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAwaitingOTP, first.State)
	assert.Equal(t, "ORD-1", first.Reference)

	_, err = f.session.StartPayment(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrPaymentInFlight)

	dismissed, err := f.session.Dismiss()
	require.NoError(t, err)
	assert.True(t, dismissed.Abandoned)

	second, err := f.session.StartPayment(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "ORD-1", second.OrderCode)
	assert.Equal(t, []string{"ORD-1", "ORD-1-2"}, refs)
}

func TestCheckoutSession_PaidOrderRefusesNewAttempt(t *testing.T) {
	f := newSessionFixture(t)
	submitTestOrder(t, f)

	f.momo.On("ChargeMobileMoney", mock.Anything, mock.Anything).
		Return(&ChargeResult{Status: ChargeStatusSendOTP, Reference: "ORD-1"}, nil)
	f.momo.On("SubmitOTP", mock.Anything, "ORD-1", "123456").
		Return(&ChargeResult{Status: "success"}, nil)
	f.nav.On("Navigate", mock.Anything, mock.Anything).Return(nil).Once()

	req := models.PaymentRequest{Method: models.PaymentMethodMobileMoney, MobileMoney: testWallet}
	_, err := f.session.StartPayment(context.Background(), req)
	require.NoError(t, err)

	attempt, err := f.session.SubmitOTP(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentConfirmed, attempt.State)

	_, err = f.session.StartPayment(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	f.nav.AssertExpectations(t)
}

func TestCheckoutSession_DismissDuringOTPVerificationKeepsOneCharge(t *testing.T) {
	f := newSessionFixture(t)
	submitTestOrder(t, f)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.momo.On("ChargeMobileMoney", mock.Anything, mock.Anything).
		Return(&ChargeResult{Status: ChargeStatusSendOTP, Reference: "ORD-1"}, nil)
	f.momo.On("SubmitOTP", mock.Anything, "ORD-1", "123456").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&ChargeResult{Status: "success", Reference: "ORD-1"}, nil).Once()
	f.nav.On("Navigate", mock.Anything, mock.Anything).Return(nil).Once()

	req := models.PaymentRequest{Method: models.PaymentMethodMobileMoney, MobileMoney: testWallet}
	_, err := f.session.StartPayment(context.Background(), req)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.SubmitOTP(context.Background(), "123456")
		done <- err
	}()
	<-entered

	_, err = f.session.Dismiss()
	assert.ErrorIs(t, err, models.ErrPaymentInFlight)
	_, err = f.session.StartPayment(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrPaymentInFlight)

	close(release)
	require.NoError(t, <-done)

	attempt, ok := f.session.Payment()
	require.True(t, ok)
	assert.Equal(t, models.PaymentConfirmed, attempt.State)

	_, err = f.session.StartPayment(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	f.momo.AssertNumberOfCalls(t, "ChargeMobileMoney", 1)
	f.nav.AssertExpectations(t)
}

func TestCheckoutSession_LateCardSuccessConfirmsOrder(t *testing.T) {
	f := newSessionFixture(t)
	submitTestOrder(t, f)

	outcome := make(chan CardOutcome, 1)
	f.card.On("Open", mock.Anything, mock.Anything).
		Return(&CardSession{Reference: "ORD-1", AuthorizationURL: "https://pay.example/ORD-1", Outcome: outcome}, nil)
	f.momo.On("ChargeMobileMoney", mock.Anything, mock.Anything).
		Return(&ChargeResult{Status: ChargeStatusSendOTP, Reference: "ORD-1-2"}, nil)
	f.nav.On("Navigate", mock.Anything, mock.MatchedBy(func(c models.Confirmation) bool {
		return c.Reference == "ORD-1" && c.Method == models.PaymentMethodCard
	})).Return(nil).Once()

	card, err := f.session.StartPayment(context.Background(), models.PaymentRequest{Method: models.PaymentMethodCard})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCardRedirect, card.State)

	_, err = f.session.Dismiss()
	require.NoError(t, err)

	retry, err := f.session.StartPayment(context.Background(), models.PaymentRequest{Method: models.PaymentMethodMobileMoney, MobileMoney: testWallet})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAwaitingOTP, retry.State)

	// The buyer finished paying on the card page they had closed.
	outcome <- CardOutcome{Reference: "ORD-1"}

	require.Eventually(t, func() bool {
		p, _ := f.session.Payment()
		return p.State == models.PaymentConfirmed
	}, time.Second, time.Millisecond)

	paid, _ := f.session.Payment()
	assert.Equal(t, card.ID, paid.ID)
	assert.Equal(t, card.ID, f.session.View().Payment.ID)

	_, err = f.session.SubmitOTP(context.Background(), "123456")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.session.StartPayment(context.Background(), models.PaymentRequest{Method: models.PaymentMethodCard})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	f.momo.AssertNotCalled(t, "SubmitOTP", mock.Anything, mock.Anything, mock.Anything)
	f.nav.AssertExpectations(t)
}

func TestCheckoutSession_CloseReleasesOpenCard(t *testing.T) {
	f := newSessionFixture(t)
	submitTestOrder(t, f)

	outcome := make(chan CardOutcome, 1)
	f.card.On("Open", mock.Anything, mock.Anything).
		Return(&CardSession{Reference: "ORD-1", Outcome: outcome, Release: func() { close(outcome) }}, nil)

	attempt, err := f.session.StartPayment(context.Background(), models.PaymentRequest{Method: models.PaymentMethodCard})
	require.NoError(t, err)

	f.session.Close()

	snap, err := f.session.AwaitCard(context.Background(), attempt.ID)
	assert.ErrorIs(t, err, models.ErrPaymentCancelled)
	assert.Equal(t, models.PaymentSelectingMethod, snap.State)
	assert.True(t, snap.Abandoned)
}

func TestCheckoutSession_LapsedPromotionIsDropped(t *testing.T) {
	f := newSessionFixture(t)
	until := promoNow.Add(time.Hour)
	result := percentOff("p10", "SAVE10", "10")
	result.ValidUntil = &until
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "SAVE10", "evt-1").Return(result, nil)

	_, err := f.session.SetQuantity("ga", 2)
	require.NoError(t, err)
	priced, err := f.session.ApplyPromotion(context.Background(), testCred, "SAVE10")
	require.NoError(t, err)
	assertTotals(t, priced, "54.00", "5.40", "59.40")

	f.clock.now = until.Add(time.Minute)

	view := f.session.View()
	assertTotals(t, view.Priced, "60.00", "6.00", "66.00")
	assert.Empty(t, view.Priced.PromotionID)
	assert.Empty(t, view.Promotion)
	assert.Nil(t, f.session.Promotion())
}

func TestCheckoutSession_PromotionKeptOnceOrderExists(t *testing.T) {
	f := newSessionFixture(t)
	until := promoNow.Add(time.Hour)
	result := percentOff("p10", "SAVE10", "10")
	result.ValidUntil = &until
	f.backend.On("ResolveDiscount", mock.Anything, testCred, "SAVE10", "evt-1").Return(result, nil)

	_, err := f.session.ApplyPromotion(context.Background(), testCred, "SAVE10")
	require.NoError(t, err)
	submitTestOrder(t, f)

	f.clock.now = until.Add(time.Minute)

	priced, err := f.session.Priced()
	require.NoError(t, err)
	assertTotals(t, priced, "54.00", "5.40", "59.40")
	assert.NotNil(t, f.session.Promotion())
}

func TestCheckoutSession_View(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.Increment("vip")
	require.NoError(t, err)
	_, err = f.session.Increment("vip")
	require.NoError(t, err)
	qty, err := f.session.Increment("vip")
	require.NoError(t, err)
	assert.Equal(t, 2, qty)

	qty, err = f.session.Decrement("vip")
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	view := f.session.View()
	assert.Equal(t, "session-1", view.ID)
	assert.Equal(t, "evt-1", view.EventID)
	assert.Equal(t, models.DefaultPerOrderCap, view.Offerings[0].MaxQuantity)
	assert.Equal(t, 2, view.Offerings[1].MaxQuantity)
	assertTotals(t, view.Priced, "120.00", "12.00", "132.00")
	assert.Nil(t, view.Payment)
}

package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"event-ticketing-checkout/internal/metrics"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/pricing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrCheckoutInFlight is wrapped in the validation error returned while a
	// submission for the session is outstanding
	ErrCheckoutInFlight = errors.New("checkout submission already in progress")

	// ErrSuperseded is returned for a promotion response that arrived after a
	// newer promotion request or a clear
	ErrSuperseded = errors.New("promotion request superseded by a newer one")

	// ErrOrderAlreadyCreated is wrapped when the selection changed after the
	// backend issued an order code
	ErrOrderAlreadyCreated = errors.New("order already created for a different selection")
)

// SessionDeps are the collaborators shared by every checkout session
type SessionDeps struct {
	Backend     CheckoutBackend
	Promotions  *PromotionResolver
	Calculator  *pricing.Calculator
	Payments    PaymentDeps
	Metrics     *metrics.Metrics
	Logger      log.FieldLogger
	PerOrderCap int
	Now         func() time.Time
}

// CheckoutSession is one buyer's checkout for one event. The mutex is never
// held across a network call; every call re-reads state after it returns.
type CheckoutSession struct {
	mu sync.Mutex

	id      string
	eventID string
	owner   models.Credential
	deps    SessionDeps
	logger  log.FieldLogger

	selection *Selection
	promo     *models.PromotionDescriptor
	promoSeq  uint64

	// generation changes on every selection or promotion change and keys
	// the pricing memo
	generation uint64
	memoGen    uint64
	memo       *models.PricedOrder
	memoErr    error

	submitting  bool
	order       *models.CheckoutOrder
	orderPriced *models.PricedOrder
	orderSig    string
	email       string

	attempts   []*PaymentAttempt
	lastActive time.Time
}

// SessionView is the read model handed to the HTTP layer
type SessionView struct {
	ID         string                 `json:"id"`
	EventID    string                 `json:"event_id"`
	Offerings  []OfferingView         `json:"offerings"`
	Priced     *models.PricedOrder    `json:"priced,omitempty"`
	PriceError string                 `json:"price_error,omitempty"`
	Promotion  string                 `json:"promotion,omitempty"`
	Order      *models.CheckoutOrder  `json:"order,omitempty"`
	Payment    *models.PaymentAttempt `json:"payment,omitempty"`
}

// OfferingView is one offering with the buyer's quantity
type OfferingView struct {
	models.TicketOffering
	Quantity    int  `json:"quantity"`
	MaxQuantity int  `json:"max_quantity"`
	SoldOut     bool `json:"sold_out"`
}

// NewCheckoutSession creates a session over an event's offerings
func NewCheckoutSession(id, eventID string, offerings []models.TicketOffering, deps SessionDeps) *CheckoutSession {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.Calculator == nil {
		deps.Calculator = pricing.NewCalculator(pricing.DefaultFeeRate)
	}
	if deps.Promotions == nil {
		deps.Promotions = NewPromotionResolver(deps.Backend, deps.Logger)
	}
	if deps.Payments.Metrics == nil {
		deps.Payments.Metrics = deps.Metrics
	}
	if deps.Payments.Logger == nil {
		deps.Payments.Logger = deps.Logger
	}

	return &CheckoutSession{
		id:         id,
		eventID:    eventID,
		deps:       deps,
		logger:     deps.Logger.WithFields(log.Fields{"session_id": id, "event_id": eventID}),
		selection:  NewSelection(offerings, deps.PerOrderCap),
		generation: 1,
		lastActive: deps.Now(),
	}
}

// ID returns the session id
func (s *CheckoutSession) ID() string {
	return s.id
}

// OwnedBy reports whether cred is the credential the session was started with
func (s *CheckoutSession) OwnedBy(cred models.Credential) bool {
	return subtle.ConstantTimeCompare([]byte(s.owner), []byte(cred)) == 1
}

// EventID returns the event the session sells tickets for
func (s *CheckoutSession) EventID() string {
	return s.eventID
}

// LastActive returns when the session was last used
func (s *CheckoutSession) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *CheckoutSession) touchLocked() {
	s.lastActive = s.deps.Now()
}

// SetQuantity stores a clamped quantity for an offering
func (s *CheckoutSession) SetQuantity(offeringID string, quantity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	before := s.selection.Quantity(offeringID)
	stored, err := s.selection.SetQuantity(offeringID, quantity)
	if err != nil {
		return 0, err
	}
	if stored != before {
		s.generation++
	}
	return stored, nil
}

// Increment adds one ticket of an offering
func (s *CheckoutSession) Increment(offeringID string) (int, error) {
	s.mu.Lock()
	current := s.selection.Quantity(offeringID)
	s.mu.Unlock()
	return s.SetQuantity(offeringID, current+1)
}

// Decrement removes one ticket of an offering
func (s *CheckoutSession) Decrement(offeringID string) (int, error) {
	s.mu.Lock()
	current := s.selection.Quantity(offeringID)
	s.mu.Unlock()
	return s.SetQuantity(offeringID, current-1)
}

// Priced returns the pricing of the current selection and promotion
func (s *CheckoutSession) Priced() (*models.PricedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pricedLocked()
}

func (s *CheckoutSession) pricedLocked() (*models.PricedOrder, error) {
	// Once the order exists the backend has already redeemed the code.
	if s.promo != nil && s.order == nil && !s.promo.UsableAt(s.deps.Now()) {
		s.logger.WithField("promotion_id", s.promo.ID).Info("Promotion lapsed")
		s.promo = nil
		s.generation++
	}

	if s.memoGen == s.generation {
		return s.memo, s.memoErr
	}

	s.memo, s.memoErr = s.deps.Calculator.Price(s.selection.Lines(), s.selection.Offerings(), s.promo)
	s.memoGen = s.generation
	return s.memo, s.memoErr
}

// ApplyPromotion resolves code and, on success, replaces the current
// promotion. A failure leaves the previous promotion and pricing in place.
func (s *CheckoutSession) ApplyPromotion(ctx context.Context, cred models.Credential, code string) (*models.PricedOrder, error) {
	s.mu.Lock()
	s.touchLocked()
	s.promoSeq++
	seq := s.promoSeq
	s.mu.Unlock()

	promo, err := s.deps.Promotions.Resolve(ctx, cred, code, s.eventID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.promoSeq {
		s.deps.Metrics.PromotionLookedUp("superseded")
		return nil, ErrSuperseded
	}
	if err != nil {
		if kind, ok := models.KindOf(err); ok && kind == models.KindInvalidPromotion {
			s.deps.Metrics.PromotionLookedUp("invalid")
		} else {
			s.deps.Metrics.PromotionLookedUp("error")
		}
		return nil, err
	}

	s.promo = promo
	s.generation++
	s.deps.Metrics.PromotionLookedUp("applied")
	s.logger.WithField("promotion_id", promo.ID).Info("Promotion applied")

	return s.pricedLocked()
}

// ClearPromotion drops the current promotion. Lookups still in flight are
// superseded.
func (s *CheckoutSession) ClearPromotion() *models.PricedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	s.promoSeq++
	if s.promo != nil {
		s.promo = nil
		s.generation++
	}
	priced, _ := s.pricedLocked()
	return priced
}

// Promotion returns the applied promotion, if any
func (s *CheckoutSession) Promotion() *models.PromotionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promo == nil {
		return nil
	}
	promo := *s.promo
	return &promo
}

func orderSignature(lines []models.SelectionLine, promotionID string) string {
	parts := make([]string, 0, len(lines)+1)
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s=%d", l.OfferingID, l.RequestedQuantity))
	}
	sort.Strings(parts)
	parts = append(parts, "promo="+promotionID)
	return strings.Join(parts, ";")
}

// SubmitCheckout creates the backend order for the current selection. Only
// one submission per session may be outstanding. Once an order exists it is
// returned again for an unchanged selection.
func (s *CheckoutSession) SubmitCheckout(ctx context.Context, cred models.Credential, email string) (*models.CheckoutOrder, error) {
	email = strings.TrimSpace(email)

	s.mu.Lock()
	s.touchLocked()

	if s.submitting {
		s.mu.Unlock()
		s.deps.Metrics.CheckoutSubmitted("in_flight")
		return nil, models.NewCheckoutError(models.KindValidation, "Your order is already being submitted.", ErrCheckoutInFlight)
	}

	lines := s.selection.Lines()
	if len(lines) == 0 {
		s.mu.Unlock()
		s.deps.Metrics.CheckoutSubmitted("empty")
		return nil, models.NewCheckoutError(models.KindEmptySelection, "", nil)
	}
	if cred.IsZero() {
		s.mu.Unlock()
		return nil, models.NewCheckoutError(models.KindAuthenticationRequired, "", nil)
	}
	if err := models.ValidateEmail(email); err != nil {
		s.mu.Unlock()
		return nil, models.NewCheckoutError(models.KindValidation, "Enter a valid email address.", err)
	}

	priced, err := s.pricedLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	sig := orderSignature(lines, priced.PromotionID)
	if s.order != nil {
		defer s.mu.Unlock()
		if sig != s.orderSig {
			return nil, models.NewCheckoutError(models.KindValidation,
				"An order was already created for a different selection.", ErrOrderAlreadyCreated)
		}
		s.email = email
		order := *s.order
		return &order, nil
	}

	req := &CheckoutRequest{
		EventID:        s.eventID,
		IdempotencyKey: s.id,
	}
	for _, l := range lines {
		req.Lines = append(req.Lines, models.OrderLine{OfferingID: l.OfferingID, Quantity: l.RequestedQuantity})
	}
	if s.promo != nil && priced.PromotionID != "" {
		req.Coupon = s.promo.Code
	}
	s.submitting = true
	s.mu.Unlock()

	orderCode, err := s.deps.Backend.CreateCheckout(ctx, cred, req)
	if err != nil {
		if kind, ok := models.KindOf(err); ok && kind == models.KindInventoryExceeded {
			s.refreshAfterConflict(ctx, cred)
		}
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()

		kind, _ := models.KindOf(err)
		s.deps.Metrics.CheckoutSubmitted(string(kind))
		s.logger.WithError(err).Warn("Checkout submission failed")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false

	s.order = &models.CheckoutOrder{
		OrderCode:   orderCode,
		EventID:     s.eventID,
		Lines:       req.Lines,
		PromotionID: priced.PromotionID,
		CreatedAt:   s.deps.Now(),
	}
	s.orderPriced = priced
	s.orderSig = sig
	s.email = email

	s.deps.Metrics.CheckoutSubmitted("created")
	s.logger.WithFields(log.Fields{
		"order_code":  orderCode,
		"grand_total": priced.GrandTotal.StringFixed(2),
		"currency":    priced.Currency,
	}).Info("Checkout order created")

	order := *s.order
	return &order, nil
}

// refreshAfterConflict reloads availability after an inventory race. The
// submitting flag is still set, so no other submission can start meanwhile.
func (s *CheckoutSession) refreshAfterConflict(ctx context.Context, cred models.Credential) {
	if _, err := s.RefreshOfferings(ctx, cred); err != nil {
		s.logger.WithError(err).Warn("Failed to refresh ticket availability")
	}
}

// RefreshOfferings re-reads availability from the backend and forces the
// selection down to the new caps. It reports whether the selection changed.
func (s *CheckoutSession) RefreshOfferings(ctx context.Context, cred models.Credential) (bool, error) {
	offerings, err := s.deps.Backend.GetTicketOfferings(ctx, cred, s.eventID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.selection.Refresh(offerings)
	// Prices or caps may differ even when quantities do not.
	s.generation++
	if changed {
		s.logger.Info("Selection reduced to current availability")
	}
	return changed, nil
}

// Order returns the created order, if any
func (s *CheckoutSession) Order() *models.CheckoutOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return nil
	}
	order := *s.order
	return &order
}

// Summary reads the backend's view of the created order
func (s *CheckoutSession) Summary(ctx context.Context, cred models.Credential) (*models.CheckoutSummary, error) {
	order := s.Order()
	if order == nil {
		return nil, models.NewCheckoutError(models.KindValidation, "Submit your order first.", models.ErrOrderNotCreated)
	}
	return s.deps.Backend.GetCheckout(ctx, cred, order.OrderCode)
}

func (s *CheckoutSession) currentLocked() *PaymentAttempt {
	if len(s.attempts) == 0 {
		return nil
	}
	return s.attempts[len(s.attempts)-1]
}

// paidLocked returns the attempt that confirmed the order. A dismissed card
// attempt can still confirm after a newer attempt was started.
func (s *CheckoutSession) paidLocked() *PaymentAttempt {
	for _, a := range s.attempts {
		if a.State() == models.PaymentConfirmed {
			return a
		}
	}
	return nil
}

// latestLocked returns the paid attempt if there is one, else the current
func (s *CheckoutSession) latestLocked() *PaymentAttempt {
	if paid := s.paidLocked(); paid != nil {
		return paid
	}
	return s.currentLocked()
}

// StartPayment opens a new payment attempt for the order and initiates it
// with the requested method. Each call is a fresh attempt against the same
// order code.
func (s *CheckoutSession) StartPayment(ctx context.Context, req models.PaymentRequest) (models.PaymentAttempt, error) {
	s.mu.Lock()
	s.touchLocked()

	if s.order == nil {
		s.mu.Unlock()
		return models.PaymentAttempt{}, models.NewCheckoutError(models.KindValidation, "Submit your order first.", models.ErrOrderNotCreated)
	}

	if paid := s.paidLocked(); paid != nil {
		s.mu.Unlock()
		snap := paid.Snapshot()
		return snap, fmt.Errorf("%w: order %s is already paid", models.ErrInvalidTransition, snap.OrderCode)
	}
	if current := s.currentLocked(); current != nil {
		snap := current.Snapshot()
		if !snap.State.IsTerminal() && !snap.Abandoned && snap.State != models.PaymentSelectingMethod {
			s.mu.Unlock()
			return snap, models.ErrPaymentInFlight
		}
	}

	n := len(s.attempts)
	chargeRef := s.order.OrderCode
	if n > 0 {
		chargeRef = fmt.Sprintf("%s-%d", s.order.OrderCode, n+1)
	}

	attempt := NewPaymentAttempt(uuid.New().String(), models.Charge{
		OrderCode: s.order.OrderCode,
		Amount:    s.orderPriced.GrandTotal,
		Currency:  s.orderPriced.Currency,
		Email:     s.email,
	}, chargeRef, s.deps.Payments)
	s.attempts = append(s.attempts, attempt)
	s.mu.Unlock()

	err := attempt.Confirm(ctx, req.Method, req.MobileMoney)
	return attempt.Snapshot(), err
}

// Payment returns the snapshot of the paid attempt, or else the latest one
func (s *CheckoutSession) Payment() (models.PaymentAttempt, bool) {
	s.mu.Lock()
	current := s.latestLocked()
	s.mu.Unlock()
	if current == nil {
		return models.PaymentAttempt{}, false
	}
	return current.Snapshot(), true
}

func (s *CheckoutSession) current() (*PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	current := s.currentLocked()
	if current == nil {
		return nil, fmt.Errorf("%w: no payment has been started", models.ErrInvalidTransition)
	}
	return current, nil
}

// SubmitOTP forwards the buyer's code to the latest attempt. It is refused
// once any attempt has paid for the order.
func (s *CheckoutSession) SubmitOTP(ctx context.Context, otp string) (models.PaymentAttempt, error) {
	s.mu.Lock()
	paid := s.paidLocked()
	s.mu.Unlock()
	if paid != nil {
		snap := paid.Snapshot()
		return snap, fmt.Errorf("%w: order %s is already paid", models.ErrInvalidTransition, snap.OrderCode)
	}

	attempt, err := s.current()
	if err != nil {
		return models.PaymentAttempt{}, err
	}
	err = attempt.SubmitOTP(ctx, otp)
	return attempt.Snapshot(), err
}

// AwaitCard waits for the card gateway to report on the attempt with the
// given id
func (s *CheckoutSession) AwaitCard(ctx context.Context, attemptID string) (models.PaymentAttempt, error) {
	s.mu.Lock()
	var attempt *PaymentAttempt
	for _, a := range s.attempts {
		if a.ID() == attemptID {
			attempt = a
			break
		}
	}
	s.mu.Unlock()

	if attempt == nil {
		return models.PaymentAttempt{}, fmt.Errorf("%w: unknown payment attempt %s", models.ErrInvalidTransition, attemptID)
	}
	err := attempt.AwaitCard(ctx)
	return attempt.Snapshot(), err
}

// Dismiss abandons the latest attempt
func (s *CheckoutSession) Dismiss() (models.PaymentAttempt, error) {
	attempt, err := s.current()
	if err != nil {
		return models.PaymentAttempt{}, err
	}
	err = attempt.Dismiss()
	return attempt.Snapshot(), err
}

// View returns the session's read model
func (s *CheckoutSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := SessionView{ID: s.id, EventID: s.eventID}
	for _, o := range s.selection.Offerings() {
		view.Offerings = append(view.Offerings, OfferingView{
			TicketOffering: o,
			Quantity:       s.selection.Quantity(o.ID),
			MaxQuantity:    s.selection.MaxQuantity(o.ID),
			SoldOut:        o.IsSoldOut(),
		})
	}

	priced, err := s.pricedLocked()
	if err != nil {
		view.PriceError = models.UserMessage(err)
	} else {
		view.Priced = priced
	}
	if s.promo != nil {
		view.Promotion = s.promo.Code
	}
	if s.order != nil {
		order := *s.order
		view.Order = &order
	}
	if latest := s.latestLocked(); latest != nil {
		snap := latest.Snapshot()
		view.Payment = &snap
	}
	return view
}

// Close releases every card payment still open at the gateway
func (s *CheckoutSession) Close() {
	s.mu.Lock()
	attempts := append([]*PaymentAttempt(nil), s.attempts...)
	s.mu.Unlock()

	for _, a := range attempts {
		a.Release()
	}
}

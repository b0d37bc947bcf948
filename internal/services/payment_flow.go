package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"event-ticketing-checkout/internal/metrics"
	"event-ticketing-checkout/internal/models"

	log "github.com/sirupsen/logrus"
)

// DefaultNavigateTimeout bounds the hand-off of a confirmed payment
const DefaultNavigateTimeout = 5 * time.Second

// PaymentDeps are the collaborators a payment attempt drives
type PaymentDeps struct {
	Card            CardGateway
	MobileMoney     MobileMoneyProvider
	Navigator       Navigator
	Metrics         *metrics.Metrics
	Logger          log.FieldLogger
	Now             func() time.Time
	NavigateTimeout time.Duration
}

// transitions lists the legal moves of the payment state machine
var transitions = map[models.PaymentState][]models.PaymentState{
	// selecting_method -> completing only happens when the provider reports
	// a card charge for an attempt the buyer had already dismissed.
	models.PaymentSelectingMethod: {models.PaymentInitiating, models.PaymentCompleting},
	models.PaymentInitiating: {
		models.PaymentCardRedirect,
		models.PaymentAwaitingOTP,
		models.PaymentCompleting,
		models.PaymentFailed,
	},
	models.PaymentCardRedirect: {models.PaymentCompleting, models.PaymentSelectingMethod},
	models.PaymentAwaitingOTP:  {models.PaymentCompleting, models.PaymentSelectingMethod},
	models.PaymentCompleting:   {models.PaymentConfirmed},
}

func canTransition(from, to models.PaymentState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentAttempt is one traversal of the payment state machine for an order.
// An attempt that returns to selecting_method is abandoned; retrying means
// starting a new attempt against the same order code.
type PaymentAttempt struct {
	mu sync.Mutex

	id        string
	charge    models.Charge
	chargeRef string
	deps      PaymentDeps
	logger    log.FieldLogger
	method    models.PaymentMethod
	reference string
	state     models.PaymentState
	otp       bool
	authURL   string
	display   string
	message   string
	abandoned bool
	inFlight  bool
	history   []models.Transition

	// settled is closed once the card outcome has been applied
	settled chan struct{}
	release func()
}

// NewPaymentAttempt creates an attempt in selecting_method. chargeRef is the
// reference sent to the provider; it defaults to the order code.
func NewPaymentAttempt(id string, charge models.Charge, chargeRef string, deps PaymentDeps) *PaymentAttempt {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.NavigateTimeout <= 0 {
		deps.NavigateTimeout = DefaultNavigateTimeout
	}
	if chargeRef == "" {
		chargeRef = charge.OrderCode
	}

	return &PaymentAttempt{
		id:        id,
		charge:    charge,
		chargeRef: chargeRef,
		deps:      deps,
		logger: deps.Logger.WithFields(log.Fields{
			"attempt_id": id,
			"order_code": charge.OrderCode,
		}),
		state: models.PaymentSelectingMethod,
	}
}

// ID returns the attempt id
func (p *PaymentAttempt) ID() string {
	return p.id
}

// State returns the current state
func (p *PaymentAttempt) State() models.PaymentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the attempt's observable data
func (p *PaymentAttempt) Snapshot() models.PaymentAttempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *PaymentAttempt) snapshotLocked() models.PaymentAttempt {
	return models.PaymentAttempt{
		ID:               p.id,
		OrderCode:        p.charge.OrderCode,
		Method:           p.method,
		Reference:        p.reference,
		State:            p.state,
		OTPRequired:      p.otp,
		AuthorizationURL: p.authURL,
		DisplayText:      p.display,
		Message:          p.message,
		Abandoned:        p.abandoned,
		History:          append([]models.Transition(nil), p.history...),
	}
}

func (p *PaymentAttempt) moveLocked(to models.PaymentState) error {
	if !canTransition(p.state, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, p.state, to)
	}

	p.history = append(p.history, models.Transition{From: p.state, To: to, At: p.deps.Now()})
	p.logger.WithFields(log.Fields{
		"method": p.method,
		"from":   p.state,
		"to":     to,
	}).Info("Payment state changed")
	p.state = to
	p.deps.Metrics.PaymentTransitioned(string(p.method), string(to))
	return nil
}

// begin claims the in-flight slot if the attempt is in one of states
func (p *PaymentAttempt) begin(states ...models.PaymentState) error {
	if p.inFlight {
		return models.ErrPaymentInFlight
	}
	if p.abandoned {
		return fmt.Errorf("%w: attempt %s was abandoned", models.ErrInvalidTransition, p.id)
	}
	for _, s := range states {
		if p.state == s {
			p.inFlight = true
			return nil
		}
	}
	return fmt.Errorf("%w: not allowed in state %s", models.ErrInvalidTransition, p.state)
}

// Confirm initiates payment with the chosen method
func (p *PaymentAttempt) Confirm(ctx context.Context, method models.PaymentMethod, details *models.MobileMoneyDetails) error {
	p.mu.Lock()
	if err := p.begin(models.PaymentSelectingMethod); err != nil {
		p.mu.Unlock()
		return err
	}

	switch method {
	case models.PaymentMethodCard:
		if p.deps.Card == nil {
			p.inFlight = false
			p.mu.Unlock()
			return models.NewCheckoutError(models.KindValidation, "Card payments are not available.", nil)
		}
	case models.PaymentMethodMobileMoney:
		if p.deps.MobileMoney == nil {
			p.inFlight = false
			p.mu.Unlock()
			return models.NewCheckoutError(models.KindValidation, "Mobile money payments are not available.", nil)
		}
		if details == nil {
			p.inFlight = false
			p.mu.Unlock()
			return models.NewCheckoutError(models.KindValidation, "Enter your mobile money details.", nil)
		}
		if err := details.Validate(); err != nil {
			p.inFlight = false
			p.mu.Unlock()
			return models.NewCheckoutError(models.KindValidation, "", err)
		}
	default:
		p.inFlight = false
		p.mu.Unlock()
		return models.NewCheckoutError(models.KindValidation, "",
			fmt.Errorf("unsupported payment method %q", method))
	}

	p.method = method
	p.message = ""
	_ = p.moveLocked(models.PaymentInitiating)
	charge := p.charge
	p.mu.Unlock()

	if method == models.PaymentMethodCard {
		return p.openCard(ctx, charge)
	}
	return p.chargeMobileMoney(ctx, charge, *details)
}

func (p *PaymentAttempt) openCard(ctx context.Context, charge models.Charge) error {
	session, err := p.deps.Card.Open(ctx, CardCharge{
		Reference: p.chargeRef,
		Email:     charge.Email,
		Amount:    charge.Amount,
		Currency:  charge.Currency,
		Metadata:  map[string]string{"order_code": charge.OrderCode},
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false

	if err != nil {
		return p.failLocked(err)
	}

	p.reference = session.Reference
	p.authURL = session.AuthorizationURL
	p.release = session.Release
	p.settled = make(chan struct{})
	if err := p.moveLocked(models.PaymentCardRedirect); err != nil {
		return err
	}
	go p.watchCard(session.Outcome, p.settled)
	return nil
}

// watchCard applies the gateway's outcome to the attempt. It runs until the
// gateway delivers or releases the payment, independent of any request.
func (p *PaymentAttempt) watchCard(outcome <-chan CardOutcome, settled chan struct{}) {
	defer close(settled)

	result, ok := <-outcome

	p.mu.Lock()
	if !ok || result.Closed {
		defer p.mu.Unlock()
		if p.abandoned {
			return
		}
		p.abandoned = true
		p.message = models.UserMessage(models.ErrPaymentCancelled)
		_ = p.moveLocked(models.PaymentSelectingMethod)
		return
	}

	if result.Reference != "" {
		p.reference = result.Reference
	}
	if p.abandoned {
		// The buyer paid on the hosted page after closing the dialog.
		p.logger.WithField("reference", p.reference).Warn("Card payment confirmed after dismiss")
		p.abandoned = false
	}
	p.message = ""
	p.inFlight = true
	_ = p.moveLocked(models.PaymentCompleting)
	p.mu.Unlock()

	_ = p.complete(context.Background())
}

func (p *PaymentAttempt) chargeMobileMoney(ctx context.Context, charge models.Charge, details models.MobileMoneyDetails) error {
	result, err := p.deps.MobileMoney.ChargeMobileMoney(ctx, MobileMoneyCharge{
		Amount:      charge.Amount,
		Email:       charge.Email,
		Currency:    charge.Currency,
		MobileMoney: details,
		Reference:   p.chargeRef,
	})

	p.mu.Lock()
	if err != nil {
		defer p.mu.Unlock()
		p.inFlight = false
		return p.failLocked(err)
	}

	p.reference = result.Reference
	if p.reference == "" {
		p.reference = p.chargeRef
	}
	p.display = result.DisplayText

	if result.Status == ChargeStatusSendOTP {
		p.otp = true
		p.inFlight = false
		err := p.moveLocked(models.PaymentAwaitingOTP)
		p.mu.Unlock()
		return err
	}

	// Any other non-error status is treated as paid.
	_ = p.moveLocked(models.PaymentCompleting)
	p.mu.Unlock()
	return p.complete(ctx)
}

// failLocked moves an initiating attempt to failed and returns the
// classified initiation error
func (p *PaymentAttempt) failLocked(cause error) error {
	msg := providerMessage(cause)
	classified := models.NewCheckoutError(models.KindPaymentInitiationFailed, msg, cause)
	if kind, ok := models.KindOf(cause); ok && kind == models.KindNetwork {
		classified = models.NewCheckoutError(models.KindNetwork, "", cause)
	}
	p.message = models.UserMessage(classified)
	p.logger.WithError(cause).Warn("Payment initiation failed")
	if err := p.moveLocked(models.PaymentFailed); err != nil {
		return err
	}
	return classified
}

// providerMessage extracts the message a provider attached to an error
func providerMessage(err error) string {
	var pe *PaystackError
	if errors.As(err, &pe) {
		return pe.Message
	}
	var ce *models.CheckoutError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return ""
}

// AwaitCard blocks until the card outcome has been applied. Context
// cancellation returns ctx.Err() and leaves the state unchanged.
func (p *PaymentAttempt) AwaitCard(ctx context.Context) error {
	p.mu.Lock()
	settled := p.settled
	p.mu.Unlock()

	if settled == nil {
		return fmt.Errorf("%w: attempt %s has no card payment", models.ErrInvalidTransition, p.id)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-settled:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == models.PaymentConfirmed {
		return nil
	}
	return models.NewCheckoutError(models.KindPaymentCancelled, "", nil)
}

// SubmitOTP verifies the code the buyer received. A rejection keeps the
// attempt in awaiting_otp so the buyer can try again.
func (p *PaymentAttempt) SubmitOTP(ctx context.Context, otp string) error {
	otp = strings.TrimSpace(otp)

	p.mu.Lock()
	if err := p.begin(models.PaymentAwaitingOTP); err != nil {
		p.mu.Unlock()
		return err
	}
	if err := models.ValidateOTP(otp); err != nil {
		p.inFlight = false
		p.mu.Unlock()
		return models.NewCheckoutError(models.KindValidation, fmt.Sprintf("Enter the %d-character code.", models.OTPLength), err)
	}
	reference := p.reference
	p.mu.Unlock()

	result, err := p.deps.MobileMoney.SubmitOTP(ctx, reference, otp)

	p.mu.Lock()
	if err != nil {
		defer p.mu.Unlock()
		p.inFlight = false
		if kind, ok := models.KindOf(err); ok && kind == models.KindNetwork {
			return err
		}
		rejected := models.NewCheckoutError(models.KindOTPInvalid, providerMessage(err), err)
		p.message = models.UserMessage(rejected)
		p.logger.WithError(err).Info("OTP rejected")
		return rejected
	}

	if result.Reference != "" {
		p.reference = result.Reference
	}
	p.message = ""
	_ = p.moveLocked(models.PaymentCompleting)
	p.mu.Unlock()
	return p.complete(ctx)
}

// Dismiss closes the OTP dialog or card window and abandons the attempt.
// An OTP being verified cannot be dismissed. A card payment stays open at
// the gateway, so a charge the provider still reports confirms the attempt.
func (p *PaymentAttempt) Dismiss() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		return models.ErrPaymentInFlight
	}
	if p.state != models.PaymentAwaitingOTP && p.state != models.PaymentCardRedirect {
		return fmt.Errorf("%w: cannot dismiss in state %s", models.ErrInvalidTransition, p.state)
	}

	p.abandoned = true
	p.message = models.UserMessage(models.ErrPaymentCancelled)
	return p.moveLocked(models.PaymentSelectingMethod)
}

// complete hands the paid order to the navigator and confirms the attempt.
// The caller holds the in-flight slot.
func (p *PaymentAttempt) complete(ctx context.Context) error {
	p.mu.Lock()
	confirmation := models.Confirmation{
		OrderCode:   p.charge.OrderCode,
		Reference:   p.reference,
		Method:      p.method,
		ConfirmedAt: p.deps.Now(),
	}
	p.mu.Unlock()

	if p.deps.Navigator != nil {
		navCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deps.NavigateTimeout)
		err := p.deps.Navigator.Navigate(navCtx, confirmation)
		cancel()
		if err != nil {
			p.logger.WithError(err).WithField("reference", confirmation.Reference).Error("Failed to navigate to confirmation")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	return p.moveLocked(models.PaymentConfirmed)
}

// Release frees an open card payment at the gateway. A watcher still
// waiting sees the payment as closed.
func (p *PaymentAttempt) Release() {
	p.mu.Lock()
	release := p.release
	p.release = nil
	p.mu.Unlock()

	if release != nil {
		release()
	}
}

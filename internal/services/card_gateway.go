package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"event-ticketing-checkout/internal/models"

	log "github.com/sirupsen/logrus"
)

// pendingOutcomes holds the outcome channel of every open card payment
type pendingOutcomes struct {
	mu      sync.Mutex
	pending map[string]chan CardOutcome
}

func newPendingOutcomes() *pendingOutcomes {
	return &pendingOutcomes{pending: make(map[string]chan CardOutcome)}
}

func (p *pendingOutcomes) open(reference string) (<-chan CardOutcome, func()) {
	ch := make(chan CardOutcome, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.pending[reference]; ok {
		prev <- CardOutcome{Reference: reference, Closed: true}
		close(prev)
	}
	p.pending[reference] = ch
	return ch, func() { p.release(reference, ch) }
}

// release drops ch if it is still the open payment for reference
func (p *pendingOutcomes) release(reference string, ch chan CardOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[reference] == ch {
		delete(p.pending, reference)
		close(ch)
	}
}

// deliver sends exactly one outcome for reference. It reports false when
// no payment with that reference is open.
func (p *pendingOutcomes) deliver(reference string, outcome CardOutcome) bool {
	p.mu.Lock()
	ch, ok := p.pending[reference]
	delete(p.pending, reference)
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- outcome
	close(ch)
	return true
}

func (p *pendingOutcomes) has(reference string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[reference]
	return ok
}

// PaystackCardGateway runs the hosted card checkout. The buyer is sent to
// Paystack's authorization URL; the callback and webhook routes resolve the
// outcome once Paystack reports back.
type PaystackCardGateway struct {
	paystack *PaystackService
	outcomes *pendingOutcomes
	logger   log.FieldLogger
}

// NewPaystackCardGateway creates a card gateway backed by Paystack
func NewPaystackCardGateway(paystack *PaystackService, logger log.FieldLogger) *PaystackCardGateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PaystackCardGateway{
		paystack: paystack,
		outcomes: newPendingOutcomes(),
		logger:   logger.WithField("component", "card_gateway"),
	}
}

// Open initializes a card transaction and returns where to send the buyer
func (g *PaystackCardGateway) Open(ctx context.Context, charge CardCharge) (*CardSession, error) {
	resp, err := g.paystack.InitializeTransaction(ctx, &TransactionRequest{
		Email:     charge.Email,
		Amount:    models.Charge{Amount: charge.Amount}.MinorUnits(),
		Currency:  charge.Currency,
		Reference: charge.Reference,
		Metadata:  charge.Metadata,
		Channels:  []string{"card"},
	})
	if err != nil {
		return nil, err
	}

	reference := resp.Data.Reference
	if reference == "" {
		reference = charge.Reference
	}

	outcome, release := g.outcomes.open(reference)
	return &CardSession{
		Reference:        reference,
		AuthorizationURL: resp.Data.AuthorizationURL,
		Outcome:          outcome,
		Release:          release,
	}, nil
}

// HandleCallback verifies a transaction Paystack redirected back with and
// resolves its outcome. Anything but a successful charge counts as closed.
func (g *PaystackCardGateway) HandleCallback(ctx context.Context, reference string) error {
	if !g.outcomes.has(reference) {
		return fmt.Errorf("%w: no open card payment for reference %s", models.ErrSessionNotFound, reference)
	}

	verification, err := g.paystack.VerifyTransaction(ctx, reference)
	if err != nil {
		return err
	}

	success := verification.Data.Status == "success"
	g.logger.WithFields(log.Fields{
		"reference": reference,
		"status":    verification.Data.Status,
	}).Info("Card callback received")

	g.outcomes.deliver(reference, CardOutcome{Reference: reference, Closed: !success})
	return nil
}

// Cancel resolves an open card payment as closed by the buyer
func (g *PaystackCardGateway) Cancel(reference string) bool {
	return g.outcomes.deliver(reference, CardOutcome{Reference: reference, Closed: true})
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// HandleWebhook resolves a card payment from a signed Paystack event
func (g *PaystackCardGateway) HandleWebhook(payload []byte, signature string) error {
	if !g.paystack.VerifyWebhookSignature(payload, signature) {
		return models.NewCheckoutError(models.KindAuthenticationRequired, "invalid webhook signature", nil)
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.NewCheckoutError(models.KindValidation, "", fmt.Errorf("failed to decode webhook: %w", err))
	}

	if event.Event != "charge.success" {
		g.logger.WithField("event", event.Event).Debug("Ignoring webhook event")
		return nil
	}

	if !g.outcomes.deliver(event.Data.Reference, CardOutcome{Reference: event.Data.Reference}) {
		g.logger.WithField("reference", event.Data.Reference).Warn("Charge succeeded for a payment that is not open")
	}
	return nil
}

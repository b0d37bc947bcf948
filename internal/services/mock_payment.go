package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"event-ticketing-checkout/internal/models"

	log "github.com/sirupsen/logrus"
)

// MockOTP is the only code the mock provider accepts
const MockOTP = "123456"

// MockPaymentProvider stands in for Paystack when no credentials are
// configured. Card payments resolve through the same callback routes as the
// real gateway; mobile-money charges always ask for MockOTP.
type MockPaymentProvider struct {
	callbackURL string
	outcomes    *pendingOutcomes
	logger      log.FieldLogger

	mu      sync.Mutex
	charges map[string]MobileMoneyCharge
}

// NewMockPaymentProvider creates a mock provider. callbackURL is where the
// mock authorization URL points.
func NewMockPaymentProvider(callbackURL string, logger log.FieldLogger) *MockPaymentProvider {
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.Info("Payment service: Using mock (no Paystack credentials provided)")

	return &MockPaymentProvider{
		callbackURL: callbackURL,
		outcomes:    newPendingOutcomes(),
		logger:      logger.WithField("component", "mock_payment"),
		charges:     make(map[string]MobileMoneyCharge),
	}
}

// Open simulates a hosted card page
func (m *MockPaymentProvider) Open(ctx context.Context, charge CardCharge) (*CardSession, error) {
	reference := charge.Reference
	if reference == "" {
		reference = fmt.Sprintf("mock_card_%d", time.Now().UnixNano())
	}

	authURL := m.callbackURL
	if authURL != "" {
		authURL += "?reference=" + url.QueryEscape(reference)
	}

	m.logger.WithFields(log.Fields{
		"reference": reference,
		"amount":    charge.Amount.StringFixed(2),
		"currency":  charge.Currency,
	}).Info("Mock card payment opened")

	outcome, release := m.outcomes.open(reference)
	return &CardSession{
		Reference:        reference,
		AuthorizationURL: authURL,
		Outcome:          outcome,
		Release:          release,
	}, nil
}

// HandleCallback treats every callback as a successful card payment
func (m *MockPaymentProvider) HandleCallback(ctx context.Context, reference string) error {
	if !m.outcomes.deliver(reference, CardOutcome{Reference: reference}) {
		return fmt.Errorf("%w: no open card payment for reference %s", models.ErrSessionNotFound, reference)
	}
	return nil
}

// Cancel resolves an open card payment as closed by the buyer
func (m *MockPaymentProvider) Cancel(reference string) bool {
	return m.outcomes.deliver(reference, CardOutcome{Reference: reference, Closed: true})
}

// ChargeMobileMoney records the charge and asks for the OTP
func (m *MockPaymentProvider) ChargeMobileMoney(ctx context.Context, charge MobileMoneyCharge) (*ChargeResult, error) {
	reference := fmt.Sprintf("mock_momo_%d", time.Now().UnixNano())

	m.mu.Lock()
	m.charges[reference] = charge
	m.mu.Unlock()

	m.logger.WithFields(log.Fields{
		"reference": reference,
		"amount":    charge.Amount.StringFixed(2),
		"provider":  charge.MobileMoney.Provider,
	}).Info("Mock mobile money charge created")

	return &ChargeResult{
		Status:      ChargeStatusSendOTP,
		Reference:   reference,
		DisplayText: "Enter the code sent to your phone (use " + MockOTP + ")",
		Message:     "Charge attempted",
	}, nil
}

// SubmitOTP accepts MockOTP for a known reference
func (m *MockPaymentProvider) SubmitOTP(ctx context.Context, reference, otp string) (*ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.charges[reference]; !ok {
		return nil, &PaystackError{Message: "Transaction reference not found"}
	}
	if otp != MockOTP {
		return nil, &PaystackError{Message: "Invalid OTP provided"}
	}

	delete(m.charges, reference)
	return &ChargeResult{Status: "success", Reference: reference, Message: "Charge successful"}, nil
}

// HandleWebhook is not used by the mock
func (m *MockPaymentProvider) HandleWebhook(payload []byte, signature string) error {
	return errors.New("webhooks are not supported by the mock payment provider")
}

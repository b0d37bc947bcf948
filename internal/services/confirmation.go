package services

import (
	"context"
	"errors"
	"sync"

	"event-ticketing-checkout/internal/models"

	log "github.com/sirupsen/logrus"
)

// ConfirmationBook is the Navigator used by the server. It remembers every
// confirmed payment so the confirmation route can show it by reference.
type ConfirmationBook struct {
	mu          sync.RWMutex
	byReference map[string]models.Confirmation
	logger      log.FieldLogger
}

// NewConfirmationBook creates an empty confirmation book
func NewConfirmationBook(logger log.FieldLogger) *ConfirmationBook {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ConfirmationBook{
		byReference: make(map[string]models.Confirmation),
		logger:      logger.WithField("component", "confirmation"),
	}
}

// Navigate records a confirmation
func (b *ConfirmationBook) Navigate(ctx context.Context, confirmation models.Confirmation) error {
	b.mu.Lock()
	b.byReference[confirmation.Reference] = confirmation
	b.mu.Unlock()

	b.logger.WithFields(log.Fields{
		"order_code": confirmation.OrderCode,
		"reference":  confirmation.Reference,
		"method":     confirmation.Method,
	}).Info("Order confirmed")
	return nil
}

// Lookup returns the confirmation for a payment reference
func (b *ConfirmationBook) Lookup(reference string) (models.Confirmation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.byReference[reference]
	return c, ok
}

// Navigators hands every confirmation to each navigator in order. All of
// them run even when one fails.
type Navigators []Navigator

// Navigate calls every navigator and joins their errors
func (n Navigators) Navigate(ctx context.Context, confirmation models.Confirmation) error {
	var errs []error
	for _, nav := range n {
		if err := nav.Navigate(ctx, confirmation); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

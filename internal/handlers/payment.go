package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"event-ticketing-checkout/internal/middleware"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/services"

	log "github.com/sirupsen/logrus"
)

// StartPayment opens a new payment attempt for the session's order
func (h *CheckoutHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req models.PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, models.NewCheckoutError(models.KindValidation, "", err))
		return
	}

	attempt, err := session.StartPayment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if attempt.State == models.PaymentCardRedirect {
		go h.awaitCard(session, attempt.ID, attempt.Reference)
	}

	writeJSON(w, http.StatusAccepted, attempt)
}

// awaitCard logs how a card attempt ended. The attempt is driven by its
// own gateway watcher, so giving up here changes nothing.
func (h *CheckoutHandler) awaitCard(session *services.CheckoutSession, attemptID, reference string) {
	ctx, cancel := context.WithTimeout(h.baseCtx, h.cardTimeout)
	defer cancel()

	attempt, err := session.AwaitCard(ctx, attemptID)
	entry := h.logger.WithFields(log.Fields{
		"session_id": session.ID(),
		"reference":  reference,
		"state":      attempt.State,
	})
	switch {
	case err == nil:
		entry.Info("Card payment completed")
	case errors.Is(err, models.ErrPaymentCancelled):
		entry.Info("Card payment closed by buyer")
	default:
		entry.WithError(err).Warn("Stopped waiting for card payment")
	}
}

// PaymentStatus returns the latest payment attempt
func (h *CheckoutHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	attempt, ok := session.Payment()
	if !ok {
		middleware.WriteJSONError(w, http.StatusNotFound, "not_found", "No payment has been started.")
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// SubmitOTP verifies a mobile-money code
func (h *CheckoutHandler) SubmitOTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req models.OTPSubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	attempt, err := session.SubmitOTP(r.Context(), req.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

// Dismiss closes the OTP dialog or card window. A card payment stays open
// at the gateway until the provider reports or the session expires.
func (h *CheckoutHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	attempt, err := session.Dismiss()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

type callbackResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// PaystackCallback handles the buyer's return from the hosted card page
func (h *CheckoutHandler) PaystackCallback(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	if reference == "" {
		reference = strings.TrimSpace(r.URL.Query().Get("trxref"))
	}
	if reference == "" {
		middleware.WriteJSONError(w, http.StatusBadRequest, string(models.KindValidation), "Missing payment reference.")
		return
	}

	if err := h.cards.HandleCallback(r.Context(), reference); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{Reference: reference, Status: "received"})
}

// PaystackCancel handles a buyer closing the hosted card page
func (h *CheckoutHandler) PaystackCancel(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	if !h.cards.Cancel(reference) {
		middleware.WriteJSONError(w, http.StatusNotFound, "not_found", "No open card payment with this reference.")
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{Reference: reference, Status: "cancelled"})
}

// PaystackWebhook handles signed Paystack events
func (h *CheckoutHandler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, string(models.KindValidation), "Invalid request body.")
		return
	}

	if err := h.cards.HandleWebhook(payload, r.Header.Get("X-Paystack-Signature")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

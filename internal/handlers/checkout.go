package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"event-ticketing-checkout/internal/middleware"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	log "github.com/sirupsen/logrus"
)

const (
	sessionName = "checkout"
	sessionKey  = "checkout_id"

	// SessionHeader lets API clients name their checkout without cookies
	SessionHeader = "X-Checkout-Session"
)

// CheckoutHandler serves the checkout JSON API
type CheckoutHandler struct {
	registry      *services.SessionRegistry
	cards         services.CardCallbacks
	confirmations *services.ConfirmationBook
	store         sessions.Store
	logger        log.FieldLogger

	// baseCtx bounds the background card log waits; cardTimeout caps each one
	baseCtx     context.Context
	cardTimeout time.Duration
}

// CheckoutHandlerConfig wires a CheckoutHandler
type CheckoutHandlerConfig struct {
	Registry      *services.SessionRegistry
	Cards         services.CardCallbacks
	Confirmations *services.ConfirmationBook
	Store         sessions.Store
	Logger        log.FieldLogger
	BaseContext   context.Context
	CardTimeout   time.Duration
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(cfg CheckoutHandlerConfig) *CheckoutHandler {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.CardTimeout <= 0 {
		cfg.CardTimeout = services.DefaultSessionTTL
	}

	return &CheckoutHandler{
		registry:      cfg.Registry,
		cards:         cfg.Cards,
		confirmations: cfg.Confirmations,
		store:         cfg.Store,
		logger:        cfg.Logger.WithField("component", "checkout_handler"),
		baseCtx:       cfg.BaseContext,
		cardTimeout:   cfg.CardTimeout,
	}
}

// Routes registers the checkout and payment routes. limiter guards the
// promotion and OTP endpoints.
func (h *CheckoutHandler) Routes(r chi.Router, limiter *middleware.RateLimiter) {
	limited := func(next http.Handler) http.Handler { return next }
	if limiter != nil {
		limited = middleware.RateLimit(limiter)
	}

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/sessions", h.StartSession)
		r.Get("/", h.View)
		r.Put("/quantities", h.UpdateQuantity)
		r.Post("/refresh", h.RefreshOfferings)
		r.With(limited).Post("/promotion", h.ApplyPromotion)
		r.Delete("/promotion", h.ClearPromotion)
		r.Post("/submit", h.SubmitCheckout)
		r.Get("/summary", h.Summary)

		r.Get("/payment", h.PaymentStatus)
		r.Post("/payment", h.StartPayment)
		r.With(limited).Post("/payment/otp", h.SubmitOTP)
		r.Post("/payment/dismiss", h.Dismiss)
	})

	r.Route("/payment/paystack", func(r chi.Router) {
		r.Get("/callback", h.PaystackCallback)
		r.Post("/cancel", h.PaystackCancel)
		r.Post("/webhook", h.PaystackWebhook)
	})

	r.Get("/confirmations/{reference}", h.Confirmation)
	r.Get("/health", h.Health)
}

type startSessionRequest struct {
	EventID string `json:"event_id"`
}

// StartSession opens a checkout for an event
func (h *CheckoutHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.registry.Start(r.Context(), middleware.GetCredential(r.Context()), req.EventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	cookie, err := h.store.Get(r, sessionName)
	if err != nil {
		h.logger.WithError(err).Debug("Replacing unreadable checkout cookie")
	}
	cookie.Values[sessionKey] = session.ID()
	if err := cookie.Save(r, w); err != nil {
		h.logger.WithError(err).Warn("Failed to save checkout cookie")
	}

	w.Header().Set(SessionHeader, session.ID())
	writeJSON(w, http.StatusCreated, session.View())
}

// session resolves the caller's checkout from the header or the cookie
func (h *CheckoutHandler) session(r *http.Request) (*services.CheckoutSession, error) {
	id := strings.TrimSpace(r.Header.Get(SessionHeader))
	if id == "" {
		if cookie, err := h.store.Get(r, sessionName); err == nil {
			id, _ = cookie.Values[sessionKey].(string)
		}
	}
	if id == "" {
		return nil, models.ErrSessionNotFound
	}

	session, err := h.registry.Get(id)
	if err != nil {
		return nil, err
	}
	// A session started with another credential is reported as missing.
	if !session.OwnedBy(middleware.GetCredential(r.Context())) {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

// View returns the current checkout
func (h *CheckoutHandler) View(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// UpdateQuantity sets, or moves by a delta, the quantity of one offering
func (h *CheckoutHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req models.QuantityUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch {
	case req.Quantity != nil:
		_, err = session.SetQuantity(req.OfferingID, *req.Quantity)
	case req.Delta > 0:
		_, err = session.Increment(req.OfferingID)
	case req.Delta < 0:
		_, err = session.Decrement(req.OfferingID)
	default:
		err = models.NewCheckoutError(models.KindValidation, "Provide a quantity or a delta.", nil)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, session.View())
}

// RefreshOfferings reloads availability from the backend
func (h *CheckoutHandler) RefreshOfferings(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := session.RefreshOfferings(r.Context(), middleware.GetCredential(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// ApplyPromotion resolves and applies a promotion code
func (h *CheckoutHandler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req models.PromotionApplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := session.ApplyPromotion(r.Context(), middleware.GetCredential(r.Context()), req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.View())
}

// ClearPromotion removes the applied promotion
func (h *CheckoutHandler) ClearPromotion(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	session.ClearPromotion()
	writeJSON(w, http.StatusOK, session.View())
}

// SubmitCheckout creates the backend order
func (h *CheckoutHandler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req models.CheckoutSubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := session.SubmitCheckout(r.Context(), middleware.GetCredential(r.Context()), req.Email); err != nil {
		h.writeErrorWithView(w, r, err, session)
		return
	}
	writeJSON(w, http.StatusCreated, session.View())
}

// Summary returns the backend's summary of the created order
func (h *CheckoutHandler) Summary(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	summary, err := session.Summary(r.Context(), middleware.GetCredential(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Confirmation shows a confirmed payment by reference
func (h *CheckoutHandler) Confirmation(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	confirmation, ok := h.confirmations.Lookup(reference)
	if !ok {
		middleware.WriteJSONError(w, http.StatusNotFound, "not_found", "No confirmed payment with this reference.")
		return
	}
	writeJSON(w, http.StatusOK, confirmation)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Health reports liveness
func (h *CheckoutHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: h.registry.Len()})
}

// viewError is an error body that also carries the refreshed checkout
type viewError struct {
	middleware.ErrorResponse
	Checkout services.SessionView `json:"checkout"`
}

// writeErrorWithView answers inventory races with the reduced selection
func (h *CheckoutHandler) writeErrorWithView(w http.ResponseWriter, r *http.Request, err error, session *services.CheckoutSession) {
	if !errors.Is(err, models.ErrInventoryExceeded) {
		h.writeError(w, r, err)
		return
	}
	status, code := statusFor(err)
	writeJSON(w, status, viewError{
		ErrorResponse: middleware.ErrorResponse{Error: code, Message: models.UserMessage(err)},
		Checkout:      session.View(),
	})
}

func (h *CheckoutHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	entry := h.logger.WithFields(log.Fields{
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetRequestID(r.Context()),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Checkout request failed")
	} else {
		entry.Debug("Checkout request rejected")
	}

	message := models.UserMessage(err)
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		message = "Your checkout has expired. Please start again."
	case errors.Is(err, services.ErrSuperseded):
		message = "A newer promotion request replaced this one."
	case errors.Is(err, models.ErrPaymentInFlight):
		message = "Your payment is already being processed."
	case errors.Is(err, models.ErrInvalidTransition):
		message = "This payment step is not available right now."
	}

	middleware.WriteJSONError(w, status, code, message)
}

// statusFor maps an error to an HTTP status and a machine-readable code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, services.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, models.ErrPaymentInFlight):
		return http.StatusConflict, "payment_in_flight"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	}

	kind, ok := models.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, "internal"
	}

	switch kind {
	case models.KindValidation, models.KindEmptySelection:
		return http.StatusBadRequest, string(kind)
	case models.KindAuthenticationRequired:
		return http.StatusUnauthorized, string(kind)
	case models.KindInvalidPromotion, models.KindOTPInvalid:
		return http.StatusUnprocessableEntity, string(kind)
	case models.KindInventoryExceeded, models.KindPaymentCancelled:
		return http.StatusConflict, string(kind)
	case models.KindPaymentInitiationFailed:
		return http.StatusBadGateway, string(kind)
	case models.KindNetwork:
		return http.StatusServiceUnavailable, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, string(models.KindValidation), "Invalid request body.")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

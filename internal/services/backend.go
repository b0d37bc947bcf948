package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"event-ticketing-checkout/internal/models"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// BackendConfig represents marketplace backend configuration
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BackendClient talks to the marketplace backend over JSON. The bearer
// credential is passed explicitly on every call.
type BackendClient struct {
	baseURL string
	client  *http.Client
	logger  log.FieldLogger
}

// NewBackendClient creates a new backend client
func NewBackendClient(config BackendConfig, logger log.FieldLogger) *BackendClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &BackendClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.WithField("component", "backend"),
	}
}

// flexString decodes a JSON string or number into a string
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type discountRequest struct {
	Coupon string `json:"coupon"`
	Event  string `json:"event"`
}

type discountResponse struct {
	ID                   flexString      `json:"id"`
	DiscountType         string          `json:"discountType"`
	DiscountAmount       decimal.Decimal `json:"discountAmount"`
	IsValid              bool            `json:"isValid"`
	Message              string          `json:"message"`
	ValidFrom            *time.Time      `json:"validFrom,omitempty"`
	ValidUntil           *time.Time      `json:"validUntil,omitempty"`
	RemainingRedemptions *int            `json:"remainingRedemptions,omitempty"`
	ApplicableTickets    []flexString    `json:"applicableTickets,omitempty"`
}

type checkoutTicket struct {
	Ticket   string `json:"ticket"`
	Quantity int    `json:"quantity"`
}

type checkoutRequestBody struct {
	Event   string           `json:"event"`
	Tickets []checkoutTicket `json:"tickets"`
	Coupon  string           `json:"coupon,omitempty"`
}

type checkoutResponse struct {
	OrderCode flexString `json:"orderCode"`
}

type ticketOfferingResponse struct {
	ID        flexString      `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Remaining int             `json:"remaining"`
	Unlimited bool            `json:"unlimited"`
}

type backendErrorBody struct {
	Message string `json:"message"`
}

// BackendError is a non-2xx answer from the backend
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}

// ResolveDiscount looks up a promotion code for an event
func (c *BackendClient) ResolveDiscount(ctx context.Context, cred models.Credential, code, eventID string) (*DiscountResult, error) {
	var resp discountResponse
	err := c.do(ctx, cred, http.MethodPost, "/discount", nil, discountRequest{Coupon: code, Event: eventID}, &resp)
	if err != nil {
		return nil, c.classify(err, models.KindInvalidPromotion)
	}

	applicable := make([]string, 0, len(resp.ApplicableTickets))
	for _, id := range resp.ApplicableTickets {
		applicable = append(applicable, string(id))
	}

	return &DiscountResult{
		ID:                   string(resp.ID),
		DiscountType:         resp.DiscountType,
		DiscountAmount:       resp.DiscountAmount,
		IsValid:              resp.IsValid,
		Message:              resp.Message,
		ValidFrom:            resp.ValidFrom,
		ValidUntil:           resp.ValidUntil,
		RemainingRedemptions: resp.RemainingRedemptions,
		ApplicableTickets:    applicable,
	}, nil
}

// CreateCheckout submits the selection and returns the backend's order code
func (c *BackendClient) CreateCheckout(ctx context.Context, cred models.Credential, req *CheckoutRequest) (string, error) {
	body := checkoutRequestBody{Event: req.EventID, Coupon: req.Coupon}
	for _, line := range req.Lines {
		body.Tickets = append(body.Tickets, checkoutTicket{Ticket: line.OfferingID, Quantity: line.Quantity})
	}

	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	var resp checkoutResponse
	if err := c.do(ctx, cred, http.MethodPost, "/checkout", headers, body, &resp); err != nil {
		return "", c.classify(err, models.KindValidation)
	}

	if resp.OrderCode == "" {
		return "", models.NewCheckoutError(models.KindNetwork, "", errors.New("backend returned an empty order code"))
	}

	return string(resp.OrderCode), nil
}

// GetCheckout reads the backend's summary of an order
func (c *BackendClient) GetCheckout(ctx context.Context, cred models.Credential, orderCode string) (*models.CheckoutSummary, error) {
	var summary models.CheckoutSummary
	path := "/checkout/" + url.PathEscape(orderCode)
	if err := c.do(ctx, cred, http.MethodGet, path, nil, nil, &summary); err != nil {
		return nil, c.classify(err, models.KindValidation)
	}
	return &summary, nil
}

// GetTicketOfferings reads the authoritative ticket availability for an event
func (c *BackendClient) GetTicketOfferings(ctx context.Context, cred models.Credential, eventID string) ([]models.TicketOffering, error) {
	var resp []ticketOfferingResponse
	path := "/events/" + url.PathEscape(eventID) + "/tickets"
	if err := c.do(ctx, cred, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, c.classify(err, models.KindValidation)
	}

	offerings := make([]models.TicketOffering, 0, len(resp))
	for _, t := range resp {
		offerings = append(offerings, models.TicketOffering{
			ID:                string(t.ID),
			Name:              t.Name,
			UnitPrice:         t.Price,
			Currency:          strings.ToUpper(t.Currency),
			RemainingQuantity: t.Remaining,
			Unlimited:         t.Unlimited,
		})
	}
	return offerings, nil
}

// do sends one JSON request and decodes a 2xx body into out
func (c *BackendClient) do(ctx context.Context, cred models.Credential, method, path string, headers map[string]string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if !cred.IsZero() {
		httpReq.Header.Set("Authorization", "Bearer "+string(cred))
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("Backend request failed")
		return models.NewCheckoutError(models.KindNetwork, "", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewCheckoutError(models.KindNetwork, "", fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.WithFields(log.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Backend request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody backendErrorBody
		_ = json.Unmarshal(bodyBytes, &errBody)
		return &BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(errBody.Message)}
	}

	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return models.NewCheckoutError(models.KindNetwork, "", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// classify maps a backend error onto the checkout error taxonomy.
// clientKind is used for 4xx answers that have no more specific meaning.
func (c *BackendClient) classify(err error, clientKind models.ErrorKind) error {
	var be *BackendError
	if !errors.As(err, &be) {
		return err
	}

	switch {
	case be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusForbidden:
		return models.NewCheckoutError(models.KindAuthenticationRequired, be.Message, be)
	case be.StatusCode == http.StatusConflict && clientKind != models.KindInvalidPromotion:
		return models.NewCheckoutError(models.KindInventoryExceeded, be.Message, be)
	case be.StatusCode >= 500:
		return models.NewCheckoutError(models.KindNetwork, "", be)
	default:
		return models.NewCheckoutError(clientKind, be.Message, be)
	}
}

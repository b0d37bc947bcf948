package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"event-ticketing-checkout/internal/models"

	log "github.com/sirupsen/logrus"
)

// DefaultPaystackBaseURL is Paystack's public API host
const DefaultPaystackBaseURL = "https://api.paystack.co"

// PaystackConfig represents Paystack payment service configuration
type PaystackConfig struct {
	SecretKey   string
	PublicKey   string
	Environment string // "test" or "live"
	BaseURL     string
	CallbackURL string
}

// PaystackService handles payments via Paystack API
type PaystackService struct {
	config  PaystackConfig
	client  *http.Client
	baseURL string
	logger  log.FieldLogger
}

// NewPaystackService creates a new Paystack payment service
func NewPaystackService(config PaystackConfig, logger log.FieldLogger) *PaystackService {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultPaystackBaseURL
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &PaystackService{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.WithFields(log.Fields{"component": "paystack", "environment": config.Environment}),
	}
}

// TransactionRequest represents a payment initialization request
type TransactionRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`    // Amount in pesewas, kobo or cents
	Currency    string            `json:"currency"`  // GHS, NGN, KES, ZAR
	Reference   string            `json:"reference"` // Unique transaction reference
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Channels    []string          `json:"channels,omitempty"` // card, bank, ussd, mobile_money
}

// TransactionResponse represents the response from transaction initialization
type TransactionResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

// TransactionData contains the transaction initialization data
type TransactionData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// TransactionVerification represents transaction verification response
type TransactionVerification struct {
	Status  bool               `json:"status"`
	Message string             `json:"message"`
	Data    TransactionDetails `json:"data"`
}

// TransactionDetails contains detailed transaction information
type TransactionDetails struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
	Channel   string `json:"channel"`
}

// MobileMoneyRequest is the body of a mobile-money charge
type MobileMoneyRequest struct {
	Email       string               `json:"email"`
	Amount      int64                `json:"amount"`
	Currency    string               `json:"currency"`
	Reference   string               `json:"reference,omitempty"`
	MobileMoney MobileMoneyWalletReq `json:"mobile_money"`
}

// MobileMoneyWalletReq identifies the charged wallet
type MobileMoneyWalletReq struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

// SubmitOTPRequest is the body of an OTP submission
type SubmitOTPRequest struct {
	OTP       string `json:"otp"`
	Reference string `json:"reference"`
}

// ChargeResponse is Paystack's answer to a charge or an OTP submission
type ChargeResponse struct {
	Status  bool       `json:"status"`
	Message string     `json:"message"`
	Data    ChargeData `json:"data"`
}

// ChargeData contains the charge state
type ChargeData struct {
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	DisplayText string `json:"display_text"`
	Message     string `json:"message"`
}

// PaystackError represents an error response from Paystack
type PaystackError struct {
	StatusCode int    `json:"-"`
	Status     bool   `json:"status"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
}

func (e *PaystackError) Error() string {
	return fmt.Sprintf("Paystack Error (status %d): %s", e.StatusCode, e.Message)
}

// InitializeTransaction initializes a hosted payment with Paystack
func (s *PaystackService) InitializeTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = s.config.CallbackURL
	}

	var resp TransactionResponse
	if err := s.post(ctx, "/transaction/initialize", req, &resp); err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, &PaystackError{StatusCode: http.StatusOK, Message: resp.Message}
	}

	s.logger.WithField("reference", resp.Data.Reference).Info("Transaction initialized")
	return &resp, nil
}

// VerifyTransaction verifies a transaction with Paystack
func (s *PaystackService) VerifyTransaction(ctx context.Context, reference string) (*TransactionVerification, error) {
	verifyURL := fmt.Sprintf("%s/transaction/verify/%s", s.baseURL, reference)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, verifyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}

	var verification TransactionVerification
	if err := s.send(httpReq, &verification); err != nil {
		return nil, err
	}

	if !verification.Status {
		return nil, &PaystackError{StatusCode: http.StatusOK, Message: verification.Message}
	}

	s.logger.WithFields(log.Fields{
		"reference": reference,
		"status":    verification.Data.Status,
		"channel":   verification.Data.Channel,
	}).Info("Transaction verified")

	return &verification, nil
}

// ChargeMobileMoney starts a mobile-money charge. Transport and provider
// rejections are returned as errors carrying Paystack's message.
func (s *PaystackService) ChargeMobileMoney(ctx context.Context, charge MobileMoneyCharge) (*ChargeResult, error) {
	req := &MobileMoneyRequest{
		Email:     charge.Email,
		Amount:    models.Charge{Amount: charge.Amount}.MinorUnits(),
		Currency:  charge.Currency,
		Reference: charge.Reference,
		MobileMoney: MobileMoneyWalletReq{
			Phone:    charge.MobileMoney.Phone,
			Provider: charge.MobileMoney.Provider,
		},
	}

	var resp ChargeResponse
	if err := s.post(ctx, "/charge", req, &resp); err != nil {
		return nil, err
	}

	return s.chargeResult(&resp)
}

// SubmitOTP completes a charge that asked for a one-time passcode
func (s *PaystackService) SubmitOTP(ctx context.Context, reference, otp string) (*ChargeResult, error) {
	var resp ChargeResponse
	if err := s.post(ctx, "/charge/submit_otp", &SubmitOTPRequest{OTP: otp, Reference: reference}, &resp); err != nil {
		return nil, err
	}

	return s.chargeResult(&resp)
}

func (s *PaystackService) chargeResult(resp *ChargeResponse) (*ChargeResult, error) {
	if !resp.Status || resp.Data.Status == "failed" {
		msg := resp.Data.Message
		if msg == "" {
			msg = resp.Message
		}
		return nil, &PaystackError{StatusCode: http.StatusOK, Message: msg}
	}

	s.logger.WithFields(log.Fields{
		"reference": resp.Data.Reference,
		"status":    resp.Data.Status,
	}).Info("Charge updated")

	return &ChargeResult{
		Status:      resp.Data.Status,
		Reference:   resp.Data.Reference,
		DisplayText: resp.Data.DisplayText,
		Message:     resp.Message,
	}, nil
}

// TestConnection checks that the secret key is accepted
func (s *PaystackService) TestConnection(ctx context.Context) error {
	_, err := s.VerifyTransaction(ctx, "connection-check")
	if pe, ok := err.(*PaystackError); ok && pe.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to connect to Paystack: %w", err)
	}
	return nil
}

// VerifyWebhookSignature verifies Paystack webhook signature
func (s *PaystackService) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(s.config.SecretKey))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

func (s *PaystackService) post(ctx context.Context, path string, in, out interface{}) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return s.send(httpReq, out)
}

func (s *PaystackService) send(httpReq *http.Request, out interface{}) error {
	httpReq.Header.Set("Authorization", "Bearer "+s.config.SecretKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.WithError(err).WithField("path", httpReq.URL.Path).Warn("Paystack request failed")
		return models.NewCheckoutError(models.KindNetwork, "", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewCheckoutError(models.KindNetwork, "", fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return s.handleAPIError(resp.StatusCode, bodyBytes)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return models.NewCheckoutError(models.KindNetwork, "", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// handleAPIError handles Paystack API errors
func (s *PaystackService) handleAPIError(statusCode int, body []byte) error {
	paystackErr := &PaystackError{StatusCode: statusCode}
	if err := json.Unmarshal(body, paystackErr); err != nil || paystackErr.Message == "" {
		paystackErr.Message = strings.TrimSpace(string(body))
	}

	s.logger.WithFields(log.Fields{
		"status_code": statusCode,
		"message":     paystackErr.Message,
	}).Warn("Paystack rejected request")

	return paystackErr
}

package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"event-ticketing-checkout/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paystackStub answers initialize and verify calls. verifyStatus is the
// transaction status reported by verify.
func paystackStub(t *testing.T, verifyStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/transaction/initialize":
			var req TransactionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"card"}, req.Channels)
			assert.Equal(t, int64(6600), req.Amount)
			json.NewEncoder(w).Encode(TransactionResponse{
				Status: true,
				Data:   TransactionData{AuthorizationURL: "https://checkout.paystack.com/" + req.Reference, Reference: req.Reference},
			})
		case strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
			ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
			json.NewEncoder(w).Encode(TransactionVerification{
				Status: true,
				Data:   TransactionDetails{Reference: ref, Status: verifyStatus, Channel: "card"},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func openTestCard(t *testing.T, gw *PaystackCardGateway) *CardSession {
	t.Helper()
	session, err := gw.Open(context.Background(), CardCharge{
		Reference: "ORD-1",
		Email:     "buyer@example.com",
		Amount:    money("66.00"),
		Currency:  "GHS",
	})
	require.NoError(t, err)
	return session
}

func TestPaystackCardGateway_CallbackSuccess(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)
	session := openTestCard(t, gw)
	assert.Equal(t, "https://checkout.paystack.com/ORD-1", session.AuthorizationURL)

	require.NoError(t, gw.HandleCallback(context.Background(), "ORD-1"))

	outcome := <-session.Outcome
	assert.Equal(t, "ORD-1", outcome.Reference)
	assert.False(t, outcome.Closed)
}

func TestPaystackCardGateway_CallbackAbandonedCountsAsClosed(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "abandoned")), nil)
	session := openTestCard(t, gw)

	require.NoError(t, gw.HandleCallback(context.Background(), "ORD-1"))

	outcome := <-session.Outcome
	assert.True(t, outcome.Closed)
}

func TestPaystackCardGateway_CallbackUnknownReference(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)

	err := gw.HandleCallback(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestPaystackCardGateway_Cancel(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)
	session := openTestCard(t, gw)

	assert.True(t, gw.Cancel("ORD-1"))
	assert.False(t, gw.Cancel("ORD-1"))

	outcome, ok := <-session.Outcome
	require.True(t, ok)
	assert.True(t, outcome.Closed)

	_, ok = <-session.Outcome
	assert.False(t, ok)
}

func TestPaystackCardGateway_Webhook(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)
	session := openTestCard(t, gw)

	payload := []byte(`{"event": "charge.success", "data": {"reference": "ORD-1", "status": "success"}}`)

	err := gw.HandleWebhook(payload, "bad-signature")
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)

	require.NoError(t, gw.HandleWebhook(payload, sign(payload)))
	outcome := <-session.Outcome
	assert.False(t, outcome.Closed)

	// A repeated delivery for a resolved payment is ignored.
	assert.NoError(t, gw.HandleWebhook(payload, sign(payload)))
}

func TestPaystackCardGateway_ReopenClosesPrevious(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)
	first := openTestCard(t, gw)
	second := openTestCard(t, gw)

	outcome := <-first.Outcome
	assert.True(t, outcome.Closed)

	require.True(t, gw.Cancel("ORD-1"))
	outcome = <-second.Outcome
	assert.True(t, outcome.Closed)
}

func TestPaystackCardGateway_Release(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)
	session := openTestCard(t, gw)

	session.Release()
	session.Release()

	_, ok := <-session.Outcome
	assert.False(t, ok)

	err := gw.HandleCallback(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestPaystackCardGateway_ReleaseAfterReopenKeepsNewer(t *testing.T) {
	gw := NewPaystackCardGateway(newTestPaystack(t, paystackStub(t, "success")), nil)
	first := openTestCard(t, gw)
	second := openTestCard(t, gw)

	first.Release()

	require.NoError(t, gw.HandleCallback(context.Background(), "ORD-1"))
	outcome := <-second.Outcome
	assert.False(t, outcome.Closed)
}

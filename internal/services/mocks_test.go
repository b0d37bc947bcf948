package services

import (
	"context"

	"event-ticketing-checkout/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock of CheckoutBackend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) ResolveDiscount(ctx context.Context, cred models.Credential, code, eventID string) (*DiscountResult, error) {
	args := m.Called(ctx, cred, code, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DiscountResult), args.Error(1)
}

func (m *MockBackend) CreateCheckout(ctx context.Context, cred models.Credential, req *CheckoutRequest) (string, error) {
	args := m.Called(ctx, cred, req)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) GetCheckout(ctx context.Context, cred models.Credential, orderCode string) (*models.CheckoutSummary, error) {
	args := m.Called(ctx, cred, orderCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckoutSummary), args.Error(1)
}

func (m *MockBackend) GetTicketOfferings(ctx context.Context, cred models.Credential, eventID string) ([]models.TicketOffering, error) {
	args := m.Called(ctx, cred, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TicketOffering), args.Error(1)
}

// MockMobileMoney is a testify mock of MobileMoneyProvider
type MockMobileMoney struct {
	mock.Mock
}

func (m *MockMobileMoney) ChargeMobileMoney(ctx context.Context, charge MobileMoneyCharge) (*ChargeResult, error) {
	args := m.Called(ctx, charge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeResult), args.Error(1)
}

func (m *MockMobileMoney) SubmitOTP(ctx context.Context, reference, otp string) (*ChargeResult, error) {
	args := m.Called(ctx, reference, otp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeResult), args.Error(1)
}

// MockCardGateway is a testify mock of CardGateway
type MockCardGateway struct {
	mock.Mock
}

func (m *MockCardGateway) Open(ctx context.Context, charge CardCharge) (*CardSession, error) {
	args := m.Called(ctx, charge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CardSession), args.Error(1)
}

// MockNavigator is a testify mock of Navigator
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) Navigate(ctx context.Context, confirmation models.Confirmation) error {
	args := m.Called(ctx, confirmation)
	return args.Error(0)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testOfferings is the catalog used across the tests: General at 30.00
// and VIP at 120.00
func testOfferings() []models.TicketOffering {
	return []models.TicketOffering{
		{ID: "ga", Name: "General", UnitPrice: money("30.00"), Currency: "GHS", RemainingQuantity: 100},
		{ID: "vip", Name: "VIP", UnitPrice: money("120.00"), Currency: "GHS", RemainingQuantity: 2},
	}
}

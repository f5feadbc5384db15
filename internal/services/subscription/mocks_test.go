package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) ApplyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error) {
	args := m.Called(ctx, userID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *CacheMock) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Unlock(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(ctx context.Context, user models.User, kind models.NotificationKind) error {
	return m.Called(ctx, user, kind).Error(0)
}

type AdapterMock struct {
	mock.Mock
	provider models.Provider
}

func (m *AdapterMock) Provider() models.Provider { return m.provider }

func (m *AdapterMock) CreateOrder(ctx context.Context, req paymentprovider.OrderRequest) (*paymentprovider.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.Order), args.Error(1)
}

func (m *AdapterMock) CaptureOrder(ctx context.Context, orderID string) (*paymentprovider.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.Order), args.Error(1)
}

func (m *AdapterMock) CreateRecurringSubscription(ctx context.Context, req paymentprovider.SubscriptionRequest) (*paymentprovider.RecurringSubscription, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.RecurringSubscription), args.Error(1)
}

func (m *AdapterMock) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

func (m *AdapterMock) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error {
	return m.Called(ctx, payload, headers).Error(0)
}

func (m *AdapterMock) ParseWebhookEvent(payload []byte) (models.ProviderEvent, error) {
	args := m.Called(payload)
	return args.Get(0).(models.ProviderEvent), args.Error(1)
}

func (m *AdapterMock) FetchSubscriptionStatus(ctx context.Context, subscriptionID string) (*paymentprovider.SubscriptionStatus, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.SubscriptionStatus), args.Error(1)
}

type guardianGenders []string

func (g guardianGenders) RequiresGuardian(gender string) bool {
	return slices.Contains(g, gender)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

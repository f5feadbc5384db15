package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) user(args mock.Arguments) (*models.User, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) FindByProviderSubscriptionID(ctx context.Context, provider models.Provider, id string) (*models.User, error) {
	return m.user(m.Called(ctx, provider, id))
}

func (m *RepoMock) FindByProviderOrderID(ctx context.Context, provider models.Provider, id string) (*models.User, error) {
	return m.user(m.Called(ctx, provider, id))
}

func (m *RepoMock) FindByProviderCustomerID(ctx context.Context, provider models.Provider, id string) (*models.User, error) {
	return m.user(m.Called(ctx, provider, id))
}

func (m *RepoMock) ApplyPatch(ctx context.Context, userID string, p models.SubscriptionPatch) (*models.User, error) {
	return m.user(m.Called(ctx, userID, p))
}

func (m *RepoMock) RecordWebhookEvent(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error) {
	args := m.Called(ctx, provider, eventID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) MarkWebhookEventProcessed(ctx context.Context, provider models.Provider, eventID, userID, outcome string) error {
	return m.Called(ctx, provider, eventID, userID, outcome).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Unlock(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) NotifyAll(ctx context.Context, user models.User, kinds []models.NotificationKind) {
	m.Called(ctx, user, kinds)
}

// AdapterMock реализует только вебхуковую часть адаптера.
type AdapterMock struct {
	mock.Mock
	paymentprovider.Adapter
	provider models.Provider
}

func (m *AdapterMock) Provider() models.Provider { return m.provider }

func (m *AdapterMock) VerifyWebhookSignature(ctx context.Context, payload []byte, headers http.Header) error {
	return m.Called(ctx, payload, headers).Error(0)
}

func (m *AdapterMock) ParseWebhookEvent(payload []byte) (models.ProviderEvent, error) {
	args := m.Called(payload)
	return args.Get(0).(models.ProviderEvent), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

package cancel

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	services "github.com/magabrotheeeer/unimatch-billing/internal/services/subscription"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CancelSubscription(ctx context.Context, userID string) (*services.CancelResult, error) {
	args := m.Called(ctx, userID)
	if res := args.Get(0); res != nil {
		return res.(*services.CancelResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCancelHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		userID         string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "отмена подтверждена провайдером",
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("CancelSubscription", mock.Anything, "u1").Return(&services.CancelResult{
					Message: "subscription cancelled",
					Status:  models.StatusPendingCancellation,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"provider_pending":false`,
		},
		{
			name:   "провайдер не ответил, доступ всё равно отозван",
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("CancelSubscription", mock.Anything, "u1").Return(&services.CancelResult{
					Message:         "subscription cancelled",
					Status:          models.StatusPendingCancellation,
					ProviderPending: true,
					RetryScheduled:  true,
					ProviderError:   "payment provider is unavailable",
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"retry_scheduled":true`,
		},
		{
			name:   "нет активной подписки",
			userID: "u1",
			setupMock: func(m *MockService) {
				m.On("CancelSubscription", mock.Anything, "u1").Return(nil, apperr.State("no active subscription"))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"no active subscription"}`,
		},
		{
			name:           "без пользователя",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"unauthorized"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/cancel-subscription", nil)
			if tt.userID != "" {
				req = req.WithContext(middlewarectx.WithUserID(req.Context(), tt.userID))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

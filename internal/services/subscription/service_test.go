package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
	"github.com/magabrotheeeer/unimatch-billing/internal/subscription"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var testOptions = Options{
	Policy:          subscription.DefaultPolicy,
	AmountMinor:     1499,
	Currency:        "gbp",
	Description:     "Premium",
	PlanID:          "P-1",
	ConfirmStatuses: []string{"ACTIVE", "APPROVED"},
	CancelRetries:   2,
	CancelBackoff:   time.Millisecond,
	StatusCacheTTL:  time.Minute,
	IdempotencyTTL:  10 * time.Minute,
}

type fixture struct {
	repo      *RepoMock
	cache     *CacheMock
	notifier  *NotifierMock
	auth      *AdapterMock
	recurring *AdapterMock
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      &RepoMock{},
		cache:     &CacheMock{},
		notifier:  &NotifierMock{},
		auth:      &AdapterMock{provider: models.ProviderAuthorization},
		recurring: &AdapterMock{provider: models.ProviderRecurring},
	}
	registry := paymentprovider.NewRegistry(f.auth, f.recurring)
	f.svc = NewService(f.repo, f.cache, registry, f.notifier, guardianGenders{"female"}, newNoopLogger(), testOptions)
	f.svc.now = func() time.Time { return testNow }
	f.cache.On("Invalidate", mock.Anything, "billing:status:u1").Return(nil).Maybe()
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.repo.AssertExpectations(t)
	f.cache.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
	f.auth.AssertExpectations(t)
	f.recurring.AssertExpectations(t)
}

func trialUser() *models.User {
	return &models.User{
		ID:            "u1",
		Email:         "anna@uni.ac.uk",
		FirstName:     "Anna",
		Gender:        "female",
		GuardianEmail: "guardian@example.com",
		Subscription:  subscription.DefaultPolicy.NewTrialRecord(testNow.AddDate(0, 0, -5)),
	}
}

func authorizedTrialUser() *models.User {
	u := trialUser()
	u.Subscription.Provider = models.ProviderAuthorization
	u.Subscription.ProviderCustomerID = "cus_1"
	u.Subscription.ProviderOrderID = "pi_1"
	u.Subscription.ProviderStatus = "requires_capture"
	u.HasActiveSubscription = true
	return u
}

func activeUser() *models.User {
	u := trialUser()
	next := testNow.AddDate(0, 0, 20)
	u.Subscription.Status = models.StatusActive
	u.Subscription.Provider = models.ProviderRecurring
	u.Subscription.ProviderSubscriptionID = "I-1"
	u.Subscription.ProviderStatus = "ACTIVE"
	u.Subscription.NextBillingDate = &next
	u.HasActiveSubscription = true
	return u
}

func withStatus(u *models.User, status models.Status) *models.User {
	u.Subscription.Status = status
	u.HasActiveSubscription = u.Subscription.HasActiveSubscription()
	return u
}

func TestService_StartTrial(t *testing.T) {
	req := TrialRequest{UserID: "u1", Email: "anna@uni.ac.uk", FirstName: "Anna", Gender: "female", GuardianEmail: "guardian@example.com"}

	tests := []struct {
		name       string
		req        TrialRequest
		setupMocks func(f *fixture)
		wantKind   apperr.Kind
	}{
		{
			name: "trial created",
			req:  req,
			setupMocks: func(f *fixture) {
				f.repo.On("CreateUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
					r := u.Subscription
					return u.ID == "u1" && r.Status == models.StatusTrial &&
						r.TrialStartDate.Equal(testNow) && r.TrialEndDate.Equal(testNow.AddDate(0, 0, 30))
				})).Return(trialUser(), nil).Once()
			},
		},
		{
			name: "guardian required",
			req: func() TrialRequest {
				r := req
				r.GuardianEmail = ""
				return r
			}(),
			setupMocks: func(*fixture) {},
			wantKind:   apperr.KindValidation,
		},
		{
			name: "already started",
			req:  req,
			setupMocks: func(f *fixture) {
				f.repo.On("CreateUser", mock.Anything, mock.Anything).
					Return(nil, repository.ErrUserExists).Once()
			},
			wantKind: apperr.KindConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			u, err := f.svc.StartTrial(context.Background(), tt.req)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, models.StatusTrial, u.Subscription.Status)
			}
			f.assertExpectations(t)
		})
	}
}

func TestService_AuthorizeOrder(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(f *fixture)
		wantKind   apperr.Kind
		wantStatus int
	}{
		{
			name: "order authorized during trial",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
				f.auth.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r paymentprovider.OrderRequest) bool {
					return r.AmountMinor == 1499 && r.Currency == "gbp" && r.PaymentMethodID == "pm_1" &&
						r.Metadata[paymentprovider.MetadataUserID] == "u1"
				})).Return(&paymentprovider.Order{ID: "pi_1", CustomerID: "cus_1", Status: "requires_capture"}, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
					return *p.ProviderOrderID == "pi_1" && *p.ProviderStatus == "requires_capture" && p.Status == nil
				})).Return(authorizedTrialUser(), nil).Once()
			},
		},
		{
			name: "card declined",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
				f.auth.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, &paymentprovider.Error{
					Provider: models.ProviderAuthorization, StatusCode: http.StatusPaymentRequired,
					Code: "card_declined", Message: "Your card was declined.",
				}).Once()
			},
			wantKind:   apperr.KindProvider,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "not in trial",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
			},
			wantKind:   apperr.KindState,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			res, err := f.svc.AuthorizeOrder(context.Background(), "u1", OrderRequest{PaymentMethodID: "pm_1"})
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				assert.Equal(t, tt.wantStatus, apperr.HTTPStatus(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, "pi_1", res.OrderID)
				assert.True(t, res.HasActiveSubscription)
			}
			f.assertExpectations(t)
		})
	}
}

func TestService_Subscribe(t *testing.T) {
	captured := &paymentprovider.Order{ID: "pi_1", CustomerID: "cus_1", Status: "succeeded", Captured: true}
	activated := withStatus(authorizedTrialUser(), models.StatusActive)

	tests := []struct {
		name       string
		provider   models.Provider
		details    PaymentDetails
		setupMocks func(f *fixture)
		wantKind   apperr.Kind
		wantStatus int
		check      func(t *testing.T, res *SubscribeResult)
	}{
		{
			name:     "captures pre-authorized order",
			provider: models.ProviderAuthorization,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(authorizedTrialUser(), nil).Once()
				f.auth.On("CaptureOrder", mock.Anything, "pi_1").Return(captured, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
					return *p.Status == models.StatusActive && *p.ProviderOrderID == "pi_1" &&
						p.ResetWarnings && p.NextBillingDate.Equal(testNow.AddDate(0, 0, 30)) &&
						p.LastPaymentDate.Equal(testNow)
				})).Return(activated, nil).Once()
				f.notifier.On("Notify", mock.Anything, *activated, models.NotificationSubscriptionStarted).Return(nil).Once()
			},
			check: func(t *testing.T, res *SubscribeResult) {
				assert.True(t, res.HasActiveSubscription)
				assert.Equal(t, "pi_1", res.PaymentID)
				assert.False(t, res.Pending)
			},
		},
		{
			name:     "new card is authorized then captured",
			provider: models.ProviderAuthorization,
			details:  PaymentDetails{PaymentMethodID: "pm_1"},
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
				f.auth.On("CreateOrder", mock.Anything, mock.Anything).
					Return(&paymentprovider.Order{ID: "pi_2", CustomerID: "cus_1", Status: "requires_capture"}, nil).Once()
				f.auth.On("CaptureOrder", mock.Anything, "pi_2").
					Return(&paymentprovider.Order{ID: "pi_2", Status: "succeeded", Captured: true}, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.Anything).Return(activated, nil).Once()
				f.notifier.On("Notify", mock.Anything, mock.Anything, models.NotificationSubscriptionStarted).Return(nil).Once()
			},
			check: func(t *testing.T, res *SubscribeResult) {
				assert.Equal(t, "pi_2", res.PaymentID)
			},
		},
		{
			name:     "recurring subscription awaits approval",
			provider: models.ProviderRecurring,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
				f.recurring.On("CreateRecurringSubscription", mock.Anything, mock.MatchedBy(func(r paymentprovider.SubscriptionRequest) bool {
					return r.PlanID == "P-1" && r.Subscriber.Email == "anna@uni.ac.uk"
				})).Return(&paymentprovider.RecurringSubscription{
					ID: "I-1", Status: "APPROVAL_PENDING", ApprovalURL: "https://provider/approve",
				}, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
					return p.Status == nil && *p.ProviderSubscriptionID == "I-1"
				})).Return(trialUser(), nil).Once()
			},
			check: func(t *testing.T, res *SubscribeResult) {
				assert.True(t, res.Pending)
				assert.Equal(t, "https://provider/approve", res.ApprovalURL)
				assert.Equal(t, models.StatusTrial, res.Status)
			},
		},
		{
			name:     "order webhook activated record before local write",
			provider: models.ProviderAuthorization,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(authorizedTrialUser(), nil).Once()
				f.auth.On("CaptureOrder", mock.Anything, "pi_1").Return(captured, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.Anything).Return(nil, repository.ErrStaleWrite).Once()
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(withStatus(authorizedTrialUser(), models.StatusActive), nil).Once()
			},
			check: func(t *testing.T, res *SubscribeResult) {
				assert.True(t, res.HasActiveSubscription)
				assert.Equal(t, models.StatusActive, res.Status)
				assert.Equal(t, "pi_1", res.PaymentID)
			},
		},
		{
			name:     "already active",
			provider: models.ProviderRecurring,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
			},
			wantKind:   apperr.KindConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:     "provider rejection leaves record untouched",
			provider: models.ProviderAuthorization,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(authorizedTrialUser(), nil).Once()
				f.auth.On("CaptureOrder", mock.Anything, "pi_1").Return(nil, &paymentprovider.Error{
					Provider: models.ProviderAuthorization, StatusCode: http.StatusPaymentRequired, Code: "card_declined",
				}).Once()
			},
			wantKind:   apperr.KindProvider,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:     "provider timeout",
			provider: models.ProviderRecurring,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
				f.recurring.On("CreateRecurringSubscription", mock.Anything, mock.Anything).
					Return(nil, &paymentprovider.Error{Provider: models.ProviderRecurring, Transient: true, Err: context.DeadlineExceeded}).Once()
			},
			wantKind:   apperr.KindProvider,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:     "foreign order id",
			provider: models.ProviderAuthorization,
			details:  PaymentDetails{OrderID: "pi_other"},
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(authorizedTrialUser(), nil).Once()
			},
			wantKind: apperr.KindValidation,
		},
		{
			name:       "unknown provider",
			provider:   models.Provider("paypal"),
			setupMocks: func(*fixture) {},
			wantKind:   apperr.KindValidation,
		},
		{
			name:     "user missing",
			provider: models.ProviderRecurring,
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(nil, repository.ErrUserNotFound).Once()
			},
			wantKind:   apperr.KindNotFound,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			res, err := f.svc.Subscribe(context.Background(), "u1", tt.provider, tt.details)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				if tt.wantStatus != 0 {
					assert.Equal(t, tt.wantStatus, apperr.HTTPStatus(err))
				}
				f.repo.AssertNotCalled(t, "ApplyPatch", mock.Anything, mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				tt.check(t, res)
			}
			f.assertExpectations(t)
		})
	}
}

func TestService_SubscribeIdempotency(t *testing.T) {
	key := "billing:idem:subscribe:u1:req-1"

	t.Run("repeated request returns stored result", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
		f.cache.On("Get", mock.Anything, key, mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(2).(*SubscribeResult) = SubscribeResult{PaymentID: "I-1", Pending: true}
		}).Return(true, nil).Once()

		res, err := f.svc.Subscribe(context.Background(), "u1", models.ProviderRecurring, PaymentDetails{IdempotencyKey: "req-1"})
		require.NoError(t, err)
		assert.Equal(t, "I-1", res.PaymentID)
		f.assertExpectations(t)
	})

	t.Run("concurrent request is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
		f.cache.On("Get", mock.Anything, key, mock.Anything).Return(false, nil).Once()
		f.cache.On("Lock", mock.Anything, key+":lock", testOptions.IdempotencyTTL).Return(false, nil).Once()

		_, err := f.svc.Subscribe(context.Background(), "u1", models.ProviderRecurring, PaymentDetails{IdempotencyKey: "req-1"})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		f.assertExpectations(t)
	})

	t.Run("first request stores result", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
		f.cache.On("Get", mock.Anything, key, mock.Anything).Return(false, nil).Once()
		f.cache.On("Lock", mock.Anything, key+":lock", testOptions.IdempotencyTTL).Return(true, nil).Once()
		f.cache.On("Unlock", mock.Anything, key+":lock").Return(nil).Once()
		f.recurring.On("CreateRecurringSubscription", mock.Anything, mock.MatchedBy(func(r paymentprovider.SubscriptionRequest) bool {
			return r.IdempotencyKey == "req-1"
		})).Return(&paymentprovider.RecurringSubscription{ID: "I-1", Status: "APPROVAL_PENDING", ApprovalURL: "https://provider/approve"}, nil).Once()
		f.repo.On("ApplyPatch", mock.Anything, "u1", mock.Anything).Return(trialUser(), nil).Once()
		f.cache.On("Set", mock.Anything, key, mock.AnythingOfType("*services.SubscribeResult"), testOptions.IdempotencyTTL).Return(nil).Once()

		_, err := f.svc.Subscribe(context.Background(), "u1", models.ProviderRecurring, PaymentDetails{IdempotencyKey: "req-1"})
		require.NoError(t, err)
		f.assertExpectations(t)
	})
}

func TestService_CancelSubscription(t *testing.T) {
	cancelled := withStatus(activeUser(), models.StatusPendingCancellation)
	isCancelPatch := mock.MatchedBy(func(p models.SubscriptionPatch) bool {
		return *p.Status == models.StatusPendingCancellation
	})

	tests := []struct {
		name       string
		setupMocks func(f *fixture)
		wantKind   apperr.Kind
		check      func(t *testing.T, res *CancelResult)
	}{
		{
			name: "cancelled at provider",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", isCancelPatch).Return(cancelled, nil).Once()
				f.recurring.On("CancelSubscription", mock.Anything, "I-1").Return(nil).Once()
				f.notifier.On("Notify", mock.Anything, *cancelled, models.NotificationSubscriptionCancelled).Return(nil).Once()
			},
			check: func(t *testing.T, res *CancelResult) {
				assert.Equal(t, models.StatusPendingCancellation, res.Status)
				assert.False(t, res.ProviderPending)
			},
		},
		{
			name: "provider rejection keeps local cancellation",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", isCancelPatch).Return(cancelled, nil).Once()
				f.recurring.On("CancelSubscription", mock.Anything, "I-1").Return(&paymentprovider.Error{
					Provider: models.ProviderRecurring, StatusCode: http.StatusBadRequest, Message: "invalid state",
				}).Once()
				f.notifier.On("Notify", mock.Anything, mock.Anything, models.NotificationSubscriptionCancelled).Return(nil).Once()
			},
			check: func(t *testing.T, res *CancelResult) {
				assert.Equal(t, models.StatusPendingCancellation, res.Status)
				assert.True(t, res.ProviderPending)
				assert.False(t, res.RetryScheduled)
				assert.Contains(t, res.ProviderError, "invalid state")
			},
		},
		{
			name: "order based subscription has nothing to cancel at provider",
			setupMocks: func(f *fixture) {
				u := activeUser()
				u.Subscription.Provider = models.ProviderAuthorization
				u.Subscription.ProviderSubscriptionID = ""
				u.Subscription.ProviderOrderID = "pi_1"
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(u, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", isCancelPatch).Return(cancelled, nil).Once()
				f.notifier.On("Notify", mock.Anything, mock.Anything, models.NotificationSubscriptionCancelled).Return(nil).Once()
			},
			check: func(t *testing.T, res *CancelResult) {
				assert.False(t, res.ProviderPending)
			},
		},
		{
			name: "nothing to cancel",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
			},
			wantKind: apperr.KindState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			res, err := f.svc.CancelSubscription(context.Background(), "u1")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			} else {
				require.NoError(t, err)
				tt.check(t, res)
			}
			f.assertExpectations(t)
		})
	}
}

func TestService_CancelSubscriptionRetriesOutOfBand(t *testing.T) {
	f := newFixture(t)
	cancelled := withStatus(activeUser(), models.StatusPendingCancellation)
	retried := make(chan struct{})

	f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
	f.repo.On("ApplyPatch", mock.Anything, "u1", mock.Anything).Return(cancelled, nil).Once()
	f.recurring.On("CancelSubscription", mock.Anything, "I-1").Return(&paymentprovider.Error{
		Provider: models.ProviderRecurring, StatusCode: http.StatusServiceUnavailable, Transient: true,
	}).Once()
	f.recurring.On("CancelSubscription", mock.Anything, "I-1").Run(func(mock.Arguments) {
		close(retried)
	}).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, mock.Anything, models.NotificationSubscriptionCancelled).Return(nil).Once()

	res, err := f.svc.CancelSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.ProviderPending)
	assert.True(t, res.RetryScheduled)

	select {
	case <-retried:
	case <-time.After(2 * time.Second):
		t.Fatal("provider cancellation was not retried")
	}
	require.NoError(t, f.svc.Shutdown(context.Background()))
	f.assertExpectations(t)
}

func TestService_ConfirmRedirectSubscription(t *testing.T) {
	next := testNow.AddDate(0, 0, 30)
	pending := func() *models.User {
		u := trialUser()
		u.Subscription.Provider = models.ProviderRecurring
		u.Subscription.ProviderSubscriptionID = "I-1"
		u.Subscription.ProviderStatus = "APPROVAL_PENDING"
		return u
	}
	activated := activeUser()

	tests := []struct {
		name           string
		subscriptionID string
		setupMocks     func(f *fixture)
		wantKind       apperr.Kind
	}{
		{
			name:           "approved subscription activates record",
			subscriptionID: "I-1",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(pending(), nil).Once()
				f.recurring.On("FetchSubscriptionStatus", mock.Anything, "I-1").Return(&paymentprovider.SubscriptionStatus{
					ID: "I-1", Status: "ACTIVE", CustomerID: "PAYER1", NextBillingTime: &next,
				}, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
					return *p.Status == models.StatusActive && p.NextBillingDate.Equal(next) &&
						*p.ProviderSubscriptionID == "I-1" && *p.ProviderCustomerID == "PAYER1" &&
						p.LastPaymentDate.Equal(testNow)
				})).Return(activated, nil).Once()
				f.notifier.On("Notify", mock.Anything, *activated, models.NotificationSubscriptionStarted).Return(nil).Once()
			},
		},
		{
			name:           "webhook activated subscription before local write",
			subscriptionID: "I-1",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(pending(), nil).Once()
				f.recurring.On("FetchSubscriptionStatus", mock.Anything, "I-1").
					Return(&paymentprovider.SubscriptionStatus{ID: "I-1", Status: "ACTIVE"}, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.Anything).Return(nil, repository.ErrStaleWrite).Once()
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
			},
		},
		{
			name:           "concurrent change that did not activate subscription",
			subscriptionID: "I-1",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(pending(), nil).Once()
				f.recurring.On("FetchSubscriptionStatus", mock.Anything, "I-1").
					Return(&paymentprovider.SubscriptionStatus{ID: "I-1", Status: "ACTIVE"}, nil).Once()
				f.repo.On("ApplyPatch", mock.Anything, "u1", mock.Anything).Return(nil, repository.ErrStaleWrite).Once()
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(pending(), nil).Once()
			},
			wantKind: apperr.KindConflict,
		},
		{
			name:           "status outside allow list",
			subscriptionID: "I-1",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(pending(), nil).Once()
				f.recurring.On("FetchSubscriptionStatus", mock.Anything, "I-1").
					Return(&paymentprovider.SubscriptionStatus{ID: "I-1", Status: "APPROVAL_PENDING"}, nil).Once()
			},
			wantKind: apperr.KindProvider,
		},
		{
			name:           "subscription of another user",
			subscriptionID: "I-2",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(pending(), nil).Once()
			},
			wantKind: apperr.KindValidation,
		},
		{
			name:           "already confirmed",
			subscriptionID: "I-1",
			setupMocks: func(f *fixture) {
				f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
			},
			wantKind: apperr.KindConflict,
		},
		{
			name:           "missing id",
			subscriptionID: "",
			setupMocks:     func(*fixture) {},
			wantKind:       apperr.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMocks(f)

			res, err := f.svc.ConfirmRedirectSubscription(context.Background(), "u1", tt.subscriptionID)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.True(t, res.HasActiveSubscription)
				assert.Equal(t, models.StatusActive, res.Status)
			}
			f.assertExpectations(t)
		})
	}
}

func TestService_Status(t *testing.T) {
	t.Run("served from cache", func(t *testing.T) {
		f := newFixture(t)
		f.cache.On("Get", mock.Anything, "billing:status:u1", mock.Anything).Run(func(args mock.Arguments) {
			*args.Get(2).(*StatusView) = StatusView{Status: models.StatusActive, HasActiveSubscription: true}
		}).Return(true, nil).Once()

		view, err := f.svc.Status(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, view.HasActiveSubscription)
		f.repo.AssertNotCalled(t, "GetUserByID", mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("loaded and cached", func(t *testing.T) {
		f := newFixture(t)
		f.cache.On("Get", mock.Anything, "billing:status:u1", mock.Anything).Return(false, nil).Once()
		f.repo.On("GetUserByID", mock.Anything, "u1").Return(activeUser(), nil).Once()
		f.cache.On("Set", mock.Anything, "billing:status:u1", mock.Anything, time.Minute).Return(nil).Once()

		view, err := f.svc.Status(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, view.Status)
		assert.Equal(t, models.ProviderRecurring, view.Provider)
		assert.False(t, view.AwaitingApproval)
		f.assertExpectations(t)
	})

	t.Run("cache outage falls back to storage", func(t *testing.T) {
		f := newFixture(t)
		f.cache.On("Get", mock.Anything, "billing:status:u1", mock.Anything).Return(false, errors.New("redis down")).Once()
		f.repo.On("GetUserByID", mock.Anything, "u1").Return(trialUser(), nil).Once()
		f.cache.On("Set", mock.Anything, "billing:status:u1", mock.Anything, time.Minute).Return(errors.New("redis down")).Once()

		view, err := f.svc.Status(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusTrial, view.Status)
		assert.False(t, view.HasActiveSubscription)
		f.assertExpectations(t)
	})
}

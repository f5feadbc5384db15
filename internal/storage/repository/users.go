package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

const userColumns = `id::text, email, first_name, gender, COALESCE(guardian_email, ''),
	has_active_subscription, subscription_status, COALESCE(payment_provider, ''),
	COALESCE(provider_customer_id, ''), COALESCE(provider_subscription_id, ''),
	COALESCE(provider_order_id, ''), provider_status, trial_start_date, trial_end_date,
	current_period_start, last_payment_date, next_billing_date, warnings_sent,
	last_event_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u        models.User
		status   string
		provider string
		warnings []string
	)
	r := &u.Subscription
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.Gender, &u.GuardianEmail,
		&u.HasActiveSubscription, &status, &provider,
		&r.ProviderCustomerID, &r.ProviderSubscriptionID,
		&r.ProviderOrderID, &r.ProviderStatus, &r.TrialStartDate, &r.TrialEndDate,
		&r.CurrentPeriodStart, &r.LastPaymentDate, &r.NextBillingDate, &warnings,
		&r.LastEventAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	r.Provider = models.Provider(provider)
	for _, w := range warnings {
		r.WarningsSent = append(r.WarningsSent, models.WarningFlag(w))
	}
	return &u, nil
}

func (s *Storage) getUser(ctx context.Context, op, where string, args ...any) (*models.User, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.DB.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя вместе с записью подписки.
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.getUser(ctx, "storage.GetUserByID", `id = $1`, userID)
}

// GetUserByEmail возвращает пользователя по e-mail без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "storage.GetUserByEmail", `lower(email) = lower($1)`, email)
}

// FindByProviderCustomerID ищет пользователя по идентификатору клиента у провайдера.
func (s *Storage) FindByProviderCustomerID(ctx context.Context, provider models.Provider, customerID string) (*models.User, error) {
	return s.getUser(ctx, "storage.FindByProviderCustomerID",
		`payment_provider = $1 AND provider_customer_id = $2 ORDER BY updated_at DESC LIMIT 1`,
		string(provider), customerID)
}

// FindByProviderSubscriptionID ищет пользователя по идентификатору подписки у провайдера.
func (s *Storage) FindByProviderSubscriptionID(ctx context.Context, provider models.Provider, subscriptionID string) (*models.User, error) {
	return s.getUser(ctx, "storage.FindByProviderSubscriptionID",
		`payment_provider = $1 AND provider_subscription_id = $2`,
		string(provider), subscriptionID)
}

// FindByProviderOrderID ищет пользователя по идентификатору разового заказа.
func (s *Storage) FindByProviderOrderID(ctx context.Context, provider models.Provider, orderID string) (*models.User, error) {
	return s.getUser(ctx, "storage.FindByProviderOrderID",
		`payment_provider = $1 AND provider_order_id = $2`,
		string(provider), orderID)
}

// CreateUser создаёт строку пользователя с записью пробного периода.
// Повторный вызов для того же id или e-mail возвращает ErrUserExists.
func (s *Storage) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	r := u.Subscription
	query := `INSERT INTO users (id, email, first_name, gender, guardian_email,
			      has_active_subscription, subscription_status, provider_status,
			      trial_start_date, trial_end_date, updated_at)
			  VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, '', $8, $9, $10)
			  ON CONFLICT DO NOTHING
			  RETURNING ` + userColumns
	created, err := scanUser(s.DB.QueryRow(ctx, query,
		u.ID, u.Email, u.FirstName, u.Gender, u.GuardianEmail,
		r.HasActiveSubscription(), string(r.Status),
		r.TrialStartDate, r.TrialEndDate, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

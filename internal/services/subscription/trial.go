package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
)

// TrialRequest: профиль пользователя, для которого создаётся запись пробного периода.
type TrialRequest struct {
	UserID        string
	Email         string
	FirstName     string
	Gender        string
	GuardianEmail string
}

// StartTrial создаёт запись подписки при регистрации. Даты пробного периода
// выставляются один раз и больше не меняются.
func (s *Service) StartTrial(ctx context.Context, req TrialRequest) (*models.User, error) {
	const op = "services.StartTrial"
	log := s.log.With(slog.String("op", op), sl.User(req.UserID))

	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, apperr.Validation("user id and email are required")
	}
	if s.guardian != nil && s.guardian.RequiresGuardian(req.Gender) && strings.TrimSpace(req.GuardianEmail) == "" {
		return nil, apperr.Validation("guardian email is required")
	}

	u, err := s.repo.CreateUser(ctx, models.User{
		ID:            req.UserID,
		Email:         strings.TrimSpace(req.Email),
		FirstName:     req.FirstName,
		Gender:        req.Gender,
		GuardianEmail: strings.TrimSpace(req.GuardianEmail),
		Subscription:  s.opts.Policy.NewTrialRecord(s.now()),
	})
	if errors.Is(err, repository.ErrUserExists) {
		metrics.SubscriptionOperations.WithLabelValues("trial", "", metrics.ResultRejected).Inc()
		return nil, apperr.Conflict("trial has already been started")
	}
	if err != nil {
		log.Error("failed to create trial record", sl.Err(err))
		metrics.SubscriptionOperations.WithLabelValues("trial", "", metrics.ResultError).Inc()
		return nil, apperr.Wrap(apperr.KindInternal, "failed to start trial", err)
	}

	metrics.SubscriptionOperations.WithLabelValues("trial", "", metrics.ResultOK).Inc()
	log.Info("trial started", slog.Time("trial_end", u.Subscription.TrialEndDate))
	return u, nil
}

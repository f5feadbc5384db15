// Package notification ставит письма о подписке в очередь рассылки и отправляет их
// из очереди. Копия письма опекуну создаётся по политике опеки.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// Publisher отправляет сообщение в брокер.
type Publisher interface {
	Publish(ctx context.Context, message any) error
}

// GuardianPolicy определяет, кому из пользователей положено уведомление опекуна.
type GuardianPolicy struct {
	RequiredGenders []string
}

// RequiresGuardian сообщает, что пол требует контакта опекуна.
func (p GuardianPolicy) RequiresGuardian(gender string) bool {
	return slices.ContainsFunc(p.RequiredGenders, func(g string) bool {
		return strings.EqualFold(strings.TrimSpace(g), strings.TrimSpace(gender))
	})
}

// Requires сообщает, что пол пользователя требует опеки и контакт опекуна указан.
func (p GuardianPolicy) Requires(u models.User) bool {
	if strings.TrimSpace(u.GuardianEmail) == "" {
		return false
	}
	return p.RequiresGuardian(u.Gender)
}

// Notifier публикует уведомления пользователю и, при необходимости, опекуну.
type Notifier struct {
	log       *slog.Logger
	publisher Publisher
	guardian  GuardianPolicy
	now       func() time.Time
}

// NewNotifier создаёт Notifier.
func NewNotifier(log *slog.Logger, publisher Publisher, guardian GuardianPolicy) *Notifier {
	return &Notifier{
		log:       log,
		publisher: publisher,
		guardian:  guardian,
		now:       time.Now,
	}
}

// Notify ставит в очередь письмо пользователю и копию опекуну. Ошибка публикации
// письма пользователю возвращается; копия опекуну отправляется только после неё.
func (n *Notifier) Notify(ctx context.Context, user models.User, kind models.NotificationKind) error {
	const op = "notification.Notify"
	log := n.log.With(slog.String("op", op), sl.User(user.ID), slog.String("kind", string(kind)))

	if user.Email == "" {
		log.Warn("user has no email, notification skipped")
		return nil
	}

	msgs := []models.Notification{n.build(user, kind, user.Email, false)}
	if n.guardian.Requires(user) {
		msgs = append(msgs, n.build(user, kind, user.GuardianEmail, true))
	}

	for _, msg := range msgs {
		if err := n.publisher.Publish(ctx, msg); err != nil {
			log.Error("failed to publish notification", slog.Bool("guardian", msg.Guardian), sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	log.Debug("notification queued", slog.Int("messages", len(msgs)))
	return nil
}

// NotifyAll публикует несколько уведомлений и не прерывается на ошибке.
// Используется для побочных эффектов вебхуков, где доставка best-effort.
func (n *Notifier) NotifyAll(ctx context.Context, user models.User, kinds []models.NotificationKind) {
	for _, kind := range kinds {
		if err := n.Notify(ctx, user, kind); err != nil {
			n.log.Warn("notification dropped", sl.User(user.ID), slog.String("kind", string(kind)), sl.Err(err))
		}
	}
}

func (n *Notifier) build(user models.User, kind models.NotificationKind, to string, guardian bool) models.Notification {
	msg := models.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    user.ID,
		To:        to,
		Guardian:  guardian,
		FirstName: user.FirstName,
		CreatedAt: n.now().UTC(),
	}
	if next := user.Subscription.NextBillingDate; next != nil {
		d := next.UTC()
		msg.NextBillingDate = &d
	}
	return msg
}

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/mailer"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/metrics"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// Sender: обработчик очереди рассылки: разбирает уведомление, рендерит письмо и отправляет его.
type Sender struct {
	log      *slog.Logger
	renderer *Renderer
	mailer   mailer.Sender
}

// NewSender создаёт Sender.
func NewSender(log *slog.Logger, renderer *Renderer, m mailer.Sender) *Sender {
	return &Sender{log: log, renderer: renderer, mailer: m}
}

// Handle обрабатывает тело сообщения из очереди. Битые сообщения и сообщения
// без шаблона отклоняются через rabbitmq.ErrDiscard, сбои доставки возвращаются
// как есть и приводят к повторной доставке.
func (s *Sender) Handle(ctx context.Context, body []byte) error {
	const op = "notification.Sender.Handle"

	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Error("failed to unmarshal notification", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDiscard, err)
	}
	log := s.log.With(
		slog.String("op", op),
		slog.String("notification_id", n.ID),
		slog.String("kind", string(n.Kind)),
		sl.User(n.UserID),
		slog.Bool("guardian", n.Guardian),
	)
	if n.To == "" {
		log.Warn("notification has no recipient")
		return fmt.Errorf("%s: %w: no recipient", op, rabbitmq.ErrDiscard)
	}

	subject, html, err := s.renderer.Render(n)
	if err != nil {
		log.Error("failed to render notification", sl.Err(err))
		if errors.Is(err, ErrUnknownKind) {
			return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDiscard, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.mailer.Send(ctx, mailer.Message{
		To:       []string{n.To},
		Subject:  subject,
		HTMLBody: html,
		Tag:      string(n.Kind),
	})
	if errors.Is(err, mailer.ErrInvalidMessage) {
		log.Error("invalid email", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, rabbitmq.ErrDiscard, err)
	}
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), metrics.ResultError).Inc()
		log.Error("failed to send email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.NotificationsSent.WithLabelValues(string(n.Kind), metrics.ResultOK).Inc()
	log.Info("email sent")
	return nil
}

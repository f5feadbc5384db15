// Package notificationsender собирает потребителя очереди уведомлений: письма
// уходят через Postmark, при сбое через SMTP.
package notificationsender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/mailer"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/smtp"
	"github.com/magabrotheeeer/unimatch-billing/internal/services/notification"
)

// App: рассыльщик уведомлений.
type App struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	sender *notification.Sender
	logger *slog.Logger
}

// New подключается к брокеру и собирает цепочку транспортов.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	renderer, err := notification.NewRenderer(cfg.AppName, cfg.SupportEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	transports, err := mailTransports(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	return &App{
		conn:   conn,
		ch:     ch,
		sender: notification.NewSender(logger, renderer, mailer.NewFallback(logger, transports...)),
		logger: logger,
	}, nil
}

// mailTransports возвращает Postmark (если задан токен) и SMTP (если задан хост).
func mailTransports(cfg config.Mail, logger *slog.Logger) ([]mailer.Sender, error) {
	var list []mailer.Sender
	pm, err := mailer.NewPostmarkSender(cfg)
	switch {
	case err == nil:
		list = append(list, pm)
	case errors.Is(err, mailer.ErrNotConfigured):
		logger.Info("postmark is not configured, using SMTP only")
	default:
		return nil, err
	}
	if cfg.SMTPHost != "" {
		list = append(list, mailer.NewSMTPSender(smtp.NewTransport(cfg, logger)))
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("notificationsender: %w", mailer.ErrNotConfigured)
	}
	return list, nil
}

// Run слушает очередь до отмены ctx и ждёт завершения обработчиков.
func (a *App) Run(ctx context.Context) error {
	wg, err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.BillingQueue, a.sender.Handle)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.BillingQueue), sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("notification sender shutting down gracefully")
	wg.Wait()

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return nil
}

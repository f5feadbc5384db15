// Package renewalscheduler собирает планировщик предупреждений о продлении подписки.
package renewalscheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/services/notification"
	schedulerservice "github.com/magabrotheeeer/unimatch-billing/internal/services/scheduler"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	db               *repository.Storage
	conn             *amqp.Connection
	ch               *amqp.Channel
	logger           *slog.Logger
}

// waitForDB ждёт, пока API применит миграции.
func waitForDB(ctx context.Context, db *repository.Storage) error {
	b := retry.WithMaxRetries(dbReadyAttempts-1, retry.NewConstant(dbReadyDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		return retry.RetryableError(repository.CheckDatabaseReady(ctx, db))
	})
	if err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	return nil
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(ctx, db); err != nil {
		db.Close()
		closeResources(ch, conn, logger)
		return nil, err
	}

	publisher := rabbitmq.NewPublisher(ch, rabbitmq.NotificationsExchange, rabbitmq.BillingRoutingKey)
	notifier := notification.NewNotifier(logger, publisher, notification.GuardianPolicy{RequiredGenders: cfg.RequiredGenders})
	schedulerService := schedulerservice.NewSchedulerService(db, notifier, logger, cfg.Scheduler.Interval, cfg.BatchSize)

	return &App{
		schedulerService: schedulerService,
		db:               db,
		conn:             conn,
		ch:               ch,
		logger:           logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.schedulerService.Run(ctx)

	a.logger.Info("shutting down scheduler service")
	closeResources(a.ch, a.conn, a.logger)
	a.db.Close()
	return nil
}

package billingapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"github.com/stripe/stripe-go/v83"

	"github.com/magabrotheeeer/unimatch-billing/internal/cache"
	"github.com/magabrotheeeer/unimatch-billing/internal/config"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/migrations"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/unimatch-billing/internal/services/notification"
	subservice "github.com/magabrotheeeer/unimatch-billing/internal/services/subscription"
	webhookservice "github.com/magabrotheeeer/unimatch-billing/internal/services/webhook"
	"github.com/magabrotheeeer/unimatch-billing/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App: HTTP API биллинга.
type App struct {
	server  *http.Server
	logger  *slog.Logger
	db      *repository.Storage
	cache   *cache.Cache
	conn    *amqp.Connection
	ch      *amqp.Channel
	service *subservice.Service
}

// New подключает хранилище, кэш и брокер, применяет миграции и собирает роутер.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.billingapi.New"
	a := &App{logger: logger}

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.db = db

	if err := a.migrate(cfg.MigrationsPath); err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.ch, err = rabbitmq.SetupChannel(a.conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	publisher := rabbitmq.NewPublisher(a.ch, rabbitmq.NotificationsExchange, rabbitmq.BillingRoutingKey)
	guardian := notification.GuardianPolicy{RequiredGenders: cfg.RequiredGenders}
	notifier := notification.NewNotifier(logger, publisher, guardian)

	registry := paymentprovider.NewRegistry(adapters(ctx, cfg, logger)...)
	opts := subservice.OptionsFromConfig(cfg)
	a.service = subservice.NewService(a.db, a.cache, registry, notifier, guardian, logger, opts)
	reconciler := webhookservice.NewReconciler(a.db, a.cache, registry, notifier, opts.Policy, cfg.WebhookLockTTL, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Controller: a.service,
		Webhooks:   reconciler,
		Tokens:     jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		Limiter:    middlewarectx.NewIPRateLimiter(cfg.RateLimit, cfg.RateBurst),
		Checks: map[string]health.Pinger{
			"postgres": a.db,
			"redis":    a.cache,
		},
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// adapters возвращает адаптеры включённых провайдеров.
func adapters(ctx context.Context, cfg *config.Config, logger *slog.Logger) []paymentprovider.Adapter {
	var list []paymentprovider.Adapter
	if cfg.Providers.Authorization.Enabled {
		stripe.DefaultLeveledLogger = paymentprovider.NewStripeLogger(logger)
		list = append(list, paymentprovider.NewAuthorizationClient(cfg.Providers.Authorization, logger))
	}
	if cfg.Providers.Recurring.Enabled {
		list = append(list, paymentprovider.NewRecurringClient(ctx, cfg.Providers.Recurring))
	}
	return list
}

func (a *App) migrate(path string) error {
	sqlDB, err := a.db.SQLDB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return migrations.Run(sqlDB, path)
}

// Run запускает HTTP-сервер и останавливает его по отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down HTTP server gracefully")
	err := a.server.Shutdown(timeoutCtx)
	if serr := a.service.Shutdown(timeoutCtx); serr != nil {
		a.logger.Warn("provider cancel retries did not finish", sl.Err(serr))
	}
	a.close()
	return err
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

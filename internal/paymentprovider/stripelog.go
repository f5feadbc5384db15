package paymentprovider

import (
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// StripeLogger передаёт сообщения stripe-go в slog приложения.
type StripeLogger struct {
	log *slog.Logger
}

// NewStripeLogger создаёт StripeLogger.
func NewStripeLogger(log *slog.Logger) *StripeLogger {
	return &StripeLogger{log: log.With(sl.Provider(string(models.ProviderAuthorization)))}
}

func (l *StripeLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *StripeLogger) Infof(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

func (l *StripeLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l *StripeLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}

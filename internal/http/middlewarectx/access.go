package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/response"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	services "github.com/magabrotheeeer/unimatch-billing/internal/services/subscription"
)

// StatusReader возвращает состояние подписки пользователя.
type StatusReader interface {
	Status(ctx context.Context, userID string) (*services.StatusView, error)
}

// RequireActiveSubscription пропускает только пользователей с оплаченным доступом.
// Без доступа отвечает 402 Payment Required.
func RequireActiveSubscription(statuses StatusReader, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFrom(r.Context())
			if !ok {
				log.Error("user identification missing")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthorized"))
				return
			}

			view, err := statuses.Status(r.Context(), userID)
			if err != nil {
				log.Error("failed to get subscription status", sl.User(userID), sl.Err(err))
				response.RenderError(w, r, err)
				return
			}
			if !view.HasActiveSubscription {
				log.Info("access denied without active subscription", sl.User(userID))
				render.Status(r, http.StatusPaymentRequired)
				render.JSON(w, r, response.Error("active subscription required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

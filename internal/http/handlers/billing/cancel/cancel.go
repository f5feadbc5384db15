// Package cancel реализует HTTP-обработчик отмены подписки.
package cancel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/response"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	services "github.com/magabrotheeeer/unimatch-billing/internal/services/subscription"
)

// Service: контроллер подписок.
type Service interface {
	CancelSubscription(ctx context.Context, userID string) (*services.CancelResult, error)
}

// Handler обрабатывает POST /cancel-subscription.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Доступ отзывается сразу. Если провайдер не подтвердил отмену, в ответе provider_pending=true.
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=services.CancelResult}
// @Failure 400 {object} response.ErrorResponse "Нет активной подписки"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /cancel-subscription [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.cancel"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	res, err := h.service.CancelSubscription(r.Context(), userID)
	if err != nil {
		log.Error("cancel failed", sl.User(userID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("subscription cancelled", sl.User(userID), slog.Bool("provider_pending", res.ProviderPending))
	render.JSON(w, r, response.OKWithData(res))
}

// Package confirm реализует подтверждение рекуррентной подписки после редиректа с сайта провайдера.
package confirm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/unimatch-billing/internal/http/response"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	services "github.com/magabrotheeeer/unimatch-billing/internal/services/subscription"
)

// Request: идентификатор подписки из параметров возврата.
type Request struct {
	SubscriptionID string `json:"subscription_id" validate:"required,max=255" example:"I-BW452GLLEP1G"`
}

// Service: контроллер подписок.
type Service interface {
	ConfirmRedirectSubscription(ctx context.Context, userID, subscriptionID string) (*services.SubscribeResult, error)
}

// Handler обрабатывает POST /confirm-subscription.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Подтвердить подписку после редиректа
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Идентификатор подписки"
// @Success 200 {object} response.Response{data=services.SubscribeResult}
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации или подписка не одобрена провайдером"
// @Failure 409 {object} response.ErrorResponse "Подписка уже подтверждена"
// @Router /confirm-subscription [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.confirm"
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

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.ConfirmRedirectSubscription(r.Context(), userID, req.SubscriptionID)
	if err != nil {
		log.Error("confirm failed", sl.User(userID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("subscription confirmed", sl.User(userID))
	render.JSON(w, r, response.OKWithData(res))
}

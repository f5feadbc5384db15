// Package subscribe реализует HTTP-обработчик оформления подписки через выбранного провайдера.
package subscribe

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
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	services "github.com/magabrotheeeer/unimatch-billing/internal/services/subscription"
)

// IdempotencyHeader: заголовок ключа идемпотентности запроса.
const IdempotencyHeader = "Idempotency-Key"

// Request: тело запроса подписки.
type Request struct {
	Provider       string         `json:"provider" validate:"required,oneof=authorization-provider recurring-provider" example:"recurring-provider"`
	PaymentDetails PaymentDetails `json:"paymentDetails"`
}

// PaymentDetails: платёжные данные. Рекуррентному провайдеру не нужны.
type PaymentDetails struct {
	OrderID         string `json:"order_id,omitempty" validate:"max=255" example:"pi_3Nx"`
	PaymentMethodID string `json:"payment_method_id,omitempty" validate:"max=255" example:"pm_card_visa"`
}

// Service: контроллер подписок.
type Service interface {
	Subscribe(ctx context.Context, userID string, provider models.Provider, details services.PaymentDetails) (*services.SubscribeResult, error)
}

// Handler обрабатывает POST /subscribe.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Оформить подписку
// @Description Списывает предавторизованный заказ или создаёт рекуррентную подписку. Для рекуррентного провайдера возвращает approval_url.
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Ключ идемпотентности"
// @Param request body Request true "Провайдер и платёжные данные"
// @Success 200 {object} response.Response{data=services.SubscribeResult}
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации, отказ провайдера или недопустимый статус"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Подписка уже активна"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /subscribe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.subscribe"
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

	res, err := h.service.Subscribe(r.Context(), userID, models.Provider(req.Provider), services.PaymentDetails{
		OrderID:         req.PaymentDetails.OrderID,
		PaymentMethodID: req.PaymentDetails.PaymentMethodID,
		IdempotencyKey:  r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		log.Error("subscribe failed", sl.User(userID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("subscribe handled", sl.User(userID), slog.Bool("pending", res.Pending))
	render.JSON(w, r, response.OKWithData(res))
}

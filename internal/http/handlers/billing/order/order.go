// Package order реализует предавторизацию карты во время пробного периода.
package order

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

// IdempotencyHeader: заголовок ключа идемпотентности запроса.
const IdempotencyHeader = "Idempotency-Key"

// Request: платёжный метод для предавторизации.
type Request struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=255" example:"pm_card_visa"`
}

// Service: контроллер подписок.
type Service interface {
	AuthorizeOrder(ctx context.Context, userID string, req services.OrderRequest) (*services.OrderResult, error)
}

// Handler обрабатывает POST /orders.
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
// @Summary Предавторизовать карту
// @Description Создаёт заказ с ручным списанием на сумму тарифа. Списание выполняется при подписке.
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Ключ идемпотентности"
// @Param request body Request true "Платёжный метод"
// @Success 201 {object} response.Response{data=services.OrderResult}
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации, карта отклонена или пробный период закончился"
// @Failure 502 {object} response.ErrorResponse "Провайдер недоступен"
// @Router /orders [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.order"
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

	res, err := h.service.AuthorizeOrder(r.Context(), userID, services.OrderRequest{
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		log.Error("order authorization failed", sl.User(userID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("order authorized", sl.User(userID), slog.String("order_id", res.OrderID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(res))
}

// Package trial реализует создание записи пробного периода при регистрации.
package trial

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

// Request: профиль пользователя.
type Request struct {
	Email         string `json:"email" validate:"required,email" example:"anna@uni.ac.uk"`
	FirstName     string `json:"first_name" validate:"max=100" example:"Anna"`
	Gender        string `json:"gender" validate:"required,max=32" example:"female"`
	GuardianEmail string `json:"guardian_email,omitempty" validate:"omitempty,email"`
}

// Service: контроллер подписок.
type Service interface {
	StartTrial(ctx context.Context, req services.TrialRequest) (*models.User, error)
}

// Handler обрабатывает POST /trial.
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
// @Summary Начать пробный период
// @Description Создаёт запись подписки со статусом trial. Повторный вызов возвращает 409.
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Профиль пользователя"
// @Success 201 {object} response.Response{data=services.StatusView}
// @Failure 400 {object} response.ErrorResponse "Ошибка валидации или не указан контакт опекуна"
// @Failure 409 {object} response.ErrorResponse "Пробный период уже начат"
// @Router /trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.trial"
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

	u, err := h.service.StartTrial(r.Context(), services.TrialRequest{
		UserID:        userID,
		Email:         req.Email,
		FirstName:     req.FirstName,
		Gender:        req.Gender,
		GuardianEmail: req.GuardianEmail,
	})
	if err != nil {
		log.Error("failed to start trial", sl.User(userID), sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("trial started", sl.User(userID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(services.ViewOf(u)))
}

// Package webhook принимает уведомления платёжных провайдеров.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/response"
	"github.com/magabrotheeeer/unimatch-billing/internal/lib/sl"
	"github.com/magabrotheeeer/unimatch-billing/internal/models"
	"github.com/magabrotheeeer/unimatch-billing/internal/paymentprovider"
)

// MaxBodyBytes ограничивает размер тела вебхука.
const MaxBodyBytes = 1 << 20

// Service: сверка событий провайдера.
type Service interface {
	Handle(ctx context.Context, provider models.Provider, payload []byte, headers http.Header) error
}

// Handler обрабатывает POST /webhooks/{provider}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Description Тело читается без разбора, подпись проверяется по исходным байтам. Событие подтверждается 200 даже если пользователь не найден.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Провайдер" Enums(authorization-provider, recurring-provider)
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Неверная подпись"
// @Failure 404 {object} response.ErrorResponse "Неизвестный провайдер"
// @Failure 413 {object} response.ErrorResponse "Слишком большое тело"
// @Router /webhooks/{provider} [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"
	provider := chi.URLParam(r, "provider")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Provider(provider),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large")
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, response.Error("request body too large"))
			return
		}
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	defer r.Body.Close()

	err = h.service.Handle(r.Context(), models.Provider(provider), body, r.Header)
	switch {
	case errors.Is(err, models.ErrUnknownProvider):
		log.Warn("webhook for unknown provider")
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown provider"))
		return
	case errors.Is(err, paymentprovider.ErrInvalidSignature):
		log.Warn("webhook signature rejected", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	case err != nil:
		log.Error("webhook handling failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"received": true,
	}))
}

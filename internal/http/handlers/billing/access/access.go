// Package access: проверка платного доступа для других сервисов платформы.
// Запрос доходит до обработчика только через RequireActiveSubscription.
package access

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/unimatch-billing/internal/http/response"
)

// ServeHTTP godoc
// @Summary Проверить платный доступ
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 402 {object} response.ErrorResponse "Нет активной подписки"
// @Router /access-check [get]
func ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.OKWithData(map[string]any{
		"access": "granted",
	}))
}

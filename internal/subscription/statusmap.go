package subscription

import (
	"strings"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

var authorizationStatuses = map[string]models.Status{
	"active":             models.StatusActive,
	"trialing":           models.StatusTrial,
	"past_due":           models.StatusPastDue,
	"unpaid":             models.StatusPastDue,
	"paused":             models.StatusPastDue,
	"canceled":           models.StatusInactive,
	"incomplete_expired": models.StatusInactive,
}

var recurringStatuses = map[string]models.Status{
	"active":    models.StatusActive,
	"suspended": models.StatusPastDue,
	"cancelled": models.StatusInactive,
	"expired":   models.StatusInactive,
}

// MapProviderStatus переводит статус из словаря провайдера во внутренний.
// false означает промежуточный статус, который не меняет состояние записи
// (incomplete, APPROVAL_PENDING, APPROVED).
func MapProviderStatus(p models.Provider, raw string) (models.Status, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	var s models.Status
	var ok bool
	switch p {
	case models.ProviderAuthorization:
		s, ok = authorizationStatuses[key]
	case models.ProviderRecurring:
		s, ok = recurringStatuses[key]
	}
	return s, ok
}

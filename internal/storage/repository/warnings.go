package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// WarnableStatuses: статусы, для которых отправляются напоминания о продлении.
// pending_cancellation и inactive не продлеваются.
var WarnableStatuses = []string{
	string(models.StatusActive),
	string(models.StatusPastDue),
	string(models.StatusTrial),
}

// FindDueForWarning возвращает пользователей, у которых следующее списание попадает
// в [from, to) и флаг ещё не выставлен в текущем цикле.
func (s *Storage) FindDueForWarning(ctx context.Context, from, to time.Time, flag models.WarningFlag, limit int) ([]*models.User, error) {
	const op = "storage.FindDueForWarning"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE next_billing_date >= $1 AND next_billing_date < $2
			    AND subscription_status = ANY($3::text[])
			    AND NOT ($4::text = ANY(warnings_sent))
			  ORDER BY next_billing_date, id
			  LIMIT $5`
	rows, err := s.DB.Query(ctx, query, from.UTC(), to.UTC(), WarnableStatuses, string(flag), limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SetWarningFlag выставляет флаг для цикла с датой списания cycleDate.
// false означает, что флаг уже стоит или цикл сменился после выборки.
func (s *Storage) SetWarningFlag(ctx context.Context, userID string, flag models.WarningFlag, cycleDate time.Time) (bool, error) {
	const op = "storage.SetWarningFlag"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET warnings_sent = array_append(warnings_sent, $2::text),
			      updated_at = now()
			  WHERE id = $1 AND next_billing_date = $3
			    AND NOT ($2::text = ANY(warnings_sent))`
	tag, err := s.DB.Exec(ctx, query, userID, string(flag), cycleDate.UTC())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

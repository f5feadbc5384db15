package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// FindEndedCancellations возвращает отменённые подписки, у которых оплаченный
// период закончился к моменту now.
func (s *Storage) FindEndedCancellations(ctx context.Context, now time.Time, limit int) ([]*models.User, error) {
	const op = "storage.FindEndedCancellations"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE subscription_status = $1 AND next_billing_date <= $2
			  ORDER BY next_billing_date, id
			  LIMIT $3`
	rows, err := s.DB.Query(ctx, query, string(models.StatusPendingCancellation), now.UTC(), limit)
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

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/unimatch-billing/internal/models"
)

// RecordWebhookEvent заносит событие в журнал. processed=true означает, что
// событие с таким идентификатором уже было полностью обработано.
func (s *Storage) RecordWebhookEvent(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error) {
	const op = "storage.RecordWebhookEvent"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `INSERT INTO webhook_events (provider, event_id, event_type)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (provider, event_id) DO UPDATE SET event_type = EXCLUDED.event_type
			  RETURNING processed_at`
	var processedAt *time.Time
	if err := s.DB.QueryRow(ctx, query, string(provider), eventID, eventType).Scan(&processedAt); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return processedAt != nil, nil
}

// MarkWebhookEventProcessed фиксирует результат обработки события.
func (s *Storage) MarkWebhookEventProcessed(ctx context.Context, provider models.Provider, eventID, userID, outcome string) error {
	const op = "storage.MarkWebhookEventProcessed"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE webhook_events
			  SET processed_at = now(), outcome = $4, user_id = NULLIF($3::text, '')::uuid
			  WHERE provider = $1 AND event_id = $2`
	if _, err := s.DB.Exec(ctx, query, string(provider), eventID, userID, outcome); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

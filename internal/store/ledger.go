// internal/store/ledger.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/models"
)

// ErrAlreadyClicked reports a second click recording on the same attempt;
// the first click wins.
var ErrAlreadyClicked = errors.New("attempt already has a click recorded")

// DeliveryLedger is the append-only record of individual delivery attempts,
// one row per endpoint per send. Rows are immutable once written except for
// clicked_at, which the click-tracking collaborator sets exactly once.
type DeliveryLedger struct {
	db     *sql.DB
	logger logger.Logger
}

func NewDeliveryLedger(db *sql.DB, log logger.Logger) *DeliveryLedger {
	return &DeliveryLedger{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "delivery_ledger"}),
	}
}

// Record appends one attempt row.
func (l *DeliveryLedger) Record(ctx context.Context, a models.DeliveryAttempt) error {
	var errMsg interface{}
	if a.Error != "" {
		errMsg = a.Error
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (id, notification_id, endpoint, sent_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.NotificationID, a.Endpoint, a.SentAt, string(a.Status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}

// ListByNotification returns every attempt for a notification, newest
// first, across all of its cycles.
func (l *DeliveryLedger) ListByNotification(ctx context.Context, notificationID string) ([]models.DeliveryAttempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, notification_id, endpoint, sent_at, status, error, clicked_at
		FROM delivery_attempts
		WHERE notification_id = $1
		ORDER BY sent_at DESC`,
		notificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryAttempt
	for rows.Next() {
		var (
			a         models.DeliveryAttempt
			status    string
			errMsg    sql.NullString
			clickedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.Endpoint, &a.SentAt, &status, &errMsg, &clickedAt); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Status = models.AttemptStatus(status)
		a.Error = errMsg.String
		if clickedAt.Valid {
			t := clickedAt.Time
			a.ClickedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordClick sets clicked_at once. The clicked_at IS NULL guard makes the
// first click win and every later one a no-op error.
func (l *DeliveryLedger) RecordClick(ctx context.Context, attemptID string, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE delivery_attempts SET clicked_at = $2
		WHERE id = $1 AND clicked_at IS NULL`,
		attemptID, at,
	)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyClicked
	}
	return nil
}

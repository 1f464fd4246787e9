// internal/store/notifications.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/models"
)

var (
	// ErrNotFound reports a missing notification row.
	ErrNotFound = errors.New("notification not found")
	// ErrNotEditable reports an edit attempted after the cycle left Draft/Queued.
	ErrNotEditable = errors.New("notification is no longer editable")
)

const notificationColumns = `id, title, body, url, icon, badge, audience, dry_run,
	status, scheduled_for, timezone, recurrence, end_condition, occurrences,
	recipients_count, success_count, failed_count, archived, sent_at,
	created_by, session_id, created_at, updated_at`

// NotificationStore persists notification records and owns every lifecycle
// transition. The Queued→Sending claim is a single guarded UPDATE, which is
// the mechanism that keeps concurrent scheduler ticks from double-sending.
type NotificationStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewNotificationStore(db *sql.DB, log logger.Logger) *NotificationStore {
	return &NotificationStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "notification_store"}),
	}
}

// Create inserts a new notification in Draft or Queued state.
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	recurrence, end, err := marshalSchedule(n)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		n.ID, n.Title, n.Body, n.URL, n.Icon, n.Badge, string(n.Audience), n.DryRun,
		string(n.Status), nullTime(n.ScheduledFor), n.Timezone, recurrence, end, n.Occurrences,
		n.RecipientsCount, n.SuccessCount, n.FailedCount, n.Archived, nullTime(n.SentAt),
		n.CreatedBy, n.SessionID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Update rewrites content and scheduling fields. Permitted only while the
// cycle is still Draft or Queued; the guard lives in the WHERE clause so a
// racing claim cannot be overwritten.
func (s *NotificationStore) Update(ctx context.Context, n *models.Notification) error {
	recurrence, end, err := marshalSchedule(n)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET title = $2, body = $3, url = $4, icon = $5, badge = $6,
			audience = $7, dry_run = $8, status = $9, scheduled_for = $10,
			timezone = $11, recurrence = $12, end_condition = $13, updated_at = $14
		WHERE id = $1 AND status IN ('draft', 'queued')`,
		n.ID, n.Title, n.Body, n.URL, n.Icon, n.Badge,
		string(n.Audience), n.DryRun, string(n.Status), nullTime(n.ScheduledFor),
		n.Timezone, recurrence, end, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return oneRowOr(res, ErrNotEditable)
}

// Get fetches a single notification by id.
func (s *NotificationStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// ListFilter narrows List results; nil pointer fields match everything.
// Archived rows are excluded unless IncludeArchived is set.
type ListFilter struct {
	Status          models.Status
	Audience        models.Audience
	DryRun          *bool
	IncludeArchived bool
}

// List returns notifications newest-first for the history surface.
func (s *NotificationStore) List(ctx context.Context, f ListFilter) ([]models.Notification, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Audience != "" {
		args = append(args, string(f.Audience))
		where = append(where, fmt.Sprintf("audience = $%d", len(args)))
	}
	if f.DryRun != nil {
		args = append(args, *f.DryRun)
		where = append(where, fmt.Sprintf("dry_run = $%d", len(args)))
	}
	if !f.IncludeArchived {
		where = append(where, "archived = false")
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Claim performs the atomic Queued→Sending transition for a scheduled send.
// Exactly one concurrent caller observes true; everyone else lost the row
// to a racing claimant and must skip silently.
func (s *NotificationStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sending', updated_at = NOW()
		WHERE id = $1 AND status = 'queued'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return affected == 1, nil
}

// Unqueue retracts a Queued notification back to Draft, clearing its
// pending trigger. The status guard means a racing claim wins: once the
// row is Sending, the cycle can no longer be retracted.
func (s *NotificationStore) Unqueue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'draft', scheduled_for = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("unqueue notification: %w", err)
	}
	return oneRowOr(res, ErrNotEditable)
}

// BeginImmediate moves a Draft or Queued notification straight into Sending
// for an operator-triggered send. No claim race exists on this path, but
// the same guarded UPDATE keeps the transition honest.
func (s *NotificationStore) BeginImmediate(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sending', updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'queued')`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("begin immediate send: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin immediate send: %w", err)
	}
	return affected == 1, nil
}

// DueQueued returns queued notifications whose scheduled instant has
// passed, oldest first.
func (s *NotificationStore) DueQueued(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = 'queued' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkSent publishes the cycle's final counters and terminal Sent state.
// Counters land in one statement after the fan-out barrier, so a partially
// dispatched cycle is never visible.
func (s *NotificationStore) MarkSent(ctx context.Context, id string, recipients, success, failed int, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sent', recipients_count = $2, success_count = $3,
			failed_count = $4, sent_at = $5, occurrences = occurrences + 1,
			updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`,
		id, recipients, success, failed, sentAt,
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return oneRowOr(res, ErrNotFound)
}

// MarkFailed records a catastrophic cycle failure: nothing was attempted,
// an operator must requeue explicitly.
func (s *NotificationStore) MarkFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'sending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return oneRowOr(res, ErrNotFound)
}

// Requeue opens the next cycle of a recurring series: counters reset to
// zero and the row re-enters Queued at the next occurrence. Prior cycle
// counts survive only in the delivery ledger.
func (s *NotificationStore) Requeue(ctx context.Context, id string, nextAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'queued', scheduled_for = $2,
			recipients_count = 0, success_count = 0, failed_count = 0,
			sent_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('sent', 'failed')`,
		id, nextAt,
	)
	if err != nil {
		return fmt.Errorf("requeue notification: %w", err)
	}
	return oneRowOr(res, ErrNotFound)
}

// SetArchived flips the archive flag; orthogonal to lifecycle state.
func (s *NotificationStore) SetArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET archived = $2, updated_at = NOW() WHERE id = $1`,
		id, archived,
	)
	if err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	return oneRowOr(res, ErrNotFound)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n            models.Notification
		audience     string
		status       string
		scheduledFor sql.NullTime
		sentAt       sql.NullTime
		recurrence   sql.NullString
		end          sql.NullString
	)
	err := row.Scan(
		&n.ID, &n.Title, &n.Body, &n.URL, &n.Icon, &n.Badge, &audience, &n.DryRun,
		&status, &scheduledFor, &n.Timezone, &recurrence, &end, &n.Occurrences,
		&n.RecipientsCount, &n.SuccessCount, &n.FailedCount, &n.Archived, &sentAt,
		&n.CreatedBy, &n.SessionID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Audience = models.Audience(audience)
	n.Status = models.Status(status)
	if scheduledFor.Valid {
		t := scheduledFor.Time
		n.ScheduledFor = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if recurrence.Valid && recurrence.String != "" {
		var rule models.RecurrenceRule
		if err := json.Unmarshal([]byte(recurrence.String), &rule); err != nil {
			return nil, fmt.Errorf("decode recurrence rule: %w", err)
		}
		n.Recurrence = &rule
	}
	if end.Valid && end.String != "" {
		if err := json.Unmarshal([]byte(end.String), &n.End); err != nil {
			return nil, fmt.Errorf("decode end condition: %w", err)
		}
	}
	return &n, nil
}

func marshalSchedule(n *models.Notification) (recurrence, end interface{}, err error) {
	if n.Recurrence != nil {
		b, err := json.Marshal(n.Recurrence)
		if err != nil {
			return nil, nil, fmt.Errorf("encode recurrence rule: %w", err)
		}
		recurrence = string(b)
	}
	if n.End.Type != "" {
		b, err := json.Marshal(n.End)
		if err != nil {
			return nil, nil, fmt.Errorf("encode end condition: %w", err)
		}
		end = string(b)
	}
	return recurrence, end, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func oneRowOr(res sql.Result, sentinel error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel
	}
	return nil
}

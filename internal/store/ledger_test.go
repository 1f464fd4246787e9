package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-engine/internal/models"
)

func newMockLedger(t *testing.T) (*DeliveryLedger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDeliveryLedger(db, createTestLogger(t)), mock
}

func TestDeliveryLedger_Record(t *testing.T) {
	tests := []struct {
		name    string
		attempt models.DeliveryAttempt
		wantErr interface{} // expected value of the error column
	}{
		{
			name: "successful attempt stores null error",
			attempt: models.DeliveryAttempt{
				ID:             "att-1",
				NotificationID: "notif-1",
				Endpoint:       "ep-1",
				SentAt:         time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
				Status:         models.AttemptSent,
			},
			wantErr: nil,
		},
		{
			name: "failed attempt stores the transport error",
			attempt: models.DeliveryAttempt{
				ID:             "att-2",
				NotificationID: "notif-1",
				Endpoint:       "ep-2",
				SentAt:         time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
				Status:         models.AttemptFailed,
				Error:          "push service: 503",
			},
			wantErr: "push service: 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mock := newMockLedger(t)

			mock.ExpectExec(`INSERT INTO delivery_attempts`).
				WithArgs(tt.attempt.ID, tt.attempt.NotificationID, tt.attempt.Endpoint,
					tt.attempt.SentAt, string(tt.attempt.Status), tt.wantErr).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := ledger.Record(context.Background(), tt.attempt)
			assert.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeliveryLedger_ListByNotification(t *testing.T) {
	ledger, mock := newMockLedger(t)

	clicked := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "notification_id", "endpoint", "sent_at", "status", "error", "clicked_at",
	}).AddRow(
		"att-2", "notif-1", "ep-2", time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC), "failed", "gone", nil,
	).AddRow(
		"att-1", "notif-1", "ep-1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), "sent", nil, clicked,
	)

	mock.ExpectQuery(`SELECT (.+) FROM delivery_attempts`).
		WithArgs("notif-1").
		WillReturnRows(rows)

	attempts, err := ledger.ListByNotification(context.Background(), "notif-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, "gone", attempts[0].Error)
	assert.Nil(t, attempts[0].ClickedAt)

	assert.Equal(t, models.AttemptSent, attempts[1].Status)
	assert.Empty(t, attempts[1].Error)
	require.NotNil(t, attempts[1].ClickedAt)
	assert.True(t, attempts[1].ClickedAt.Equal(clicked))
}

func TestDeliveryLedger_RecordClick_FirstClickWins(t *testing.T) {
	ledger, mock := newMockLedger(t)

	at := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE delivery_attempts SET clicked_at`).
		WithArgs("att-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE delivery_attempts SET clicked_at`).
		WithArgs("att-1", at.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, ledger.RecordClick(context.Background(), "att-1", at))
	assert.ErrorIs(t, ledger.RecordClick(context.Background(), "att-1", at.Add(time.Minute)), ErrAlreadyClicked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// internal/models/attempt.go
package models

import "time"

// AttemptStatus is the two-way classification of a delivery attempt.
type AttemptStatus string

const (
	AttemptSent   AttemptStatus = "sent"
	AttemptFailed AttemptStatus = "failed"
)

// DeliveryAttempt is one append-only ledger row: a single endpoint attempt
// within a single send cycle. The endpoint value is copied at send time so
// history survives endpoint deactivation. Immutable once written except for
// ClickedAt, which an external click-tracking collaborator sets later.
type DeliveryAttempt struct {
	ID             string        `json:"id"`
	NotificationID string        `json:"notificationId"`
	Endpoint       string        `json:"endpoint"`
	SentAt         time.Time     `json:"sentAt"`
	Status         AttemptStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	ClickedAt      *time.Time    `json:"clickedAt,omitempty"`
}

// internal/models/notification.go
package models

import "time"

// Status is the lifecycle state of a notification's current send cycle.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Audience selects which endpoints a cycle fans out to.
type Audience string

const (
	AudienceAll  Audience = "all"  // every active endpoint
	AudienceSelf Audience = "self" // endpoints owned by the composing identity
)

// RecurrenceType identifies the recurrence arithmetic to apply.
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

// RecurrenceRule describes how a notification repeats. Weekdays are
// 1=Monday..7=Sunday and apply to weekly rules only; DayOfMonth applies to
// monthly rules only and clamps to the last day of shorter months.
type RecurrenceRule struct {
	Type       RecurrenceType `json:"type"`
	Every      int            `json:"every"`
	Weekdays   []int          `json:"weekdays,omitempty"`
	DayOfMonth int            `json:"dayOfMonth,omitempty"`
}

// EndConditionType terminates a recurring series.
type EndConditionType string

const (
	EndNever       EndConditionType = "never"
	EndRepeatUntil EndConditionType = "repeat_until"
	EndOccurrences EndConditionType = "occurrences_limit"
)

// EndCondition carries exactly one of Until or Limit depending on Type.
// Until is inclusive of its calendar day in the schedule timezone.
type EndCondition struct {
	Type  EndConditionType `json:"type"`
	Until *time.Time       `json:"until,omitempty"`
	Limit int              `json:"limit,omitempty"`
}

// Notification is one composable push notification and the live state of
// its most recent send cycle. Counters describe only the current cycle;
// history lives in the delivery ledger.
type Notification struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
	Audience Audience `json:"audience"`
	DryRun   bool     `json:"dryRun"`

	Status       Status     `json:"status"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Timezone     string     `json:"timezone,omitempty"` // IANA zone, recurrence arithmetic only

	Recurrence  *RecurrenceRule `json:"recurrence,omitempty"`
	End         EndCondition    `json:"end"`
	Occurrences int             `json:"occurrences"` // cycles dispatched so far in the series

	RecipientsCount int `json:"recipientsCount"`
	SuccessCount    int `json:"successCount"`
	FailedCount     int `json:"failedCount"`

	Archived  bool       `json:"archived"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	CreatedBy string     `json:"createdBy"`
	SessionID string     `json:"sessionId,omitempty"` // composing session, best-effort self-audience
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Editable reports whether operator edits are still permitted.
func (n *Notification) Editable() bool {
	return n.Status == StatusDraft || n.Status == StatusQueued
}

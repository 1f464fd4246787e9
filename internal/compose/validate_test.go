package compose

import (
	"testing"
	"time"

	"push-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() *Draft {
	return &Draft{
		Title:    "Opening hours",
		Body:     "We open at 8am this Saturday.",
		URL:      "https://example.com/news",
		Audience: models.AudienceAll,
	}
}

func TestValidateDraft_Accepts(t *testing.T) {
	assert.NoError(t, ValidateDraft(validDraft()))
}

func TestValidateDraft_Rejections(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(d *Draft)
		field  string
	}{
		{
			name:   "missing title",
			mutate: func(d *Draft) { d.Title = "" },
			field:  "title",
		},
		{
			name:   "missing body",
			mutate: func(d *Draft) { d.Body = "" },
			field:  "body",
		},
		{
			name:   "bad audience",
			mutate: func(d *Draft) { d.Audience = "everyone" },
			field:  "audience",
		},
		{
			name: "weekly without weekdays",
			mutate: func(d *Draft) {
				d.Timezone = "Europe/London"
				d.Recurrence = &models.RecurrenceRule{Type: models.RecurrenceWeekly, Every: 1}
				d.End = &models.EndCondition{Type: models.EndNever}
			},
			field: "recurrence.weekdays",
		},
		{
			name: "monthly without day",
			mutate: func(d *Draft) {
				d.Timezone = "Europe/London"
				d.Recurrence = &models.RecurrenceRule{Type: models.RecurrenceMonthly, Every: 1}
				d.End = &models.EndCondition{Type: models.EndNever}
			},
			field: "recurrence.dayOfMonth",
		},
		{
			name: "nonpositive occurrences limit",
			mutate: func(d *Draft) {
				d.Timezone = "Europe/London"
				d.Recurrence = &models.RecurrenceRule{Type: models.RecurrenceDaily, Every: 1}
				d.End = &models.EndCondition{Type: models.EndOccurrences}
			},
			field: "end.limit",
		},
		{
			name: "repeat_until without instant",
			mutate: func(d *Draft) {
				d.Timezone = "Europe/London"
				d.Recurrence = &models.RecurrenceRule{Type: models.RecurrenceDaily, Every: 1}
				d.End = &models.EndCondition{Type: models.EndRepeatUntil}
			},
			field: "end.until",
		},
		{
			name: "unknown timezone",
			mutate: func(d *Draft) {
				d.Timezone = "Mars/Olympus"
			},
			field: "timezone",
		},
		{
			name: "recurrence without timezone",
			mutate: func(d *Draft) {
				d.Recurrence = &models.RecurrenceRule{Type: models.RecurrenceDaily, Every: 1}
				d.End = &models.EndCondition{Type: models.EndRepeatUntil, Until: &until}
			},
			field: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(d)

			err := ValidateDraft(d)
			require.Error(t, err)

			verr, ok := err.(*ValidationError)
			require.True(t, ok, "expected *ValidationError, got %T", err)

			found := false
			for _, fe := range verr.Fields {
				if fe.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected rejection on field %q, got %+v", tt.field, verr.Fields)
		})
	}
}

func TestValidateForQueue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("requires scheduled_for", func(t *testing.T) {
		err := ValidateForQueue(validDraft(), now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheduledFor")
	})

	t.Run("rejects past instant", func(t *testing.T) {
		d := validDraft()
		past := now.Add(-time.Minute)
		d.ScheduledFor = &past
		err := ValidateForQueue(d, now)
		assert.Error(t, err)
	})

	t.Run("accepts future instant", func(t *testing.T) {
		d := validDraft()
		future := now.Add(time.Hour)
		d.ScheduledFor = &future
		assert.NoError(t, ValidateForQueue(d, now))
	})
}

// Package compose validates notification drafts at the compose/edit
// boundary. Structural checks run against a JSON schema; the rules the
// schema cannot express (zone resolution, weekday sets, future scheduling)
// run as Go checks afterwards. Nothing invalid reaches the store in a
// queued state.
package compose

import (
	"encoding/json"
	"fmt"
	"time"

	"push-engine/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

const draftSchema = `{
  "type": "object",
  "required": ["title", "body", "audience"],
  "additionalProperties": true,
  "properties": {
    "title":    {"type": "string", "minLength": 1, "maxLength": 200},
    "body":     {"type": "string", "minLength": 1, "maxLength": 2000},
    "url":      {"type": "string", "maxLength": 2048},
    "icon":     {"type": "string", "maxLength": 2048},
    "badge":    {"type": "string", "maxLength": 2048},
    "audience": {"type": "string", "enum": ["all", "self"]},
    "dryRun":   {"type": "boolean"},
    "timezone": {"type": "string"},
    "recurrence": {
      "type": "object",
      "required": ["type", "every"],
      "properties": {
        "type":       {"type": "string", "enum": ["daily", "weekly", "monthly"]},
        "every":      {"type": "integer", "minimum": 1},
        "weekdays":   {"type": "array", "items": {"type": "integer", "minimum": 1, "maximum": 7}},
        "dayOfMonth": {"type": "integer", "minimum": 1, "maximum": 31}
      }
    },
    "end": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type":  {"type": "string", "enum": ["never", "repeat_until", "occurrences_limit"]},
        "until": {"type": "string"},
        "limit": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

var schema = gojsonschema.NewStringLoader(draftSchema)

// Draft is the compose surface's input for creating or editing a
// notification.
type Draft struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	URL      string                 `json:"url,omitempty"`
	Icon     string                 `json:"icon,omitempty"`
	Badge    string                 `json:"badge,omitempty"`
	Audience models.Audience        `json:"audience"`
	DryRun   bool                   `json:"dryRun"`

	ScheduledFor *time.Time             `json:"scheduledFor,omitempty"`
	Timezone     string                 `json:"timezone,omitempty"`
	Recurrence   *models.RecurrenceRule `json:"recurrence,omitempty"`
	End          *models.EndCondition   `json:"end,omitempty"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every field rejection for synchronous return
// to the compose surface.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("validation failed: %d fields rejected", len(e.Fields))
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// ValidateDraft checks a draft for persistence in Draft state. Scheduling
// fields are validated structurally but a past scheduled_for is tolerated
// here; queueing applies the stricter check.
func ValidateDraft(d *Draft) error {
	return validate(d, time.Time{})
}

// ValidateForQueue checks a draft for the Draft→Queued (or re-entrant
// Queued) transition: scheduled_for must exist and be after now, and any
// recurrence rule must be fully resolvable.
func ValidateForQueue(d *Draft, now time.Time) error {
	return validate(d, now)
}

func validate(d *Draft, now time.Time) error {
	verr := &ValidationError{}

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	for _, re := range result.Errors() {
		verr.add(re.Field(), re.Description())
	}

	queueing := !now.IsZero()

	if queueing {
		if d.ScheduledFor == nil {
			verr.add("scheduledFor", "required to queue a notification")
		} else if !d.ScheduledFor.After(now) {
			verr.add("scheduledFor", "must be in the future")
		}
	}

	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			verr.add("timezone", fmt.Sprintf("unknown IANA zone %q", d.Timezone))
		}
	}
	if d.Recurrence != nil && d.Timezone == "" {
		verr.add("timezone", "recurring notification requires a schedule timezone")
	}

	if d.Recurrence != nil {
		r := d.Recurrence
		switch r.Type {
		case models.RecurrenceWeekly:
			if len(r.Weekdays) == 0 {
				verr.add("recurrence.weekdays", "weekly rule requires at least one weekday")
			}
			for _, wd := range r.Weekdays {
				if wd < 1 || wd > 7 {
					verr.add("recurrence.weekdays", fmt.Sprintf("weekday out of range: %d", wd))
				}
			}
			if r.DayOfMonth != 0 {
				verr.add("recurrence.dayOfMonth", "not applicable to weekly rules")
			}
		case models.RecurrenceMonthly:
			if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
				verr.add("recurrence.dayOfMonth", "monthly rule requires a day between 1 and 31")
			}
			if len(r.Weekdays) != 0 {
				verr.add("recurrence.weekdays", "not applicable to monthly rules")
			}
		case models.RecurrenceDaily:
			if len(r.Weekdays) != 0 {
				verr.add("recurrence.weekdays", "not applicable to daily rules")
			}
			if r.DayOfMonth != 0 {
				verr.add("recurrence.dayOfMonth", "not applicable to daily rules")
			}
		}

		if d.End == nil {
			verr.add("end", "recurring notification requires an end condition")
		} else {
			switch d.End.Type {
			case models.EndNever:
				if d.End.Until != nil || d.End.Limit != 0 {
					verr.add("end", "never carries no until or limit")
				}
			case models.EndRepeatUntil:
				if d.End.Until == nil {
					verr.add("end.until", "repeat_until requires an instant")
				}
				if d.End.Limit != 0 {
					verr.add("end.limit", "not applicable to repeat_until")
				}
			case models.EndOccurrences:
				if d.End.Limit < 1 {
					verr.add("end.limit", "occurrences_limit must be positive")
				}
				if d.End.Until != nil {
					verr.add("end.until", "not applicable to occurrences_limit")
				}
			}
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

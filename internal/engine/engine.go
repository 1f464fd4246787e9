// Package engine is the operator-facing service surface: composing,
// scheduling, sending, and inspecting notifications, plus the subscription
// lifecycle operations its neighbors invoke.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/compose"
	"push-engine/internal/dispatch"
	"push-engine/internal/models"
	"push-engine/internal/scheduler"
	"push-engine/internal/store"

	"github.com/google/uuid"
)

// ErrNotSendable reports a send attempt on a notification that has already
// left Draft/Queued.
var ErrNotSendable = errors.New("notification is not in a sendable state")

// Notifications is the store surface the engine drives.
type Notifications interface {
	scheduler.CycleStore
	Create(ctx context.Context, n *models.Notification) error
	Update(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, f store.ListFilter) ([]models.Notification, error)
	Unqueue(ctx context.Context, id string) error
	BeginImmediate(ctx context.Context, id string) (bool, error)
	SetArchived(ctx context.Context, id string, archived bool) error
}

// Directory is the subscription-lifecycle surface.
type Directory interface {
	Register(ctx context.Context, sub models.PushSubscription) error
	Deactivate(ctx context.Context, endpoint string) error
	LinkOwner(ctx context.Context, endpoint, identity string) error
	Counts(ctx context.Context) (models.DirectoryCounts, error)
}

// Ledger is the inspection surface over delivery attempts.
type Ledger interface {
	ListByNotification(ctx context.Context, notificationID string) ([]models.DeliveryAttempt, error)
	RecordClick(ctx context.Context, attemptID string, at time.Time) error
}

// Emitter publishes opt-in audit events.
type Emitter interface {
	Emit(ctx context.Context, ev models.OptInEvent) error
}

// Dispatcher runs the fan-out for an immediate send.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) (dispatch.Totals, error)
}

type Engine struct {
	notifications Notifications
	directory     Directory
	ledger        Ledger
	dispatcher    Dispatcher
	optin         Emitter
	logger        logger.Logger
	now           func() time.Time
}

func New(notifications Notifications, directory Directory, ledger Ledger, dispatcher Dispatcher, emitter Emitter, log logger.Logger) *Engine {
	return &Engine{
		notifications: notifications,
		directory:     directory,
		ledger:        ledger,
		dispatcher:    dispatcher,
		optin:         emitter,
		logger:        log.WithFields(map[string]interface{}{"component": "engine"}),
		now:           time.Now,
	}
}

// --- compose/edit surface ---

// CreateDraft validates and persists a new notification in Draft state.
func (e *Engine) CreateDraft(ctx context.Context, identity, sessionID string, d *compose.Draft) (*models.Notification, error) {
	if err := compose.ValidateDraft(d); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	n := draftToNotification(d)
	n.ID = uuid.New().String()
	n.Status = models.StatusDraft
	n.CreatedBy = identity
	n.SessionID = sessionID
	n.CreatedAt = now
	n.UpdatedAt = now

	if err := e.notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Update rewrites an editable notification. Editing a Queued notification
// re-validates against the queue rules and re-enters Queued; it never drops
// back to Draft.
func (e *Engine) Update(ctx context.Context, id string, d *compose.Draft) (*models.Notification, error) {
	current, err := e.notifications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Editable() {
		return nil, store.ErrNotEditable
	}

	if current.Status == models.StatusQueued {
		if err := compose.ValidateForQueue(d, e.now()); err != nil {
			return nil, err
		}
	} else if err := compose.ValidateDraft(d); err != nil {
		return nil, err
	}

	updated := draftToNotification(d)
	updated.ID = current.ID
	updated.Status = current.Status
	updated.CreatedBy = current.CreatedBy
	updated.SessionID = current.SessionID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = e.now().UTC()

	if err := e.notifications.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Queue transitions Draft→Queued using the notification's stored
// scheduling fields, after the stricter queue validation.
func (e *Engine) Queue(ctx context.Context, id string) (*models.Notification, error) {
	n, err := e.notifications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.Editable() {
		return nil, store.ErrNotEditable
	}

	if err := compose.ValidateForQueue(notificationToDraft(n), e.now()); err != nil {
		return nil, err
	}

	n.Status = models.StatusQueued
	n.UpdatedAt = e.now().UTC()
	if err := e.notifications.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Unqueue retracts a Queued notification back to Draft, cancelling its
// pending trigger. Racing against the scheduler, the claim wins: a cycle
// already in Sending cannot be retracted.
func (e *Engine) Unqueue(ctx context.Context, id string) (*models.Notification, error) {
	if err := e.notifications.Unqueue(ctx, id); err != nil {
		return nil, err
	}
	return e.notifications.Get(ctx, id)
}

// SendNow dispatches immediately from Draft or Queued, bypassing the
// scheduler. No claim is needed: a direct operator action has no
// concurrent trigger source. A recurring notification still gets its next
// occurrence queued.
func (e *Engine) SendNow(ctx context.Context, id string) (dispatch.Totals, error) {
	n, err := e.notifications.Get(ctx, id)
	if err != nil {
		return dispatch.Totals{}, err
	}

	ok, err := e.notifications.BeginImmediate(ctx, id)
	if err != nil {
		return dispatch.Totals{}, err
	}
	if !ok {
		return dispatch.Totals{}, ErrNotSendable
	}

	startedAt := e.now()
	totals, dispatchErr := e.dispatcher.Dispatch(ctx, n)
	if err := scheduler.FinishCycle(ctx, e.notifications, e.logger, n, totals, dispatchErr, startedAt); err != nil {
		return totals, err
	}
	if dispatchErr != nil {
		return dispatch.Totals{}, fmt.Errorf("dispatch: %w", dispatchErr)
	}
	return totals, nil
}

// Requeue is the operator's explicit retry of a Failed cycle (also valid
// on Sent). The instant must be in the future.
func (e *Engine) Requeue(ctx context.Context, id string, at time.Time) error {
	if !at.After(e.now()) {
		return &compose.ValidationError{Fields: []compose.FieldError{
			{Field: "scheduledFor", Message: "must be in the future"},
		}}
	}
	return e.notifications.Requeue(ctx, id, at)
}

// Archive flags a notification out of default history views. Settable from
// any state; an in-flight claim is unaffected.
func (e *Engine) Archive(ctx context.Context, id string) error {
	return e.notifications.SetArchived(ctx, id, true)
}

func (e *Engine) Unarchive(ctx context.Context, id string) error {
	return e.notifications.SetArchived(ctx, id, false)
}

// --- history/inspection surface ---

func (e *Engine) Get(ctx context.Context, id string) (*models.Notification, error) {
	return e.notifications.Get(ctx, id)
}

func (e *Engine) List(ctx context.Context, f store.ListFilter) ([]models.Notification, error) {
	return e.notifications.List(ctx, f)
}

func (e *Engine) Attempts(ctx context.Context, notificationID string) ([]models.DeliveryAttempt, error) {
	return e.ledger.ListByNotification(ctx, notificationID)
}

// RecordClick marks an attempt clicked; the first click wins.
func (e *Engine) RecordClick(ctx context.Context, attemptID string, at time.Time) error {
	return e.ledger.RecordClick(ctx, attemptID, at)
}

// --- subscription lifecycle surface ---

// RegisterSubscription stores a new endpoint and emits the subscribed
// audit event.
func (e *Engine) RegisterSubscription(ctx context.Context, sub models.PushSubscription, platform string) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = e.now().UTC()
	}
	if err := e.directory.Register(ctx, sub); err != nil {
		return err
	}
	e.emit(ctx, models.OptInEvent{Type: models.OptInSubscribed, Platform: platform, Endpoint: sub.Endpoint})
	return nil
}

// Unsubscribe deactivates an endpoint and emits the unsubscribed audit
// event.
func (e *Engine) Unsubscribe(ctx context.Context, endpoint, platform string) error {
	if err := e.directory.Deactivate(ctx, endpoint); err != nil {
		return err
	}
	e.emit(ctx, models.OptInEvent{Type: models.OptInUnsubscribed, Platform: platform, Endpoint: endpoint})
	return nil
}

// LinkOwner attaches an identity to an endpoint. A conflicting existing
// owner is logged and swallowed: linking is best-effort and never blocks
// delivery.
func (e *Engine) LinkOwner(ctx context.Context, endpoint, identity string) error {
	err := e.directory.LinkOwner(ctx, endpoint, identity)
	if errors.Is(err, store.ErrOwnerConflict) {
		return nil
	}
	return err
}

func (e *Engine) DirectoryCounts(ctx context.Context) (models.DirectoryCounts, error) {
	return e.directory.Counts(ctx)
}

func (e *Engine) emit(ctx context.Context, ev models.OptInEvent) {
	if e.optin == nil {
		return
	}
	if err := e.optin.Emit(ctx, ev); err != nil {
		// Audit-only; never fail the triggering operation.
		e.logger.Warn("opt-in event emission failed", map[string]interface{}{
			"type": string(ev.Type), "error": err.Error(),
		})
	}
}

// --- conversions ---

func draftToNotification(d *compose.Draft) *models.Notification {
	n := &models.Notification{
		Title:        d.Title,
		Body:         d.Body,
		URL:          d.URL,
		Icon:         d.Icon,
		Badge:        d.Badge,
		Audience:     d.Audience,
		DryRun:       d.DryRun,
		ScheduledFor: d.ScheduledFor,
		Timezone:     d.Timezone,
		Recurrence:   d.Recurrence,
	}
	if d.End != nil {
		n.End = *d.End
	}
	return n
}

func notificationToDraft(n *models.Notification) *compose.Draft {
	d := &compose.Draft{
		Title:        n.Title,
		Body:         n.Body,
		URL:          n.URL,
		Icon:         n.Icon,
		Badge:        n.Badge,
		Audience:     n.Audience,
		DryRun:       n.DryRun,
		ScheduledFor: n.ScheduledFor,
		Timezone:     n.Timezone,
		Recurrence:   n.Recurrence,
	}
	if n.End.Type != "" {
		end := n.End
		d.End = &end
	}
	return d
}

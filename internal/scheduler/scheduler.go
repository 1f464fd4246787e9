// Package scheduler polls for due notifications and coordinates claims.
// Instances are stateless: any number of them may tick concurrently, and
// the store's compare-and-swap claim guarantees each due cycle dispatches
// exactly once.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/common/metrics"
	"push-engine/internal/dispatch"
	"push-engine/internal/models"
	"push-engine/internal/recurrence"
)

// Store is the notification-store surface the scheduler drives.
type Store interface {
	CycleStore
	DueQueued(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	Claim(ctx context.Context, id string) (bool, error)
}

// CycleStore finishes a send cycle: terminal state plus optional re-queue.
type CycleStore interface {
	MarkSent(ctx context.Context, id string, recipients, success, failed int, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, nextAt time.Time) error
}

// Dispatcher runs the fan-out for one claimed notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) (dispatch.Totals, error)
}

type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	logger     logger.Logger
	interval   time.Duration
	batch      int
	now        func() time.Time
}

func New(store Store, dispatcher Dispatcher, interval time.Duration, batch int, log logger.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     log.WithFields(map[string]interface{}{"component": "scheduler"}),
		interval:   interval,
		batch:      batch,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. In-flight dispatch finishes before the
// loop exits.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
		"batch":    s.batch,
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", nil)
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("tick failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Tick claims and dispatches every due notification it can win. Losing a
// claim is silent: some other instance owns that cycle. A claim error is
// also non-fatal; the row stays Queued and the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	due, err := s.store.DueQueued(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("query due notifications: %w", err)
	}

	for i := range due {
		n := due[i]

		won, err := s.store.Claim(ctx, n.ID)
		if err != nil {
			s.logger.Warn("claim errored, will retry next tick", map[string]interface{}{
				"notificationId": n.ID, "error": err.Error(),
			})
			continue
		}
		if !won {
			metrics.ClaimsLost.Inc()
			continue
		}
		metrics.ClaimsWon.Inc()

		// sent_at records when the fan-out began, not when it finished.
		startedAt := s.now()
		totals, dispatchErr := s.dispatcher.Dispatch(ctx, &n)
		if err := FinishCycle(ctx, s.store, s.logger, &n, totals, dispatchErr, startedAt); err != nil {
			s.logger.Error("cycle completion failed", map[string]interface{}{
				"notificationId": n.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

// FinishCycle publishes the cycle's terminal state and, for a recurring
// series that is not exhausted, opens the next cycle. Shared by the
// scheduler and the immediate-send path so both finish cycles identically.
func FinishCycle(ctx context.Context, store CycleStore, log logger.Logger, n *models.Notification, totals dispatch.Totals, dispatchErr error, now time.Time) error {
	dryRun := strconv.FormatBool(n.DryRun)

	if dispatchErr != nil {
		log.Error("dispatch failed before any attempt", map[string]interface{}{
			"notificationId": n.ID, "error": dispatchErr.Error(),
		})
		metrics.DispatchCycles.WithLabelValues("failed", dryRun).Inc()
		if err := store.MarkFailed(ctx, n.ID); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		// Operator requeues failed cycles explicitly; no automatic follow-up.
		return nil
	}

	metrics.DispatchCycles.WithLabelValues("sent", dryRun).Inc()
	if err := store.MarkSent(ctx, n.ID, totals.Recipients, totals.Success, totals.Failed, now); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	if n.Recurrence == nil {
		return nil
	}

	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		// Validation keeps this from happening; if it does, the series
		// stops rather than recurring in the wrong zone.
		log.Error("schedule timezone failed to load, series halted", map[string]interface{}{
			"notificationId": n.ID, "timezone": n.Timezone, "error": err.Error(),
		})
		return nil
	}

	occurrence := now
	if n.ScheduledFor != nil {
		occurrence = *n.ScheduledFor
	}

	res, err := recurrence.Next(*n.Recurrence, occurrence, loc, n.End, n.Occurrences+1)
	if err != nil {
		log.Error("recurrence computation failed, series halted", map[string]interface{}{
			"notificationId": n.ID, "error": err.Error(),
		})
		return nil
	}
	if res.Exhausted {
		log.Info("series exhausted", map[string]interface{}{"notificationId": n.ID})
		return nil
	}

	if err := store.Requeue(ctx, n.ID, res.Next); err != nil {
		return fmt.Errorf("requeue next occurrence: %w", err)
	}
	log.Info("next occurrence queued", map[string]interface{}{
		"notificationId": n.ID,
		"scheduledFor":   res.Next.Format(time.RFC3339),
	})
	return nil
}

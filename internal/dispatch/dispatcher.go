// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/common/metrics"
	"push-engine/internal/common/observability"
	"push-engine/internal/models"

	"github.com/google/uuid"
)

// Directory is the audience view of the subscription directory.
type Directory interface {
	ResolveAudience(ctx context.Context, scope models.Audience, identity, sessionID string) ([]models.PushSubscription, error)
	Deactivate(ctx context.Context, endpoint string) error
}

// Ledger records delivery attempts.
type Ledger interface {
	Record(ctx context.Context, a models.DeliveryAttempt) error
}

// Totals is one cycle's aggregate result. Success+Failed always equals
// Recipients by the time Dispatch returns.
type Totals struct {
	Recipients int
	Success    int
	Failed     int
}

// Dispatcher fans a claimed notification out across its audience. Dry runs
// take the same path with the transport call suppressed, so both modes
// leave structurally identical ledger artifacts.
type Dispatcher struct {
	directory      Directory
	ledger         Ledger
	transport      Transport
	logger         logger.Logger
	obs            *observability.Observability
	maxConcurrency int
	attemptTimeout time.Duration
	now            func() time.Time
}

func NewDispatcher(directory Directory, ledger Ledger, transport Transport, maxConcurrency int, attemptTimeout time.Duration, log logger.Logger) *Dispatcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		directory:      directory,
		ledger:         ledger,
		transport:      transport,
		logger:         log.WithFields(map[string]interface{}{"component": "dispatcher"}),
		maxConcurrency: maxConcurrency,
		attemptTimeout: attemptTimeout,
		now:            time.Now,
	}
}

// WithObservability attaches the otel recorder; nil is a no-op recorder.
func (d *Dispatcher) WithObservability(obs *observability.Observability) *Dispatcher {
	d.obs = obs
	return d
}

// Dispatch resolves the audience and issues one bounded attempt per
// endpoint. Per-endpoint failures are recorded, never propagated; the only
// error return is catastrophic failure before any attempt was issued.
// Totals are assembled behind the fan-out barrier, so counters are
// published exactly once per cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notification) (Totals, error) {
	started := d.now()

	audience, err := d.directory.ResolveAudience(ctx, n.Audience, n.CreatedBy, n.SessionID)
	if err != nil {
		if d.obs != nil {
			d.obs.RecordCycle(ctx, "failed")
		}
		return Totals{}, fmt.Errorf("resolve audience: %w", err)
	}

	totals := Totals{Recipients: len(audience)}
	if totals.Recipients == 0 {
		d.logger.Info("empty audience, nothing to dispatch", map[string]interface{}{
			"notificationId": n.ID,
		})
		return totals, nil
	}

	payload := PayloadFor(n)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.maxConcurrency)
	)
	for _, sub := range audience {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub models.PushSubscription) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.attempt(ctx, n, sub, payload)

			mu.Lock()
			if ok {
				totals.Success++
			} else {
				totals.Failed++
			}
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	if d.obs != nil {
		d.obs.RecordCycle(ctx, "sent")
		d.obs.RecordCycleDuration(ctx, d.now().Sub(started), "sent")
		d.obs.RecordAttempts(ctx, int64(totals.Success), "accepted")
		d.obs.RecordAttempts(ctx, int64(totals.Failed), "failed")
	}

	d.logger.Info("dispatch complete", map[string]interface{}{
		"notificationId": n.ID,
		"recipients":     totals.Recipients,
		"success":        totals.Success,
		"failed":         totals.Failed,
		"dryRun":         n.DryRun,
	})
	return totals, nil
}

// attempt issues one delivery, records its ledger row, and reports whether
// it counts as a success.
func (d *Dispatcher) attempt(ctx context.Context, n *models.Notification, sub models.PushSubscription, payload Payload) bool {
	started := d.now()

	outcome := Outcome{Class: OutcomeAccepted}
	if !n.DryRun {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		outcome = d.transport.Deliver(attemptCtx, sub, payload)
		cancel()
	}

	metrics.AttemptDuration.Observe(d.now().Sub(started).Seconds())
	metrics.DeliveryAttempts.WithLabelValues(string(outcome.Class)).Inc()

	attempt := models.DeliveryAttempt{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		Endpoint:       sub.Endpoint,
		SentAt:         started,
	}

	switch outcome.Class {
	case OutcomeAccepted:
		attempt.Status = models.AttemptSent
	case OutcomeGone:
		attempt.Status = models.AttemptFailed
		attempt.Error = outcomeError(outcome, "endpoint gone")
		if err := d.directory.Deactivate(ctx, sub.Endpoint); err != nil {
			d.logger.Error("deactivate failed", map[string]interface{}{
				"endpoint": sub.Endpoint, "error": err.Error(),
			})
		}
	default:
		attempt.Status = models.AttemptFailed
		attempt.Error = outcomeError(outcome, "transient delivery failure")
	}

	if err := d.ledger.Record(ctx, attempt); err != nil {
		d.logger.Error("ledger write failed", map[string]interface{}{
			"notificationId": n.ID, "endpoint": sub.Endpoint, "error": err.Error(),
		})
	}

	return attempt.Status == models.AttemptSent
}

func outcomeError(o Outcome, fallback string) string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return fallback
}

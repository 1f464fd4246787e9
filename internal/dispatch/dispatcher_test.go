package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-engine/internal/common/logger"
	"push-engine/internal/models"
)

// ==========================
// Test doubles
// ==========================

type mockDirectory struct {
	mu          sync.Mutex
	audience    []models.PushSubscription
	resolveErr  error
	deactivated []string
}

func (m *mockDirectory) ResolveAudience(_ context.Context, _ models.Audience, _, _ string) ([]models.PushSubscription, error) {
	return m.audience, m.resolveErr
}

func (m *mockDirectory) Deactivate(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, endpoint)
	return nil
}

type mockLedger struct {
	mu       sync.Mutex
	attempts []models.DeliveryAttempt
}

func (m *mockLedger) Record(_ context.Context, a models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

type mockTransport struct {
	mu       sync.Mutex
	calls    int
	outcomes map[string]Outcome // endpoint -> outcome, default accepted
}

func (m *mockTransport) Deliver(_ context.Context, sub models.PushSubscription, _ Payload) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if o, ok := m.outcomes[sub.Endpoint]; ok {
		return o
	}
	return Outcome{Class: OutcomeAccepted}
}

func endpoints(names ...string) []models.PushSubscription {
	subs := make([]models.PushSubscription, 0, len(names))
	for _, n := range names {
		subs = append(subs, models.PushSubscription{Endpoint: n, IsActive: true})
	}
	return subs
}

func newTestDispatcher(t *testing.T, dir *mockDirectory, ledger *mockLedger, tr *mockTransport) *Dispatcher {
	return NewDispatcher(dir, ledger, tr, 4, time.Second,
		logger.NewTestLogger(t))
}

func testNotification() *models.Notification {
	return &models.Notification{
		ID:       "notif-1",
		Title:    "Flash sale",
		Body:     "Today only",
		Audience: models.AudienceAll,
		Status:   models.StatusSending,
	}
}

// ==========================
// Tests
// ==========================

func TestDispatcher_Dispatch_CountersBalance(t *testing.T) {
	dir := &mockDirectory{audience: endpoints("ep-1", "ep-2", "ep-3", "ep-4")}
	ledger := &mockLedger{}
	tr := &mockTransport{outcomes: map[string]Outcome{
		"ep-2": {Class: OutcomeGone},
		"ep-3": {Class: OutcomeTransient, Err: errors.New("503 from push service")},
	}}

	totals, err := newTestDispatcher(t, dir, ledger, tr).Dispatch(context.Background(), testNotification())
	require.NoError(t, err)

	assert.Equal(t, 4, totals.Recipients)
	assert.Equal(t, 2, totals.Success)
	assert.Equal(t, 2, totals.Failed)
	assert.Equal(t, totals.Recipients, totals.Success+totals.Failed)
	assert.Len(t, ledger.attempts, 4)
}

func TestDispatcher_Dispatch_EmptyAudience(t *testing.T) {
	dir := &mockDirectory{}
	ledger := &mockLedger{}
	tr := &mockTransport{}

	totals, err := newTestDispatcher(t, dir, ledger, tr).Dispatch(context.Background(), testNotification())
	require.NoError(t, err)

	assert.Equal(t, Totals{}, totals)
	assert.Zero(t, tr.calls)
	assert.Empty(t, ledger.attempts)
}

func TestDispatcher_Dispatch_ResolveFailureIsCatastrophic(t *testing.T) {
	dir := &mockDirectory{resolveErr: errors.New("postgres down")}
	ledger := &mockLedger{}
	tr := &mockTransport{}

	_, err := newTestDispatcher(t, dir, ledger, tr).Dispatch(context.Background(), testNotification())
	require.Error(t, err)
	assert.Zero(t, tr.calls)
	assert.Empty(t, ledger.attempts)
}

func TestDispatcher_Dispatch_GoneDeactivatesEndpoint(t *testing.T) {
	dir := &mockDirectory{audience: endpoints("ep-live", "ep-dead")}
	ledger := &mockLedger{}
	tr := &mockTransport{outcomes: map[string]Outcome{
		"ep-dead": {Class: OutcomeGone},
	}}

	_, err := newTestDispatcher(t, dir, ledger, tr).Dispatch(context.Background(), testNotification())
	require.NoError(t, err)

	assert.Equal(t, []string{"ep-dead"}, dir.deactivated)
}

func TestDispatcher_Dispatch_TransientKeepsEndpointActive(t *testing.T) {
	dir := &mockDirectory{audience: endpoints("ep-1")}
	ledger := &mockLedger{}
	tr := &mockTransport{outcomes: map[string]Outcome{
		"ep-1": {Class: OutcomeTransient, Err: errors.New("timeout")},
	}}

	totals, err := newTestDispatcher(t, dir, ledger, tr).Dispatch(context.Background(), testNotification())
	require.NoError(t, err)

	assert.Equal(t, 1, totals.Failed)
	assert.Empty(t, dir.deactivated)
	require.Len(t, ledger.attempts, 1)
	assert.Equal(t, models.AttemptFailed, ledger.attempts[0].Status)
	assert.Equal(t, "timeout", ledger.attempts[0].Error)
}

func TestDispatcher_Dispatch_DryRunSkipsTransport(t *testing.T) {
	dir := &mockDirectory{audience: endpoints("ep-1", "ep-2")}
	ledger := &mockLedger{}
	tr := &mockTransport{}

	n := testNotification()
	n.DryRun = true

	totals, err := newTestDispatcher(t, dir, ledger, tr).Dispatch(context.Background(), n)
	require.NoError(t, err)

	// Same counters and ledger artifacts as a real send, no transport calls.
	assert.Zero(t, tr.calls)
	assert.Equal(t, Totals{Recipients: 2, Success: 2}, totals)
	require.Len(t, ledger.attempts, 2)
	for _, a := range ledger.attempts {
		assert.Equal(t, models.AttemptSent, a.Status)
		assert.Equal(t, "notif-1", a.NotificationID)
		assert.NotEmpty(t, a.ID)
	}
}

func TestPayloadFor(t *testing.T) {
	n := testNotification()
	n.URL = "https://example.com/sale"
	n.Icon = "https://example.com/icon.png"

	p := PayloadFor(n)
	assert.Equal(t, "Flash sale", p.Title)
	assert.Equal(t, "Today only", p.Body)
	assert.Equal(t, "https://example.com/sale", p.URL)
	assert.Equal(t, "https://example.com/icon.png", p.Icon)
}

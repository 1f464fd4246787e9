// internal/store/subscriptions.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"push-engine/internal/common/logger"
	"push-engine/internal/common/metrics"
	"push-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrOwnerConflict reports a LinkOwner call that would reassign an endpoint
// already linked to a different identity. Logged and skipped, never
// surfaced to end users, never blocks delivery.
var ErrOwnerConflict = errors.New("endpoint already linked to a different owner")

// SubscriptionDirectory holds active delivery endpoints and their liveness.
// Postgres is the source of truth; redis carries a best-effort TTL bucket
// of freshly registered endpoints per session, backing scope=self before
// identity resolution has linked an owner.
type SubscriptionDirectory struct {
	db        *sql.DB
	redis     *redis.Client
	recentTTL time.Duration
	logger    logger.Logger
}

func NewSubscriptionDirectory(db *sql.DB, rdb *redis.Client, recentTTL time.Duration, log logger.Logger) *SubscriptionDirectory {
	return &SubscriptionDirectory{
		db:        db,
		redis:     rdb,
		recentTTL: recentTTL,
		logger:    log.WithFields(map[string]interface{}{"component": "subscription_directory"}),
	}
}

func recentKey(sessionID string) string {
	return "pushengine:recent:" + sessionID
}

// Register upserts an endpoint on client subscribe. Re-registering an
// existing endpoint refreshes its key material and reactivates it. The
// endpoint is also remembered against the session for the recent bucket.
func (d *SubscriptionDirectory) Register(ctx context.Context, sub models.PushSubscription) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, owner, session_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)
		ON CONFLICT (endpoint) DO UPDATE
		SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth,
			session_id = EXCLUDED.session_id, is_active = true`,
		sub.Endpoint, sub.P256dh, sub.Auth, sub.Owner, sub.SessionID, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("register endpoint: %w", err)
	}

	if d.redis != nil && sub.SessionID != "" {
		key := recentKey(sub.SessionID)
		if err := d.redis.SAdd(ctx, key, sub.Endpoint).Err(); err != nil {
			// Best-effort bucket only; a miss narrows scope=self, never breaks it.
			d.logger.Warn("recent bucket add failed", map[string]interface{}{
				"endpoint": sub.Endpoint, "error": err.Error(),
			})
			return nil
		}
		if err := d.redis.Expire(ctx, key, d.recentTTL).Err(); err != nil {
			d.logger.Warn("recent bucket expire failed", map[string]interface{}{
				"session": sub.SessionID, "error": err.Error(),
			})
		}
	}
	return nil
}

// ResolveAudience returns the active endpoints a cycle will attempt.
// scope=all is every active endpoint. scope=self is the requesting
// identity's endpoints, unioned best-effort with still-recent endpoints
// registered in the requester's session that no identity has claimed yet.
func (d *SubscriptionDirectory) ResolveAudience(ctx context.Context, scope models.Audience, identity, sessionID string) ([]models.PushSubscription, error) {
	switch scope {
	case models.AudienceAll:
		return d.queryActive(ctx, `SELECT endpoint, p256dh, auth, owner, session_id, is_active, created_at
			FROM push_subscriptions WHERE is_active = true`)
	case models.AudienceSelf:
		subs, err := d.queryActive(ctx, `SELECT endpoint, p256dh, auth, owner, session_id, is_active, created_at
			FROM push_subscriptions WHERE is_active = true AND owner = $1`, identity)
		if err != nil {
			return nil, err
		}
		return d.unionRecent(ctx, subs, sessionID)
	default:
		return nil, fmt.Errorf("unknown audience scope %q", scope)
	}
}

func (d *SubscriptionDirectory) queryActive(ctx context.Context, query string, args ...interface{}) ([]models.PushSubscription, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	defer rows.Close()

	var out []models.PushSubscription
	for rows.Next() {
		var s models.PushSubscription
		if err := rows.Scan(&s.Endpoint, &s.P256dh, &s.Auth, &s.Owner, &s.SessionID, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// unionRecent folds in unowned endpoints registered recently in the same
// session. Best-effort: any redis failure returns the owner-matched set
// unchanged.
func (d *SubscriptionDirectory) unionRecent(ctx context.Context, subs []models.PushSubscription, sessionID string) ([]models.PushSubscription, error) {
	if d.redis == nil || sessionID == "" {
		return subs, nil
	}
	endpoints, err := d.redis.SMembers(ctx, recentKey(sessionID)).Result()
	if err != nil || len(endpoints) == 0 {
		if err != nil {
			d.logger.Warn("recent bucket read failed", map[string]interface{}{"error": err.Error()})
		}
		return subs, nil
	}

	seen := make(map[string]bool, len(subs))
	for _, s := range subs {
		seen[s.Endpoint] = true
	}
	for _, ep := range endpoints {
		if seen[ep] {
			continue
		}
		extra, err := d.queryActive(ctx, `SELECT endpoint, p256dh, auth, owner, session_id, is_active, created_at
			FROM push_subscriptions WHERE is_active = true AND owner = '' AND endpoint = $1`, ep)
		if err != nil {
			d.logger.Warn("recent endpoint lookup failed", map[string]interface{}{"endpoint": ep, "error": err.Error()})
			continue
		}
		subs = append(subs, extra...)
	}
	return subs, nil
}

// Deactivate permanently retires an endpoint. Idempotent: deactivating a
// missing or already-inactive endpoint is a no-op.
func (d *SubscriptionDirectory) Deactivate(ctx context.Context, endpoint string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET is_active = false WHERE endpoint = $1 AND is_active = true`,
		endpoint,
	)
	if err != nil {
		return fmt.Errorf("deactivate endpoint: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		metrics.EndpointsDeactivated.Inc()
	}
	return nil
}

// LinkOwner attaches a resolved identity to an endpoint. Idempotent when
// the endpoint is unowned or already linked to the same identity; a
// different existing owner is a conflict, recorded and skipped, never a
// silent reassignment.
func (d *SubscriptionDirectory) LinkOwner(ctx context.Context, endpoint, identity string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET owner = $2
		WHERE endpoint = $1 AND (owner = '' OR owner = $2)`,
		endpoint, identity,
	)
	if err != nil {
		return fmt.Errorf("link owner: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link owner: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing endpoint from a contested one.
	var owner string
	err = d.db.QueryRowContext(ctx,
		`SELECT owner FROM push_subscriptions WHERE endpoint = $1`, endpoint,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("link owner: endpoint not registered")
	}
	if err != nil {
		return fmt.Errorf("link owner: %w", err)
	}

	metrics.OwnerLinkConflicts.Inc()
	d.logger.Warn("owner link conflict", map[string]interface{}{
		"endpoint": endpoint,
		"existing": owner,
		"proposed": identity,
	})
	return ErrOwnerConflict
}

// Counts reports directory totals for observability and refreshes the
// exported gauges.
func (d *SubscriptionDirectory) Counts(ctx context.Context) (models.DirectoryCounts, error) {
	var c models.DirectoryCounts
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(DISTINCT owner) FILTER (WHERE owner <> ''),
			COUNT(*) FILTER (WHERE owner = '')
		FROM push_subscriptions WHERE is_active = true`,
	).Scan(&c.Active, &c.Owners, &c.Unknown)
	if err != nil {
		return models.DirectoryCounts{}, fmt.Errorf("directory counts: %w", err)
	}

	metrics.ActiveEndpoints.Set(float64(c.Active))
	metrics.DistinctOwners.Set(float64(c.Owners))
	metrics.UnknownEndpoints.Set(float64(c.Unknown))
	return c, nil
}

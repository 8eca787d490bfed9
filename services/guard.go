package services

import (
	"context"
	"time"

	"github.com/tcdynamics/billsync/cache"
	"github.com/tcdynamics/billsync/models"
	"github.com/tcdynamics/billsync/utils"
)

// EventLedger is the durable "seen events" store. InsertIfAbsent must be
// atomic: of N concurrent calls for the same event, exactly one returns true.
type EventLedger interface {
	InsertIfAbsent(ctx context.Context, provider, eventID, eventType string, payload models.JSON) (bool, error)
}

// DistributedReplayCache is an optional shared fast-path tier with
// set-if-not-exists semantics (Redis SET NX).
type DistributedReplayCache interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// IdempotencyGuard suppresses duplicate webhook deliveries. The durable
// ledger is checked first and is authoritative; the in-process replay cache
// (plus the distributed tier when configured) covers redeliveries while the
// ledger is unreachable. When the ledger soft-fails the guard degrades to the
// cache tiers and processing continues: downstream reconciliation writes are
// idempotent upserts, so a replay slipping through after a restart is
// acceptable.
type IdempotencyGuard struct {
	ledger EventLedger
	replay *cache.ReplayCache
	dist   DistributedReplayCache
	ttl    time.Duration
}

func NewIdempotencyGuard(ledger EventLedger, replay *cache.ReplayCache, dist DistributedReplayCache, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = cache.DefaultReplayTTL
	}
	return &IdempotencyGuard{
		ledger: ledger,
		replay: replay,
		dist:   dist,
		ttl:    ttl,
	}
}

// Register records the event in every tier and reports whether it was already
// seen. A true result means the delivery is a replay and must be acknowledged
// without dispatching.
func (g *IdempotencyGuard) Register(ctx context.Context, event *models.WebhookEvent) bool {
	key := replayKey(event.Provider, event.ID)

	inserted, err := g.ledger.InsertIfAbsent(ctx, event.Provider, event.ID, event.Type, event.Payload)
	if err != nil {
		utils.Warn(ctx, "event ledger unavailable, degrading to replay cache", map[string]interface{}{
			"provider": event.Provider,
			"event_id": event.ID,
			"error":    err.Error(),
		})
	} else if !inserted {
		return true
	}

	if g.replay.Seen(key) {
		return true
	}

	if g.dist != nil {
		claimed, err := g.dist.SetIfAbsent(ctx, key, g.ttl)
		if err != nil {
			utils.Warn(ctx, "distributed replay cache unavailable", map[string]interface{}{
				"event_id": event.ID,
				"error":    err.Error(),
			})
		} else if !claimed {
			return true
		}
	}

	g.replay.Mark(key)
	return false
}

// Forget clears the fast-path tiers after a processing failure so the
// provider's retry is not short-circuited. The durable ledger row stays: its
// retention is the audit trail, and the asymmetry is deliberate.
func (g *IdempotencyGuard) Forget(ctx context.Context, provider, eventID string) {
	key := replayKey(provider, eventID)
	g.replay.Forget(key)

	if g.dist != nil {
		if err := g.dist.Forget(ctx, key); err != nil {
			utils.Warn(ctx, "failed to clear distributed replay entry", map[string]interface{}{
				"event_id": eventID,
				"error":    err.Error(),
			})
		}
	}
}

func replayKey(provider, eventID string) string {
	return provider + ":" + eventID
}

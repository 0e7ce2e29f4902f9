package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator is a Redis fast-path guard in front of the database unique
// index on alerts. It is best-effort: if Redis is down the database index
// still prevents duplicate alerts.
type Deduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduplicator creates a new deduplicator
func NewDeduplicator(client *redis.Client, ttlMinutes int) *Deduplicator {
	return &Deduplicator{
		client: client,
		ttl:    time.Duration(ttlMinutes) * time.Minute,
	}
}

// ShouldAlert returns true if no alert for this user/movement pair was
// recorded within the TTL window.
func (d *Deduplicator) ShouldAlert(ctx context.Context, userID string, movementID int64) (bool, error) {
	dedupKey := d.generateDedupKey(userID, movementID)

	exists, err := d.client.Exists(ctx, dedupKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}

	if exists > 0 {
		// Already alerted recently
		return false, nil
	}

	if err := d.client.Set(ctx, dedupKey, "1", d.ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}

	return true, nil
}

// generateDedupKey creates the guard key for a user/movement pair
func (d *Deduplicator) generateDedupKey(userID string, movementID int64) string {
	return fmt.Sprintf("alert:dedup:%s:%d", userID, movementID)
}

// Clear removes a dedup entry (for testing)
func (d *Deduplicator) Clear(ctx context.Context, userID string, movementID int64) error {
	return d.client.Del(ctx, d.generateDedupKey(userID, movementID)).Err()
}

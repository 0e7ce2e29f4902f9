package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/liamashdown/linewatch/internal/metrics"
)

const movementStream = "movements.detected"

// StreamPublisher publishes movement events to a Redis Stream so downstream
// consumers (notification dispatchers, dashboards) can react without polling
// the database.
type StreamPublisher struct {
	client *redis.Client
}

// NewStreamPublisher creates a new Redis Stream publisher
func NewStreamPublisher(client *redis.Client) *StreamPublisher {
	return &StreamPublisher{client: client}
}

// Publish appends the movement event to the stream
func (p *StreamPublisher) Publish(ctx context.Context, event *MovementEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		metrics.RecordPublish("stream", err)
		return fmt.Errorf("marshal movement event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: movementStream,
		Values: map[string]interface{}{
			"data": payload,
		},
	}).Err()
	metrics.RecordPublish("stream", err)
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", movementStream, err)
	}

	return nil
}

package publish

import (
	"context"
	"fmt"
)

// MultiPublisher publishes movement events to multiple destinations
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a new multi-publisher
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{
		publishers: publishers,
	}
}

// Publish sends the event to all configured publishers
func (p *MultiPublisher) Publish(ctx context.Context, event *MovementEvent) error {
	var errs []error
	for i, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("multi-publisher errors: %v", errs)
	}

	return nil
}

package publish

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/metrics"
)

// LogPublisher writes movement events to the logger
type LogPublisher struct {
	log *logrus.Logger
}

// NewLogPublisher creates a new log publisher
func NewLogPublisher(log *logrus.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish logs the movement event
func (p *LogPublisher) Publish(ctx context.Context, event *MovementEvent) error {
	p.log.WithFields(logrus.Fields{
		"movement_id":   event.MovementID,
		"game_id":       event.GameID,
		"sportsbook_id": event.SportsbookID,
		"market_type":   event.MarketType,
		"change":        event.ChangeAmount,
		"movement_type": event.MovementType,
		"magnitude":     event.Magnitude,
	}).Info("Line movement detected")
	metrics.RecordPublish("log", nil)
	return nil
}

package publish

import (
	"context"
)

// MovementEvent is the payload published when a new line movement is persisted
type MovementEvent struct {
	MovementID    int64   `json:"movement_id"`
	GameID        string  `json:"game_id"`
	SportsbookID  string  `json:"sportsbook_id"`
	MarketType    string  `json:"market_type"`
	PreviousValue float64 `json:"previous_value"`
	NewValue      float64 `json:"new_value"`
	ChangeAmount  float64 `json:"change_amount"`
	MovementType  string  `json:"movement_type"`
	Magnitude     string  `json:"magnitude"`
	OccurredTS    int64   `json:"occurred_ts"`
}

// Publisher defines the interface for movement event publishers
type Publisher interface {
	Publish(ctx context.Context, event *MovementEvent) error
}

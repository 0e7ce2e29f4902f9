package storage

import (
	"time"

	"gorm.io/gorm"
)

// AppState stores application state for checkpointing
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:64"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

// Game holds event metadata for the matchups we track odds for.
// Rows are owned by the ingestion collaborator; the pipeline only reads them
// when composing alert text.
type Game struct {
	GameID     string `gorm:"primaryKey;size:64"`
	ExternalID string `gorm:"size:128;index"`
	Sport      string `gorm:"size:16;not null;index"`
	League     string `gorm:"size:64"`
	HomeTeam   string `gorm:"size:128;not null"`
	AwayTeam   string `gorm:"size:128;not null"`
	CommenceTS int64  `gorm:"not null;index"`
	Status     string `gorm:"size:16;not null;default:scheduled"`
	UpdatedTS  int64  `gorm:"not null"`
}

func (Game) TableName() string {
	return "games"
}

// OddsSnapshot is one point-in-time odds reading for a game/sportsbook/market.
// Append-only: snapshots are never mutated or deleted. The auto-increment ID
// doubles as the insertion sequence and breaks ordering ties when two
// snapshots in the same key share a timestamp.
type OddsSnapshot struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	GameID       string `gorm:"size:64;not null;index:idx_snapshot_key"`
	SportsbookID string `gorm:"size:64;not null;index:idx_snapshot_key"`
	MarketType   string `gorm:"size:16;not null;index:idx_snapshot_key"`
	TimestampSec int64  `gorm:"not null;index"`

	// Market-specific fields; absent values stay NULL and are skipped by
	// the classifier.
	HomeSpread     *float64 `gorm:"type:decimal(6,2)"`
	AwaySpread     *float64 `gorm:"type:decimal(6,2)"`
	HomeSpreadOdds *float64 `gorm:"type:decimal(8,2)"`
	AwaySpreadOdds *float64 `gorm:"type:decimal(8,2)"`
	HomeMLOdds     *float64 `gorm:"type:decimal(8,2)"`
	AwayMLOdds     *float64 `gorm:"type:decimal(8,2)"`
	TotalPoints    *float64 `gorm:"type:decimal(6,2)"`
	OverOdds       *float64 `gorm:"type:decimal(8,2)"`
	UnderOdds      *float64 `gorm:"type:decimal(8,2)"`

	CreatedTS int64 `gorm:"not null"`
}

func (OddsSnapshot) TableName() string {
	return "odds_snapshots"
}

// LineMovement is a classified transition between two consecutive snapshots
// of the same (game, sportsbook, market) key. The composite unique index is
// the idempotency guard: reprocessing an overlapping window can never insert
// the same pair twice.
type LineMovement struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	GameID        string  `gorm:"size:64;not null;uniqueIndex:idx_movement_pair;index"`
	SportsbookID  string  `gorm:"size:64;not null;uniqueIndex:idx_movement_pair"`
	MarketType    string  `gorm:"size:16;not null;uniqueIndex:idx_movement_pair"`
	PreviousTS    int64   `gorm:"not null;uniqueIndex:idx_movement_pair"`
	NewTS         int64   `gorm:"not null;uniqueIndex:idx_movement_pair"`
	PreviousValue float64 `gorm:"type:decimal(8,2);not null"`
	NewValue      float64 `gorm:"type:decimal(8,2);not null"`
	ChangeAmount  float64 `gorm:"type:decimal(8,2);not null"`
	MovementType  string  `gorm:"size:16;not null;index"`
	Magnitude     string  `gorm:"size:16;not null"`
	OccurredTS    int64   `gorm:"not null;index"`
	CreatedTS     int64   `gorm:"not null;index"`
}

func (LineMovement) TableName() string {
	return "line_movements"
}

// WatchEntry is a user's subscription to a game with an alert threshold.
// Created by user action in the dashboard; read-only to the pipeline.
type WatchEntry struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	UserID         string  `gorm:"size:64;not null;uniqueIndex:idx_watch_user_game;index"`
	GameID         string  `gorm:"size:64;not null;uniqueIndex:idx_watch_user_game;index"`
	AlertThreshold float64 `gorm:"type:decimal(6,2);not null;default:1.00"`
	CreatedTS      int64   `gorm:"not null"`
}

func (WatchEntry) TableName() string {
	return "user_watchlist"
}

// Alert is a user-facing notification derived from one movement and one
// watch entry. The (user_id, movement_id) unique index guarantees at most
// one alert per user per movement no matter how often the movement is
// re-evaluated.
type Alert struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	UserID     string `gorm:"size:64;not null;uniqueIndex:idx_alert_user_movement;index"`
	MovementID int64  `gorm:"not null;uniqueIndex:idx_alert_user_movement"`
	GameID     string `gorm:"size:64;not null;index"`
	AlertType  string `gorm:"size:32;not null;index"`
	Title      string `gorm:"size:255;not null"`
	Message    string `gorm:"size:512;not null"`
	Severity   string `gorm:"size:16;not null;index"`
	IsRead     bool   `gorm:"not null;default:false;index"`
	CreatedTS  int64  `gorm:"not null;index"`
}

func (Alert) TableName() string {
	return "alerts"
}

// BeforeCreate hooks for timestamps
func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (g *Game) BeforeCreate(tx *gorm.DB) error {
	if g.UpdatedTS == 0 {
		g.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (s *OddsSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedTS == 0 {
		s.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (m *LineMovement) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedTS == 0 {
		m.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (w *WatchEntry) BeforeCreate(tx *gorm.DB) error {
	if w.CreatedTS == 0 {
		w.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedTS == 0 {
		a.CreatedTS = time.Now().Unix()
	}
	return nil
}

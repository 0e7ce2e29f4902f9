package evaluator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/classifier"
	"github.com/liamashdown/linewatch/internal/metrics"
	"github.com/liamashdown/linewatch/internal/storage"
)

// Store is the slice of persistence the evaluator needs
type Store interface {
	GetGame(ctx context.Context, gameID string) (*storage.Game, error)
	GetWatchersForGame(ctx context.Context, gameID string) ([]storage.WatchEntry, error)
	InsertAlertIfAbsent(ctx context.Context, alert *storage.Alert) (bool, error)
}

// Guard is an optional fast-path duplicate check in front of the database
// unique index (Redis-backed in production).
type Guard interface {
	ShouldAlert(ctx context.Context, userID string, movementID int64) (bool, error)
}

// Evaluator fans a persisted movement out to alerts for watching users
type Evaluator struct {
	store Store
	guard Guard // may be nil
	log   *logrus.Logger
}

// Stats summarizes one movement's evaluation
type Stats struct {
	WatchersSeen   int
	AlertsNew      int
	AlertsSkipped  int // below threshold or guarded
	AlertsExisting int
	UserErrors     int
}

// New creates a new evaluator. Pass a nil guard to rely on the database
// unique index alone.
func New(store Store, guard Guard, log *logrus.Logger) *Evaluator {
	return &Evaluator{
		store: store,
		guard: guard,
		log:   log,
	}
}

// EvaluateMovement creates alerts for every user watching the movement's game
// whose threshold the movement meets. One user's failure never blocks the
// rest; evaluating the same movement twice never duplicates an alert.
func (e *Evaluator) EvaluateMovement(ctx context.Context, movement *storage.LineMovement) (Stats, error) {
	var stats Stats

	game, err := e.store.GetGame(ctx, movement.GameID)
	if err != nil {
		return stats, fmt.Errorf("get game %s: %w", movement.GameID, err)
	}
	if game == nil {
		return stats, fmt.Errorf("game %s not found for movement %d", movement.GameID, movement.ID)
	}

	watchers, err := e.store.GetWatchersForGame(ctx, movement.GameID)
	if err != nil {
		return stats, fmt.Errorf("get watchers for game %s: %w", movement.GameID, err)
	}
	stats.WatchersSeen = len(watchers)

	for _, watcher := range watchers {
		if err := e.evaluateWatcher(ctx, movement, game, &watcher, &stats); err != nil {
			stats.UserErrors++
			e.log.WithError(err).WithFields(logrus.Fields{
				"user_id":     watcher.UserID,
				"movement_id": movement.ID,
			}).Error("Failed to evaluate watcher")
		}
	}

	return stats, nil
}

func (e *Evaluator) evaluateWatcher(
	ctx context.Context,
	movement *storage.LineMovement,
	game *storage.Game,
	watcher *storage.WatchEntry,
	stats *Stats,
) error {
	change := movement.ChangeAmount
	if change < 0 {
		change = -change
	}
	if change < watcher.AlertThreshold {
		stats.AlertsSkipped++
		metrics.RecordAlertSkipped("below_threshold")
		return nil
	}

	if e.guard != nil {
		proceed, err := e.guard.ShouldAlert(ctx, watcher.UserID, movement.ID)
		if err != nil {
			// Guard is best-effort; fall through to the unique index
			e.log.WithError(err).Warn("Alert dedup guard unavailable, relying on database")
		} else if !proceed {
			stats.AlertsSkipped++
			metrics.RecordAlertSkipped("dedup")
			return nil
		}
	}

	alertType := AlertType(movement)
	severity := Severity(movement)
	alert := storage.Alert{
		UserID:     watcher.UserID,
		MovementID: movement.ID,
		GameID:     movement.GameID,
		AlertType:  alertType,
		Title:      Title(movement, game, alertType),
		Message:    Message(movement, game),
		Severity:   severity,
	}

	inserted, err := e.store.InsertAlertIfAbsent(ctx, &alert)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	metrics.RecordAlert(severity, !inserted)
	if inserted {
		stats.AlertsNew++
		e.log.WithFields(logrus.Fields{
			"user_id":     watcher.UserID,
			"movement_id": movement.ID,
			"alert_type":  alertType,
			"severity":    severity,
		}).Info("Alert created")
	} else {
		stats.AlertsExisting++
	}

	return nil
}

// AlertType maps a movement's classification to the user-facing alert type
func AlertType(movement *storage.LineMovement) string {
	switch classifier.MovementType(movement.MovementType) {
	case classifier.MovementSharp:
		return "sharp_action"
	case classifier.MovementSteam:
		return "steam_move"
	case classifier.MovementReverse:
		return "reverse_movement"
	default:
		return "line_movement"
	}
}

// Severity maps a movement's magnitude to alert severity
func Severity(movement *storage.LineMovement) string {
	switch classifier.Magnitude(movement.Magnitude) {
	case classifier.MagnitudeMajor, classifier.MagnitudeSignificant:
		return "high"
	case classifier.MagnitudeModerate:
		return "medium"
	default:
		return "low"
	}
}

// Title builds the short alert headline
func Title(movement *storage.LineMovement, game *storage.Game, alertType string) string {
	subject := subjectFor(movement, game)
	change := formatChange(movement.ChangeAmount)

	switch alertType {
	case "sharp_action":
		return fmt.Sprintf("Sharp Action: %s line moved %s", subject, change)
	case "steam_move":
		return fmt.Sprintf("Steam Move: %s line moved %s", subject, change)
	case "reverse_movement":
		return fmt.Sprintf("Reverse Movement: %s line moved %s", subject, change)
	default:
		return fmt.Sprintf("Line Movement: %s line moved %s", subject, change)
	}
}

// Message builds the alert detail line
func Message(movement *storage.LineMovement, game *storage.Game) string {
	return fmt.Sprintf("%s @ %s - %s moved from %s to %s at %s",
		game.AwayTeam, game.HomeTeam, movement.MarketType,
		formatValue(movement.PreviousValue), formatValue(movement.NewValue),
		movement.SportsbookID)
}

// subjectFor picks what the headline is about: the home team's line for
// spreads and moneyline, the total for totals.
func subjectFor(movement *storage.LineMovement, game *storage.Game) string {
	if classifier.MarketType(movement.MarketType) == classifier.MarketTotals {
		return "Total"
	}
	return game.HomeTeam
}

func formatChange(amount float64) string {
	if amount > 0 {
		return fmt.Sprintf("+%s", formatValue(amount))
	}
	return formatValue(amount)
}

// formatValue trims trailing zeros so spreads read "-3.5" and odds "-150"
func formatValue(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

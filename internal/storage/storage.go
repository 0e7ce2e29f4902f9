package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/liamashdown/linewatch/internal/config"
	"github.com/liamashdown/linewatch/internal/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	// Configure GORM logger
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the connection is still alive
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration (for development only)
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&AppState{},
		&Game{},
		&OddsSnapshot{},
		&LineMovement{},
		&WatchEntry{},
		&Alert{},
	)
}

// GetState retrieves a state value by key
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	var state AppState
	result := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state)
	if result.Error == gorm.ErrRecordNotFound {
		return "", nil
	}
	if result.Error != nil {
		return "", result.Error
	}
	return state.StateValue, nil
}

// SetState sets a state value
func (db *DB) SetState(ctx context.Context, key, value string) error {
	now := time.Now().Unix()
	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  now,
	}
	result := db.conn.WithContext(ctx).Save(&state)
	return result.Error
}

// GetGame retrieves one game's metadata
func (db *DB) GetGame(ctx context.Context, gameID string) (*Game, error) {
	var game Game
	result := db.conn.WithContext(ctx).Where("game_id = ?", gameID).First(&game)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &game, nil
}

// GetSnapshotsInWindow returns snapshots with timestamp in [start, end),
// ordered by timestamp then insertion sequence so equal-timestamp rows have
// a deterministic order everywhere they are consumed.
func (db *DB) GetSnapshotsInWindow(ctx context.Context, startTS, endTS int64) ([]OddsSnapshot, error) {
	start := time.Now()
	var snapshots []OddsSnapshot
	result := db.conn.WithContext(ctx).
		Where("timestamp_sec >= ? AND timestamp_sec < ?", startTS, endTS).
		Order("timestamp_sec ASC, id ASC").
		Find(&snapshots)
	metrics.RecordDatabaseQuery("get_snapshots", time.Since(start), result.Error)
	return snapshots, result.Error
}

// InsertSnapshot appends one odds reading. Used by the ingestion collaborator
// and test fixtures; the pipeline itself never writes snapshots.
func (db *DB) InsertSnapshot(ctx context.Context, snapshot *OddsSnapshot) error {
	return db.conn.WithContext(ctx).Create(snapshot).Error
}

// InsertMovementIfAbsent inserts a movement unless the same snapshot pair was
// already recorded. Returns true when a new row was written; a duplicate is a
// successful no-op, not an error.
func (db *DB) InsertMovementIfAbsent(ctx context.Context, movement *LineMovement) (bool, error) {
	start := time.Now()
	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(movement)
	metrics.RecordDatabaseQuery("insert_movement", time.Since(start), result.Error)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetMovement retrieves one movement by ID
func (db *DB) GetMovement(ctx context.Context, movementID int64) (*LineMovement, error) {
	var movement LineMovement
	result := db.conn.WithContext(ctx).Where("id = ?", movementID).First(&movement)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &movement, nil
}

// GetMovementsForGame returns a game's movements ascending by occurrence,
// the order the dashboard charts them in.
func (db *DB) GetMovementsForGame(ctx context.Context, gameID string, limit int) ([]LineMovement, error) {
	var movements []LineMovement
	result := db.conn.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("occurred_ts ASC, id ASC").
		Limit(limit).
		Find(&movements)
	return movements, result.Error
}

// GetMovementsSince returns movements recorded at or after the given time,
// newest first.
func (db *DB) GetMovementsSince(ctx context.Context, sinceTS int64) ([]LineMovement, error) {
	var movements []LineMovement
	result := db.conn.WithContext(ctx).
		Where("created_ts >= ?", sinceTS).
		Order("created_ts DESC").
		Find(&movements)
	return movements, result.Error
}

// GetWatchersForGame returns every watch entry for a game
func (db *DB) GetWatchersForGame(ctx context.Context, gameID string) ([]WatchEntry, error) {
	var entries []WatchEntry
	result := db.conn.WithContext(ctx).Where("game_id = ?", gameID).Find(&entries)
	return entries, result.Error
}

// GetWatchlistForUser returns a user's watch entries, newest first
func (db *DB) GetWatchlistForUser(ctx context.Context, userID string) ([]WatchEntry, error) {
	var entries []WatchEntry
	result := db.conn.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_ts DESC").
		Find(&entries)
	return entries, result.Error
}

// IsWatched reports whether a user watches a game
func (db *DB) IsWatched(ctx context.Context, userID, gameID string) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&WatchEntry{}).
		Where("user_id = ? AND game_id = ?", userID, gameID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// InsertAlertIfAbsent inserts an alert unless one already exists for the same
// (user, movement). Returns true when a new row was written.
func (db *DB) InsertAlertIfAbsent(ctx context.Context, alert *Alert) (bool, error) {
	start := time.Now()
	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(alert)
	metrics.RecordDatabaseQuery("insert_alert", time.Since(start), result.Error)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetAlertsForUser returns a user's alerts newest first, optionally only
// unread ones.
func (db *DB) GetAlertsForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Alert, error) {
	query := db.conn.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var alerts []Alert
	result := query.Order("created_ts DESC").Limit(limit).Find(&alerts)
	return alerts, result.Error
}

// CountUnreadAlerts returns the number of unread alerts for a user
func (db *DB) CountUnreadAlerts(ctx context.Context, userID string) (int64, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&Alert{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count)
	return count, result.Error
}

// MarkAlertRead flips one alert's read flag. Returns false when no alert
// with that ID exists.
func (db *DB) MarkAlertRead(ctx context.Context, alertID int64) (bool, error) {
	result := db.conn.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ?", alertID).
		Update("is_read", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkAllAlertsRead marks every unread alert for a user as read and returns
// how many rows changed.
func (db *DB) MarkAllAlertsRead(ctx context.Context, userID string) (int64, error) {
	result := db.conn.WithContext(ctx).
		Model(&Alert{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

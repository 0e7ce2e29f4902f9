package detector

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/classifier"
	"github.com/liamashdown/linewatch/internal/metrics"
	"github.com/liamashdown/linewatch/internal/storage"
)

// Store is the slice of persistence the detector needs
type Store interface {
	GetSnapshotsInWindow(ctx context.Context, startTS, endTS int64) ([]storage.OddsSnapshot, error)
	InsertMovementIfAbsent(ctx context.Context, movement *storage.LineMovement) (bool, error)
}

// Detector scans odds snapshots and persists classified line movements
type Detector struct {
	store      Store
	workerPool chan struct{}
	log        *logrus.Logger
}

// Stats summarizes one detection pass
type Stats struct {
	SnapshotsScanned   int
	GroupsProcessed    int
	MovementsNew       int
	MovementsDuplicate int
	PairsSkipped       int
	PersistErrors      int
}

// groupKey identifies one independent line: the same game, book and market
type groupKey struct {
	GameID       string
	SportsbookID string
	MarketType   string
}

// New creates a new detector
func New(store Store, workers int, log *logrus.Logger) *Detector {
	if workers < 1 {
		workers = 1
	}
	workerPool := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		workerPool <- struct{}{}
	}

	return &Detector{
		store:      store,
		workerPool: workerPool,
		log:        log,
	}
}

// DetectMovements scans snapshots with timestamps in [startTS, endTS), walks
// each (game, sportsbook, market) line chronologically and persists every
// qualifying consecutive-pair movement. Returns the movements that were newly
// written this pass; pairs already recorded by an earlier overlapping run are
// counted as duplicates and not returned.
func (d *Detector) DetectMovements(ctx context.Context, startTS, endTS int64) ([]storage.LineMovement, Stats, error) {
	snapshots, err := d.store.GetSnapshotsInWindow(ctx, startTS, endTS)
	if err != nil {
		return nil, Stats{}, err
	}
	metrics.SnapshotsFetched.Add(float64(len(snapshots)))

	// Snapshots arrive ordered by (timestamp, id); appending preserves that
	// order within each group.
	groups := make(map[groupKey][]storage.OddsSnapshot)
	for _, snap := range snapshots {
		key := groupKey{snap.GameID, snap.SportsbookID, snap.MarketType}
		groups[key] = append(groups[key], snap)
	}

	stats := Stats{SnapshotsScanned: len(snapshots)}
	var newMovements []storage.LineMovement
	var mu sync.Mutex
	var wg sync.WaitGroup

	for key, group := range groups {
		wg.Add(1)
		go func(key groupKey, group []storage.OddsSnapshot) {
			defer wg.Done()

			<-d.workerPool
			defer func() { d.workerPool <- struct{}{} }()

			created, groupStats := d.processGroup(ctx, key, group)

			mu.Lock()
			defer mu.Unlock()
			stats.GroupsProcessed++
			stats.MovementsNew += groupStats.MovementsNew
			stats.MovementsDuplicate += groupStats.MovementsDuplicate
			stats.PairsSkipped += groupStats.PairsSkipped
			stats.PersistErrors += groupStats.PersistErrors
			newMovements = append(newMovements, created...)
		}(key, group)
	}

	wg.Wait()

	return newMovements, stats, nil
}

// processGroup walks one line's snapshots pairwise. A failed insert is
// logged and the walk continues; the unique index makes the retry on the
// next overlapping run safe.
func (d *Detector) processGroup(ctx context.Context, key groupKey, group []storage.OddsSnapshot) ([]storage.LineMovement, Stats) {
	var created []storage.LineMovement
	var stats Stats

	for i := 1; i < len(group); i++ {
		prev := &group[i-1]
		curr := &group[i]

		prevValue, currValue, ok := lineValues(key.MarketType, prev, curr)
		if !ok {
			stats.PairsSkipped++
			continue
		}

		result, qualifies := classifier.Classify(classifier.MarketType(key.MarketType), prevValue, currValue)
		if !qualifies {
			stats.PairsSkipped++
			metrics.MovementsSkipped.Inc()
			continue
		}

		movement := storage.LineMovement{
			GameID:        key.GameID,
			SportsbookID:  key.SportsbookID,
			MarketType:    key.MarketType,
			PreviousTS:    prev.TimestampSec,
			NewTS:         curr.TimestampSec,
			PreviousValue: prevValue,
			NewValue:      currValue,
			ChangeAmount:  result.Delta,
			MovementType:  string(result.Type),
			Magnitude:     string(result.Magnitude),
			OccurredTS:    curr.TimestampSec,
		}

		inserted, err := d.store.InsertMovementIfAbsent(ctx, &movement)
		if err != nil {
			stats.PersistErrors++
			d.log.WithError(err).WithFields(logrus.Fields{
				"game_id":       key.GameID,
				"sportsbook_id": key.SportsbookID,
				"market_type":   key.MarketType,
				"previous_ts":   movement.PreviousTS,
				"new_ts":        movement.NewTS,
			}).Error("Failed to persist movement")
			continue
		}

		metrics.RecordMovement(key.MarketType, !inserted)
		if inserted {
			stats.MovementsNew++
			created = append(created, movement)
		} else {
			stats.MovementsDuplicate++
		}
	}

	return created, stats
}

// lineValues extracts the canonical tracked value for a market from both
// snapshots. Each market tracks exactly one field so a snapshot pair maps to
// at most one movement row.
func lineValues(marketType string, prev, curr *storage.OddsSnapshot) (float64, float64, bool) {
	var prevPtr, currPtr *float64

	switch classifier.MarketType(marketType) {
	case classifier.MarketSpreads:
		prevPtr, currPtr = prev.HomeSpread, curr.HomeSpread
	case classifier.MarketTotals:
		prevPtr, currPtr = prev.TotalPoints, curr.TotalPoints
	case classifier.MarketH2H:
		prevPtr, currPtr = prev.HomeMLOdds, curr.HomeMLOdds
	default:
		return 0, 0, false
	}

	if prevPtr == nil || currPtr == nil {
		return 0, 0, false
	}
	return *prevPtr, *currPtr, true
}

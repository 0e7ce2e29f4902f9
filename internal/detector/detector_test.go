package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/storage"
)

// fakeStore is an in-memory Store with the same dedup semantics as the
// database unique index.
type fakeStore struct {
	mu        sync.Mutex
	snapshots []storage.OddsSnapshot
	movements map[string]storage.LineMovement
	inserts   int
	failPair  string // pair key whose insert errors
}

func newFakeStore(snapshots []storage.OddsSnapshot) *fakeStore {
	return &fakeStore{
		snapshots: snapshots,
		movements: make(map[string]storage.LineMovement),
	}
}

func (s *fakeStore) GetSnapshotsInWindow(ctx context.Context, startTS, endTS int64) ([]storage.OddsSnapshot, error) {
	var out []storage.OddsSnapshot
	for _, snap := range s.snapshots {
		if snap.TimestampSec >= startTS && snap.TimestampSec < endTS {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampSec != out[j].TimestampSec {
			return out[i].TimestampSec < out[j].TimestampSec
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fakeStore) InsertMovementIfAbsent(ctx context.Context, m *storage.LineMovement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	key := fmt.Sprintf("%s|%s|%s|%d|%d", m.GameID, m.SportsbookID, m.MarketType, m.PreviousTS, m.NewTS)
	if key == s.failPair {
		return false, fmt.Errorf("connection reset")
	}
	if _, ok := s.movements[key]; ok {
		return false, nil
	}
	m.ID = int64(len(s.movements) + 1)
	s.movements[key] = *m
	return true, nil
}

func f(v float64) *float64 {
	return &v
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func spreadSnapshot(id, ts int64, gameID, bookID string, homeSpread float64) storage.OddsSnapshot {
	return storage.OddsSnapshot{
		ID:           id,
		GameID:       gameID,
		SportsbookID: bookID,
		MarketType:   "spreads",
		TimestampSec: ts,
		HomeSpread:   f(homeSpread),
	}
}

func TestDetectMovementsClassifiesConsecutivePairs(t *testing.T) {
	// Three readings of one spread line: -3.0 -> -4.5 is a steam move,
	// -4.5 -> -4.5 is no move at all.
	store := newFakeStore([]storage.OddsSnapshot{
		spreadSnapshot(1, 1000, "game-1", "book-1", -3.0),
		spreadSnapshot(2, 1060, "game-1", "book-1", -4.5),
		spreadSnapshot(3, 1120, "game-1", "book-1", -4.5),
	})

	d := New(store, 2, testLogger())
	created, stats, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("DetectMovements: %v", err)
	}

	if len(created) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(created))
	}
	m := created[0]
	if m.PreviousTS != 1000 || m.NewTS != 1060 {
		t.Errorf("expected pair (1000, 1060), got (%d, %d)", m.PreviousTS, m.NewTS)
	}
	if m.PreviousValue != -3.0 || m.NewValue != -4.5 {
		t.Errorf("expected values (-3.0, -4.5), got (%v, %v)", m.PreviousValue, m.NewValue)
	}
	if m.ChangeAmount != -1.5 {
		t.Errorf("expected change -1.5, got %v", m.ChangeAmount)
	}
	if m.MovementType != "steam" {
		t.Errorf("expected movement type steam, got %s", m.MovementType)
	}
	if m.Magnitude != "moderate" {
		t.Errorf("expected magnitude moderate, got %s", m.Magnitude)
	}
	if m.OccurredTS != 1060 {
		t.Errorf("expected occurred_ts 1060, got %d", m.OccurredTS)
	}

	if stats.MovementsNew != 1 {
		t.Errorf("expected 1 new movement in stats, got %d", stats.MovementsNew)
	}
	if stats.PairsSkipped != 1 {
		t.Errorf("expected 1 skipped pair, got %d", stats.PairsSkipped)
	}
}

func TestDetectMovementsIsIdempotent(t *testing.T) {
	store := newFakeStore([]storage.OddsSnapshot{
		spreadSnapshot(1, 1000, "game-1", "book-1", -3.0),
		spreadSnapshot(2, 1060, "game-1", "book-1", -4.5),
	})

	d := New(store, 2, testLogger())

	created, _, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("first pass: expected 1 movement, got %d", len(created))
	}

	// Reprocessing the same window must not create or return anything new
	created, stats, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("second pass: expected 0 new movements, got %d", len(created))
	}
	if stats.MovementsDuplicate != 1 {
		t.Errorf("second pass: expected 1 duplicate, got %d", stats.MovementsDuplicate)
	}
	if len(store.movements) != 1 {
		t.Errorf("expected 1 stored movement after two passes, got %d", len(store.movements))
	}
}

func TestDetectMovementsGroupsLinesIndependently(t *testing.T) {
	// The same game moves at two books and in two markets. Pairing must
	// never cross a (game, sportsbook, market) boundary.
	store := newFakeStore([]storage.OddsSnapshot{
		spreadSnapshot(1, 1000, "game-1", "book-1", -3.0),
		spreadSnapshot(2, 1000, "game-1", "book-2", -3.0),
		{ID: 3, GameID: "game-1", SportsbookID: "book-1", MarketType: "totals", TimestampSec: 1000, TotalPoints: f(210.5)},
		spreadSnapshot(4, 1060, "game-1", "book-1", -4.0),
		spreadSnapshot(5, 1060, "game-1", "book-2", -2.5),
		{ID: 6, GameID: "game-1", SportsbookID: "book-1", MarketType: "totals", TimestampSec: 1060, TotalPoints: f(212.5)},
	})

	d := New(store, 4, testLogger())
	created, stats, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("DetectMovements: %v", err)
	}

	if len(created) != 3 {
		t.Fatalf("expected 3 movements (one per line), got %d", len(created))
	}
	if stats.GroupsProcessed != 3 {
		t.Errorf("expected 3 groups, got %d", stats.GroupsProcessed)
	}

	byLine := make(map[string]storage.LineMovement)
	for _, m := range created {
		byLine[m.SportsbookID+"/"+m.MarketType] = m
	}
	if m := byLine["book-1/spreads"]; m.ChangeAmount != -1.0 {
		t.Errorf("book-1 spreads: expected change -1.0, got %v", m.ChangeAmount)
	}
	if m := byLine["book-2/spreads"]; m.ChangeAmount != 0.5 {
		t.Errorf("book-2 spreads: expected change 0.5, got %v", m.ChangeAmount)
	}
	if m := byLine["book-1/totals"]; m.ChangeAmount != 2.0 {
		t.Errorf("book-1 totals: expected change 2.0, got %v", m.ChangeAmount)
	}
}

func TestDetectMovementsSkipsAbsentFields(t *testing.T) {
	// A totals snapshot without total_points cannot be paired on either side
	store := newFakeStore([]storage.OddsSnapshot{
		{ID: 1, GameID: "game-1", SportsbookID: "book-1", MarketType: "totals", TimestampSec: 1000, TotalPoints: f(210.5)},
		{ID: 2, GameID: "game-1", SportsbookID: "book-1", MarketType: "totals", TimestampSec: 1060},
		{ID: 3, GameID: "game-1", SportsbookID: "book-1", MarketType: "totals", TimestampSec: 1120, TotalPoints: f(214.5)},
	})

	d := New(store, 1, testLogger())
	created, stats, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("DetectMovements: %v", err)
	}

	if len(created) != 0 {
		t.Errorf("expected no movements across an absent reading, got %d", len(created))
	}
	if stats.PairsSkipped != 2 {
		t.Errorf("expected 2 skipped pairs, got %d", stats.PairsSkipped)
	}
}

func TestDetectMovementsHonorsWindowBounds(t *testing.T) {
	// End bound is exclusive: the 2000 snapshot is outside [0, 2000)
	store := newFakeStore([]storage.OddsSnapshot{
		spreadSnapshot(1, 1000, "game-1", "book-1", -3.0),
		spreadSnapshot(2, 2000, "game-1", "book-1", -4.5),
	})

	d := New(store, 1, testLogger())
	created, stats, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("DetectMovements: %v", err)
	}

	if len(created) != 0 {
		t.Errorf("expected no movements with one snapshot in window, got %d", len(created))
	}
	if stats.SnapshotsScanned != 1 {
		t.Errorf("expected 1 snapshot scanned, got %d", stats.SnapshotsScanned)
	}
}

func TestDetectMovementsToleratesPersistFailure(t *testing.T) {
	// The first pair's insert errors; the walk continues and the second
	// pair is still persisted.
	store := newFakeStore([]storage.OddsSnapshot{
		spreadSnapshot(1, 1000, "game-1", "book-1", -3.0),
		spreadSnapshot(2, 1060, "game-1", "book-1", -4.5),
		spreadSnapshot(3, 1120, "game-1", "book-1", -5.5),
	})
	store.failPair = "game-1|book-1|spreads|1000|1060"

	d := New(store, 1, testLogger())
	created, stats, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("DetectMovements: %v", err)
	}

	if stats.PersistErrors != 1 {
		t.Errorf("expected 1 persist error, got %d", stats.PersistErrors)
	}
	if len(created) != 1 {
		t.Fatalf("expected the second pair to persist, got %d movements", len(created))
	}
	if created[0].PreviousTS != 1060 || created[0].NewTS != 1120 {
		t.Errorf("expected pair (1060, 1120), got (%d, %d)", created[0].PreviousTS, created[0].NewTS)
	}
}

func TestDetectMovementsBreaksTimestampTiesByInsertionOrder(t *testing.T) {
	// Two readings share a timestamp; insertion order decides the sequence,
	// so the walk is (-3.0 -> -3.5 -> -4.5) and both steps gate in.
	store := newFakeStore([]storage.OddsSnapshot{
		spreadSnapshot(1, 1000, "game-1", "book-1", -3.0),
		spreadSnapshot(2, 1060, "game-1", "book-1", -3.5),
		spreadSnapshot(3, 1060, "game-1", "book-1", -4.5),
	})

	d := New(store, 1, testLogger())
	created, _, err := d.DetectMovements(context.Background(), 0, 2000)
	if err != nil {
		t.Fatalf("DetectMovements: %v", err)
	}

	if len(created) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(created))
	}
	sort.Slice(created, func(i, j int) bool { return created[i].PreviousValue > created[j].PreviousValue })
	if created[0].PreviousValue != -3.0 || created[0].NewValue != -3.5 {
		t.Errorf("first step: expected -3.0 -> -3.5, got %v -> %v", created[0].PreviousValue, created[0].NewValue)
	}
	if created[1].PreviousValue != -3.5 || created[1].NewValue != -4.5 {
		t.Errorf("second step: expected -3.5 -> -4.5, got %v -> %v", created[1].PreviousValue, created[1].NewValue)
	}
}

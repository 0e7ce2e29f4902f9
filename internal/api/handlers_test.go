package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/config"
	"github.com/liamashdown/linewatch/internal/pipeline"
	"github.com/liamashdown/linewatch/internal/storage"
)

type fakeStore struct {
	game      *storage.Game
	movements []storage.LineMovement
	alerts    []storage.Alert
	watchlist []storage.WatchEntry
	unread    int64
	markedIDs []int64
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) GetGame(ctx context.Context, gameID string) (*storage.Game, error) {
	if s.game != nil && s.game.GameID == gameID {
		return s.game, nil
	}
	return nil, nil
}

func (s *fakeStore) GetMovementsForGame(ctx context.Context, gameID string, limit int) ([]storage.LineMovement, error) {
	if limit > len(s.movements) {
		limit = len(s.movements)
	}
	return s.movements[:limit], nil
}

func (s *fakeStore) GetMovementsSince(ctx context.Context, sinceTS int64) ([]storage.LineMovement, error) {
	return s.movements, nil
}

func (s *fakeStore) GetAlertsForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]storage.Alert, error) {
	var out []storage.Alert
	for _, a := range s.alerts {
		if a.UserID != userID {
			continue
		}
		if unreadOnly && a.IsRead {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) CountUnreadAlerts(ctx context.Context, userID string) (int64, error) {
	return s.unread, nil
}

func (s *fakeStore) MarkAlertRead(ctx context.Context, alertID int64) (bool, error) {
	for _, a := range s.alerts {
		if a.ID == alertID {
			s.markedIDs = append(s.markedIDs, alertID)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkAllAlertsRead(ctx context.Context, userID string) (int64, error) {
	var n int64
	for _, a := range s.alerts {
		if a.UserID == userID && !a.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) GetWatchlistForUser(ctx context.Context, userID string) ([]storage.WatchEntry, error) {
	return s.watchlist, nil
}

func (s *fakeStore) IsWatched(ctx context.Context, userID, gameID string) (bool, error) {
	for _, w := range s.watchlist {
		if w.UserID == userID && w.GameID == gameID {
			return true, nil
		}
	}
	return false, nil
}

type fakeRunner struct {
	runs       int
	windowFrom int64
	windowTo   int64
}

func (r *fakeRunner) Run(ctx context.Context) (*pipeline.RunResult, error) {
	r.runs++
	return &pipeline.RunResult{RunID: "run-1"}, nil
}

func (r *fakeRunner) RunWindow(ctx context.Context, startTS, endTS int64) (*pipeline.RunResult, error) {
	r.runs++
	r.windowFrom = startTS
	r.windowTo = endTS
	return &pipeline.RunResult{RunID: "run-2", WindowFrom: startTS, WindowTo: endTS}, nil
}

func testServer(store *fakeStore, runner *fakeRunner) http.Handler {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg := &config.Config{
		APIMaxPageSize:     200,
		RunTriggerRPS:      100, // effectively unlimited for handler tests
		CORSAllowedOrigins: []string{"*"},
	}
	return NewRouter(cfg, NewHandler(cfg, store, runner, log))
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestHealthCheck(t *testing.T) {
	h := testServer(&fakeStore{}, &fakeRunner{})

	rec, body := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
}

func TestGetGameMovements(t *testing.T) {
	store := &fakeStore{
		game: &storage.Game{GameID: "game-1", HomeTeam: "Lakers", AwayTeam: "Celtics"},
		movements: []storage.LineMovement{
			{ID: 1, GameID: "game-1", MarketType: "spreads", ChangeAmount: -1.5},
		},
	}
	h := testServer(store, &fakeRunner{})

	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/games/game-1/movements", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("expected count 1, got %v", body["count"])
	}
}

func TestGetGameMovementsUnknownGame(t *testing.T) {
	h := testServer(&fakeStore{}, &fakeRunner{})

	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/games/nope/movements", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetUserAlertsUnreadOnly(t *testing.T) {
	store := &fakeStore{
		alerts: []storage.Alert{
			{ID: 1, UserID: "user-1", IsRead: false},
			{ID: 2, UserID: "user-1", IsRead: true},
			{ID: 3, UserID: "user-2", IsRead: false},
		},
	}
	h := testServer(store, &fakeRunner{})

	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/users/user-1/alerts?unread_only=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("expected 1 unread alert, got %v", body["count"])
	}
}

func TestMarkAlertRead(t *testing.T) {
	store := &fakeStore{
		alerts: []storage.Alert{{ID: 7, UserID: "user-1"}},
	}
	h := testServer(store, &fakeRunner{})

	rec, body := doRequest(t, h, http.MethodPost, "/api/v1/alerts/7/read", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["is_read"] != true {
		t.Errorf("expected is_read true, got %v", body["is_read"])
	}
	if len(store.markedIDs) != 1 || store.markedIDs[0] != 7 {
		t.Errorf("expected alert 7 marked, got %v", store.markedIDs)
	}
}

func TestMarkAlertReadNotFound(t *testing.T) {
	h := testServer(&fakeStore{}, &fakeRunner{})

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/alerts/99/read", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMarkAlertReadBadID(t *testing.T) {
	h := testServer(&fakeStore{}, &fakeRunner{})

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/alerts/not-a-number/read", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetWatchStatus(t *testing.T) {
	store := &fakeStore{
		watchlist: []storage.WatchEntry{
			{UserID: "user-1", GameID: "game-1", AlertThreshold: 1.0},
		},
	}
	h := testServer(store, &fakeRunner{})

	rec, body := doRequest(t, h, http.MethodGet, "/api/v1/users/user-1/watchlist/game-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["watched"] != true {
		t.Errorf("expected watched true, got %v", body["watched"])
	}

	rec, body = doRequest(t, h, http.MethodGet, "/api/v1/users/user-1/watchlist/game-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["watched"] != false {
		t.Errorf("expected watched false, got %v", body["watched"])
	}
}

func TestTriggerRunWithWindow(t *testing.T) {
	runner := &fakeRunner{}
	h := testServer(&fakeStore{}, runner)

	rec, body := doRequest(t, h, http.MethodPost, "/api/v1/runs", `{"window_from":1000,"window_to":2000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", rec.Code, body)
	}
	if runner.windowFrom != 1000 || runner.windowTo != 2000 {
		t.Errorf("expected explicit window (1000, 2000), got (%d, %d)", runner.windowFrom, runner.windowTo)
	}
}

func TestTriggerRunInvalidWindow(t *testing.T) {
	h := testServer(&fakeStore{}, &fakeRunner{})

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/runs", `{"window_from":2000,"window_to":1000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTriggerRunRateLimited(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg := &config.Config{
		APIMaxPageSize:     200,
		RunTriggerRPS:      0.001, // one token, essentially no refill
		CORSAllowedOrigins: []string{"*"},
	}
	runner := &fakeRunner{}
	h := NewRouter(cfg, NewHandler(cfg, &fakeStore{}, runner, log))

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first trigger: expected 200, got %d", rec.Code)
	}
	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/runs", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second trigger: expected 429, got %d", rec.Code)
	}
	if runner.runs != 1 {
		t.Errorf("expected exactly 1 run, got %d", runner.runs)
	}
}

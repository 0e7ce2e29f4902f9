package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/config"
	"github.com/liamashdown/linewatch/internal/detector"
	"github.com/liamashdown/linewatch/internal/evaluator"
	"github.com/liamashdown/linewatch/internal/metrics"
	"github.com/liamashdown/linewatch/internal/publish"
	"github.com/liamashdown/linewatch/internal/storage"
)

// checkpointKey is where the end of the last fully processed window lives
const checkpointKey = "last_window_end"

// Run states, logged as each phase starts
const (
	stateFetching   = "FETCHING_SNAPSHOTS"
	stateClassify   = "CLASSIFYING"
	statePersisting = "PERSISTING_MOVEMENTS"
	stateEvaluating = "EVALUATING_ALERTS"
)

// StateStore persists the window checkpoint between runs
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Pipeline drives one detection cycle: resolve the window, detect and
// persist movements, then publish and evaluate each new one.
type Pipeline struct {
	cfg       *config.Config
	state     StateStore
	detector  *detector.Detector
	evaluator *evaluator.Evaluator
	publisher publish.Publisher // may be nil
	log       *logrus.Logger
}

// RunResult summarizes one pipeline run
type RunResult struct {
	RunID      string
	WindowFrom int64
	WindowTo   int64
	Detection  detector.Stats
	AlertsNew  int
	EvalErrors int
}

// New creates a new pipeline
func New(
	cfg *config.Config,
	state StateStore,
	det *detector.Detector,
	eval *evaluator.Evaluator,
	publisher publish.Publisher,
	log *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		state:     state,
		detector:  det,
		evaluator: eval,
		publisher: publisher,
		log:       log,
	}
}

// Run processes the window since the last checkpoint. The checkpoint only
// advances when every detected movement persisted, so a failed window is
// re-scanned next run and the unique indexes absorb the overlap.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	now := time.Now().Unix()
	startTS, err := p.resolveWindowStart(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("resolve window: %w", err)
	}

	result, err := p.RunWindow(ctx, startTS, now)
	if err != nil {
		return result, err
	}

	if result.Detection.PersistErrors == 0 {
		if err := p.state.SetState(ctx, checkpointKey, strconv.FormatInt(now, 10)); err != nil {
			p.log.WithError(err).Error("Failed to advance checkpoint")
		}
	} else {
		p.log.WithField("persist_errors", result.Detection.PersistErrors).
			Warn("Checkpoint not advanced, window will be re-scanned")
	}

	return result, nil
}

// RunWindow processes an explicit snapshot window [startTS, endTS). Both the
// scheduled loop and the on-demand API trigger funnel through here. It never
// touches the checkpoint.
func (p *Pipeline) RunWindow(ctx context.Context, startTS, endTS int64) (*RunResult, error) {
	started := time.Now()
	result := &RunResult{
		RunID:      uuid.New().String(),
		WindowFrom: startTS,
		WindowTo:   endTS,
	}

	runLog := p.log.WithFields(logrus.Fields{
		"run_id":      result.RunID,
		"window_from": startTS,
		"window_to":   endTS,
	})

	runLog.WithField("state", stateFetching).Info("Pipeline run started")
	runLog.WithField("state", stateClassify).Debug("Classifying snapshot pairs")
	runLog.WithField("state", statePersisting).Debug("Persisting movements")

	movements, stats, err := p.detector.DetectMovements(ctx, startTS, endTS)
	result.Detection = stats
	if err != nil {
		metrics.RecordRun(time.Since(started), err)
		runLog.WithError(err).Error("Pipeline run failed")
		return result, fmt.Errorf("detect movements: %w", err)
	}

	runLog.WithField("state", stateEvaluating).Debug("Evaluating alerts")

	for i := range movements {
		movement := &movements[i]

		p.publishMovement(ctx, movement, runLog)

		evalStats, err := p.evaluator.EvaluateMovement(ctx, movement)
		if err != nil {
			result.EvalErrors++
			runLog.WithError(err).WithField("movement_id", movement.ID).
				Error("Failed to evaluate movement")
			continue
		}
		result.AlertsNew += evalStats.AlertsNew
		result.EvalErrors += evalStats.UserErrors
	}

	metrics.RecordRun(time.Since(started), nil)
	runLog.WithFields(logrus.Fields{
		"snapshots":     stats.SnapshotsScanned,
		"groups":        stats.GroupsProcessed,
		"movements_new": stats.MovementsNew,
		"duplicates":    stats.MovementsDuplicate,
		"alerts_new":    result.AlertsNew,
		"duration_ms":   time.Since(started).Milliseconds(),
	}).Info("Pipeline run complete")

	return result, nil
}

// resolveWindowStart picks the window start: the checkpoint minus the
// re-scan overlap, never further back than the configured lookback.
func (p *Pipeline) resolveWindowStart(ctx context.Context, nowTS int64) (int64, error) {
	floor := nowTS - int64(p.cfg.WindowLookbackMins)*60

	checkpointStr, err := p.state.GetState(ctx, checkpointKey)
	if err != nil {
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
	if checkpointStr == "" {
		return floor, nil
	}

	checkpoint, err := strconv.ParseInt(checkpointStr, 10, 64)
	if err != nil {
		p.log.WithError(err).WithField("value", checkpointStr).
			Warn("Unreadable checkpoint, falling back to full lookback")
		return floor, nil
	}

	start := checkpoint - int64(p.cfg.WindowOverlapMins)*60
	if start < floor {
		start = floor
	}
	return start, nil
}

func (p *Pipeline) publishMovement(ctx context.Context, movement *storage.LineMovement, runLog *logrus.Entry) {
	if p.publisher == nil {
		return
	}

	event := &publish.MovementEvent{
		MovementID:    movement.ID,
		GameID:        movement.GameID,
		SportsbookID:  movement.SportsbookID,
		MarketType:    movement.MarketType,
		PreviousValue: movement.PreviousValue,
		NewValue:      movement.NewValue,
		ChangeAmount:  movement.ChangeAmount,
		MovementType:  movement.MovementType,
		Magnitude:     movement.Magnitude,
		OccurredTS:    movement.OccurredTS,
	}

	// Publish failures never fail the run; the database is the source of truth
	if err := p.publisher.Publish(ctx, event); err != nil {
		runLog.WithError(err).WithField("movement_id", movement.ID).
			Warn("Failed to publish movement event")
	}
}

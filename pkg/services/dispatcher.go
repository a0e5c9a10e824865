package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
	"github.com/prsnl-labs/intel-engine/pkg/retry"
	"github.com/prsnl-labs/intel-engine/pkg/services/workqueue"
)

// packagesResultKey is the stage_results slot the package intelligence
// pass writes. It sits alongside the three scoring dimensions behind the
// same fan-in barrier.
const packagesResultKey = "packages"

// StageHandler executes one pipeline stage against an analysis. Handlers
// persist their own output; the dispatcher owns stage transitions.
type StageHandler interface {
	Run(ctx context.Context, analysis *models.Analysis) error
}

// DimensionScorer produces a 0-100 score plus findings for one scoring
// dimension.
type DimensionScorer interface {
	Score(ctx context.Context, analysis *models.Analysis, dimension models.ScoreDimension) (float64, []models.Finding, error)
}

// PackageAnalyzer inspects the dependency manifests sampled at ingest.
type PackageAnalyzer interface {
	Analyze(ctx context.Context, analysis *models.Analysis) (*models.PackageReport, error)
}

// StageDispatcher routes pipeline stages onto the queue fabric. Every
// stage transition is persisted before the next job is enqueued, so a
// crash between the two leaves a recoverable row rather than silently
// dropped work.
type StageDispatcher interface {
	// Register binds a stage to a queue and handler. Unknown queues and
	// duplicate registrations are configuration errors.
	Register(stage models.AnalysisStage, queueName string, handler StageHandler) error

	// Start enqueues the first stage of a freshly created analysis.
	Start(ctx context.Context, analysisID uuid.UUID) error

	// Requeue re-enqueues the current stage of a stalled analysis. The
	// reconciliation sweep is the only caller.
	Requeue(ctx context.Context, analysis *models.Analysis) error
}

type stageDispatcher struct {
	fabric       *workqueue.Fabric
	analyses     repositories.AnalysisRepository
	scorer       DimensionScorer
	packages     PackageAnalyzer
	routes       map[models.AnalysisStage]stageRoute
	stageTimeout time.Duration
	retryCfg     *retry.Config
	logger       *zap.Logger
}

type stageRoute struct {
	queue   string
	handler StageHandler
}

// NewStageDispatcher creates a dispatcher. Stages other than scoring must
// be bound with Register before the first Start; the scoring fan-out and
// its package intelligence sibling are built in.
func NewStageDispatcher(
	fabric *workqueue.Fabric,
	analyses repositories.AnalysisRepository,
	scorer DimensionScorer,
	packages PackageAnalyzer,
	stageTimeout time.Duration,
	logger *zap.Logger,
) StageDispatcher {
	return &stageDispatcher{
		fabric:       fabric,
		analyses:     analyses,
		scorer:       scorer,
		packages:     packages,
		routes:       make(map[models.AnalysisStage]stageRoute),
		stageTimeout: stageTimeout,
		retryCfg:     retry.DefaultConfig(),
		logger:       logger.Named("dispatcher"),
	}
}

var _ StageDispatcher = (*stageDispatcher)(nil)

func (d *stageDispatcher) Register(stage models.AnalysisStage, queueName string, handler StageHandler) error {
	if !models.IsValidAnalysisStage(stage) || stage.IsTerminal() || stage == models.StageQueued {
		return fmt.Errorf("stage %q cannot take a handler", stage)
	}
	if stage == models.StageScoring {
		return fmt.Errorf("scoring is dispatched internally, not via Register")
	}
	if handler == nil {
		return fmt.Errorf("nil handler for stage %q", stage)
	}
	if _, err := d.fabric.Get(queueName); err != nil {
		return fmt.Errorf("cannot route stage %q: %w", stage, err)
	}
	if _, exists := d.routes[stage]; exists {
		return fmt.Errorf("stage %q already registered", stage)
	}
	d.routes[stage] = stageRoute{queue: queueName, handler: handler}
	return nil
}

func (d *stageDispatcher) Start(ctx context.Context, analysisID uuid.UUID) error {
	return d.advance(ctx, analysisID, models.StageQueued)
}

func (d *stageDispatcher) Requeue(ctx context.Context, analysis *models.Analysis) error {
	stage := analysis.Stage
	if stage.IsTerminal() {
		return fmt.Errorf("analysis %s is terminal, nothing to requeue", analysis.ID)
	}
	// A row stuck in queued means the first transition never happened,
	// so requeueing it is the same as starting fresh.
	if stage == models.StageQueued {
		return d.advance(ctx, analysis.ID, models.StageQueued)
	}
	return d.enqueueStage(analysis.ID, stage)
}

// advance persists the transition out of the given stage, then enqueues
// the next stage's job. A false from the guarded update means another
// worker (or a cancel) got there first; the job is dropped, not retried.
func (d *stageDispatcher) advance(ctx context.Context, id uuid.UUID, from models.AnalysisStage) error {
	to := from.Next()
	ok, err := d.analyses.TransitionStage(ctx, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to advance analysis %s out of %s: %w", id, from, err)
	}
	if !ok {
		d.logger.Info("stage transition lost race, dropping job",
			zap.String("analysis_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return nil
	}
	if to == models.StageCompleted {
		d.logger.Info("analysis completed", zap.String("analysis_id", id.String()))
		return nil
	}
	return d.enqueueStage(id, to)
}

func (d *stageDispatcher) enqueueStage(id uuid.UUID, stage models.AnalysisStage) error {
	if stage == models.StageScoring {
		return d.fanOutScoring(id)
	}
	route, ok := d.routes[stage]
	if !ok {
		return fmt.Errorf("no route registered for stage %q", stage)
	}
	task := workqueue.NewFuncTask(taskName(string(stage), id), d.runStage(id, stage))
	if err := d.fabric.Enqueue(route.queue, task); err != nil {
		return fmt.Errorf("failed to enqueue %s for analysis %s: %w", stage, id, err)
	}
	return nil
}

// fanOutScoring enqueues the three scoring passes plus the package
// intelligence pass. Each records its own slot in stage_results; the last
// one to report crosses the barrier and advances the analysis. Passes are
// idempotent against requeues: a pass whose slot already exists only
// re-checks the barrier.
func (d *stageDispatcher) fanOutScoring(id uuid.UUID) error {
	for _, dim := range models.AllScoreDimensions {
		name := taskName("score_"+string(dim), id)
		if err := d.fabric.Enqueue(workqueue.QueueAIProcessing, workqueue.NewFuncTask(name, d.runScore(id, dim))); err != nil {
			return fmt.Errorf("failed to fan out %s scoring for analysis %s: %w", dim, id, err)
		}
	}
	name := taskName("analyze_packages", id)
	if err := d.fabric.Enqueue(workqueue.QueuePackageIntelligence, workqueue.NewFuncTask(name, d.runPackages(id))); err != nil {
		return fmt.Errorf("failed to enqueue package analysis for analysis %s: %w", id, err)
	}
	return nil
}

// runStage wraps a registered handler as a queue task. Cancellation is
// advisory: the persisted stage is checked at entry, and a mismatch means
// the analysis was cancelled or requeued elsewhere, so the job no-ops.
func (d *stageDispatcher) runStage(id uuid.UUID, stage models.AnalysisStage) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.stageTimeout)
		defer cancel()

		analysis, err := d.analyses.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load analysis %s: %w", id, err)
		}
		if analysis.Stage != stage {
			d.logger.Info("analysis no longer in expected stage, skipping",
				zap.String("analysis_id", id.String()),
				zap.String("expected", string(stage)),
				zap.String("actual", string(analysis.Stage)))
			return nil
		}

		route := d.routes[stage]
		runErr := retry.DoIfRetryable(ctx, d.retryCfg, func() error {
			return route.handler.Run(ctx, analysis)
		})
		if runErr != nil {
			d.failStage(id, stage, runErr)
			return nil
		}
		return d.advance(ctx, id, stage)
	}
}

// failStage records a permanent stage failure on the analysis. Runs on a
// fresh context because the stage context may already be past its
// deadline.
func (d *stageDispatcher) failStage(id uuid.UUID, stage models.AnalysisStage, stageErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	result := models.StageResult{
		Status:      models.StageResultFailed,
		Error:       stageErr.Error(),
		CompletedAt: &now,
	}
	if _, err := d.analyses.RecordStageResult(ctx, id, string(stage), result); err != nil {
		d.logger.Error("failed to record stage failure",
			zap.String("analysis_id", id.String()),
			zap.String("stage", string(stage)),
			zap.Error(err))
	}

	msg := fmt.Sprintf("%s stage failed: %v", stage, stageErr)
	ok, err := d.analyses.MarkFailed(ctx, id, msg)
	if err != nil {
		d.logger.Error("failed to mark analysis failed",
			zap.String("analysis_id", id.String()),
			zap.Error(err))
		return
	}
	if !ok {
		d.logger.Info("analysis already terminal, failure not recorded",
			zap.String("analysis_id", id.String()),
			zap.String("stage", string(stage)))
		return
	}
	d.logger.Warn("analysis failed",
		zap.String("analysis_id", id.String()),
		zap.String("stage", string(stage)),
		zap.String("error", stageErr.Error()))
}

// runScore executes one scoring dimension. Each dimension owns a disjoint
// score column and its own stage_results slot, so the three passes never
// conflict. A failed pass degrades the analysis instead of aborting it.
func (d *stageDispatcher) runScore(id uuid.UUID, dim models.ScoreDimension) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.stageTimeout)
		defer cancel()

		analysis, err := d.analyses.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load analysis %s: %w", id, err)
		}
		if analysis.Stage != models.StageScoring {
			d.logger.Info("analysis no longer scoring, skipping pass",
				zap.String("analysis_id", id.String()),
				zap.String("dimension", string(dim)),
				zap.String("stage", string(analysis.Stage)))
			return nil
		}
		if _, done := analysis.StageResults[string(dim)]; done {
			// Requeued fan-out: this pass already reported.
			return d.checkScoringBarrier(ctx, id, analysis.StageResults)
		}

		started := time.Now()
		var score float64
		var findings []models.Finding
		scoreErr := retry.DoIfRetryable(ctx, d.retryCfg, func() error {
			var err error
			score, findings, err = d.scorer.Score(ctx, analysis, dim)
			return err
		})

		completed := time.Now()
		result := models.StageResult{StartedAt: &started, CompletedAt: &completed}
		if scoreErr != nil {
			result.Status = models.StageResultFailed
			result.Error = scoreErr.Error()
			reason := fmt.Sprintf("%s scoring failed: %v", dim, scoreErr)
			if err := d.analyses.AddDegradedReason(ctx, id, reason); err != nil {
				d.logger.Error("failed to record degraded reason",
					zap.String("analysis_id", id.String()), zap.Error(err))
			}
			d.logger.Warn("scoring pass failed",
				zap.String("analysis_id", id.String()),
				zap.String("dimension", string(dim)),
				zap.Error(scoreErr))
		} else {
			result.Status = models.StageResultSucceeded
			result.Score = &score
			result.Findings = findings
			if err := d.analyses.SetScore(ctx, id, dim, score); err != nil {
				return fmt.Errorf("failed to persist %s score for analysis %s: %w", dim, id, err)
			}
		}

		merged, err := d.analyses.RecordStageResult(ctx, id, string(dim), result)
		if err != nil {
			return fmt.Errorf("failed to record %s scoring result for analysis %s: %w", dim, id, err)
		}
		return d.checkScoringBarrier(ctx, id, merged)
	}
}

// runPackages executes the package intelligence pass. Shallow runs record
// a skipped slot so the barrier shape is the same at every depth.
func (d *stageDispatcher) runPackages(id uuid.UUID) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.stageTimeout)
		defer cancel()

		analysis, err := d.analyses.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load analysis %s: %w", id, err)
		}
		if analysis.Stage != models.StageScoring {
			d.logger.Info("analysis no longer scoring, skipping package pass",
				zap.String("analysis_id", id.String()),
				zap.String("stage", string(analysis.Stage)))
			return nil
		}
		if _, done := analysis.StageResults[packagesResultKey]; done {
			return d.checkScoringBarrier(ctx, id, analysis.StageResults)
		}

		started := time.Now()
		var result models.StageResult
		switch {
		case !analysis.Depth.IncludesPackages():
			result = models.StageResult{
				Status: models.StageResultSkipped,
				Detail: "package analysis skipped at shallow depth",
			}
		default:
			var report *models.PackageReport
			pkgErr := retry.DoIfRetryable(ctx, d.retryCfg, func() error {
				var err error
				report, err = d.packages.Analyze(ctx, analysis)
				return err
			})
			if pkgErr != nil {
				result = models.StageResult{
					Status: models.StageResultFailed,
					Error:  pkgErr.Error(),
				}
				reason := fmt.Sprintf("package analysis failed: %v", pkgErr)
				if err := d.analyses.AddDegradedReason(ctx, id, reason); err != nil {
					d.logger.Error("failed to record degraded reason",
						zap.String("analysis_id", id.String()), zap.Error(err))
				}
			} else {
				result = models.StageResult{
					Status:   models.StageResultSucceeded,
					Packages: report,
				}
			}
		}
		completed := time.Now()
		result.StartedAt = &started
		result.CompletedAt = &completed

		merged, err := d.analyses.RecordStageResult(ctx, id, packagesResultKey, result)
		if err != nil {
			return fmt.Errorf("failed to record package analysis result for analysis %s: %w", id, err)
		}
		return d.checkScoringBarrier(ctx, id, merged)
	}
}

// checkScoringBarrier advances the analysis once every parallel pass has
// reported. All orderings funnel through the guarded transition, which
// admits exactly one winner. An analysis whose scoring passes all failed
// is marked failed instead of advancing.
func (d *stageDispatcher) checkScoringBarrier(ctx context.Context, id uuid.UUID, results map[string]models.StageResult) error {
	if !scoringBarrierComplete(results) {
		return nil
	}
	if !anyScorePassSucceeded(results) {
		ok, err := d.analyses.MarkFailed(ctx, id, "all scoring passes failed")
		if err != nil {
			return fmt.Errorf("failed to mark analysis %s failed: %w", id, err)
		}
		if ok {
			d.logger.Warn("analysis failed, no scoring pass succeeded",
				zap.String("analysis_id", id.String()))
		}
		return nil
	}
	return d.advance(ctx, id, models.StageScoring)
}

func scoringBarrierComplete(results map[string]models.StageResult) bool {
	for _, dim := range models.AllScoreDimensions {
		if _, ok := results[string(dim)]; !ok {
			return false
		}
	}
	_, ok := results[packagesResultKey]
	return ok
}

func anyScorePassSucceeded(results map[string]models.StageResult) bool {
	for _, dim := range models.AllScoreDimensions {
		if r, ok := results[string(dim)]; ok && r.Status == models.StageResultSucceeded {
			return true
		}
	}
	return false
}

// TaskMarker is the analysis identifier fragment embedded in every task
// name. The reconciliation sweep probes the fabric with it to tell a
// genuinely stalled analysis from one still being worked on.
func TaskMarker(id uuid.UUID) string {
	return id.String()[:8]
}

func taskName(op string, id uuid.UUID) string {
	return op + ":" + TaskMarker(id)
}

package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/repositories"
	"github.com/prsnl-labs/intel-engine/pkg/services/workqueue"
)

// Reconciler recovers analyses stuck between a persisted stage transition
// and the enqueue that should have followed it. Each analysis is requeued
// at most once; one that stalls again is failed with a diagnostic instead
// of looping forever.
type Reconciler interface {
	// Sweep runs one reconciliation pass. Returns how many analyses were
	// requeued and how many were failed.
	Sweep(ctx context.Context) (requeued, failed int, err error)

	// RunScheduler starts a background goroutine that sweeps on the given
	// interval. It runs immediately on startup, then repeats every
	// interval. Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type reconciler struct {
	analyses   repositories.AnalysisRepository
	dispatcher StageDispatcher
	fabric     *workqueue.Fabric
	staleness  time.Duration
	logger     *zap.Logger
}

// NewReconciler creates the reconciliation sweep.
func NewReconciler(
	analyses repositories.AnalysisRepository,
	dispatcher StageDispatcher,
	fabric *workqueue.Fabric,
	staleness time.Duration,
	logger *zap.Logger,
) Reconciler {
	return &reconciler{
		analyses:   analyses,
		dispatcher: dispatcher,
		fabric:     fabric,
		staleness:  staleness,
		logger:     logger.Named("reconciler"),
	}
}

var _ Reconciler = (*reconciler)(nil)

func (r *reconciler) Sweep(ctx context.Context) (int, int, error) {
	stale, err := r.analyses.FindStale(ctx, r.staleness)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to find stale analyses: %w", err)
	}

	var requeued, failed int
	for _, analysis := range stale {
		// A live fabric task means the analysis is mid-flight, just slow.
		// Touching nothing keeps the at-most-once requeue budget intact.
		if r.fabric.InFlight(TaskMarker(analysis.ID)) {
			continue
		}

		ok, err := r.analyses.RequeueOnce(ctx, analysis.ID)
		if err != nil {
			r.logger.Error("Failed to claim analysis for requeue",
				zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			if err := r.dispatcher.Requeue(ctx, analysis); err != nil {
				r.logger.Error("Failed to requeue analysis",
					zap.String("analysis_id", analysis.ID.String()),
					zap.String("stage", string(analysis.Stage)),
					zap.Error(err))
				continue
			}
			requeued++
			r.logger.Info("Requeued stalled analysis",
				zap.String("analysis_id", analysis.ID.String()),
				zap.String("stage", string(analysis.Stage)))
			continue
		}

		// Already requeued once and stale again.
		msg := fmt.Sprintf("analysis stalled in %s stage after one requeue, last activity %s",
			analysis.Stage, analysis.UpdatedAt.Format(time.RFC3339))
		marked, err := r.analyses.MarkFailed(ctx, analysis.ID, msg)
		if err != nil {
			r.logger.Error("Failed to fail stalled analysis",
				zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
			continue
		}
		if marked {
			failed++
			r.logger.Warn("Failed repeatedly stalled analysis",
				zap.String("analysis_id", analysis.ID.String()),
				zap.String("stage", string(analysis.Stage)))
		}
	}
	return requeued, failed, nil
}

// RunScheduler starts the periodic sweep loop.
func (r *reconciler) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		r.logger.Info("Reconciliation scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("staleness_threshold", r.staleness))

		// Run immediately on startup, then at each interval
		r.sweepOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Reconciliation scheduler stopped")
				return
			case <-ticker.C:
				r.sweepOnce(ctx)
			}
		}
	}()
}

func (r *reconciler) sweepOnce(ctx context.Context) {
	requeued, failed, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("Reconciliation sweep failed", zap.Error(err))
		return
	}
	if requeued > 0 || failed > 0 {
		r.logger.Info("Reconciliation sweep completed",
			zap.Int("requeued", requeued),
			zap.Int("failed", failed))
	}
}

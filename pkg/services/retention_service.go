package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/repositories"
)

// DefaultRetentionDays is the default retention period for terminal
// analyses.
const DefaultRetentionDays = 90

// RetentionService prunes terminal analyses past the retention window.
// Insights and cross-references cascade with the analysis row;
// repositories are never pruned.
type RetentionService interface {
	// Prune removes terminal analyses that completed before the retention
	// window. Returns the number of analyses deleted.
	Prune(ctx context.Context) (int64, error)

	// RunScheduler starts a background goroutine that prunes on the given
	// interval. It runs immediately on startup, then repeats every
	// interval. Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	analyses      repositories.AnalysisRepository
	retentionDays int
	logger        *zap.Logger
}

// NewRetentionService creates the retention pruner.
func NewRetentionService(analyses repositories.AnalysisRepository, retentionDays int, logger *zap.Logger) RetentionService {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &retentionService{
		analyses:      analyses,
		retentionDays: retentionDays,
		logger:        logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted, err := s.analyses.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune terminal analyses: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Int("retention_days", s.retentionDays),
			zap.Int64("analyses_deleted", deleted))
	}
	return deleted, nil
}

// RunScheduler starts the periodic prune loop.
func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Int("retention_days", s.retentionDays))

		// Run immediately on startup, then at each interval
		if _, err := s.Prune(ctx); err != nil {
			s.logger.Error("Retention prune failed", zap.Error(err))
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				if _, err := s.Prune(ctx); err != nil {
					s.logger.Error("Retention prune failed", zap.Error(err))
				}
			}
		}
	}()
}

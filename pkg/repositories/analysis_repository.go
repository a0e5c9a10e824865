package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/database"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// AnalysisRepository provides data access for analysis runs.
//
// The stage column is the single source of truth for pipeline progress.
// Every stage write goes through a guarded UPDATE so that late or duplicate
// workers cannot move an analysis backwards.
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	GetBySlug(ctx context.Context, slug string) (*models.Analysis, error)
	ListByRepository(ctx context.Context, repositoryID uuid.UUID, limit int) ([]*models.Analysis, error)
	SlugExists(ctx context.Context, slug string) (bool, error)

	// TransitionStage atomically moves the analysis from one stage to the
	// next. Returns false when the row was not in the expected stage, which
	// callers treat as a lost race, not an error.
	TransitionStage(ctx context.Context, id uuid.UUID, from, to models.AnalysisStage) (bool, error)

	// RecordStageResult merges one stage outcome into stage_results and
	// returns the full merged map so scoring workers can check the fan-in
	// barrier in the same round trip.
	RecordStageResult(ctx context.Context, id uuid.UUID, key string, result models.StageResult) (map[string]models.StageResult, error)

	SetDetection(ctx context.Context, id uuid.UUID, languages map[string]int, frameworks []string, filesAnalyzed, totalLines int) error
	SetScore(ctx context.Context, id uuid.UUID, dimension models.ScoreDimension, score float64) error
	AddDegradedReason(ctx context.Context, id uuid.UUID, reason string) error

	// MarkFailed moves any non-terminal analysis to failed with a diagnostic.
	// Returns false if the analysis was already terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)

	// Cancel moves any non-terminal analysis to cancelled. Returns false if
	// the analysis was already terminal.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// RequeueOnce increments requeue_count only when it is still zero,
	// so the reconciliation sweep requeues each analysis at most once.
	RequeueOnce(ctx context.Context, id uuid.UUID) (bool, error)

	// Touch bumps updated_at. Stage handlers call it as a liveness signal
	// during long work so the sweep does not mistake them for stuck.
	Touch(ctx context.Context, id uuid.UUID) error

	// FindStale returns non-terminal analyses whose last write is older
	// than the threshold.
	FindStale(ctx context.Context, threshold time.Duration) ([]*models.Analysis, error)

	// DeleteTerminalBefore removes terminal analyses that completed before
	// the cutoff. Returns the number of rows removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type analysisRepository struct {
	db *database.DB
}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository(db *database.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

var _ AnalysisRepository = (*analysisRepository)(nil)

func (r *analysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	now := time.Now()
	analysis.CreatedAt = now
	analysis.UpdatedAt = now
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	if analysis.Stage == "" {
		analysis.Stage = models.StageQueued
	}
	if analysis.StageResults == nil {
		analysis.StageResults = map[string]models.StageResult{}
	}

	resultsJSON, err := json.Marshal(analysis.StageResults)
	if err != nil {
		return fmt.Errorf("failed to marshal stage_results: %w", err)
	}
	languagesJSON, err := json.Marshal(analysis.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}
	if analysis.Languages == nil {
		languagesJSON = []byte("{}")
	}
	frameworksJSON, err := json.Marshal(analysis.Frameworks)
	if err != nil {
		return fmt.Errorf("failed to marshal frameworks: %w", err)
	}
	if analysis.Frameworks == nil {
		frameworksJSON = []byte("[]")
	}

	query := `
		INSERT INTO analyses (
			id, repository_id, slug, analysis_type, depth, stage, requeue_count,
			degraded, degraded_reasons, error_message, stage_results,
			security_score, performance_score, quality_score,
			languages, frameworks, files_analyzed, total_lines,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = r.db.Exec(ctx, query,
		analysis.ID, analysis.RepositoryID, analysis.Slug, analysis.Type, analysis.Depth,
		analysis.Stage, analysis.RequeueCount,
		analysis.Degraded, analysis.DegradedReasons, analysis.ErrorMessage, resultsJSON,
		analysis.SecurityScore, analysis.PerformanceScore, analysis.QualityScore,
		languagesJSON, frameworksJSON, analysis.FilesAnalyzed, analysis.TotalLines,
		analysis.CreatedAt, analysis.UpdatedAt, analysis.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	return nil
}

const analysisColumns = `
	id, repository_id, slug, analysis_type, depth, stage, requeue_count,
	degraded, degraded_reasons, error_message, stage_results,
	security_score, performance_score, quality_score,
	languages, frameworks, files_analyzed, total_lines,
	created_at, updated_at, completed_at`

func (r *analysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	return scanAnalysisRow(r.db.QueryRow(ctx, query, id))
}

func (r *analysisRepository) GetBySlug(ctx context.Context, slug string) (*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE slug = $1`
	return scanAnalysisRow(r.db.QueryRow(ctx, query, slug))
}

func (r *analysisRepository) ListByRepository(ctx context.Context, repositoryID uuid.UUID, limit int) ([]*models.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + analysisColumns + `
		FROM analyses
		WHERE repository_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	return scanAnalysisRows(rows)
}

func (r *analysisRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM analyses WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check analysis slug: %w", err)
	}
	return exists, nil
}

func (r *analysisRepository) TransitionStage(ctx context.Context, id uuid.UUID, from, to models.AnalysisStage) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid stage transition %s -> %s: %w", from, to, apperrors.ErrValidation)
	}

	query := `
		UPDATE analyses
		SET stage = $1,
		    updated_at = now(),
		    completed_at = CASE WHEN $1 = 'completed' THEN now() ELSE completed_at END
		WHERE id = $2 AND stage = $3`

	tag, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition stage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *analysisRepository) RecordStageResult(ctx context.Context, id uuid.UUID, key string, result models.StageResult) (map[string]models.StageResult, error) {
	patch, err := json.Marshal(map[string]models.StageResult{key: result})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage result: %w", err)
	}

	query := `
		UPDATE analyses
		SET stage_results = stage_results || $1::jsonb,
		    updated_at = now()
		WHERE id = $2
		RETURNING stage_results`

	var merged []byte
	err = r.db.QueryRow(ctx, query, patch, id).Scan(&merged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record stage result: %w", err)
	}

	results := map[string]models.StageResult{}
	if err := json.Unmarshal(merged, &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage_results: %w", err)
	}
	return results, nil
}

func (r *analysisRepository) SetDetection(ctx context.Context, id uuid.UUID, languages map[string]int, frameworks []string, filesAnalyzed, totalLines int) error {
	languagesJSON, err := json.Marshal(languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}
	frameworksJSON, err := json.Marshal(frameworks)
	if err != nil {
		return fmt.Errorf("failed to marshal frameworks: %w", err)
	}

	query := `
		UPDATE analyses
		SET languages = $1, frameworks = $2, files_analyzed = $3, total_lines = $4, updated_at = now()
		WHERE id = $5`

	_, err = r.db.Exec(ctx, query, languagesJSON, frameworksJSON, filesAnalyzed, totalLines, id)
	if err != nil {
		return fmt.Errorf("failed to set detection results: %w", err)
	}
	return nil
}

func (r *analysisRepository) SetScore(ctx context.Context, id uuid.UUID, dimension models.ScoreDimension, score float64) error {
	var column string
	switch dimension {
	case models.ScoreSecurity:
		column = "security_score"
	case models.ScorePerformance:
		column = "performance_score"
	case models.ScoreQuality:
		column = "quality_score"
	default:
		return fmt.Errorf("unknown score dimension %q: %w", dimension, apperrors.ErrValidation)
	}

	query := fmt.Sprintf(`UPDATE analyses SET %s = $1, updated_at = now() WHERE id = $2`, column)
	_, err := r.db.Exec(ctx, query, score, id)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	return nil
}

func (r *analysisRepository) AddDegradedReason(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE analyses
		SET degraded = TRUE,
		    degraded_reasons = array_append(degraded_reasons, $1),
		    updated_at = now()
		WHERE id = $2 AND NOT ($1 = ANY(degraded_reasons))`

	_, err := r.db.Exec(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("failed to add degraded reason: %w", err)
	}
	return nil
}

func (r *analysisRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	query := `
		UPDATE analyses
		SET stage = 'failed', error_message = $1, updated_at = now(), completed_at = now()
		WHERE id = $2 AND stage NOT IN ('completed', 'failed', 'cancelled')`

	tag, err := r.db.Exec(ctx, query, errorMessage, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark analysis failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *analysisRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE analyses
		SET stage = 'cancelled', updated_at = now(), completed_at = now()
		WHERE id = $1 AND stage NOT IN ('completed', 'failed', 'cancelled')`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel analysis: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *analysisRepository) RequeueOnce(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE analyses
		SET requeue_count = requeue_count + 1, updated_at = now()
		WHERE id = $1
		  AND requeue_count = 0
		  AND stage NOT IN ('completed', 'failed', 'cancelled')`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue analysis: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *analysisRepository) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE analyses SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch analysis: %w", err)
	}
	return nil
}

func (r *analysisRepository) FindStale(ctx context.Context, threshold time.Duration) ([]*models.Analysis, error) {
	query := `SELECT ` + analysisColumns + `
		FROM analyses
		WHERE stage NOT IN ('completed', 'failed', 'cancelled')
		  AND updated_at < now() - $1::interval
		ORDER BY updated_at ASC`

	rows, err := r.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale analyses: %w", err)
	}
	defer rows.Close()

	return scanAnalysisRows(rows)
}

func (r *analysisRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM analyses
		WHERE stage IN ('completed', 'failed', 'cancelled')
		  AND updated_at < $1`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired analyses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAnalysisRow(row pgx.Row) (*models.Analysis, error) {
	var a models.Analysis
	var resultsJSON, languagesJSON, frameworksJSON []byte

	err := row.Scan(
		&a.ID, &a.RepositoryID, &a.Slug, &a.Type, &a.Depth, &a.Stage, &a.RequeueCount,
		&a.Degraded, &a.DegradedReasons, &a.ErrorMessage, &resultsJSON,
		&a.SecurityScore, &a.PerformanceScore, &a.QualityScore,
		&languagesJSON, &frameworksJSON, &a.FilesAnalyzed, &a.TotalLines,
		&a.CreatedAt, &a.UpdatedAt, &a.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}

	if err := json.Unmarshal(resultsJSON, &a.StageResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage_results: %w", err)
	}
	if err := json.Unmarshal(languagesJSON, &a.Languages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
	}
	if err := json.Unmarshal(frameworksJSON, &a.Frameworks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frameworks: %w", err)
	}

	return &a, nil
}

func scanAnalysisRows(rows pgx.Rows) ([]*models.Analysis, error) {
	var analyses []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysisRow(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analyses: %w", err)
	}
	return analyses, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/database"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// InsightRepository provides data access for insights.
type InsightRepository interface {
	CreateBatch(ctx context.Context, insights []*models.Insight) error

	// ReplaceForAnalysis swaps the full insight set for an analysis in one
	// transaction. A requeued generation run must not stack a second copy
	// of the batch on top of an interrupted attempt.
	ReplaceForAnalysis(ctx context.Context, analysisID uuid.UUID, insights []*models.Insight) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Insight, error)
	ListByAnalysis(ctx context.Context, analysisID uuid.UUID, status *models.InsightStatus) ([]*models.Insight, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error)
	CountByAnalysis(ctx context.Context, analysisID uuid.UUID) (int, error)
}

type insightRepository struct {
	db *database.DB
}

// NewInsightRepository creates a new InsightRepository.
func NewInsightRepository(db *database.DB) InsightRepository {
	return &insightRepository{db: db}
}

var _ InsightRepository = (*insightRepository)(nil)

func (r *insightRepository) CreateBatch(ctx context.Context, insights []*models.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now()
	query := `
		INSERT INTO insights (
			id, analysis_id, title, description, recommendation, category,
			severity, status, confidence, location, generated_by, corroborated_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	for _, ins := range insights {
		if ins.ID == uuid.Nil {
			ins.ID = uuid.New()
		}
		if ins.Status == "" {
			ins.Status = models.InsightStatusOpen
		}
		ins.CreatedAt = now
		ins.UpdatedAt = now

		batch.Queue(query,
			ins.ID, ins.AnalysisID, ins.Title, ins.Description, ins.Recommendation,
			ins.Category, ins.Severity, ins.Status, ins.Confidence, ins.Location,
			ins.GeneratedBy, ins.CorroboratedBy, ins.CreatedAt, ins.UpdatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range insights {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}
	return nil
}

func (r *insightRepository) ReplaceForAnalysis(ctx context.Context, analysisID uuid.UUID, insights []*models.Insight) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM insights WHERE analysis_id = $1`, analysisID); err != nil {
		return fmt.Errorf("failed to clear insights: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO insights (
			id, analysis_id, title, description, recommendation, category,
			severity, status, confidence, location, generated_by, corroborated_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	for _, ins := range insights {
		if ins.ID == uuid.Nil {
			ins.ID = uuid.New()
		}
		if ins.Status == "" {
			ins.Status = models.InsightStatusOpen
		}
		ins.AnalysisID = analysisID
		ins.CreatedAt = now
		ins.UpdatedAt = now

		_, err := tx.Exec(ctx, query,
			ins.ID, ins.AnalysisID, ins.Title, ins.Description, ins.Recommendation,
			ins.Category, ins.Severity, ins.Status, ins.Confidence, ins.Location,
			ins.GeneratedBy, ins.CorroboratedBy, ins.CreatedAt, ins.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const insightColumns = `
	id, analysis_id, title, description, recommendation, category,
	severity, status, confidence, location, generated_by, corroborated_by,
	created_at, updated_at`

func (r *insightRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE id = $1`
	return scanInsightRow(r.db.QueryRow(ctx, query, id))
}

func (r *insightRepository) ListByAnalysis(ctx context.Context, analysisID uuid.UUID, status *models.InsightStatus) ([]*models.Insight, error) {
	query := `SELECT ` + insightColumns + `
		FROM insights
		WHERE analysis_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, analysisID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []*models.Insight
	for rows.Next() {
		ins, err := scanInsightRow(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate insights: %w", err)
	}
	return insights, nil
}

func (r *insightRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error) {
	query := `
		UPDATE insights
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + insightColumns

	return scanInsightRow(r.db.QueryRow(ctx, query, status, id))
}

func (r *insightRepository) CountByAnalysis(ctx context.Context, analysisID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM insights WHERE analysis_id = $1`, analysisID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count insights: %w", err)
	}
	return count, nil
}

func scanInsightRow(row pgx.Row) (*models.Insight, error) {
	var ins models.Insight
	err := row.Scan(
		&ins.ID, &ins.AnalysisID, &ins.Title, &ins.Description, &ins.Recommendation,
		&ins.Category, &ins.Severity, &ins.Status, &ins.Confidence, &ins.Location,
		&ins.GeneratedBy, &ins.CorroboratedBy, &ins.CreatedAt, &ins.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan insight: %w", err)
	}
	return &ins, nil
}

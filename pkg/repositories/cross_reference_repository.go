package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prsnl-labs/intel-engine/pkg/database"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// CrossReferenceRepository provides data access for analysis-to-knowledge links.
type CrossReferenceRepository interface {
	// ReplaceForAnalysis swaps the full set of links for an analysis in one
	// transaction. The cross-referencing stage is the only writer, and a
	// requeued stage run must not leave links from the interrupted attempt.
	ReplaceForAnalysis(ctx context.Context, analysisID uuid.UUID, refs []*models.CrossReference) error

	// ListByAnalysis returns links ordered by relevance, with the joined
	// knowledge item populated.
	ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*models.CrossReference, error)
}

type crossReferenceRepository struct {
	db *database.DB
}

// NewCrossReferenceRepository creates a new CrossReferenceRepository.
func NewCrossReferenceRepository(db *database.DB) CrossReferenceRepository {
	return &crossReferenceRepository{db: db}
}

var _ CrossReferenceRepository = (*crossReferenceRepository)(nil)

func (r *crossReferenceRepository) ReplaceForAnalysis(ctx context.Context, analysisID uuid.UUID, refs []*models.CrossReference) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM cross_references WHERE analysis_id = $1`, analysisID); err != nil {
		return fmt.Errorf("failed to clear cross references: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO cross_references (
			id, analysis_id, content_item_id, mode,
			keyword_score, semantic_score, relevance, snippet, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, ref := range refs {
		if ref.ID == uuid.Nil {
			ref.ID = uuid.New()
		}
		ref.AnalysisID = analysisID
		ref.CreatedAt = now

		_, err := tx.Exec(ctx, query,
			ref.ID, ref.AnalysisID, ref.ContentItemID, ref.Mode,
			ref.KeywordScore, ref.SemanticScore, ref.Relevance, ref.Snippet, ref.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cross reference: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cross references: %w", err)
	}
	return nil
}

func (r *crossReferenceRepository) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*models.CrossReference, error) {
	query := `
		SELECT x.id, x.analysis_id, x.content_item_id, x.mode,
		       x.keyword_score, x.semantic_score, x.relevance, x.snippet, x.created_at,
		       c.id, c.title, c.slug, c.summary, c.content, c.tags, c.url, c.created_at, c.updated_at
		FROM cross_references x
		JOIN content_items c ON c.id = x.content_item_id
		WHERE x.analysis_id = $1
		ORDER BY x.relevance DESC`

	rows, err := r.db.Query(ctx, query, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cross references: %w", err)
	}
	defer rows.Close()

	var refs []*models.CrossReference
	for rows.Next() {
		var ref models.CrossReference
		var item models.ContentItem
		err := rows.Scan(
			&ref.ID, &ref.AnalysisID, &ref.ContentItemID, &ref.Mode,
			&ref.KeywordScore, &ref.SemanticScore, &ref.Relevance, &ref.Snippet, &ref.CreatedAt,
			&item.ID, &item.Title, &item.Slug, &item.Summary, &item.Content,
			&item.Tags, &item.URL, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cross reference: %w", err)
		}
		ref.Item = &item
		refs = append(refs, &ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cross references: %w", err)
	}
	return refs, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/database"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// ContentMatch is a knowledge item with its keyword relevance score.
type ContentMatch struct {
	Item  *models.ContentItem
	Score float64
}

// ContentRepository provides read access to the knowledge base.
// Items are written by external ingestion, so there is no create path here.
type ContentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)

	// KeywordSearch runs a weighted full-text query over titles, summaries
	// and bodies. Scores are ts_rank values normalized by document length.
	KeywordSearch(ctx context.Context, query string, limit int) ([]ContentMatch, error)
}

type contentRepository struct {
	db *database.DB
}

// NewContentRepository creates a new ContentRepository.
func NewContentRepository(db *database.DB) ContentRepository {
	return &contentRepository{db: db}
}

var _ ContentRepository = (*contentRepository)(nil)

const contentColumns = `id, title, slug, summary, content, tags, url, created_at, updated_at`

func (r *contentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	query := `SELECT ` + contentColumns + ` FROM content_items WHERE id = $1`
	return scanContentItemRow(r.db.QueryRow(ctx, query, id))
}

func (r *contentRepository) KeywordSearch(ctx context.Context, query string, limit int) ([]ContentMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	sqlQuery := `
		SELECT ` + contentColumns + `,
		       ts_rank_cd(search_vector, q, 32) AS rank
		FROM content_items, websearch_to_tsquery('english', $1) q
		WHERE search_vector @@ q
		ORDER BY rank DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, sqlQuery, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	var matches []ContentMatch
	for rows.Next() {
		var item models.ContentItem
		var rank float64
		err := rows.Scan(
			&item.ID, &item.Title, &item.Slug, &item.Summary, &item.Content,
			&item.Tags, &item.URL, &item.CreatedAt, &item.UpdatedAt, &rank,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content match: %w", err)
		}
		matches = append(matches, ContentMatch{Item: &item, Score: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content matches: %w", err)
	}
	return matches, nil
}

func scanContentItemRow(row pgx.Row) (*models.ContentItem, error) {
	var item models.ContentItem
	err := row.Scan(
		&item.ID, &item.Title, &item.Slug, &item.Summary, &item.Content,
		&item.Tags, &item.URL, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan content item: %w", err)
	}
	return &item, nil
}

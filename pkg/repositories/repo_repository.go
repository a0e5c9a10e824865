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

// RepoRepository provides data access for tracked repositories.
type RepoRepository interface {
	Create(ctx context.Context, repo *models.Repository) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	GetBySlug(ctx context.Context, slug string) (*models.Repository, error)
	GetByOwnerName(ctx context.Context, owner, name string) (*models.Repository, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type repoRepository struct {
	db *database.DB
}

// NewRepoRepository creates a new RepoRepository.
func NewRepoRepository(db *database.DB) RepoRepository {
	return &repoRepository{db: db}
}

var _ RepoRepository = (*repoRepository)(nil)

func (r *repoRepository) Create(ctx context.Context, repo *models.Repository) error {
	now := time.Now()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	if repo.ID == uuid.Nil {
		repo.ID = uuid.New()
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = "main"
	}

	query := `
		INSERT INTO repositories (id, owner, name, slug, source_url, default_branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		repo.ID, repo.Owner, repo.Name, repo.Slug, repo.SourceURL, repo.DefaultBranch,
		repo.CreatedAt, repo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}

	return nil
}

const repoColumns = `id, owner, name, slug, source_url, default_branch, created_at, updated_at`

func (r *repoRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE id = $1`
	return scanRepositoryRow(r.db.QueryRow(ctx, query, id))
}

func (r *repoRepository) GetBySlug(ctx context.Context, slug string) (*models.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE slug = $1`
	return scanRepositoryRow(r.db.QueryRow(ctx, query, slug))
}

func (r *repoRepository) GetByOwnerName(ctx context.Context, owner, name string) (*models.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE owner = $1 AND name = $2`
	return scanRepositoryRow(r.db.QueryRow(ctx, query, owner, name))
}

func (r *repoRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM repositories WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check repository slug: %w", err)
	}
	return exists, nil
}

func scanRepositoryRow(row pgx.Row) (*models.Repository, error) {
	var repo models.Repository
	err := row.Scan(
		&repo.ID, &repo.Owner, &repo.Name, &repo.Slug, &repo.SourceURL,
		&repo.DefaultBranch, &repo.CreatedAt, &repo.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	return &repo, nil
}

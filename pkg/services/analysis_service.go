package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/logging"
	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
	"github.com/prsnl-labs/intel-engine/pkg/slug"
)

// SubmitRequest is the intake payload for a new analysis.
type SubmitRequest struct {
	Repository string `json:"repository"`
	Depth      string `json:"depth"`
	Type       string `json:"analysis_type"`
}

// SubmitResult is returned to the caller before any stage executes.
type SubmitResult struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	Slug       string    `json:"slug"`
}

// AnalysisService is the intake and read facade over the pipeline. Reads
// never block on queue depth; writes are limited to submission, advisory
// cancel, and insight status review.
type AnalysisService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	GetAnalysis(ctx context.Context, ref string) (*models.Analysis, error)
	ListByRepository(ctx context.Context, repoRef string, limit int) ([]*models.Analysis, error)
	ListInsights(ctx context.Context, analysisRef string, status *models.InsightStatus) ([]*models.Insight, error)
	UpdateInsightStatus(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error)
	ListCrossReferences(ctx context.Context, analysisRef string) ([]*models.CrossReference, error)
	Cancel(ctx context.Context, ref string) error
}

type analysisService struct {
	repos      repositories.RepoRepository
	analyses   repositories.AnalysisRepository
	insights   repositories.InsightRepository
	refs       repositories.CrossReferenceRepository
	dispatcher StageDispatcher
	cache      *redis.Client // nil disables caching
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewAnalysisService creates the service. cache may be nil.
func NewAnalysisService(
	repos repositories.RepoRepository,
	analyses repositories.AnalysisRepository,
	insights repositories.InsightRepository,
	refs repositories.CrossReferenceRepository,
	dispatcher StageDispatcher,
	cache *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) AnalysisService {
	return &analysisService{
		repos:      repos,
		analyses:   analyses,
		insights:   insights,
		refs:       refs,
		dispatcher: dispatcher,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger.Named("analysis-service"),
	}
}

var _ AnalysisService = (*analysisService)(nil)

func (s *analysisService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	owner, name, err := ParseRepositoryRef(req.Repository)
	if err != nil {
		return nil, err
	}

	depth := models.AnalysisDepth(req.Depth)
	if depth == "" {
		depth = models.DepthStandard
	}
	if !models.IsValidAnalysisDepth(depth) {
		return nil, fmt.Errorf("unknown depth %q: %w", req.Depth, apperrors.ErrValidation)
	}

	analysisType := models.AnalysisType(req.Type)
	if analysisType == "" {
		analysisType = models.AnalysisTypeWeb
	}
	if !models.IsValidAnalysisType(analysisType) {
		return nil, fmt.Errorf("unknown analysis type %q: %w", req.Type, apperrors.ErrValidation)
	}

	repo, err := s.getOrCreateRepository(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	analysisSlug, err := slug.MakeUnique(owner+"-"+name+"-analysis", func(candidate string) (bool, error) {
		return s.analyses.SlugExists(ctx, candidate)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate analysis slug: %w", err)
	}

	analysis := &models.Analysis{
		ID:           uuid.New(),
		RepositoryID: repo.ID,
		Slug:         analysisSlug,
		Type:         analysisType,
		Depth:        depth,
		Stage:        models.StageQueued,
		StageResults: map[string]models.StageResult{},
	}
	if err := s.analyses.Create(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to create analysis: %w", err)
	}

	// The analysis row exists; a failed enqueue is recovered by the
	// reconciliation sweep rather than surfaced to the caller.
	if err := s.dispatcher.Start(ctx, analysis.ID); err != nil {
		s.logger.Warn("failed to enqueue first stage, sweep will recover",
			zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
	}

	s.logger.Info("analysis submitted",
		zap.String("analysis_id", analysis.ID.String()),
		zap.String("repository", repo.FullName()),
		zap.String("source_url", logging.SanitizeRepoURL(repo.SourceURL)),
		zap.String("depth", string(depth)))
	return &SubmitResult{AnalysisID: analysis.ID, Slug: analysisSlug}, nil
}

func (s *analysisService) getOrCreateRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	repo, err := s.repos.GetByOwnerName(ctx, owner, name)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up repository: %w", err)
	}

	repoSlug, err := slug.MakeUnique(owner+"-"+name, func(candidate string) (bool, error) {
		return s.repos.SlugExists(ctx, candidate)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate repository slug: %w", err)
	}
	repo = &models.Repository{
		ID:        uuid.New(),
		Owner:     owner,
		Name:      name,
		Slug:      repoSlug,
		SourceURL: fmt.Sprintf("https://github.com/%s/%s", owner, name),
	}
	if err := s.repos.Create(ctx, repo); err != nil {
		// A concurrent submission may have created it between the lookup
		// and the insert.
		if errors.Is(err, apperrors.ErrConflict) {
			return s.repos.GetByOwnerName(ctx, owner, name)
		}
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	return repo, nil
}

func (s *analysisService) GetAnalysis(ctx context.Context, ref string) (*models.Analysis, error) {
	if cached := s.cacheGet(ctx, ref); cached != nil {
		return cached, nil
	}
	analysis, err := s.resolveAnalysis(ctx, ref)
	if err != nil {
		return nil, err
	}
	// Only terminal analyses are cacheable; in-flight ones change under
	// the poller.
	if analysis.Stage.IsTerminal() {
		s.cacheSet(ctx, ref, analysis)
	}
	return analysis, nil
}

func (s *analysisService) ListByRepository(ctx context.Context, repoRef string, limit int) ([]*models.Analysis, error) {
	repo, err := s.resolveRepository(ctx, repoRef)
	if err != nil {
		return nil, err
	}
	return s.analyses.ListByRepository(ctx, repo.ID, limit)
}

func (s *analysisService) ListInsights(ctx context.Context, analysisRef string, status *models.InsightStatus) ([]*models.Insight, error) {
	if status != nil && !models.IsValidInsightStatus(*status) {
		return nil, fmt.Errorf("unknown insight status %q: %w", *status, apperrors.ErrValidation)
	}
	analysis, err := s.resolveAnalysis(ctx, analysisRef)
	if err != nil {
		return nil, err
	}
	return s.insights.ListByAnalysis(ctx, analysis.ID, status)
}

func (s *analysisService) UpdateInsightStatus(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error) {
	if !models.IsValidInsightStatus(status) {
		return nil, fmt.Errorf("unknown insight status %q: %w", status, apperrors.ErrValidation)
	}
	insight, err := s.insights.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Re-asserting the current status succeeds without a write.
	if insight.Status == status {
		return insight, nil
	}
	if !insight.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("insight status %s cannot move to %s: %w",
			insight.Status, status, apperrors.ErrValidation)
	}
	return s.insights.UpdateStatus(ctx, id, status)
}

func (s *analysisService) ListCrossReferences(ctx context.Context, analysisRef string) ([]*models.CrossReference, error) {
	analysis, err := s.resolveAnalysis(ctx, analysisRef)
	if err != nil {
		return nil, err
	}
	return s.refs.ListByAnalysis(ctx, analysis.ID)
}

func (s *analysisService) Cancel(ctx context.Context, ref string) error {
	analysis, err := s.resolveAnalysis(ctx, ref)
	if err != nil {
		return err
	}
	ok, err := s.analyses.Cancel(ctx, analysis.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("analysis %s is already terminal: %w", analysis.ID, apperrors.ErrTerminal)
	}
	// In-flight stage jobs notice the cancelled stage at their next
	// boundary check; nothing is forcibly killed.
	s.logger.Info("analysis cancelled", zap.String("analysis_id", analysis.ID.String()))
	return nil
}

// resolveAnalysis accepts an analysis id or slug. Id-shaped input tries
// the id lookup first, then falls back to slug.
func (s *analysisService) resolveAnalysis(ctx context.Context, ref string) (*models.Analysis, error) {
	if id, err := uuid.Parse(ref); err == nil {
		analysis, err := s.analyses.GetByID(ctx, id)
		if err == nil || !errors.Is(err, apperrors.ErrNotFound) {
			return analysis, err
		}
	}
	return s.analyses.GetBySlug(ctx, ref)
}

func (s *analysisService) resolveRepository(ctx context.Context, ref string) (*models.Repository, error) {
	if id, err := uuid.Parse(ref); err == nil {
		repo, err := s.repos.GetByID(ctx, id)
		if err == nil || !errors.Is(err, apperrors.ErrNotFound) {
			return repo, err
		}
	}
	if owner, name, err := ParseRepositoryRef(ref); err == nil && strings.Contains(ref, "/") {
		return s.repos.GetByOwnerName(ctx, owner, name)
	}
	return s.repos.GetBySlug(ctx, ref)
}

func (s *analysisService) cacheGet(ctx context.Context, ref string) *models.Analysis {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, analysisCacheKey(ref)).Bytes()
	if err != nil {
		return nil
	}
	var analysis models.Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil
	}
	return &analysis
}

func (s *analysisService) cacheSet(ctx context.Context, ref string, analysis *models.Analysis) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, analysisCacheKey(ref), raw, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("cache write failed", zap.Error(err))
	}
}

func analysisCacheKey(ref string) string {
	return "analysis:" + ref
}

// ParseRepositoryRef accepts "owner/name", "github.com/owner/name", or a
// full https URL, with or without a trailing .git.
func ParseRepositoryRef(ref string) (owner, name string, err error) {
	cleaned := strings.TrimSpace(ref)
	cleaned = strings.TrimPrefix(cleaned, "https://")
	cleaned = strings.TrimPrefix(cleaned, "http://")
	cleaned = strings.TrimPrefix(cleaned, "github.com/")
	cleaned = strings.TrimSuffix(cleaned, ".git")
	cleaned = strings.Trim(cleaned, "/")

	parts := strings.Split(cleaned, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository reference %q is not owner/name shaped: %w", ref, apperrors.ErrValidation)
	}
	return parts[0], parts[1], nil
}

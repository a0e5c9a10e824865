package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
	"github.com/prsnl-labs/intel-engine/pkg/search"
)

// memAnalysisRepo is an in-memory AnalysisRepository with the same
// guarded-update semantics as the Postgres implementation, safe for the
// concurrent queue workers the dispatcher tests run under.
type memAnalysisRepo struct {
	mu          sync.Mutex
	analyses    map[uuid.UUID]*models.Analysis
	transitions []string
	touches     int
	forcedErr   error
}

func newMemAnalysisRepo() *memAnalysisRepo {
	return &memAnalysisRepo{analyses: make(map[uuid.UUID]*models.Analysis)}
}

var _ repositories.AnalysisRepository = (*memAnalysisRepo)(nil)

func copyAnalysis(a *models.Analysis) *models.Analysis {
	dup := *a
	dup.StageResults = make(map[string]models.StageResult, len(a.StageResults))
	for k, v := range a.StageResults {
		dup.StageResults[k] = v
	}
	dup.DegradedReasons = append([]string(nil), a.DegradedReasons...)
	return &dup
}

func (m *memAnalysisRepo) Create(ctx context.Context, analysis *models.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forcedErr != nil {
		return m.forcedErr
	}
	if analysis.StageResults == nil {
		analysis.StageResults = map[string]models.StageResult{}
	}
	analysis.CreatedAt = time.Now()
	analysis.UpdatedAt = analysis.CreatedAt
	m.analyses[analysis.ID] = copyAnalysis(analysis)
	return nil
}

func (m *memAnalysisRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forcedErr != nil {
		return nil, m.forcedErr
	}
	a, ok := m.analyses[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyAnalysis(a), nil
}

func (m *memAnalysisRepo) GetBySlug(ctx context.Context, slug string) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.analyses {
		if a.Slug == slug {
			return copyAnalysis(a), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memAnalysisRepo) ListByRepository(ctx context.Context, repositoryID uuid.UUID, limit int) ([]*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Analysis
	for _, a := range m.analyses {
		if a.RepositoryID == repositoryID {
			out = append(out, copyAnalysis(a))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAnalysisRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.analyses {
		if a.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAnalysisRepo) TransitionStage(ctx context.Context, id uuid.UUID, from, to models.AnalysisStage) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid stage transition %s -> %s: %w", from, to, apperrors.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.Stage != from {
		return false, nil
	}
	a.Stage = to
	a.UpdatedAt = time.Now()
	if to == models.StageCompleted {
		now := time.Now()
		a.CompletedAt = &now
	}
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
	return true, nil
}

func (m *memAnalysisRepo) RecordStageResult(ctx context.Context, id uuid.UUID, key string, result models.StageResult) (map[string]models.StageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	a.StageResults[key] = result
	a.UpdatedAt = time.Now()
	merged := make(map[string]models.StageResult, len(a.StageResults))
	for k, v := range a.StageResults {
		merged[k] = v
	}
	return merged, nil
}

func (m *memAnalysisRepo) SetDetection(ctx context.Context, id uuid.UUID, languages map[string]int, frameworks []string, filesAnalyzed, totalLines int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.Languages = languages
	a.Frameworks = frameworks
	a.FilesAnalyzed = filesAnalyzed
	a.TotalLines = totalLines
	a.UpdatedAt = time.Now()
	return nil
}

func (m *memAnalysisRepo) SetScore(ctx context.Context, id uuid.UUID, dimension models.ScoreDimension, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	switch dimension {
	case models.ScoreSecurity:
		a.SecurityScore = &score
	case models.ScorePerformance:
		a.PerformanceScore = &score
	case models.ScoreQuality:
		a.QualityScore = &score
	default:
		return fmt.Errorf("unknown dimension %q", dimension)
	}
	a.UpdatedAt = time.Now()
	return nil
}

func (m *memAnalysisRepo) AddDegradedReason(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, existing := range a.DegradedReasons {
		if existing == reason {
			return nil
		}
	}
	a.Degraded = true
	a.DegradedReasons = append(a.DegradedReasons, reason)
	a.UpdatedAt = time.Now()
	return nil
}

func (m *memAnalysisRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.Stage.IsTerminal() {
		return false, nil
	}
	a.Stage = models.StageFailed
	a.ErrorMessage = &errorMessage
	now := time.Now()
	a.CompletedAt = &now
	a.UpdatedAt = now
	return true, nil
}

func (m *memAnalysisRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.Stage.IsTerminal() {
		return false, nil
	}
	a.Stage = models.StageCancelled
	now := time.Now()
	a.CompletedAt = &now
	a.UpdatedAt = now
	return true, nil
}

func (m *memAnalysisRepo) RequeueOnce(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	if !ok || a.Stage.IsTerminal() || a.RequeueCount != 0 {
		return false, nil
	}
	a.RequeueCount++
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *memAnalysisRepo) Touch(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if a, ok := m.analyses[id]; ok {
		a.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memAnalysisRepo) FindStale(ctx context.Context, threshold time.Duration) ([]*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	var out []*models.Analysis
	for _, a := range m.analyses {
		if !a.Stage.IsTerminal() && a.UpdatedAt.Before(cutoff) {
			out = append(out, copyAnalysis(a))
		}
	}
	return out, nil
}

func (m *memAnalysisRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, a := range m.analyses {
		if a.Stage.IsTerminal() && a.CompletedAt != nil && a.CompletedAt.Before(cutoff) {
			delete(m.analyses, id)
			deleted++
		}
	}
	return deleted, nil
}

// transitionCount returns how often a specific transition was recorded.
func (m *memAnalysisRepo) transitionCount(from, to models.AnalysisStage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, tr := range m.transitions {
		if tr == string(from)+"->"+string(to) {
			count++
		}
	}
	return count
}

// stage returns the current stage without copying.
func (m *memAnalysisRepo) stage(id uuid.UUID) models.AnalysisStage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.analyses[id]; ok {
		return a.Stage
	}
	return ""
}

type memRepoRepo struct {
	mu    sync.Mutex
	repos map[uuid.UUID]*models.Repository
}

func newMemRepoRepo() *memRepoRepo {
	return &memRepoRepo{repos: make(map[uuid.UUID]*models.Repository)}
}

var _ repositories.RepoRepository = (*memRepoRepo)(nil)

func (m *memRepoRepo) Create(ctx context.Context, repo *models.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.repos {
		if existing.Owner == repo.Owner && existing.Name == repo.Name {
			return apperrors.ErrConflict
		}
	}
	repo.CreatedAt = time.Now()
	m.repos[repo.ID] = repo
	return nil
}

func (m *memRepoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[id]; ok {
		return r, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *memRepoRepo) GetBySlug(ctx context.Context, slug string) (*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Slug == slug {
			return r, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memRepoRepo) GetByOwnerName(ctx context.Context, owner, name string) (*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Owner == owner && r.Name == name {
			return r, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memRepoRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

type memInsightRepo struct {
	mu       sync.Mutex
	insights map[uuid.UUID]*models.Insight
	batchErr error
}

func newMemInsightRepo() *memInsightRepo {
	return &memInsightRepo{insights: make(map[uuid.UUID]*models.Insight)}
}

var _ repositories.InsightRepository = (*memInsightRepo)(nil)

func (m *memInsightRepo) CreateBatch(ctx context.Context, insights []*models.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	for _, insight := range insights {
		if insight.ID == uuid.Nil {
			insight.ID = uuid.New()
		}
		insight.CreatedAt = time.Now()
		m.insights[insight.ID] = insight
	}
	return nil
}

func (m *memInsightRepo) ReplaceForAnalysis(ctx context.Context, analysisID uuid.UUID, insights []*models.Insight) error {
	m.mu.Lock()
	if m.batchErr != nil {
		m.mu.Unlock()
		return m.batchErr
	}
	for id, existing := range m.insights {
		if existing.AnalysisID == analysisID {
			delete(m.insights, id)
		}
	}
	m.mu.Unlock()
	return m.CreateBatch(ctx, insights)
}

func (m *memInsightRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.insights[id]; ok {
		return i, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *memInsightRepo) ListByAnalysis(ctx context.Context, analysisID uuid.UUID, status *models.InsightStatus) ([]*models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Insight
	for _, i := range m.insights {
		if i.AnalysisID != analysisID {
			continue
		}
		if status != nil && i.Status != *status {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

func (m *memInsightRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.insights[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	i.Status = status
	i.UpdatedAt = time.Now()
	return i, nil
}

func (m *memInsightRepo) CountByAnalysis(ctx context.Context, analysisID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, i := range m.insights {
		if i.AnalysisID == analysisID {
			count++
		}
	}
	return count, nil
}

type memCrossRefRepo struct {
	mu       sync.Mutex
	byRun    map[uuid.UUID][]*models.CrossReference
	replaces int
	err      error
}

func newMemCrossRefRepo() *memCrossRefRepo {
	return &memCrossRefRepo{byRun: make(map[uuid.UUID][]*models.CrossReference)}
}

var _ repositories.CrossReferenceRepository = (*memCrossRefRepo)(nil)

func (m *memCrossRefRepo) ReplaceForAnalysis(ctx context.Context, analysisID uuid.UUID, refs []*models.CrossReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.replaces++
	m.byRun[analysisID] = refs
	return nil
}

func (m *memCrossRefRepo) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*models.CrossReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byRun[analysisID], nil
}

// stubSearcher serves canned responses keyed by query, or a fixed error.
type stubSearcher struct {
	mu        sync.Mutex
	responses map[string]*search.Response
	err       error
	queries   []string
}

var _ search.Searcher = (*stubSearcher)(nil)

func (s *stubSearcher) Search(ctx context.Context, query string, mode models.SearchMode, limit int) (*search.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	if resp, ok := s.responses[query]; ok {
		return resp, nil
	}
	return &search.Response{SemanticUsed: true}, nil
}

// stubScorer scores every dimension with a fixed value, with per-dimension
// error overrides.
type stubScorer struct {
	mu       sync.Mutex
	score    float64
	findings []models.Finding
	errs     map[models.ScoreDimension]error
	calls    []models.ScoreDimension
}

var _ DimensionScorer = (*stubScorer)(nil)

func (s *stubScorer) Score(ctx context.Context, analysis *models.Analysis, dimension models.ScoreDimension) (float64, []models.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, dimension)
	if err, ok := s.errs[dimension]; ok {
		return 0, nil, err
	}
	return s.score, s.findings, nil
}

// stubPackageAnalyzer returns a fixed report.
type stubPackageAnalyzer struct {
	report *models.PackageReport
	err    error
}

var _ PackageAnalyzer = (*stubPackageAnalyzer)(nil)

func (s *stubPackageAnalyzer) Analyze(ctx context.Context, analysis *models.Analysis) (*models.PackageReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.report != nil {
		return s.report, nil
	}
	return &models.PackageReport{}, nil
}

// recordingHandler notes every analysis it ran for.
type recordingHandler struct {
	mu   sync.Mutex
	runs []uuid.UUID
	err  error
	fn   func(ctx context.Context, analysis *models.Analysis) error
}

var _ StageHandler = (*recordingHandler)(nil)

func (h *recordingHandler) Run(ctx context.Context, analysis *models.Analysis) error {
	h.mu.Lock()
	h.runs = append(h.runs, analysis.ID)
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx, analysis)
	}
	return h.err
}

func (h *recordingHandler) runCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

// stubDispatcher records Start and Requeue calls without a fabric.
type stubDispatcher struct {
	mu       sync.Mutex
	started  []uuid.UUID
	requeued []uuid.UUID
	startErr error
}

var _ StageDispatcher = (*stubDispatcher)(nil)

func (d *stubDispatcher) Register(stage models.AnalysisStage, queueName string, handler StageHandler) error {
	return nil
}

func (d *stubDispatcher) Start(ctx context.Context, analysisID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, analysisID)
	return d.startErr
}

func (d *stubDispatcher) Requeue(ctx context.Context, analysis *models.Analysis) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requeued = append(d.requeued, analysis.ID)
	return nil
}

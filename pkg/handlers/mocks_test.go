package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/services"
)

// mockAnalysisService is a configurable AnalysisService for handler tests.
type mockAnalysisService struct {
	submitFunc            func(ctx context.Context, req services.SubmitRequest) (*services.SubmitResult, error)
	getFunc               func(ctx context.Context, ref string) (*models.Analysis, error)
	listByRepoFunc        func(ctx context.Context, repoRef string, limit int) ([]*models.Analysis, error)
	listInsightsFunc      func(ctx context.Context, analysisRef string, status *models.InsightStatus) ([]*models.Insight, error)
	updateInsightFunc     func(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error)
	listCrossRefsFunc     func(ctx context.Context, analysisRef string) ([]*models.CrossReference, error)
	cancelFunc            func(ctx context.Context, ref string) error
	lastSubmit            *services.SubmitRequest
	lastListInsightsState *models.InsightStatus
}

var _ services.AnalysisService = (*mockAnalysisService)(nil)

func (m *mockAnalysisService) Submit(ctx context.Context, req services.SubmitRequest) (*services.SubmitResult, error) {
	m.lastSubmit = &req
	if m.submitFunc != nil {
		return m.submitFunc(ctx, req)
	}
	return &services.SubmitResult{AnalysisID: uuid.New(), Slug: "acme-widget-analysis"}, nil
}

func (m *mockAnalysisService) GetAnalysis(ctx context.Context, ref string) (*models.Analysis, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, ref)
	}
	return &models.Analysis{ID: uuid.New(), Stage: models.StageQueued}, nil
}

func (m *mockAnalysisService) ListByRepository(ctx context.Context, repoRef string, limit int) ([]*models.Analysis, error) {
	if m.listByRepoFunc != nil {
		return m.listByRepoFunc(ctx, repoRef, limit)
	}
	return nil, nil
}

func (m *mockAnalysisService) ListInsights(ctx context.Context, analysisRef string, status *models.InsightStatus) ([]*models.Insight, error) {
	m.lastListInsightsState = status
	if m.listInsightsFunc != nil {
		return m.listInsightsFunc(ctx, analysisRef, status)
	}
	return nil, nil
}

func (m *mockAnalysisService) UpdateInsightStatus(ctx context.Context, id uuid.UUID, status models.InsightStatus) (*models.Insight, error) {
	if m.updateInsightFunc != nil {
		return m.updateInsightFunc(ctx, id, status)
	}
	return &models.Insight{ID: id, Status: status}, nil
}

func (m *mockAnalysisService) ListCrossReferences(ctx context.Context, analysisRef string) ([]*models.CrossReference, error) {
	if m.listCrossRefsFunc != nil {
		return m.listCrossRefsFunc(ctx, analysisRef)
	}
	return nil, nil
}

func (m *mockAnalysisService) Cancel(ctx context.Context, ref string) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, ref)
	}
	return nil
}

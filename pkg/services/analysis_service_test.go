package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/apperrors"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

type serviceFixture struct {
	service    AnalysisService
	repos      *memRepoRepo
	analyses   *memAnalysisRepo
	insights   *memInsightRepo
	refs       *memCrossRefRepo
	dispatcher *stubDispatcher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		repos:      newMemRepoRepo(),
		analyses:   newMemAnalysisRepo(),
		insights:   newMemInsightRepo(),
		refs:       newMemCrossRefRepo(),
		dispatcher: &stubDispatcher{},
	}
	f.service = NewAnalysisService(f.repos, f.analyses, f.insights, f.refs, f.dispatcher, nil, time.Minute, zap.NewNop())
	return f
}

func TestSubmitCreatesRepositoryAndAnalysis(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)
	assert.Equal(t, "acme-widget-analysis", result.Slug)

	repo, err := f.repos.GetByOwnerName(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "acme-widget", repo.Slug)
	assert.Equal(t, "https://github.com/acme/widget", repo.SourceURL)

	analysis, err := f.analyses.GetByID(context.Background(), result.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, models.StageQueued, analysis.Stage)
	assert.Equal(t, models.DepthStandard, analysis.Depth)
	assert.Equal(t, models.AnalysisTypeWeb, analysis.Type)
	assert.Equal(t, []uuid.UUID{result.AnalysisID}, f.dispatcher.started)
}

func TestSubmitReusesRepositoryAndDisambiguatesSlug(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget", Depth: "deep"})
	require.NoError(t, err)
	second, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "https://github.com/acme/widget.git"})
	require.NoError(t, err)

	assert.Equal(t, "acme-widget-analysis", first.Slug)
	assert.Equal(t, "acme-widget-analysis-2", second.Slug)
	assert.Len(t, f.repos.repos, 1)

	a1, err := f.analyses.GetByID(context.Background(), first.AnalysisID)
	require.NoError(t, err)
	a2, err := f.analyses.GetByID(context.Background(), second.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, a1.RepositoryID, a2.RepositoryID)
	assert.Equal(t, models.DepthDeep, a1.Depth)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	f := newServiceFixture(t)

	cases := []SubmitRequest{
		{Repository: "just-a-name"},
		{Repository: ""},
		{Repository: "acme/widget", Depth: "ultra"},
		{Repository: "acme/widget", Type: "mainframe"},
	}
	for _, req := range cases {
		_, err := f.service.Submit(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "request %+v", req)
	}
	assert.Empty(t, f.dispatcher.started)
	assert.Empty(t, f.repos.repos)
}

func TestSubmitSurvivesEnqueueFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.dispatcher.startErr = assert.AnError

	result, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)

	// The row exists in queued; the sweep picks it up later.
	assert.Equal(t, models.StageQueued, f.analyses.stage(result.AnalysisID))
}

func TestGetAnalysisResolvesIDAndSlug(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)

	byID, err := f.service.GetAnalysis(context.Background(), result.AnalysisID.String())
	require.NoError(t, err)
	assert.Equal(t, result.AnalysisID, byID.ID)

	bySlug, err := f.service.GetAnalysis(context.Background(), result.Slug)
	require.NoError(t, err)
	assert.Equal(t, result.AnalysisID, bySlug.ID)

	_, err = f.service.GetAnalysis(context.Background(), "no-such-analysis")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.service.GetAnalysis(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListByRepositoryAcceptsOwnerNameAndSlug(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)
	_, err = f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)

	byPair, err := f.service.ListByRepository(context.Background(), "acme/widget", 10)
	require.NoError(t, err)
	assert.Len(t, byPair, 2)

	bySlug, err := f.service.ListByRepository(context.Background(), "acme-widget", 10)
	require.NoError(t, err)
	assert.Len(t, bySlug, 2)

	_, err = f.service.ListByRepository(context.Background(), "nobody/nothing", 10)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateInsightStatusEnforcesTransitions(t *testing.T) {
	f := newServiceFixture(t)
	insight := &models.Insight{
		ID:         uuid.New(),
		AnalysisID: uuid.New(),
		Title:      "Hardcoded credential",
		Category:   models.CategorySecurity,
		Severity:   models.SeverityHigh,
		Status:     models.InsightStatusOpen,
	}
	require.NoError(t, f.insights.CreateBatch(context.Background(), []*models.Insight{insight}))

	updated, err := f.service.UpdateInsightStatus(context.Background(), insight.ID, models.InsightStatusDismissed)
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusDismissed, updated.Status)

	// Dismissed is sticky: only reopening is allowed.
	_, err = f.service.UpdateInsightStatus(context.Background(), insight.ID, models.InsightStatusResolved)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.UpdateInsightStatus(context.Background(), insight.ID, models.InsightStatusOpen)
	require.NoError(t, err)

	_, err = f.service.UpdateInsightStatus(context.Background(), insight.ID, "archived")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.UpdateInsightStatus(context.Background(), uuid.New(), models.InsightStatusResolved)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateInsightStatusSameStatusIsNoOp(t *testing.T) {
	f := newServiceFixture(t)
	insight := &models.Insight{
		ID:         uuid.New(),
		AnalysisID: uuid.New(),
		Title:      "Hardcoded credential",
		Category:   models.CategorySecurity,
		Severity:   models.SeverityHigh,
		Status:     models.InsightStatusAcknowledged,
	}
	require.NoError(t, f.insights.CreateBatch(context.Background(), []*models.Insight{insight}))

	// A client retrying a PATCH with the status it already set gets the
	// current record back instead of a validation error.
	updated, err := f.service.UpdateInsightStatus(context.Background(), insight.ID, models.InsightStatusAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, models.InsightStatusAcknowledged, updated.Status)
	// No write happened.
	assert.True(t, updated.UpdatedAt.IsZero())
}

func TestListInsightsFiltersByStatus(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)

	open := &models.Insight{ID: uuid.New(), AnalysisID: result.AnalysisID, Title: "a", Status: models.InsightStatusOpen}
	resolved := &models.Insight{ID: uuid.New(), AnalysisID: result.AnalysisID, Title: "b", Status: models.InsightStatusResolved}
	require.NoError(t, f.insights.CreateBatch(context.Background(), []*models.Insight{open, resolved}))

	status := models.InsightStatusOpen
	got, err := f.service.ListInsights(context.Background(), result.Slug, &status)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)

	bad := models.InsightStatus("archived")
	_, err = f.service.ListInsights(context.Background(), result.Slug, &bad)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCancelIsAdvisoryAndTerminalOnce(t *testing.T) {
	f := newServiceFixture(t)
	result, err := f.service.Submit(context.Background(), SubmitRequest{Repository: "acme/widget"})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(context.Background(), result.Slug))
	assert.Equal(t, models.StageCancelled, f.analyses.stage(result.AnalysisID))

	err = f.service.Cancel(context.Background(), result.Slug)
	assert.ErrorIs(t, err, apperrors.ErrTerminal)
}

func TestParseRepositoryRef(t *testing.T) {
	cases := []struct {
		ref   string
		owner string
		name  string
		ok    bool
	}{
		{"acme/widget", "acme", "widget", true},
		{"github.com/acme/widget", "acme", "widget", true},
		{"https://github.com/acme/widget", "acme", "widget", true},
		{"https://github.com/acme/widget.git", "acme", "widget", true},
		{"  acme/widget  ", "acme", "widget", true},
		{"acme/widget/", "acme", "widget", true},
		{"widget", "", "", false},
		{"a/b/c", "", "", false},
		{"/widget", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		owner, name, err := ParseRepositoryRef(tc.ref)
		if !tc.ok {
			assert.ErrorIs(t, err, apperrors.ErrValidation, "ref %q", tc.ref)
			continue
		}
		require.NoError(t, err, "ref %q", tc.ref)
		assert.Equal(t, tc.owner, owner)
		assert.Equal(t, tc.name, name)
		assert.False(t, strings.Contains(name, ".git"))
	}
}

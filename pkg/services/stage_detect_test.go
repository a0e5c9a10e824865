package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
)

func TestDetectLanguages(t *testing.T) {
	counts := DetectLanguages([]string{
		"src/main.py",
		"src/util.py",
		"web/app.tsx",
		"web/index.ts",
		"scripts/build.sh",
		"README.md",
		"legacy/Parser.JAVA",
	})

	assert.Equal(t, map[string]int{
		"python":     2,
		"typescript": 2,
		"java":       1,
	}, counts)
}

func TestDetectFrameworks(t *testing.T) {
	frameworks := DetectFrameworks([]string{
		"manage.py",
		"src/App.tsx",
		"requirements.txt",
		"pages/index.js",
	})
	assert.Equal(t, []string{"django", "react"}, frameworks)

	assert.Empty(t, DetectFrameworks([]string{"src/lib.rs", "Cargo.toml"}))
}

func TestDetectHandlerPersistsDetection(t *testing.T) {
	analyses := newMemAnalysisRepo()
	handler := NewDetectHandler(analyses, zap.NewNop())

	analysis := &models.Analysis{
		ID:           uuid.New(),
		RepositoryID: uuid.New(),
		Stage:        models.StageDetecting,
		Depth:        models.DepthStandard,
		StageResults: map[string]models.StageResult{
			string(models.StageIngesting): {
				Status: models.StageResultSucceeded,
				Ingest: &models.IngestResult{
					FileCount:  2,
					TotalLines: 130,
					Files: []models.SampledFile{
						{Path: "manage.py", Lines: 30},
						{Path: "polls/views.py", Lines: 100},
					},
					TreePaths: []string{"manage.py", "polls/views.py", "polls/models.py", "static/app.js"},
				},
			},
		},
	}
	require.NoError(t, analyses.Create(context.Background(), analysis))

	require.NoError(t, handler.Run(context.Background(), analysis))

	updated, err := analyses.GetByID(context.Background(), analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"python": 3, "javascript": 1}, updated.Languages)
	assert.Equal(t, []string{"django"}, updated.Frameworks)
	assert.Equal(t, 2, updated.FilesAnalyzed)
	assert.Equal(t, 130, updated.TotalLines)

	result := updated.StageResults[string(models.StageDetecting)]
	assert.Equal(t, models.StageResultSucceeded, result.Status)
	require.NotNil(t, result.Detect)
	assert.Equal(t, []string{"django"}, result.Detect.Frameworks)
}

func TestDetectHandlerFallsBackToSampledFiles(t *testing.T) {
	analyses := newMemAnalysisRepo()
	handler := NewDetectHandler(analyses, zap.NewNop())

	analysis := &models.Analysis{
		ID:           uuid.New(),
		RepositoryID: uuid.New(),
		Stage:        models.StageDetecting,
		Depth:        models.DepthStandard,
		StageResults: map[string]models.StageResult{
			string(models.StageIngesting): {
				Status: models.StageResultSucceeded,
				Ingest: &models.IngestResult{
					Files: []models.SampledFile{{Path: "cmd/main.go", Lines: 50}},
				},
			},
		},
	}
	require.NoError(t, analyses.Create(context.Background(), analysis))
	require.NoError(t, handler.Run(context.Background(), analysis))

	updated, err := analyses.GetByID(context.Background(), analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"go": 1}, updated.Languages)
}

func TestDetectHandlerRequiresIngestResult(t *testing.T) {
	analyses := newMemAnalysisRepo()
	handler := NewDetectHandler(analyses, zap.NewNop())

	analysis := &models.Analysis{
		ID:           uuid.New(),
		RepositoryID: uuid.New(),
		Stage:        models.StageDetecting,
		Depth:        models.DepthStandard,
		StageResults: map[string]models.StageResult{},
	}
	require.NoError(t, analyses.Create(context.Background(), analysis))

	err := handler.Run(context.Background(), analysis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ingest result")
}

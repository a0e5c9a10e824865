package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/llm"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

func scorableAnalysis() *models.Analysis {
	return &models.Analysis{
		ID:    uuid.New(),
		Stage: models.StageScoring,
		Depth: models.DepthStandard,
		StageResults: map[string]models.StageResult{
			string(models.StageIngesting): {
				Status: models.StageResultSucceeded,
				Ingest: &models.IngestResult{
					Files: []models.SampledFile{
						{Path: "app/db.py", Lines: 80, Content: "def query(raw):\n    return db.execute(raw)"},
						{Path: "app/views.py", Lines: 40, Content: "def index(request): ..."},
					},
				},
			},
		},
	}
}

func TestLLMScorerParsesModelResponse(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		assert.Equal(t, scoringTemperature, temperature)
		assert.Contains(t, prompt, "=== app/db.py (80 lines) ===")
		assert.Contains(t, prompt, "security posture")
		return &llm.GenerateResponseResult{Content: `{
			"score": 62,
			"findings": [
				{"title": "Raw SQL execution", "description": "User input reaches db.execute.", "severity": "HIGH", "file_path": "app/db.py", "line": 2, "certainty": 0.8},
				{"title": "", "description": "dropped, no title"},
				{"title": "Vague worry", "severity": "catastrophic", "certainty": 7.0}
			]
		}`}, nil
	}

	scorer := NewLLMScorer(client, zap.NewNop())
	score, findings, err := scorer.Score(context.Background(), scorableAnalysis(), models.ScoreSecurity)
	require.NoError(t, err)
	assert.Equal(t, 62.0, score)
	require.Len(t, findings, 2)

	assert.Equal(t, "security", findings[0].Category)
	assert.Equal(t, "high", findings[0].Severity)
	assert.Equal(t, "app/db.py", findings[0].FilePath)
	assert.Equal(t, 0.8, findings[0].Certainty)

	// Unknown severity normalizes to info, runaway certainty clamps.
	assert.Equal(t, "info", findings[1].Severity)
	assert.Equal(t, 1.0, findings[1].Certainty)
}

func TestLLMScorerClampsScoreAndDefaultsCertainty(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: `{"score": 140, "findings": [{"title": "x"}]}`}, nil
	}

	scorer := NewLLMScorer(client, zap.NewNop())
	score, findings, err := scorer.Score(context.Background(), scorableAnalysis(), models.ScoreQuality)
	require.NoError(t, err)
	assert.Equal(t, 100.0, score)
	require.Len(t, findings, 1)
	assert.Equal(t, 0.5, findings[0].Certainty)
	assert.Equal(t, "code_quality", findings[0].Category)
}

func TestLLMScorerHandlesFencedJSON(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: "```json\n{\"score\": 55, \"findings\": []}\n```"}, nil
	}

	scorer := NewLLMScorer(client, zap.NewNop())
	score, findings, err := scorer.Score(context.Background(), scorableAnalysis(), models.ScorePerformance)
	require.NoError(t, err)
	assert.Equal(t, 55.0, score)
	assert.Empty(t, findings)
}

func TestLLMScorerRejectsGarbageResponse(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: "I would rate this repository a solid 7/10."}, nil
	}

	scorer := NewLLMScorer(client, zap.NewNop())
	_, _, err := scorer.Score(context.Background(), scorableAnalysis(), models.ScoreSecurity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse security scoring response")
}

func TestLLMScorerRequiresSampledFiles(t *testing.T) {
	scorer := NewLLMScorer(llm.NewMockLLMClient(), zap.NewNop())

	analysis := &models.Analysis{
		ID:           uuid.New(),
		Stage:        models.StageScoring,
		StageResults: map[string]models.StageResult{},
	}
	_, _, err := scorer.Score(context.Background(), analysis, models.ScoreSecurity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sampled files")

	_, _, err = scorer.Score(context.Background(), scorableAnalysis(), models.ScoreDimension("elegance"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scoring dimension")
}

func TestBuildScoringPromptTruncatesFileList(t *testing.T) {
	files := make([]models.SampledFile, maxPromptFiles+5)
	for i := range files {
		files[i] = models.SampledFile{Path: "pkg/file.go", Lines: 1, Content: "x"}
	}
	prompt := buildScoringPrompt("code quality", files)
	assert.Contains(t, prompt, "(5 more files omitted)")
	assert.Equal(t, maxPromptFiles, strings.Count(prompt, "=== pkg/file.go"))
}

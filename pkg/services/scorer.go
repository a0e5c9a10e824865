package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/llm"
	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// scoringTemperature keeps scoring output stable across runs.
const scoringTemperature = 0.2

// maxPromptFiles bounds how many sampled files go into one scoring prompt.
const maxPromptFiles = 20

const scorerSystemPrompt = `You are a senior code reviewer scoring a repository sample.
Respond with JSON only, no prose, in this shape:
{
  "score": <0-100 integer, higher is better>,
  "findings": [
    {
      "title": "<short finding title>",
      "description": "<what is wrong and why it matters>",
      "severity": "critical|high|medium|low|info",
      "file_path": "<path from the sample, if applicable>",
      "line": <line number or 0>,
      "certainty": <0.0-1.0>
    }
  ]
}`

var dimensionFocus = map[models.ScoreDimension]string{
	models.ScoreSecurity:    "security posture: injection risks, secrets in code, unsafe deserialization, missing input validation, auth weaknesses",
	models.ScorePerformance: "performance characteristics: algorithmic complexity, N+1 query patterns, unbounded memory growth, blocking calls on hot paths",
	models.ScoreQuality:     "code quality: structure, naming, duplication, error handling discipline, test presence",
}

// dimensionCategory maps a scoring dimension to the insight category its
// findings carry.
var dimensionCategory = map[models.ScoreDimension]models.InsightCategory{
	models.ScoreSecurity:    models.CategorySecurity,
	models.ScorePerformance: models.CategoryPerformance,
	models.ScoreQuality:     models.CategoryQuality,
}

// scoreResponse is the JSON shape the model is asked for.
type scoreResponse struct {
	Score    float64 `json:"score"`
	Findings []struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Severity    string  `json:"severity"`
		FilePath    string  `json:"file_path"`
		Line        int     `json:"line"`
		Certainty   float64 `json:"certainty"`
	} `json:"findings"`
}

// LLMScorer scores one dimension of a repository sample with a language
// model.
type LLMScorer struct {
	client llm.LLMClient
	logger *zap.Logger
}

// NewLLMScorer creates a scorer backed by the given model client.
func NewLLMScorer(client llm.LLMClient, logger *zap.Logger) *LLMScorer {
	return &LLMScorer{
		client: client,
		logger: logger.Named("scorer"),
	}
}

var _ DimensionScorer = (*LLMScorer)(nil)

// Score implements DimensionScorer.
func (s *LLMScorer) Score(ctx context.Context, analysis *models.Analysis, dimension models.ScoreDimension) (float64, []models.Finding, error) {
	focus, ok := dimensionFocus[dimension]
	if !ok {
		return 0, nil, fmt.Errorf("unknown scoring dimension %q", dimension)
	}

	ingested, found := analysis.StageResults[string(models.StageIngesting)]
	if !found || ingested.Ingest == nil || len(ingested.Ingest.Files) == 0 {
		return 0, nil, fmt.Errorf("analysis %s has no sampled files to score", analysis.ID)
	}

	prompt := buildScoringPrompt(focus, ingested.Ingest.Files)
	resp, err := s.client.GenerateResponse(ctx, prompt, scorerSystemPrompt, scoringTemperature)
	if err != nil {
		return 0, nil, fmt.Errorf("%s scoring call failed: %w", dimension, err)
	}

	parsed, err := llm.ParseJSONResponse[scoreResponse](resp.Content)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse %s scoring response: %w", dimension, err)
	}

	score := clampScore(parsed.Score)
	findings := make([]models.Finding, 0, len(parsed.Findings))
	for _, f := range parsed.Findings {
		if strings.TrimSpace(f.Title) == "" {
			continue
		}
		findings = append(findings, models.Finding{
			Category:    string(dimensionCategory[dimension]),
			Severity:    normalizeSeverity(f.Severity),
			Title:       strings.TrimSpace(f.Title),
			Description: strings.TrimSpace(f.Description),
			FilePath:    f.FilePath,
			Line:        f.Line,
			Certainty:   clampCertainty(f.Certainty),
		})
	}

	s.logger.Info("dimension scored",
		zap.String("analysis_id", analysis.ID.String()),
		zap.String("dimension", string(dimension)),
		zap.Float64("score", score),
		zap.Int("findings", len(findings)),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens))
	return score, findings, nil
}

func buildScoringPrompt(focus string, files []models.SampledFile) string {
	var b strings.Builder
	b.WriteString("Assess the following repository sample for ")
	b.WriteString(focus)
	b.WriteString(".\n\n")
	for i, f := range files {
		if i >= maxPromptFiles {
			fmt.Fprintf(&b, "\n(%d more files omitted)\n", len(files)-maxPromptFiles)
			break
		}
		fmt.Fprintf(&b, "=== %s (%d lines) ===\n%s\n\n", f.Path, f.Lines, f.Content)
	}
	return b.String()
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clampCertainty(c float64) float64 {
	if c <= 0 {
		// Models sometimes omit certainty; treat as moderately confident
		// rather than discarding the finding.
		return 0.5
	}
	if c > 1 {
		return 1
	}
	return c
}

func normalizeSeverity(s string) string {
	severity := models.InsightSeverity(strings.ToLower(strings.TrimSpace(s)))
	if models.IsValidInsightSeverity(severity) {
		return string(severity)
	}
	return string(models.SeverityInfo)
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
)

// corroborationBoost is added to confidence for each additional analyzer
// agreeing on a finding, capped at 1.0.
const corroborationBoost = 0.15

// recommendationsByCategory supplies a default recommendation when the
// finding itself carries none.
var recommendationsByCategory = map[models.InsightCategory]string{
	models.CategorySecurity:    "Review the flagged code path and add validation or safer primitives.",
	models.CategoryPerformance: "Profile the flagged path and restructure the hot loop or query.",
	models.CategoryQuality:     "Refactor toward smaller units and consistent error handling.",
	models.CategoryDependency:  "Pin, upgrade, or replace the flagged dependency.",
}

// InsightGenerator turns the accumulated stage results of an analysis
// into insight records. Findings that agree across analyzers are merged
// with a confidence boost instead of duplicated.
type InsightGenerator struct {
	analyses repositories.AnalysisRepository
	insights repositories.InsightRepository
	logger   *zap.Logger
}

// NewInsightGenerator creates the insight generation stage handler.
func NewInsightGenerator(
	analyses repositories.AnalysisRepository,
	insights repositories.InsightRepository,
	logger *zap.Logger,
) *InsightGenerator {
	return &InsightGenerator{
		analyses: analyses,
		insights: insights,
		logger:   logger.Named("insight-generator"),
	}
}

var _ StageHandler = (*InsightGenerator)(nil)

func (g *InsightGenerator) Run(ctx context.Context, analysis *models.Analysis) error {
	insights := GenerateInsights(analysis)

	// Replace rather than append: the reconciler may redeliver this stage
	// after a crash mid-run, and a second pass must not duplicate the batch.
	if err := g.insights.ReplaceForAnalysis(ctx, analysis.ID, insights); err != nil {
		return fmt.Errorf("failed to store insights: %w", err)
	}

	now := time.Now()
	result := models.StageResult{
		Status:      models.StageResultSucceeded,
		Detail:      fmt.Sprintf("%d insights generated", len(insights)),
		CompletedAt: &now,
	}
	if _, err := g.analyses.RecordStageResult(ctx, analysis.ID, string(models.StageInsightGeneration), result); err != nil {
		return fmt.Errorf("failed to record insight generation result: %w", err)
	}

	g.logger.Info("insights generated",
		zap.String("analysis_id", analysis.ID.String()),
		zap.Int("count", len(insights)))
	return nil
}

// GenerateInsights maps every analyzer signal in the stage results to
// insight records, merging duplicates.
func GenerateInsights(analysis *models.Analysis) []*models.Insight {
	var raw []*models.Insight

	for _, dim := range models.AllScoreDimensions {
		result, ok := analysis.StageResults[string(dim)]
		if !ok || result.Status != models.StageResultSucceeded {
			continue
		}
		analyzer := "score_" + string(dim)
		for _, f := range result.Findings {
			raw = append(raw, findingToInsight(analysis.ID, analyzer, f))
		}
	}

	if pkgResult, ok := analysis.StageResults[packagesResultKey]; ok && pkgResult.Packages != nil {
		for _, signal := range pkgResult.Packages.Packages {
			raw = append(raw, packageSignalToInsight(analysis.ID, signal))
		}
	}

	return mergeInsights(raw)
}

func findingToInsight(analysisID uuid.UUID, analyzer string, f models.Finding) *models.Insight {
	category := models.InsightCategory(f.Category)
	if !models.IsValidInsightCategory(category) {
		category = models.CategoryQuality
	}
	severity := models.InsightSeverity(f.Severity)
	if !models.IsValidInsightSeverity(severity) {
		severity = models.SeverityInfo
	}

	location := f.FilePath
	if location != "" && f.Line > 0 {
		location = fmt.Sprintf("%s:%d", f.FilePath, f.Line)
	}

	return &models.Insight{
		AnalysisID:     analysisID,
		Title:          f.Title,
		Description:    f.Description,
		Recommendation: recommendationsByCategory[category],
		Category:       category,
		Severity:       severity,
		Status:         models.InsightStatusOpen,
		Confidence:     f.Certainty,
		Location:       location,
		GeneratedBy:    analyzer,
	}
}

func packageSignalToInsight(analysisID uuid.UUID, signal models.PackageSignal) *models.Insight {
	severity := models.SeverityInfo
	title := fmt.Sprintf("Dependency %s needs attention", signal.Name)
	description := fmt.Sprintf("%s dependency %s %s", signal.Ecosystem, signal.Name, signal.Version)
	switch {
	case signal.Legacy:
		severity = models.SeverityMedium
		title = fmt.Sprintf("Legacy dependency %s", signal.Name)
		description = fmt.Sprintf("%s is flagged as legacy: %s", signal.Name, signal.Note)
	case signal.Unpinned:
		severity = models.SeverityLow
		title = fmt.Sprintf("Unpinned dependency %s", signal.Name)
		description = fmt.Sprintf("%s dependency %s has no pinned version, builds are not reproducible", signal.Ecosystem, signal.Name)
	case signal.PreStable:
		description = fmt.Sprintf("%s dependency %s is pre-1.0 (%s), expect breaking changes", signal.Ecosystem, signal.Name, signal.Version)
	}

	return &models.Insight{
		AnalysisID:     analysisID,
		Title:          title,
		Description:    description,
		Recommendation: recommendationsByCategory[models.CategoryDependency],
		Category:       models.CategoryDependency,
		Severity:       severity,
		Status:         models.InsightStatusOpen,
		// Manifest parsing is exact, not probabilistic.
		Confidence:  0.9,
		Location:    signal.Name,
		GeneratedBy: "package_intelligence",
	}
}

// mergeInsights collapses findings with the same category and overlapping
// location. The merged insight keeps the highest severity; agreement
// across distinct analyzers boosts confidence.
func mergeInsights(raw []*models.Insight) []*models.Insight {
	merged := make(map[string]*models.Insight)
	analyzers := make(map[string]map[string]bool)
	var order []string

	for _, insight := range raw {
		key := mergeKey(insight)
		existing, ok := merged[key]
		if !ok {
			merged[key] = insight
			analyzers[key] = map[string]bool{insight.GeneratedBy: true}
			order = append(order, key)
			continue
		}

		existing.Severity = models.MaxSeverity(existing.Severity, insight.Severity)
		if insight.Confidence > existing.Confidence {
			existing.Confidence = insight.Confidence
		}
		if len(insight.Description) > len(existing.Description) {
			existing.Description = insight.Description
		}
		if !analyzers[key][insight.GeneratedBy] {
			analyzers[key][insight.GeneratedBy] = true
			existing.CorroboratedBy = append(existing.CorroboratedBy, insight.GeneratedBy)
		}
	}

	out := make([]*models.Insight, 0, len(merged))
	for _, key := range order {
		insight := merged[key]
		boost := corroborationBoost * float64(len(insight.CorroboratedBy))
		insight.Confidence += boost
		if insight.Confidence > 1.0 {
			insight.Confidence = 1.0
		}
		sort.Strings(insight.CorroboratedBy)
		out = append(out, insight)
	}

	// Most severe first so the facade lists the urgent ones on top.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// mergeKey treats two findings as duplicates when they share a category
// and point at the same file (ignoring line numbers) or, lacking a
// location, carry the same normalized title.
func mergeKey(insight *models.Insight) string {
	location := insight.Location
	if idx := strings.LastIndex(location, ":"); idx > 0 {
		location = location[:idx]
	}
	if location == "" {
		location = strings.ToLower(strings.TrimSpace(insight.Title))
	}
	return string(insight.Category) + "|" + location
}

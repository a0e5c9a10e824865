package services

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
)

// languageExtensions maps file extensions to language names.
var languageExtensions = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".go":    "go",
	".rs":    "rust",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
}

// frameworkIndicators maps a framework to paths whose presence marks it.
var frameworkIndicators = map[string][]string{
	"react":   {"src/App.js", "src/App.jsx", "src/App.tsx"},
	"vue":     {"vue.config.js", "src/App.vue"},
	"angular": {"angular.json", "src/app/app.module.ts"},
	"django":  {"manage.py", "settings.py"},
	"fastapi": {"main.py", "app/main.py"},
	"express": {"app.js", "server.js"},
	"nextjs":  {"next.config.js", "pages/_app.js"},
	"svelte":  {"svelte.config.js", "src/App.svelte"},
	"rails":   {"Gemfile", "config/routes.rb"},
	"spring":  {"pom.xml", "build.gradle"},
}

// DetectHandler derives languages and frameworks from the tree listing
// captured at ingest. Languages are counted per file so the facade can
// order them by prevalence.
type DetectHandler struct {
	analyses repositories.AnalysisRepository
	logger   *zap.Logger
}

// NewDetectHandler creates the detection stage handler.
func NewDetectHandler(analyses repositories.AnalysisRepository, logger *zap.Logger) *DetectHandler {
	return &DetectHandler{
		analyses: analyses,
		logger:   logger.Named("detect-stage"),
	}
}

var _ StageHandler = (*DetectHandler)(nil)

func (h *DetectHandler) Run(ctx context.Context, analysis *models.Analysis) error {
	ingested, ok := analysis.StageResults[string(models.StageIngesting)]
	if !ok || ingested.Ingest == nil {
		return fmt.Errorf("analysis %s has no ingest result to detect from", analysis.ID)
	}

	paths := ingested.Ingest.TreePaths
	if len(paths) == 0 {
		for _, f := range ingested.Ingest.Files {
			paths = append(paths, f.Path)
		}
	}

	languages := DetectLanguages(paths)
	frameworks := DetectFrameworks(paths)

	if err := h.analyses.SetDetection(ctx, analysis.ID, languages, frameworks,
		ingested.Ingest.FileCount, ingested.Ingest.TotalLines); err != nil {
		return fmt.Errorf("failed to persist detection: %w", err)
	}

	now := time.Now()
	result := models.StageResult{
		Status:      models.StageResultSucceeded,
		CompletedAt: &now,
		Detect: &models.DetectResult{
			Languages:  languages,
			Frameworks: frameworks,
		},
	}
	if _, err := h.analyses.RecordStageResult(ctx, analysis.ID, string(models.StageDetecting), result); err != nil {
		return fmt.Errorf("failed to record detection result: %w", err)
	}

	h.logger.Info("detection complete",
		zap.String("analysis_id", analysis.ID.String()),
		zap.Int("languages", len(languages)),
		zap.Strings("frameworks", frameworks))
	return nil
}

// DetectLanguages counts files per language across the tree listing.
func DetectLanguages(paths []string) map[string]int {
	counts := make(map[string]int)
	for _, p := range paths {
		if lang, ok := languageExtensions[strings.ToLower(path.Ext(p))]; ok {
			counts[lang]++
		}
	}
	return counts
}

// DetectFrameworks matches indicator paths against the tree listing.
// Returned sorted so detection output is deterministic.
func DetectFrameworks(paths []string) []string {
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
	}

	var frameworks []string
	for framework, indicators := range frameworkIndicators {
		for _, indicator := range indicators {
			if present[indicator] {
				frameworks = append(frameworks, framework)
				break
			}
		}
	}
	sort.Strings(frameworks)
	return frameworks
}

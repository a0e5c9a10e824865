package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Analysis Stages
// ============================================================================

// AnalysisStage represents the current stage of an analysis run.
// State machine:
//
//	queued → ingesting → detecting → scoring → insight_generation → cross_referencing → completed
//
//	Any non-terminal state can transition to: failed, cancelled
type AnalysisStage string

const (
	StageQueued            AnalysisStage = "queued"
	StageIngesting         AnalysisStage = "ingesting"
	StageDetecting         AnalysisStage = "detecting"
	StageScoring           AnalysisStage = "scoring"
	StageInsightGeneration AnalysisStage = "insight_generation"
	StageCrossReferencing  AnalysisStage = "cross_referencing"
	StageCompleted         AnalysisStage = "completed"
	StageFailed            AnalysisStage = "failed"
	StageCancelled         AnalysisStage = "cancelled"
)

// ValidAnalysisStages contains all valid stage values.
var ValidAnalysisStages = []AnalysisStage{
	StageQueued,
	StageIngesting,
	StageDetecting,
	StageScoring,
	StageInsightGeneration,
	StageCrossReferencing,
	StageCompleted,
	StageFailed,
	StageCancelled,
}

// IsValidAnalysisStage checks if the given stage is valid.
func IsValidAnalysisStage(s AnalysisStage) bool {
	for _, v := range ValidAnalysisStages {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the stage is terminal (completed, failed, or cancelled).
func (s AnalysisStage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// CanTransitionTo returns true if transitioning from this stage to the target is valid.
func (s AnalysisStage) CanTransitionTo(target AnalysisStage) bool {
	// Any non-terminal stage can fail or be cancelled
	if !s.IsTerminal() && (target == StageFailed || target == StageCancelled) {
		return true
	}

	switch s {
	case StageQueued:
		return target == StageIngesting
	case StageIngesting:
		return target == StageDetecting
	case StageDetecting:
		return target == StageScoring
	case StageScoring:
		return target == StageInsightGeneration
	case StageInsightGeneration:
		return target == StageCrossReferencing
	case StageCrossReferencing:
		return target == StageCompleted
	case StageCompleted, StageFailed, StageCancelled:
		return false // Terminal states
	default:
		return false
	}
}

// Next returns the stage that follows this one on the happy path,
// or "" if the stage is terminal.
func (s AnalysisStage) Next() AnalysisStage {
	switch s {
	case StageQueued:
		return StageIngesting
	case StageIngesting:
		return StageDetecting
	case StageDetecting:
		return StageScoring
	case StageScoring:
		return StageInsightGeneration
	case StageInsightGeneration:
		return StageCrossReferencing
	case StageCrossReferencing:
		return StageCompleted
	default:
		return ""
	}
}

// ============================================================================
// Analysis Depth and Type
// ============================================================================

// AnalysisDepth controls how much of the repository is examined.
type AnalysisDepth string

const (
	DepthShallow  AnalysisDepth = "shallow"
	DepthStandard AnalysisDepth = "standard"
	DepthDeep     AnalysisDepth = "deep"
)

// ValidAnalysisDepths contains all valid depth values.
var ValidAnalysisDepths = []AnalysisDepth{
	DepthShallow,
	DepthStandard,
	DepthDeep,
}

// IsValidAnalysisDepth checks if the given depth is valid.
func IsValidAnalysisDepth(d AnalysisDepth) bool {
	for _, v := range ValidAnalysisDepths {
		if v == d {
			return true
		}
	}
	return false
}

// FileLimit returns how many files are sampled at this depth.
func (d AnalysisDepth) FileLimit() int {
	switch d {
	case DepthShallow:
		return 5
	case DepthDeep:
		return 60
	default:
		return 20
	}
}

// IncludesPackages reports whether the package intelligence pass runs at
// this depth. Shallow runs skip it.
func (d AnalysisDepth) IncludesPackages() bool {
	return d != DepthShallow
}

// AnalysisType records where the submission came from.
type AnalysisType string

const (
	AnalysisTypeWeb    AnalysisType = "web"
	AnalysisTypeCLI    AnalysisType = "cli"
	AnalysisTypeManual AnalysisType = "manual"
)

// ValidAnalysisTypes contains all valid analysis type values.
var ValidAnalysisTypes = []AnalysisType{
	AnalysisTypeWeb,
	AnalysisTypeCLI,
	AnalysisTypeManual,
}

// IsValidAnalysisType checks if the given type is valid.
func IsValidAnalysisType(t AnalysisType) bool {
	for _, v := range ValidAnalysisTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ============================================================================
// Scoring Dimensions
// ============================================================================

// ScoreDimension names one of the parallel scoring passes.
type ScoreDimension string

const (
	ScoreSecurity    ScoreDimension = "security"
	ScorePerformance ScoreDimension = "performance"
	ScoreQuality     ScoreDimension = "quality"
)

// AllScoreDimensions lists every scoring pass an analysis fans out to.
var AllScoreDimensions = []ScoreDimension{
	ScoreSecurity,
	ScorePerformance,
	ScoreQuality,
}

// ============================================================================
// Stage Results
// ============================================================================

// StageResult records the outcome of a single stage or scoring pass.
// Stored in the stage_results JSONB column keyed by stage/dimension name.
// At most one payload field (Ingest, Detect, Findings, Packages) is set,
// matching the stage that produced it.
type StageResult struct {
	Status      string         `json:"status"` // succeeded, failed, skipped
	Score       *float64       `json:"score,omitempty"`
	Error       string         `json:"error,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Ingest      *IngestResult  `json:"ingest,omitempty"`
	Detect      *DetectResult  `json:"detect,omitempty"`
	Findings    []Finding      `json:"findings,omitempty"`
	Packages    *PackageReport `json:"packages,omitempty"`
}

// IngestResult carries the sampled source the downstream stages work from.
type IngestResult struct {
	DefaultBranch string        `json:"default_branch"`
	FileCount     int           `json:"file_count"`
	TotalLines    int           `json:"total_lines"`
	Files         []SampledFile `json:"files"`
	TreePaths     []string      `json:"tree_paths,omitempty"`
}

// SampledFile is one truncated source file captured at ingest.
type SampledFile struct {
	Path    string `json:"path"`
	Lines   int    `json:"lines"`
	Content string `json:"content"`
}

// DetectResult carries detected languages and frameworks.
type DetectResult struct {
	Languages  map[string]int `json:"languages"`
	Frameworks []string       `json:"frameworks"`
}

// Finding is a single signal emitted by a scoring pass, later mapped to
// insights.
type Finding struct {
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	FilePath    string  `json:"file_path,omitempty"`
	Line        int     `json:"line,omitempty"`
	Certainty   float64 `json:"certainty"`
}

// PackageReport summarizes the dependency manifests found at ingest.
type PackageReport struct {
	Manifests []string        `json:"manifests"`
	Packages  []PackageSignal `json:"packages"`
}

// PackageSignal flags one declared dependency worth attention.
type PackageSignal struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Ecosystem string `json:"ecosystem"`
	Unpinned  bool   `json:"unpinned,omitempty"`
	PreStable bool   `json:"pre_stable,omitempty"`
	Legacy    bool   `json:"legacy,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Stage result status values.
const (
	StageResultSucceeded = "succeeded"
	StageResultFailed    = "failed"
	StageResultSkipped   = "skipped"
)

// ============================================================================
// Analysis Model
// ============================================================================

// Analysis is a single run of the pipeline over a repository.
type Analysis struct {
	ID               uuid.UUID              `json:"id"`
	RepositoryID     uuid.UUID              `json:"repository_id"`
	Slug             string                 `json:"slug"`
	Type             AnalysisType           `json:"analysis_type"`
	Depth            AnalysisDepth          `json:"depth"`
	Stage            AnalysisStage          `json:"stage"`
	RequeueCount     int                    `json:"requeue_count"`
	Degraded         bool                   `json:"degraded"`
	DegradedReasons  []string               `json:"degraded_reasons,omitempty"`
	ErrorMessage     *string                `json:"error_message,omitempty"`
	StageResults     map[string]StageResult `json:"stage_results"`
	SecurityScore    *float64               `json:"security_score,omitempty"`
	PerformanceScore *float64               `json:"performance_score,omitempty"`
	QualityScore     *float64               `json:"quality_score,omitempty"`
	Languages        map[string]int         `json:"languages"`
	Frameworks       []string               `json:"frameworks"`
	FilesAnalyzed    int                    `json:"files_analyzed"`
	TotalLines       int                    `json:"total_lines"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// OverallScore averages the scoring dimensions that produced a value.
// Returns nil when no dimension succeeded.
func (a *Analysis) OverallScore() *float64 {
	var sum float64
	var n int
	for _, s := range []*float64{a.SecurityScore, a.PerformanceScore, a.QualityScore} {
		if s != nil {
			sum += *s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// ScoringComplete reports whether every scoring pass has a recorded result,
// succeeded or not. The fan-in barrier advances the analysis only when this
// is true.
func (a *Analysis) ScoringComplete() bool {
	for _, dim := range AllScoreDimensions {
		if _, ok := a.StageResults[string(dim)]; !ok {
			return false
		}
	}
	return true
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Insight Categories
// ============================================================================

// InsightCategory classifies what kind of finding an insight is.
type InsightCategory string

const (
	CategorySecurity      InsightCategory = "security"
	CategoryPerformance   InsightCategory = "performance"
	CategoryQuality       InsightCategory = "code_quality"
	CategoryArchitecture  InsightCategory = "architecture"
	CategoryDependency    InsightCategory = "dependency"
	CategoryDocumentation InsightCategory = "documentation"
)

// ValidInsightCategories contains all valid category values.
var ValidInsightCategories = []InsightCategory{
	CategorySecurity,
	CategoryPerformance,
	CategoryQuality,
	CategoryArchitecture,
	CategoryDependency,
	CategoryDocumentation,
}

// IsValidInsightCategory checks if the given category is valid.
func IsValidInsightCategory(c InsightCategory) bool {
	for _, v := range ValidInsightCategories {
		if v == c {
			return true
		}
	}
	return false
}

// ============================================================================
// Insight Severity
// ============================================================================

// InsightSeverity ranks how urgent a finding is.
type InsightSeverity string

const (
	SeverityCritical InsightSeverity = "critical"
	SeverityHigh     InsightSeverity = "high"
	SeverityMedium   InsightSeverity = "medium"
	SeverityLow      InsightSeverity = "low"
	SeverityInfo     InsightSeverity = "info"
)

// ValidInsightSeverities contains all valid severity values.
var ValidInsightSeverities = []InsightSeverity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// IsValidInsightSeverity checks if the given severity is valid.
func IsValidInsightSeverity(s InsightSeverity) bool {
	for _, v := range ValidInsightSeverities {
		if v == s {
			return true
		}
	}
	return false
}

// Rank returns an ordering for severity comparison. Higher is more severe.
func (s InsightSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b InsightSeverity) InsightSeverity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ============================================================================
// Insight Status
// ============================================================================

// InsightStatus tracks the review lifecycle of an insight.
// Status transitions are unrestricted between non-dismissed states;
// dismissed is sticky and can only go back to open.
type InsightStatus string

const (
	InsightStatusOpen         InsightStatus = "open"
	InsightStatusAcknowledged InsightStatus = "acknowledged"
	InsightStatusResolved     InsightStatus = "resolved"
	InsightStatusDismissed    InsightStatus = "dismissed"
)

// ValidInsightStatuses contains all valid status values.
var ValidInsightStatuses = []InsightStatus{
	InsightStatusOpen,
	InsightStatusAcknowledged,
	InsightStatusResolved,
	InsightStatusDismissed,
}

// IsValidInsightStatus checks if the given status is valid.
func IsValidInsightStatus(s InsightStatus) bool {
	for _, v := range ValidInsightStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransitionTo returns true if the status change is allowed.
func (s InsightStatus) CanTransitionTo(target InsightStatus) bool {
	if s == target {
		return false
	}
	if s == InsightStatusDismissed {
		return target == InsightStatusOpen
	}
	return true
}

// ============================================================================
// Insight Model
// ============================================================================

// Insight is a single actionable finding produced by the insight
// generation stage of an analysis.
type Insight struct {
	ID             uuid.UUID       `json:"id"`
	AnalysisID     uuid.UUID       `json:"analysis_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation,omitempty"`
	Category       InsightCategory `json:"category"`
	Severity       InsightSeverity `json:"severity"`
	Status         InsightStatus   `json:"status"`
	Confidence     float64         `json:"confidence"`
	Location       string          `json:"location,omitempty"`
	GeneratedBy    string          `json:"generated_by,omitempty"`
	CorroboratedBy []string        `json:"corroborated_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

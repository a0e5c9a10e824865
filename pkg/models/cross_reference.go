package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Search Modes
// ============================================================================

// SearchMode selects which knowledge-search passes run during
// cross-referencing.
type SearchMode string

const (
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeHybrid   SearchMode = "hybrid"
)

// ValidSearchModes contains all valid search mode values.
var ValidSearchModes = []SearchMode{
	SearchModeKeyword,
	SearchModeSemantic,
	SearchModeHybrid,
}

// IsValidSearchMode checks if the given mode is valid.
func IsValidSearchMode(m SearchMode) bool {
	for _, v := range ValidSearchModes {
		if v == m {
			return true
		}
	}
	return false
}

// ============================================================================
// Content Items
// ============================================================================

// ContentItem is a knowledge-base entry that analyses are cross-referenced
// against. Items are written by external ingestion; this engine only reads
// them.
type ContentItem struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Summary   string    `json:"summary,omitempty"`
	Content   string    `json:"content,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ============================================================================
// Cross References
// ============================================================================

// CrossReference links an analysis to a related knowledge item, with the
// per-pass scores that produced the link.
type CrossReference struct {
	ID            uuid.UUID  `json:"id"`
	AnalysisID    uuid.UUID  `json:"analysis_id"`
	ContentItemID uuid.UUID  `json:"content_item_id"`
	Mode          SearchMode `json:"mode"`
	KeywordScore  float64    `json:"keyword_score"`
	SemanticScore float64    `json:"semantic_score"`
	Relevance     float64    `json:"relevance"`
	Snippet       string     `json:"snippet,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// Item is the joined knowledge entry, populated on reads.
	Item *ContentItem `json:"item,omitempty"`
}

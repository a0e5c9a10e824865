// Package search runs the knowledge lookups behind cross-referencing.
// The keyword pass queries Postgres full-text search, the semantic pass
// queries Weaviate, and hybrid merges both with fixed weights.
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/prsnl-labs/intel-engine/pkg/models"
)

// Weights for combining pass scores in hybrid mode.
const (
	SemanticWeight = 0.6
	KeywordWeight  = 0.4
)

// Result is one knowledge item matched by a search.
type Result struct {
	ContentItemID uuid.UUID
	Item          *models.ContentItem // nil for semantic hits not yet joined
	KeywordScore  float64
	SemanticScore float64
	Relevance     float64
	Snippet       string
}

// Response is the outcome of a search, including whether the semantic
// pass contributed. A hybrid search that loses its semantic pass still
// returns keyword results; callers use SemanticError to record the
// degradation.
type Response struct {
	Results       []Result
	SemanticUsed  bool
	SemanticError string
}

// Searcher runs knowledge searches in the requested mode.
type Searcher interface {
	Search(ctx context.Context, query string, mode models.SearchMode, limit int) (*Response, error)
}

package search

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
)

// HybridSearcher dispatches searches by mode and merges the keyword and
// semantic passes in hybrid mode.
type HybridSearcher struct {
	keyword  *KeywordSearcher
	semantic *SemanticSearcher // nil when Weaviate is not configured
	contents repositories.ContentRepository
	logger   *zap.Logger
}

// NewHybridSearcher composes the two passes. semantic may be nil; hybrid
// and semantic searches then degrade to keyword-only.
func NewHybridSearcher(keyword *KeywordSearcher, semantic *SemanticSearcher, contents repositories.ContentRepository, logger *zap.Logger) *HybridSearcher {
	return &HybridSearcher{
		keyword:  keyword,
		semantic: semantic,
		contents: contents,
		logger:   logger.Named("search"),
	}
}

var _ Searcher = (*HybridSearcher)(nil)

// Search implements Searcher.
func (s *HybridSearcher) Search(ctx context.Context, query string, mode models.SearchMode, limit int) (*Response, error) {
	switch mode {
	case models.SearchModeKeyword:
		results, err := s.keyword.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		return &Response{Results: results}, nil

	case models.SearchModeSemantic, models.SearchModeHybrid:
		return s.searchHybrid(ctx, query, mode, limit)

	default:
		return nil, fmt.Errorf("unknown search mode %q", mode)
	}
}

func (s *HybridSearcher) searchHybrid(ctx context.Context, query string, mode models.SearchMode, limit int) (*Response, error) {
	var keywordResults []Result
	var err error

	if mode == models.SearchModeHybrid {
		keywordResults, err = s.keyword.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
	}

	semanticResults, semErr := s.runSemantic(ctx, query, limit)
	if semErr != nil {
		if mode == models.SearchModeSemantic && len(keywordResults) == 0 {
			// Pure semantic search falls back to keyword rather than
			// returning nothing.
			keywordResults, err = s.keyword.Search(ctx, query, limit)
			if err != nil {
				return nil, err
			}
		}
		s.logger.Warn("semantic pass unavailable, using keyword results",
			zap.Error(semErr))
		return &Response{
			Results:       keywordResults,
			SemanticError: semErr.Error(),
		}, nil
	}

	merged := mergeResults(keywordResults, semanticResults)
	merged = s.hydrate(ctx, merged)

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return &Response{Results: merged, SemanticUsed: true}, nil
}

func (s *HybridSearcher) runSemantic(ctx context.Context, query string, limit int) ([]Result, error) {
	if s.semantic == nil {
		return nil, fmt.Errorf("semantic search not configured")
	}
	return s.semantic.Search(ctx, query, limit)
}

// mergeResults combines both passes, deduplicating by content item.
// An item found by both passes gets the weighted combination; an item
// found by one pass keeps that pass's score weighted accordingly.
func mergeResults(keyword, semantic []Result) []Result {
	type key = string
	byID := make(map[key]*Result, len(keyword)+len(semantic))

	for i := range keyword {
		r := keyword[i]
		byID[r.ContentItemID.String()] = &r
	}
	for _, sr := range semantic {
		if existing, ok := byID[sr.ContentItemID.String()]; ok {
			existing.SemanticScore = sr.SemanticScore
			if existing.Snippet == "" {
				existing.Snippet = sr.Snippet
			}
		} else {
			r := sr
			byID[r.ContentItemID.String()] = &r
		}
	}

	merged := make([]Result, 0, len(byID))
	for _, r := range byID {
		r.Relevance = SemanticWeight*r.SemanticScore + KeywordWeight*r.KeywordScore
		merged = append(merged, *r)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})
	return merged
}

// hydrate fills in content items for semantic-only hits and drops hits
// whose rows no longer exist. The Weaviate mirror can briefly reference
// rows that were pruned from Postgres.
func (s *HybridSearcher) hydrate(ctx context.Context, results []Result) []Result {
	kept := results[:0]
	for i := range results {
		if results[i].Item == nil {
			item, err := s.contents.GetByID(ctx, results[i].ContentItemID)
			if err != nil {
				s.logger.Warn("dropping unresolvable semantic hit",
					zap.String("content_id", results[i].ContentItemID.String()),
					zap.Error(err))
				continue
			}
			results[i].Item = item
		}
		kept = append(kept, results[i])
	}
	return kept
}

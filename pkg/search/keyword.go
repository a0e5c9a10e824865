package search

import (
	"context"
	"fmt"

	"github.com/prsnl-labs/intel-engine/pkg/repositories"
)

// KeywordSearcher runs the full-text pass against the content store.
type KeywordSearcher struct {
	contents repositories.ContentRepository
}

// NewKeywordSearcher creates a keyword searcher over the content store.
func NewKeywordSearcher(contents repositories.ContentRepository) *KeywordSearcher {
	return &KeywordSearcher{contents: contents}
}

// snippetLength bounds the stored match context.
const snippetLength = 200

// Search returns keyword matches with scores normalized to [0, 1]
// against the best match in the result set.
func (s *KeywordSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	matches, err := s.contents.KeywordSearch(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	max := matches[0].Score
	for _, m := range matches {
		if m.Score > max {
			max = m.Score
		}
	}
	if max == 0 {
		max = 1
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		snippet := m.Item.Summary
		if snippet == "" {
			snippet = m.Item.Content
		}
		if len(snippet) > snippetLength {
			snippet = snippet[:snippetLength]
		}

		score := m.Score / max
		results = append(results, Result{
			ContentItemID: m.Item.ID,
			Item:          m.Item,
			KeywordScore:  score,
			Relevance:     score,
			Snippet:       snippet,
		})
	}
	return results, nil
}

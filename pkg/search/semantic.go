package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/config"
	"github.com/prsnl-labs/intel-engine/pkg/llm"
)

// Embedder produces query vectors for the semantic pass.
// llm.LLMClient satisfies this.
type Embedder interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}

// SemanticSearcher runs vector search against the Weaviate mirror of the
// knowledge base. Each Weaviate object carries a contentId property that
// points back at the Postgres row.
type SemanticSearcher struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
	logger    *zap.Logger
}

// NewSemanticSearcher connects to the configured Weaviate instance.
// Returns nil when no Weaviate host is configured.
func NewSemanticSearcher(cfg *config.SearchConfig, embedder Embedder, logger *zap.Logger) (*SemanticSearcher, error) {
	if !cfg.SemanticEnabled() {
		return nil, nil
	}

	wcfg := weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	}
	if cfg.WeaviateAPIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.WeaviateAPIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	return &SemanticSearcher{
		client:    client,
		embedder:  embedder,
		className: cfg.ClassName,
		logger:    logger.Named("semantic-search"),
	}, nil
}

// Search embeds the query and returns the nearest knowledge items.
// Scores are Weaviate certainty values in [0, 1].
func (s *SemanticSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "contentId"},
		{Name: "title"},
		{Name: "summary"},
		{Name: "_additional { certainty }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("semantic search error: %s", result.Errors[0].Message)
	}

	data := make(map[string]any, len(result.Data))
	for k, v := range result.Data {
		data[k] = v
	}
	return s.parseResults(data)
}

func (s *SemanticSearcher) parseResults(data map[string]any) ([]Result, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	objects, ok := get[s.className].([]any)
	if !ok {
		return nil, nil
	}

	results := make([]Result, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}

		idStr, _ := m["contentId"].(string)
		id, err := uuid.Parse(idStr)
		if err != nil {
			s.logger.Warn("skipping object with bad contentId", zap.String("content_id", idStr))
			continue
		}

		certainty := 0.5
		if additional, ok := m["_additional"].(map[string]any); ok {
			if c, ok := additional["certainty"].(float64); ok {
				certainty = c
			}
		}

		snippet, _ := m["summary"].(string)
		if len(snippet) > snippetLength {
			snippet = snippet[:snippetLength]
		}

		results = append(results, Result{
			ContentItemID: id,
			SemanticScore: certainty,
			Relevance:     certainty,
			Snippet:       snippet,
		})
	}
	return results, nil
}

// Probe checks the embedder wiring at startup; a provider that cannot
// embed fails fast here instead of inside the first analysis.
func (s *SemanticSearcher) Probe(ctx context.Context) error {
	_, err := s.embedder.CreateEmbedding(ctx, "probe")
	if err != nil {
		var llmErr *llm.Error
		if errors.As(err, &llmErr) && !llmErr.Retryable {
			return fmt.Errorf("embedding provider unusable: %w", err)
		}
	}
	return nil
}

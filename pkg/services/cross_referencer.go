package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/llm"
	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
	"github.com/prsnl-labs/intel-engine/pkg/search"
)

// maxTopicLanguages bounds how many detected languages become topic
// queries. Only the most prevalent ones carry signal.
const maxTopicLanguages = 3

// CrossReferencer links a finished analysis to related knowledge items.
// The whole stage is best-effort: a dead search backend degrades the
// analysis instead of failing it, because cross-references are an
// enrichment rather than a correctness-critical output.
type CrossReferencer struct {
	analyses repositories.AnalysisRepository
	insights repositories.InsightRepository
	refs     repositories.CrossReferenceRepository
	searcher search.Searcher
	pool     *llm.WorkerPool
	topN     int
	logger   *zap.Logger
}

// NewCrossReferencer creates the cross-referencing stage handler.
func NewCrossReferencer(
	analyses repositories.AnalysisRepository,
	insights repositories.InsightRepository,
	refs repositories.CrossReferenceRepository,
	searcher search.Searcher,
	topN int,
	logger *zap.Logger,
) *CrossReferencer {
	if topN <= 0 {
		topN = 10
	}
	return &CrossReferencer{
		analyses: analyses,
		insights: insights,
		refs:     refs,
		searcher: searcher,
		pool:     llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger),
		topN:     topN,
		logger:   logger.Named("cross-referencer"),
	}
}

var _ StageHandler = (*CrossReferencer)(nil)

func (c *CrossReferencer) Run(ctx context.Context, analysis *models.Analysis) error {
	topics := c.topicSignals(ctx, analysis)
	if len(topics) == 0 {
		return c.finish(ctx, analysis, nil, "no topic signals to search")
	}

	best := make(map[string]search.Result)
	var searchErrs []string
	semanticDegraded := ""

	// Hybrid queries call the embedder, so they run through the LLM
	// worker pool to bound concurrent model traffic.
	items := make([]llm.WorkItem[*search.Response], 0, len(topics))
	for _, topic := range topics {
		items = append(items, llm.WorkItem[*search.Response]{
			ID: topic,
			Execute: func(ctx context.Context) (*search.Response, error) {
				return c.searcher.Search(ctx, topic, models.SearchModeHybrid, c.topN)
			},
		})
	}
	for _, out := range llm.Process(ctx, c.pool, items, nil) {
		if out.Err != nil {
			searchErrs = append(searchErrs, fmt.Sprintf("%s: %v", out.ID, out.Err))
			continue
		}
		if out.Result.SemanticError != "" {
			semanticDegraded = out.Result.SemanticError
		}
		for _, r := range out.Result.Results {
			key := r.ContentItemID.String()
			if existing, ok := best[key]; !ok || r.Relevance > existing.Relevance {
				best[key] = r
			}
		}
	}

	if len(searchErrs) == len(topics) {
		// Every query failed; degrade and let the pipeline complete.
		reason := fmt.Sprintf("cross-referencing failed: %s", searchErrs[0])
		if err := c.analyses.AddDegradedReason(ctx, analysis.ID, reason); err != nil {
			c.logger.Error("failed to record degraded reason",
				zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
		}
		now := time.Now()
		result := models.StageResult{
			Status:      models.StageResultFailed,
			Error:       reason,
			CompletedAt: &now,
		}
		if _, err := c.analyses.RecordStageResult(ctx, analysis.ID, string(models.StageCrossReferencing), result); err != nil {
			c.logger.Error("failed to record cross-referencing result",
				zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
		}
		return nil
	}

	if semanticDegraded != "" {
		reason := fmt.Sprintf("cross-referencing ran keyword-only: %s", semanticDegraded)
		if err := c.analyses.AddDegradedReason(ctx, analysis.ID, reason); err != nil {
			c.logger.Error("failed to record degraded reason",
				zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
		}
	}

	ranked := make([]search.Result, 0, len(best))
	for _, r := range best {
		ranked = append(ranked, r)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Relevance > ranked[j].Relevance })
	if len(ranked) > c.topN {
		ranked = ranked[:c.topN]
	}

	refs := make([]*models.CrossReference, 0, len(ranked))
	for _, r := range ranked {
		refs = append(refs, &models.CrossReference{
			AnalysisID:    analysis.ID,
			ContentItemID: r.ContentItemID,
			Mode:          models.SearchModeHybrid,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Relevance:     r.Relevance,
			Snippet:       r.Snippet,
		})
	}

	if err := c.refs.ReplaceForAnalysis(ctx, analysis.ID, refs); err != nil {
		reason := fmt.Sprintf("failed to store cross-references: %v", err)
		if derr := c.analyses.AddDegradedReason(ctx, analysis.ID, reason); derr != nil {
			c.logger.Error("failed to record degraded reason",
				zap.String("analysis_id", analysis.ID.String()), zap.Error(derr))
		}
		return c.finish(ctx, analysis, nil, reason)
	}

	return c.finish(ctx, analysis, refs, "")
}

func (c *CrossReferencer) finish(ctx context.Context, analysis *models.Analysis, refs []*models.CrossReference, note string) error {
	now := time.Now()
	result := models.StageResult{
		Status:      models.StageResultSucceeded,
		Detail:      fmt.Sprintf("%d cross-references attached", len(refs)),
		CompletedAt: &now,
	}
	if note != "" {
		result.Detail = note
	}
	if _, err := c.analyses.RecordStageResult(ctx, analysis.ID, string(models.StageCrossReferencing), result); err != nil {
		c.logger.Error("failed to record cross-referencing result",
			zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
	}
	c.logger.Info("cross-referencing complete",
		zap.String("analysis_id", analysis.ID.String()),
		zap.Int("references", len(refs)))
	return nil
}

// topicSignals derives the distinct queries for one analysis: the most
// prevalent languages, every detected framework, and each insight
// category present.
func (c *CrossReferencer) topicSignals(ctx context.Context, analysis *models.Analysis) []string {
	var topics []string
	seen := make(map[string]bool)
	add := func(topic string) {
		if topic != "" && !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}

	type langCount struct {
		name  string
		count int
	}
	langs := make([]langCount, 0, len(analysis.Languages))
	for name, count := range analysis.Languages {
		langs = append(langs, langCount{name, count})
	}
	sort.Slice(langs, func(i, j int) bool {
		if langs[i].count != langs[j].count {
			return langs[i].count > langs[j].count
		}
		return langs[i].name < langs[j].name
	})
	for i, l := range langs {
		if i >= maxTopicLanguages {
			break
		}
		add(l.name)
	}

	for _, fw := range analysis.Frameworks {
		add(fw)
	}

	insights, err := c.insights.ListByAnalysis(ctx, analysis.ID, nil)
	if err != nil {
		c.logger.Warn("failed to list insights for topic signals",
			zap.String("analysis_id", analysis.ID.String()), zap.Error(err))
		return topics
	}
	for _, insight := range insights {
		add(string(insight.Category))
	}
	return topics
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/config"
	"github.com/prsnl-labs/intel-engine/pkg/database"
	"github.com/prsnl-labs/intel-engine/pkg/handlers"
	"github.com/prsnl-labs/intel-engine/pkg/ingest"
	"github.com/prsnl-labs/intel-engine/pkg/llm"
	"github.com/prsnl-labs/intel-engine/pkg/middleware"
	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/repositories"
	"github.com/prsnl-labs/intel-engine/pkg/search"
	"github.com/prsnl-labs/intel-engine/pkg/services"
	"github.com/prsnl-labs/intel-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("bind_addr", cfg.BindAddr),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Database.Database),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Bool("cache_enabled", cfg.Redis.Host != ""),
		zap.Bool("semantic_search_enabled", cfg.Search.SemanticEnabled()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.MigrateUp(cfg.Database.ConnectionString(), cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	cache, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if cache != nil {
		defer cache.Close() //nolint:errcheck
	}

	repoRepo := repositories.NewRepoRepository(db)
	analysisRepo := repositories.NewAnalysisRepository(db)
	insightRepo := repositories.NewInsightRepository(db)
	refRepo := repositories.NewCrossReferenceRepository(db)
	contentRepo := repositories.NewContentRepository(db)

	llmClient, err := llm.NewFromConfig(&cfg.AI, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	keyword := search.NewKeywordSearcher(contentRepo)
	semantic, err := search.NewSemanticSearcher(&cfg.Search, llmClient, logger)
	if err != nil {
		logger.Fatal("Failed to create semantic searcher", zap.Error(err))
	}
	if semantic != nil {
		if err := semantic.Probe(ctx); err != nil {
			logger.Fatal("Semantic search misconfigured", zap.Error(err))
		}
	}
	searcher := search.NewHybridSearcher(keyword, semantic, contentRepo, logger)

	retryCfg := workqueue.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.Pipeline.MaxRetries
	fabric := workqueue.NewFabric(cfg.Pipeline.Workers, retryCfg, logger)

	scorer := services.NewLLMScorer(llmClient, logger)
	packages := services.NewPackageIntelligence(logger)
	dispatcher := services.NewStageDispatcher(fabric, analysisRepo, scorer, packages,
		cfg.Pipeline.StageTimeout(), logger)

	ingestor := ingest.NewGitHubIngestor(&cfg.Ingest, logger)

	routes := []struct {
		stage   models.AnalysisStage
		queue   string
		handler services.StageHandler
	}{
		{models.StageIngesting, workqueue.QueueRepoAnalysis,
			services.NewIngestHandler(repoRepo, analysisRepo, ingestor, logger)},
		{models.StageDetecting, workqueue.QueueFileProcessing,
			services.NewDetectHandler(analysisRepo, logger)},
		{models.StageInsightGeneration, workqueue.QueueInsightGeneration,
			services.NewInsightGenerator(analysisRepo, insightRepo, logger)},
		{models.StageCrossReferencing, workqueue.QueueGeneralAnalysis,
			services.NewCrossReferencer(analysisRepo, insightRepo, refRepo, searcher, cfg.Search.TopN, logger)},
	}
	for _, r := range routes {
		if err := dispatcher.Register(r.stage, r.queue, r.handler); err != nil {
			logger.Fatal("Failed to register stage handler",
				zap.String("stage", string(r.stage)), zap.Error(err))
		}
	}

	analysisService := services.NewAnalysisService(
		repoRepo, analysisRepo, insightRepo, refRepo, dispatcher,
		cache, time.Duration(cfg.Redis.CacheTTLSeconds)*time.Second, logger)

	reconciler := services.NewReconciler(analysisRepo, dispatcher, fabric,
		cfg.Scheduler.StalenessThreshold(), logger)
	reconciler.RunScheduler(ctx, cfg.Scheduler.ReconcileInterval())

	retention := services.NewRetentionService(analysisRepo, cfg.Scheduler.RetentionDays, logger)
	retention.RunScheduler(ctx, cfg.Scheduler.RetentionInterval())

	mux := http.NewServeMux()
	handlers.NewAnalysisHandler(analysisService, logger).RegisterRoutes(mux)
	handlers.NewHealthHandler(cfg, db, cache, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting intel-engine",
			zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not finish cleanly", zap.Error(err))
	}
	if err := fabric.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Queue fabric shutdown did not finish cleanly", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/semlink/semlink/internal/data/db"
	"github.com/semlink/semlink/internal/data/repos/assoc"
	"github.com/semlink/semlink/internal/data/repos/docs"
	"github.com/semlink/semlink/internal/http/handlers"
	"github.com/semlink/semlink/internal/kb"
	"github.com/semlink/semlink/internal/modules/match"
	"github.com/semlink/semlink/internal/platform/envutil"
	"github.com/semlink/semlink/internal/platform/logger"
	"github.com/semlink/semlink/internal/platform/neo4jdb"
	"github.com/semlink/semlink/internal/platform/openai"
	"github.com/semlink/semlink/internal/platform/rediscache"
	"github.com/semlink/semlink/internal/server"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	pg := postgresService.DB()

	// Repos
	documentRepo := docs.NewDocumentRepo(pg, log)
	sectionRepo := docs.NewSectionRepo(pg, log)
	associationRepo := assoc.NewAssociationRepo(pg, log)
	runRepo := assoc.NewRunRepo(pg, log)

	// Clients
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("Could not init OpenAIClient", "error", err)
	}
	graphClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("Could not init Neo4j client", "error", err)
	}
	if graphClient == nil {
		log.Fatal("NEO4J_URI is required to load knowledge bases")
	}
	defer graphClient.Close(ctx)

	embeddingCache, err := rediscache.NewEmbeddingCache(log)
	if err != nil {
		log.Warn("Embedding cache unavailable, continuing without it", "error", err)
	}

	// Knowledge-base registry and candidate pool
	registryPath := envutil.GetEnv("SEMLINK_KB_REGISTRY", "kb_registry.yaml", log)
	registry, err := kb.LoadRegistry(registryPath)
	if err != nil {
		log.Fatal("Could not load knowledge-base registry", "error", err)
	}
	loader := kb.NewNeo4jLoader(graphClient, log)
	poolManager := match.NewPoolManager(log, loader, openaiClient, embeddingCache)
	if _, err := poolManager.Load(ctx, registry); err != nil {
		log.Fatal("Could not build candidate pool", "error", err)
	}

	// Matching pipeline
	coarse := match.NewCoarseMatcher(log)
	reasoner := match.NewLLMReasoner(log, openaiClient)
	fine := match.NewFineMatcher(log, reasoner, match.DefaultFineConfig(log))
	orchestrator := match.NewOrchestrator(log, coarse, fine, associationRepo, runRepo)
	runner := match.NewRunner(log, documentRepo, sectionRepo, orchestrator, poolManager, openaiClient)

	// HTTP
	associationHandler := handlers.NewAssociationHandler(log, runner, poolManager, registry, associationRepo)
	router := server.NewRouter(server.RouterConfig{
		AssociationHandler: associationHandler,
	})

	port := envutil.GetEnv("PORT", "8080", log)
	log.Info("Starting semlinkd", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server stopped", "error", err)
	}
}

// Command server is the chatcore process entrypoint: it loads
// configuration, wires the LLM façade, repository backend, and stream
// abort fabric, registers every agent, and serves the HTTP surface
// with graceful shutdown — following the shape of the teacher's
// cmd/gateway/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/turnforge/chatcore/internal/agents"
	"github.com/turnforge/chatcore/internal/chatrepo"
	"github.com/turnforge/chatcore/internal/chatrepo/memory"
	"github.com/turnforge/chatcore/internal/chatrepo/postgres"
	"github.com/turnforge/chatcore/internal/chatrepo/sqlite"
	"github.com/turnforge/chatcore/internal/config"
	"github.com/turnforge/chatcore/internal/httpapi"
	"github.com/turnforge/chatcore/internal/llm"
	"github.com/turnforge/chatcore/internal/orchestrator"
	"github.com/turnforge/chatcore/internal/streamfabric"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	repo, closeRepo, err := buildRepository(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize repository", zap.Error(err))
	}
	defer closeRepo()

	redisClient, redisEnabled := buildRedis(cfg.Stream, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	fabric := streamfabric.New(redisClient, logger)

	llmClient := llm.New(cfg.LLM, logger)
	registry := buildRegistry(llmClient)
	orch := orchestrator.New(registry)

	controller := httpapi.New(registry, orch, fabric, repo, logger, cfg.App.BasePath, redisEnabled)

	server := &http.Server{
		Addr:         cfg.App.Addr(),
		Handler:      controller.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout: SSE streams stay open
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		logger.Info("chatcore starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("chatcore shutting down")
	fabric.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("chatcore stopped")
}

func buildRepository(dbCfg config.Database, logger *zap.Logger) (chatrepo.Repository, func(), error) {
	switch dbCfg.Provider {
	case "sqlite":
		repo, err := sqlite.Open(dbCfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	case "cosmosdb":
		dsn := cosmosDSN(dbCfg)
		repo, err := postgres.Open(dsn, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

// cosmosDSN builds a Postgres DSN from the spec's AZURE_COSMOSDB_* keys,
// the Cosmos DB substitution recorded in DESIGN.md.
func cosmosDSN(dbCfg config.Database) string {
	return "host=" + dbCfg.CosmosEndpoint +
		" dbname=" + dbCfg.CosmosDatabase +
		" user=" + dbCfg.CosmosContainer +
		" password=" + dbCfg.CosmosKey +
		" sslmode=require"
}

func buildRedis(streamCfg config.Stream, logger *zap.Logger) (*redis.Client, bool) {
	if streamCfg.StoreProvider != "redis" {
		return nil, false
	}
	opts, err := redis.ParseURL(streamCfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to parse REDIS_URL", zap.Error(err))
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client, true
}

func buildRegistry(client llm.Client) *agents.Registry {
	registry := agents.NewRegistry()
	search := agents.NewMockSearchClient()

	registry.Register(agents.NamePlain, agents.NewPlainAgent(client))
	registry.Register(agents.NameRAG, agents.NewRAGAgent(client, search))
	registry.Register(agents.NameResearcher, agents.NewResearcherAgent(client, search))
	registry.Register(agents.NamePlanner, agents.NewPlannerAgent(client))
	registry.Register(agents.NameParallelSearch, agents.NewParallelSearchAgent(search))
	registry.Register(agents.NameResultRanker, agents.NewResultRankerAgent(client))
	registry.Register(agents.NameWriter, agents.NewWriterAgent(client))

	return registry
}

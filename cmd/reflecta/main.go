package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/api"
	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/config"
	"github.com/nidhogg/reflecta/internal/memory"
	"github.com/nidhogg/reflecta/internal/recall"
	"github.com/nidhogg/reflecta/internal/reference"
	"github.com/nidhogg/reflecta/internal/reflection"
	pgstore "github.com/nidhogg/reflecta/internal/store"
	"github.com/nidhogg/reflecta/internal/store/memstore"
)

func main() {
	_ = godotenv.Load()

	zcfg := zap.NewDevelopmentConfig()
	level := zcfg.Level
	logger, _ := zcfg.Build()
	defer logger.Sync()

	logger.Info("Starting Reflecta...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/reflecta.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	if cfg.Server.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
			logger.Warn("unknown log level, keeping debug", zap.String("level", cfg.Server.LogLevel))
		}
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Persistence: PostgreSQL, or process memory when it is not configured
	var store reflection.Store = memstore.New()
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Server.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			store = ps
		}
	} else {
		logger.Info("no database configured, keeping state in memory")
	}

	hub := broadcast.NewHub(logger)
	observeCtx, stopObservers := context.WithCancel(ctx)

	// Reference text: configured LLMs, then the local template
	var gens []reference.Generator
	for _, lc := range cfg.LLMConfigs() {
		if lc.Endpoint == "" || lc.APIKey == "" {
			logger.Info("reference provider not configured, skipping", zap.String("name", lc.Name))
			continue
		}
		gens = append(gens, reference.NewLLM(lc, logger))
	}
	ref := reference.WithFallback(logger, gens...)

	orch := reflection.New(store, hub, ref, cfg.ReflectionOptions(), logger)

	// Event relay
	var relay *broadcast.RedisRelay
	if cfg.Database.Redis.URL != "" {
		rr, rErr := broadcast.NewRedisRelay(cfg.Database.Redis.URL, cfg.Database.Redis.MaxLen, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without event relay", zap.Error(rErr))
		} else {
			relay = rr
			hub.Attach(observeCtx, relay, 512)
		}
	}

	// Insight graph
	var graph *memory.Graph
	if cfg.Database.Neo4j.URI != "" {
		graph = connectGraph(ctx, cfg.Database.Neo4j, logger)
		if graph != nil {
			hub.Attach(observeCtx, graph, 256)
			orch.AddRecaller(graph)
		}
	}

	// Semantic recall
	var index *recall.Index
	if cfg.Database.Qdrant.Host != "" {
		index = connectIndex(ctx, cfg, logger)
		if index != nil {
			hub.Attach(observeCtx, index, 256)
			orch.AddRecaller(index)
		}
	}

	// Chat notifications
	if n := cfg.Notify.Slack; n.Enabled && n.BotToken != "" {
		hub.Attach(observeCtx, broadcast.NewSlackNotifier(n.BotToken, n.Channel, n.Insights, logger), 64)
	}
	if n := cfg.Notify.Discord; n.Enabled && n.BotToken != "" {
		dn, dErr := broadcast.NewDiscordNotifier(n.BotToken, n.Channel, n.Insights, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable, running without discord notifications", zap.Error(dErr))
		} else {
			hub.Attach(observeCtx, dn, 64)
		}
	}

	handler := api.NewHandler(orch, store, hub, logger)
	if relay != nil {
		handler.SetReplayer(relay)
	}

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "3210"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Reflecta listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Reflecta...")
	for _, id := range orch.Active() {
		orch.Stop(id)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	waitForRuns(shutdownCtx, orch)

	stopObservers()
	hub.Close()
	if graph != nil {
		graph.Close(shutdownCtx)
	}
	if index != nil {
		index.Close()
	}
	if relay != nil {
		relay.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func connectGraph(ctx context.Context, cfg config.Neo4jConfig, logger *zap.Logger) *memory.Graph {
	g, err := memory.NewGraph(cfg.URI, cfg.User, cfg.Password, logger)
	if err == nil {
		err = g.Ping(ctx)
	}
	if err == nil {
		err = g.EnsureSchema(ctx)
	}
	if err != nil {
		logger.Warn("Neo4j unavailable, running without insight graph", zap.Error(err))
		if g != nil {
			g.Close(ctx)
		}
		return nil
	}
	return g
}

func connectIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) *recall.Index {
	embedder, err := recall.NewEmbedder(cfg.Embedding)
	if err != nil {
		logger.Warn("embedder misconfigured, running without semantic recall", zap.Error(err))
		return nil
	}
	x, err := recall.NewIndex(cfg.Database.Qdrant, embedder, logger)
	if err != nil {
		logger.Warn("Qdrant unavailable, running without semantic recall", zap.Error(err))
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := x.EnsureCollection(cctx); err != nil {
		logger.Warn("Qdrant unavailable, running without semantic recall", zap.Error(err))
		x.Close()
		return nil
	}
	return x
}

// waitForRuns gives stopped loops time to write their final state.
func waitForRuns(ctx context.Context, orch *reflection.Orchestrator) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for len(orch.Active()) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

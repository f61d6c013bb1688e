package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/systemshift/modelgraph/internal/config"
	"github.com/systemshift/modelgraph/internal/executor"
	"github.com/systemshift/modelgraph/internal/index"
	"github.com/systemshift/modelgraph/internal/logger"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/persistence"
	"github.com/systemshift/modelgraph/internal/server/api"
	"github.com/systemshift/modelgraph/internal/server/graph"
)

func main() {
	// Load configuration from file and environment
	cfg, err := config.Load(getEnv("MODELGRAPH_CONFIG", "modelgraph.yaml"))
	if err != nil {
		os.Stderr.WriteString("loading config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("creating logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetLogger(log)

	// Initialize Neo4j repository
	ctx := context.Background()
	repo, err := graph.New(ctx, graph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, log.Named("neo4j"))
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer repo.Close(ctx)

	refs, err := index.Open(ctx, cfg.Index.Path, log.Named("index"))
	if err != nil {
		log.Fatal("Failed to open reference index", zap.Error(err))
	}
	defer refs.Close()

	exec := executor.New(repo, log.Named("executor"), executor.WithQueueSize(cfg.Executor.QueueSize))
	defer exec.Close()

	persist := persistence.New(exec, model.NewRegistry(), log.Named("persistence"),
		persistence.WithResetOnSave(cfg.Neo4j.ResetOnSave),
		persistence.WithStoreRoot(cfg.Neo4j.Database))

	// Initialize API server
	apiServer := api.New(persist, refs, exec, log.Named("api"))
	apiServer.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)

	// Setup HTTP router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)

	// Routes
	apiServer.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting modelgraph server", zap.String("addr", "http://localhost:"+cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

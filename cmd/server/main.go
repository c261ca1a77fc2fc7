package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/rfm-segmenter/internal/api"
	"github.com/ignite/rfm-segmenter/internal/config"
	"github.com/ignite/rfm-segmenter/internal/pkg/distlock"
	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
	"github.com/ignite/rfm-segmenter/internal/repository/postgres"
	"github.com/ignite/rfm-segmenter/internal/segmentation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.MaskCustomerIDs != nil {
		logger.SetMaskIDs(*cfg.Logging.MaskCustomerIDs)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("failed to ping database", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("connected to database")

	segmentRepo := postgres.NewSegmentRepo(db)
	if err := segmentRepo.EnsureSchema(pingCtx); err != nil {
		logger.Error("failed to ensure schema", "error", err.Error())
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Redis is an optimization for locking and caching; PG advisory
			// locks cover single-run semantics without it.
			logger.Warn("redis unreachable, falling back to advisory locks", "error", err.Error())
			redisClient = nil
		} else {
			logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		}
	}

	orchestrator, err := buildOrchestrator(cfg, db, redisClient, segmentRepo)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err.Error())
		os.Exit(1)
	}

	handlers := api.NewHandlers(orchestrator, segmentRepo)
	if redisClient != nil {
		handlers.SetStatusCache(redisClient, cfg.Segmentation.StatusCacheTTL())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.SetupRoutes(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Segmentation.RunTimeout() + 30*time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
}

func buildOrchestrator(cfg *config.Config, db *sql.DB, redisClient *redis.Client, store segmentation.AssignmentStore) (*segmentation.Orchestrator, error) {
	segCfg := cfg.Segmentation

	segmenter, err := segmentation.NewSegmenter(
		segCfg.Clusters, segCfg.Labels, segCfg.Seed, segCfg.Restarts, segCfg.MaxIterations)
	if err != nil {
		return nil, err
	}

	source := postgres.NewTransactionRepo(db)
	gate := segmentation.NewGate(source, store, segCfg.NewRecordThreshold)

	newLock := func() distlock.DistLock {
		return distlock.NewLock(redisClient, db, "segmentation:run", segCfg.LockTTL())
	}

	return segmentation.NewOrchestrator(source, store, segmenter, gate, newLock, segCfg.RunTimeout()), nil
}

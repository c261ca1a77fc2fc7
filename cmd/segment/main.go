// Command segment runs one segmentation batch from the command line and
// prints the run summary as JSON. Intended for cron and smoke testing; the
// HTTP service in cmd/server is the primary trigger.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/rfm-segmenter/internal/config"
	"github.com/ignite/rfm-segmenter/internal/pkg/distlock"
	"github.com/ignite/rfm-segmenter/internal/pkg/logger"
	"github.com/ignite/rfm-segmenter/internal/repository/postgres"
	"github.com/ignite/rfm-segmenter/internal/segmentation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	force := flag.Bool("force", false, "bypass the recompute gate")
	check := flag.Bool("check", false, "only report new-data count, do not run")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "failed to ping database: %v\n", err)
		os.Exit(1)
	}
	cancel()

	segmentRepo := postgres.NewSegmentRepo(db)
	schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = segmentRepo.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	source := postgres.NewTransactionRepo(db)
	gate := segmentation.NewGate(source, segmentRepo, cfg.Segmentation.NewRecordThreshold)

	segmenter, err := segmentation.NewSegmenter(
		cfg.Segmentation.Clusters, cfg.Segmentation.Labels,
		cfg.Segmentation.Seed, cfg.Segmentation.Restarts, cfg.Segmentation.MaxIterations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid segmenter configuration: %v\n", err)
		os.Exit(1)
	}

	newLock := func() distlock.DistLock {
		return distlock.NewLock(redisClient, db, "segmentation:run", cfg.Segmentation.LockTTL())
	}
	orchestrator := segmentation.NewOrchestrator(
		source, segmentRepo, segmenter, gate, newLock, cfg.Segmentation.RunTimeout())

	if *check {
		count, shouldRun, err := orchestrator.CheckNewData(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
			os.Exit(1)
		}
		printJSON(map[string]interface{}{"new_record_count": count, "should_run": shouldRun})
		return
	}

	summary, err := orchestrator.Run(context.Background(), *force)
	printJSON(summary)
	if err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/aggregation"
	"github.com/jortega/vitalwatch-server/internal/cache"
	"github.com/jortega/vitalwatch-server/internal/pipeline"
	"github.com/jortega/vitalwatch-server/internal/queue"
	"github.com/jortega/vitalwatch-server/internal/risk"
	"github.com/jortega/vitalwatch-server/internal/scheduler"
	"github.com/jortega/vitalwatch-server/internal/series"
	"github.com/jortega/vitalwatch-server/internal/syncer"
	"github.com/jortega/vitalwatch-server/internal/timer"
	"github.com/jortega/vitalwatch-server/pkg/config"
)

func main() {
	subjectID := flag.String("subject", "", "run once for this subject and exit")
	dateStr := flag.String("date", "", "day to process in YYYY-MM-DD (default: yesterday)")
	days := flag.Int("days", 0, "process this many trailing days instead of one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := series.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	if err := store.RunMigrations("migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("connected to database")

	alerts := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alerts.Close()

	policy := risk.Policy{
		MaxAvgHeartRate:     cfg.Risk.MaxAvgHeartRate,
		MaxHighHeartRatePct: cfg.Risk.MaxHighHeartRatePct,
		MaxAvgSystolic:      cfg.Risk.MaxAvgSystolic,
		MaxSedentaryMin:     cfg.Risk.MaxSedentaryMin,
		BaseScore:           cfg.Risk.BaseScore,
		FactorWeight:        cfg.Risk.FactorWeight,
	}

	p := pipeline.New(
		aggregation.NewDailyAggregator(store, logger),
		risk.NewClassifier(policy),
		store,
		alerts,
		logger,
	)

	// On-demand mode: process the requested subject-day(s) synchronously
	// and exit.
	if *subjectID != "" {
		os.Exit(runOnDemand(p, *subjectID, *dateStr, *days, logger))
	}

	runService(cfg, store, p, logger)
}

// runOnDemand executes the same pipeline as the scheduled run for one
// subject, reporting per-day outcomes. Exit code 1 if any day failed.
func runOnDemand(p *pipeline.Pipeline, subjectID, dateStr string, days int, logger *zap.Logger) int {
	ctx := context.Background()

	var results []pipeline.DayResult
	switch {
	case days > 0:
		results = p.ProcessTrailingDays(ctx, subjectID, days)
	case dateStr != "":
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			logger.Error("invalid -date value", zap.String("date", dateStr), zap.Error(err))
			return 1
		}
		result, err := p.ProcessDay(ctx, subjectID, day.UTC())
		if err != nil {
			results = []pipeline.DayResult{{SubjectID: subjectID, Day: day.UTC(), Err: err}}
		} else {
			results = []pipeline.DayResult{*result}
		}
	default:
		result, err := p.ProcessPreviousDay(ctx, subjectID)
		if err != nil {
			logger.Error("failed to process previous day", zap.Error(err))
			return 1
		}
		results = []pipeline.DayResult{*result}
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			logger.Error("day failed", zap.Time("day", r.Day), zap.Error(r.Err))
		case r.NoData:
			logger.Info("day had no data", zap.Time("day", r.Day))
		default:
			logger.Info("day processed",
				zap.Time("day", r.Day),
				zap.Float64("avg_heart_rate", r.Summary.AvgHeartRate),
				zap.Float64("total_distance_m", r.Summary.TotalDistanceM),
				zap.Float64("risk_score", r.Assessment.RiskScore),
				zap.String("risk_label", r.Assessment.RiskLabel))
		}
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func runService(cfg *config.Config, store *series.Store, p *pipeline.Pipeline, logger *zap.Logger) {
	logger.Info("starting aggregation service")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	latest := cache.NewLatestStore(redisClient, cfg.Sync.CacheTTL)
	worker := syncer.NewWorker(latest, store, cfg.Sync.Interval, cfg.Sync.Dedup, logger)

	timers := timer.NewManager()
	timers.Start()
	defer timers.Stop()

	sched := scheduler.New(timers, p, store, worker, cfg.Daily.RunAt, cfg.Daily.RetryBackoff, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	logger.Info("aggregation service running",
		zap.String("daily_run_at", cfg.Daily.RunAt),
		zap.Duration("sync_interval", cfg.Sync.Interval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	cancel()
}

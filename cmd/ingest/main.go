package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/cache"
	"github.com/jortega/vitalwatch-server/internal/protocol"
	"github.com/jortega/vitalwatch-server/internal/queue"
	"github.com/jortega/vitalwatch-server/pkg/config"
)

func main() {
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

	logger.Info("starting ingest service")

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

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSamples, "ingest-group")
	defer consumer.Close()
	logger.Info("kafka consumer initialized", zap.String("topic", cfg.Kafka.TopicSamples))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	for {
		msg, err := consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("failed to consume message", zap.Error(err))
			continue
		}

		sample, err := protocol.DecodeSampleMessage(msg.Value)
		if err != nil {
			logger.Error("dropping undecodable message", zap.Error(err))
			commit(ctx, consumer, msg, logger)
			continue
		}

		if sample.ReceivedAt.IsZero() {
			sample.ReceivedAt = time.Now().UTC()
		}

		if err := sample.Validate(); err != nil {
			logger.Warn("dropping invalid sample",
				zap.String("message_id", sample.MessageID),
				zap.Error(err))
			commit(ctx, consumer, msg, logger)
			continue
		}

		err = latest.PutLatest(ctx, &cache.Sample{
			SubjectID: sample.SubjectID,
			HeartRate: *sample.HeartRate,
			Systolic:  *sample.Systolic,
			Diastolic: *sample.Diastolic,
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
			Timestamp: sample.EffectiveTimestamp(),
		})
		if err != nil {
			// Leave the offset uncommitted so the sample is retried.
			logger.Error("failed to cache sample",
				zap.String("subject_id", sample.SubjectID),
				zap.Error(err))
			continue
		}

		commit(ctx, consumer, msg, logger)
	}

	logger.Info("ingest service stopped")
}

func commit(ctx context.Context, consumer *queue.Consumer, msg kafka.Message, logger *zap.Logger) {
	if err := consumer.Commit(ctx, msg); err != nil && ctx.Err() == nil {
		logger.Error("failed to commit offset", zap.Error(err))
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/notification"
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

	logger.Info("starting notification service")

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)
	if err := notifier.TestConnection(); err != nil {
		logger.Warn("SMTP connection check failed, emails will be skipped or fail", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "notification-group")
	defer consumer.Close()
	logger.Info("kafka consumer initialized", zap.String("topic", cfg.Kafka.TopicAlerts))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

		alert, err := protocol.DecodeRiskAlert(msg.Value)
		if err != nil {
			logger.Error("dropping undecodable alert", zap.Error(err))
		} else if err := notifier.SendRiskAlert(alert); err != nil {
			logger.Error("failed to send alert email",
				zap.String("subject_id", alert.SubjectID),
				zap.Error(err))
		}

		if err := consumer.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error("failed to commit offset", zap.Error(err))
		}
	}

	logger.Info("notification service stopped")
}

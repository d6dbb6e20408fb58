package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/crm-ratelimit/internal/config"
	"github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/queue"
	"github.com/benvon/crm-ratelimit/internal/workers"
	"go.uber.org/zap"
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.WorkerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	zapLogger.Info("starting_worker",
		zap.Bool("debug_mode", debugMode),
		zap.Duration("flush_interval", cfg.ThrottleFlushInterval),
	)

	// Retry with backoff to ride out RabbitMQ starting after us.
	const maxRetries = 10
	const initialDelay = 2 * time.Second
	var mq *queue.RabbitMQQueue
	for attempt := 0; ; attempt++ {
		mq, err = queue.NewRabbitMQQueue(cfg.RabbitMQURL)
		if err == nil {
			break
		}
		if attempt+1 >= maxRetries {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
				zap.Int("max_retries", maxRetries),
				zap.Error(err),
			)
		}
		delay := min(initialDelay*time.Duration(1<<uint(attempt)), 30*time.Second)
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}
	defer func() {
		if err := mq.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_rabbitmq", zap.Int("prefetch", cfg.RabbitMQPrefetch))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	msgChan, errChan, err := mq.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("failed_to_start_consuming", zap.Error(err))
	}

	zapLogger.Info("worker_started")

	auditor := workers.NewThrottleAuditor(zapLogger, cfg.ThrottleFlushInterval)
	auditor.Run(ctx, msgChan, errChan)

	zapLogger.Info("worker_stopped")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/habits/internal/config"
	"example.com/habits/internal/logging"
	"example.com/habits/internal/outbox"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Prefix: "habits-relay"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", "err", err)
	}
	defer pool.Close()

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	logger.Info("outbox relay started", "brokers", cfg.KafkaBrokers, "interval", cfg.OutboxPollInterval, "batch", cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	<-ctx.Done()
	dispatcher.Wait()
	logger.Info("outbox relay stopped")
}

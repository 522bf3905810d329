package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/bubled33/supply-chain-tracker/internal/compensation"
	"github.com/bubled33/supply-chain-tracker/internal/orchestrator"
	"github.com/bubled33/supply-chain-tracker/internal/sagastore"
	"github.com/bubled33/supply-chain-tracker/pkg/config"
	"github.com/bubled33/supply-chain-tracker/pkg/database"
	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
	"github.com/bubled33/supply-chain-tracker/pkg/retry"
	"github.com/bubled33/supply-chain-tracker/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "saga-orchestrator",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Saga Orchestrator...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		_, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:       true,
			ServiceName:   "saga-orchestrator",
			CollectorAddr: cfg.OTel.CollectorAddr,
			SampleRatio:   cfg.OTel.SampleRatio,
			Environment:   cfg.App.Environment,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Failed to initialize tracer (continuing without tracing): %v", err))
		} else {
			defer telemetry.Shutdown(ctx)
			appLog.Info("OpenTelemetry tracing initialized")
		}
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		MaxRetries:      3,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	defer db.Close()
	appLog.Info("PostgreSQL connected")

	if err := sagastore.EnsureSchema(ctx, db.Pool()); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to ensure saga schema: %v", err))
	}
	store := sagastore.NewPostgresStore(db.Pool())

	queue, err := messaging.NewKafkaQueue(ctx, &messaging.KafkaConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		ClientID:      cfg.Kafka.ClientID,
		Retry: &retry.Config{
			MaxRetries:      cfg.Publish.MaxAttempts - 1,
			InitialInterval: cfg.Publish.InitialBackoff,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Kafka: %v", err))
	}
	defer queue.Close()
	appLog.Info("Kafka connected")

	service := orchestrator.NewSagaService(store)
	coordinator := orchestrator.New(queue, service)
	worker := compensation.NewWorker(queue, service)
	reaper := compensation.NewReaper(service, cfg.Saga.ReaperInterval, cfg.Saga.StuckThreshold)

	go func() {
		if err := coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Fatal(fmt.Sprintf("Orchestrator stopped: %v", err))
		}
	}()
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Fatal(fmt.Sprintf("Compensation worker stopped: %v", err))
		}
	}()
	go func() { _ = reaper.Run(ctx) }()

	appLog.Info("Saga Orchestrator running")
	<-ctx.Done()
	appLog.Info("Shutting down Saga Orchestrator...")
}

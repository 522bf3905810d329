package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bubled33/supply-chain-tracker/internal/blockchain"
	"github.com/bubled33/supply-chain-tracker/pkg/config"
	"github.com/bubled33/supply-chain-tracker/pkg/database"
	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
	pkgredis "github.com/bubled33/supply-chain-tracker/pkg/redis"
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
		ServiceName: "blockchain-recorder",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Blockchain Recorder...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		_, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:       true,
			ServiceName:   "blockchain-recorder",
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

	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.NodeURL)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to chain node: %v", err))
	}
	defer ethClient.Close()
	appLog.Info(fmt.Sprintf("Chain node connected (%s)", cfg.Chain.Network))

	nonces := blockchain.NewRedisNonceManager(redisClient, blockchain.NewEthNonceReader(ethClient), cfg.Chain.Network)
	gateway, err := blockchain.NewEthereumGateway(ethClient, cfg.Chain.PrivateKey, cfg.Chain.ChainID, nonces)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create chain gateway: %v", err))
	}

	// Align the nonce counter with the chain before the first submission
	if _, err := nonces.SyncFromChain(ctx, gateway.Address()); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to sync nonce counter: %v", err))
	}

	queue, err := messaging.NewKafkaQueue(ctx, &messaging.KafkaConfig{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: "blockchain-recorder",
		ClientID:      "blockchain-recorder",
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

	if err := blockchain.EnsureSchema(ctx, db.Pool()); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to ensure blockchain schema: %v", err))
	}
	store := blockchain.NewPostgresStore(db.Pool())
	service := blockchain.NewService(store, gateway, queue, blockchain.ServiceConfig{
		RequiredConfirmations: cfg.Chain.RequiredConfirmations,
		ReceiptTimeout:        cfg.Chain.ReceiptTimeout,
		DropAfter:             cfg.Chain.DropAfter,
	})

	recorder := blockchain.NewRecorder(queue, service, blockchain.RecorderConfig{
		ListenTopics: cfg.Chain.ListenTopics,
		TargetEvents: cfg.Chain.TargetEvents,
	})
	monitor := blockchain.NewConfirmationMonitor(service, store,
		cfg.Chain.ConfirmationInterval, cfg.Chain.SubmissionBatchSize)

	go func() {
		if err := recorder.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Fatal(fmt.Sprintf("Recorder stopped: %v", err))
		}
	}()
	go func() { _ = monitor.Run(ctx) }()

	appLog.Info("Blockchain Recorder running")
	<-ctx.Done()
	appLog.Info("Shutting down Blockchain Recorder...")
}

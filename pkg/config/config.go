package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Chain    ChainConfig
	Saga     SagaConfig
	Publish  PublishConfig
	OTel     OTelConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Debug       bool
	Version     string
}

// ServerConfig holds HTTP server settings for the admin API
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka broker settings
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
}

// ChainConfig holds blockchain gateway settings
type ChainConfig struct {
	NodeURL               string
	PrivateKey            string
	ChainID               int64
	Network               string
	RequiredConfirmations uint64
	ConfirmationInterval  time.Duration
	SubmissionBatchSize   int
	ReceiptTimeout        time.Duration
	DropAfter             time.Duration
	ListenTopics          []string
	TargetEvents          []string
}

// SagaConfig holds saga coordinator settings
type SagaConfig struct {
	StuckThreshold time.Duration
	ReaperInterval time.Duration
}

// PublishConfig holds the publish retry budget
type PublishConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
	SampleRatio   float64
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	return LoadWithPath(".env")
}

// LoadWithPath loads configuration from a specific .env file path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	// Missing .env is fine, env vars can carry everything
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Keep going; the file may simply not exist in production
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("APP_NAME", "supply-chain-tracker")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server (admin read API)
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "saga_db")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "saga-coordinator")
	v.SetDefault("KAFKA_CLIENT_ID", "supply-chain-tracker")

	// Chain
	v.SetDefault("CHAIN_NODE_URL", "http://localhost:8545")
	v.SetDefault("CHAIN_PRIVATE_KEY", "")
	v.SetDefault("CHAIN_ID", 11155111) // Sepolia
	v.SetDefault("CHAIN_NETWORK", "sepolia")
	v.SetDefault("CHAIN_REQUIRED_CONFIRMATIONS", 6)
	v.SetDefault("CHAIN_CONFIRMATION_INTERVAL", "15s")
	v.SetDefault("CHAIN_SUBMISSION_BATCH_SIZE", 50)
	v.SetDefault("CHAIN_RECEIPT_TIMEOUT", "10s")
	v.SetDefault("CHAIN_DROP_AFTER", "24h")
	v.SetDefault("CHAIN_LISTEN_TOPICS", "shipment-events,delivery-events")
	v.SetDefault("CHAIN_TARGET_EVENTS", "shipment.created,delivery.completed")

	// Saga
	v.SetDefault("SAGA_STUCK_THRESHOLD", "10m")
	v.SetDefault("SAGA_REAPER_INTERVAL", "1m")

	// Publish retry budget
	v.SetDefault("PUBLISH_MAX_ATTEMPTS", 5)
	v.SetDefault("PUBLISH_INITIAL_BACKOFF", "500ms")

	// OTel
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "supply-chain-tracker")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt32("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt32("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	cfg.Kafka.Brokers = strings.Split(v.GetString("KAFKA_BROKERS"), ",")
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	cfg.Chain.NodeURL = v.GetString("CHAIN_NODE_URL")
	cfg.Chain.PrivateKey = v.GetString("CHAIN_PRIVATE_KEY")
	cfg.Chain.ChainID = v.GetInt64("CHAIN_ID")
	cfg.Chain.Network = v.GetString("CHAIN_NETWORK")
	cfg.Chain.RequiredConfirmations = v.GetUint64("CHAIN_REQUIRED_CONFIRMATIONS")
	cfg.Chain.ConfirmationInterval = v.GetDuration("CHAIN_CONFIRMATION_INTERVAL")
	cfg.Chain.SubmissionBatchSize = v.GetInt("CHAIN_SUBMISSION_BATCH_SIZE")
	cfg.Chain.ReceiptTimeout = v.GetDuration("CHAIN_RECEIPT_TIMEOUT")
	cfg.Chain.DropAfter = v.GetDuration("CHAIN_DROP_AFTER")
	cfg.Chain.ListenTopics = strings.Split(v.GetString("CHAIN_LISTEN_TOPICS"), ",")
	cfg.Chain.TargetEvents = strings.Split(v.GetString("CHAIN_TARGET_EVENTS"), ",")

	cfg.Saga.StuckThreshold = v.GetDuration("SAGA_STUCK_THRESHOLD")
	cfg.Saga.ReaperInterval = v.GetDuration("SAGA_REAPER_INTERVAL")

	cfg.Publish.MaxAttempts = v.GetInt("PUBLISH_MAX_ATTEMPTS")
	cfg.Publish.InitialBackoff = v.GetDuration("PUBLISH_INITIAL_BACKOFF")

	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
		return fmt.Errorf("at least one Kafka broker is required")
	}

	if c.Chain.RequiredConfirmations == 0 {
		return fmt.Errorf("required confirmations must be at least 1")
	}

	if c.Publish.MaxAttempts <= 0 {
		return fmt.Errorf("publish max attempts must be positive")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

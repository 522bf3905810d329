package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/retry"
)

// KafkaConfig holds Kafka adapter configuration
type KafkaConfig struct {
	Brokers          []string
	ConsumerGroup    string
	ClientID         string
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration

	// Publish retry budget. Nil uses retry.DefaultConfig.
	Retry *retry.Config
}

// KafkaQueue implements EventQueue on franz-go. The producer is
// idempotent within a session and requires acks from all in-sync
// replicas; messages are keyed by aggregate_id so per-aggregate order
// is preserved. Consumers commit offsets only after records have been
// handed to the caller, giving at-least-once delivery.
type KafkaQueue struct {
	config   *KafkaConfig
	producer *kgo.Client
	retrier  *retry.Retrier

	mu        sync.Mutex
	consumers []*kgo.Client
	closed    bool
}

var _ EventQueue = (*KafkaQueue)(nil)

// NewKafkaQueue creates the adapter and verifies broker connectivity.
func NewKafkaQueue(ctx context.Context, cfg *KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.RebalanceTimeout == 0 {
		cfg.RebalanceTimeout = 60 * time.Second
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	producer, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	if err := producer.Ping(ctx); err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}

	return &KafkaQueue{
		config:   cfg,
		producer: producer,
		retrier:  retry.New(retryCfg),
	}, nil
}

// PublishEvent publishes the event to each topic, keyed by aggregate_id.
func (q *KafkaQueue) PublishEvent(ctx context.Context, event *Event, topics ...string) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	return q.publish(ctx, event.AggregateID, data, topics)
}

// PublishCommand publishes the command to each topic, keyed by aggregate_id.
func (q *KafkaQueue) PublishCommand(ctx context.Context, cmd *Command, topics ...string) error {
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}
	return q.publish(ctx, cmd.AggregateID, data, topics)
}

func (q *KafkaQueue) publish(ctx context.Context, key string, value []byte, topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	for _, topic := range topics {
		record := &kgo.Record{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		}

		result := q.retrier.Do(ctx, func(ctx context.Context) error {
			err := q.producer.ProduceSync(ctx, record).FirstErr()
			if err != nil && producePermanent(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if result.Err != nil {
			return fmt.Errorf("%w: topic %s after %d attempts: %v",
				ErrPublish, topic, result.Attempts, result.LastError)
		}
	}

	return nil
}

// producePermanent reports whether a produce error can never succeed on
// retry: client-side record rejections and broker error codes Kafka
// itself marks non-retriable (authorization failures, invalid topics,
// oversized messages). Backing off on these only burns the budget.
func producePermanent(err error) bool {
	if errors.Is(err, kerr.MessageTooLarge) {
		return true
	}
	var kafkaErr *kerr.Error
	if errors.As(err, &kafkaErr) {
		return !kafkaErr.Retriable
	}
	return false
}

// ConsumeEvents subscribes to the topics with the configured consumer
// group. Offsets commit after each poll's records have been handed off.
func (q *KafkaQueue) ConsumeEvents(ctx context.Context, topics ...string) (<-chan *Event, error) {
	client, err := q.newConsumer(ctx, topics)
	if err != nil {
		return nil, err
	}

	out := make(chan *Event)
	go q.consumeLoop(ctx, client, topics, func(record *kgo.Record) bool {
		event, err := UnmarshalEvent(record.Value)
		if err != nil {
			logger.Get().Warn("skipping malformed event",
				zap.String("topic", record.Topic),
				zap.Int64("offset", record.Offset),
				zap.Error(err))
			return true
		}
		select {
		case out <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })

	return out, nil
}

// ConsumeCommands is the command-side counterpart of ConsumeEvents.
func (q *KafkaQueue) ConsumeCommands(ctx context.Context, topics ...string) (<-chan *Command, error) {
	client, err := q.newConsumer(ctx, topics)
	if err != nil {
		return nil, err
	}

	out := make(chan *Command)
	go q.consumeLoop(ctx, client, topics, func(record *kgo.Record) bool {
		cmd, err := UnmarshalCommand(record.Value)
		if err != nil {
			logger.Get().Warn("skipping malformed command",
				zap.String("topic", record.Topic),
				zap.Int64("offset", record.Offset),
				zap.Error(err))
			return true
		}
		select {
		case out <- cmd:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })

	return out, nil
}

func (q *KafkaQueue) newConsumer(ctx context.Context, topics []string) (*kgo.Client, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	opts := []kgo.Opt{
		kgo.SeedBrokers(q.config.Brokers...),
		kgo.ConsumerGroup(q.config.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.ClientID(q.config.ClientID),
		kgo.DisableAutoCommit(),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.SessionTimeout(q.config.SessionTimeout),
		kgo.RebalanceTimeout(q.config.RebalanceTimeout),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}

	q.mu.Lock()
	q.consumers = append(q.consumers, client)
	q.mu.Unlock()

	return client, nil
}

// consumeLoop polls records and hands each to deliver in partition
// order. deliver returns false when the consumer must stop.
func (q *KafkaQueue) consumeLoop(ctx context.Context, client *kgo.Client, topics []string, deliver func(*kgo.Record) bool, done func()) {
	log := logger.Get()
	defer done()
	defer client.Close()

	log.Info("consumer started", zap.Strings("topics", topics))

	for {
		if ctx.Err() != nil {
			return
		}

		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			canceled := false
			for _, err := range errs {
				if err.Err == context.Canceled || ctx.Err() != nil {
					canceled = true
					continue
				}
				log.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
			}
			if canceled {
				return
			}
			continue
		}

		delivered := true
		fetches.EachRecord(func(record *kgo.Record) {
			if !delivered {
				return
			}
			delivered = deliver(record)
		})
		if !delivered {
			return
		}

		// Commit only after every record of the poll has been handed off
		if err := client.CommitUncommittedOffsets(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to commit offsets", zap.Error(err))
		}
	}
}

// Close shuts the producer and all consumer clients.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	q.producer.Close()
	for _, c := range q.consumers {
		c.Close()
	}
	q.consumers = nil

	return nil
}

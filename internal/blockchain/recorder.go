package blockchain

import (
	"context"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
	"github.com/bubled33/supply-chain-tracker/pkg/messaging"
)

// RecorderConfig selects which events get anchored.
type RecorderConfig struct {
	// ListenTopics are the event topics to consume.
	ListenTopics []string
	// TargetEvents whitelists the event types worth anchoring.
	// Everything else on the listen topics is acknowledged and skipped.
	TargetEvents []string
}

// DefaultRecorderConfig anchors the shipment lifecycle milestones.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		ListenTopics: []string{messaging.TopicShipmentEvents, messaging.TopicDeliveryEvents},
		TargetEvents: []string{messaging.EventShipmentCreated, messaging.EventDeliveryCompleted},
	}
}

// Recorder consumes domain events and anchors the whitelisted ones on
// chain through the service.
type Recorder struct {
	queue   messaging.EventQueue
	service *Service
	cfg     RecorderConfig
	targets map[string]struct{}
}

// NewRecorder creates the recording worker.
func NewRecorder(queue messaging.EventQueue, service *Service, cfg RecorderConfig) *Recorder {
	if len(cfg.ListenTopics) == 0 {
		cfg.ListenTopics = DefaultRecorderConfig().ListenTopics
	}
	if len(cfg.TargetEvents) == 0 {
		cfg.TargetEvents = DefaultRecorderConfig().TargetEvents
	}

	targets := make(map[string]struct{}, len(cfg.TargetEvents))
	for _, t := range cfg.TargetEvents {
		targets[t] = struct{}{}
	}

	return &Recorder{queue: queue, service: service, cfg: cfg, targets: targets}
}

// Run consumes events until ctx is canceled.
func (r *Recorder) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("blockchain recorder running",
		zap.Strings("topics", r.cfg.ListenTopics),
		zap.Strings("target_events", r.cfg.TargetEvents))

	events, err := r.queue.ConsumeEvents(ctx, r.cfg.ListenTopics...)
	if err != nil {
		return err
	}

	for event := range events {
		r.handleEvent(ctx, event)
	}
	return ctx.Err()
}

func (r *Recorder) handleEvent(ctx context.Context, event *messaging.Event) {
	if _, ok := r.targets[event.EventType]; !ok {
		return
	}

	log := logger.Get()
	if event.AggregateID == "" {
		log.Warn("skipping event without aggregate id",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType))
		return
	}

	record, err := r.service.RegisterEvent(ctx, event.AggregateID, event.Payload, event.CorrelationID)
	if err != nil {
		// At-least-once redelivery will retry transient failures.
		// Permanent submission errors are dropped after logging so one
		// poisoned event cannot wedge the topic.
		log.Error("failed to anchor event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.String("aggregate_id", event.AggregateID),
			zap.Error(err))
		return
	}

	log.Info("event queued for confirmation",
		zap.String("event_type", event.EventType),
		zap.String("record_id", record.RecordID),
		zap.String("tx_hash", record.TxHash))
}

package messaging

import (
	"context"
	"errors"
)

// ErrPublish is returned when a publish could not be delivered within
// the configured retry budget. Callers treat it as a hard failure.
var ErrPublish = errors.New("publish failed after retries")

// EventQueue is the messaging port. Implementations guarantee
// at-least-once delivery and per-aggregate ordering (messages with the
// same aggregate_id are delivered in publish order).
type EventQueue interface {
	// PublishEvent publishes the event to one or more topics.
	PublishEvent(ctx context.Context, event *Event, topics ...string) error

	// PublishCommand publishes the command to one or more topics.
	PublishCommand(ctx context.Context, cmd *Command, topics ...string) error

	// ConsumeEvents subscribes to the given topics and returns a channel
	// of decoded events. The channel is closed when ctx is canceled.
	// Malformed messages are logged and skipped, never delivered.
	ConsumeEvents(ctx context.Context, topics ...string) (<-chan *Event, error)

	// ConsumeCommands subscribes to the given topics and returns a channel
	// of decoded commands. Same semantics as ConsumeEvents.
	ConsumeCommands(ctx context.Context, topics ...string) (<-chan *Command, error)

	// Close releases broker connections. Publish and consume calls after
	// Close return errors.
	Close() error
}

// Well-known topics
const (
	TopicShipmentEvents    = "shipment-events"
	TopicInventoryEvents   = "inventory-events"
	TopicDeliveryEvents    = "delivery-events"
	TopicBlockchainEvents  = "blockchain-events"
	TopicSagaEvents        = "saga-events"
	TopicShipmentCommands  = "shipment-commands"
	TopicInventoryCommands = "inventory-commands"
	TopicDeliveryCommands  = "delivery-commands"
	TopicBlockchainCmds    = "blockchain-commands"

	// Dedicated failure topics watched by the compensation worker
	TopicInventoryInsufficient = "inventory.insufficient"
	TopicDeliveryFailed        = "delivery.failed"
	TopicCourierUnassigned     = "courier.unassigned"
)

package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the wire envelope for domain events. Every message on an
// event topic carries this shape; payload keys are event-type specific.
type Event struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// Command is the wire envelope for commands sent to participant services.
// Commands carry no timestamp; the receiving service owns execution time.
type Command struct {
	CommandID     string                 `json:"command_id"`
	CommandType   string                 `json:"command_type"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// NewEvent builds an event envelope with a fresh event id and UTC timestamp.
func NewEvent(eventType, aggregateID, aggregateType string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// NewCommand builds a command envelope with a fresh command id.
func NewCommand(commandType, aggregateID, aggregateType string, payload map[string]interface{}, correlationID string) *Command {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Command{
		CommandID:     uuid.NewString(),
		CommandType:   commandType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       payload,
		CorrelationID: correlationID,
	}
}

// Marshal serializes the event to JSON bytes
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.EventType, err)
	}
	return data, nil
}

// UnmarshalEvent parses an event envelope from JSON bytes
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if e.EventType == "" {
		return nil, fmt.Errorf("event missing event_type")
	}
	return &e, nil
}

// Marshal serializes the command to JSON bytes
func (c *Command) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command %s: %w", c.CommandType, err)
	}
	return data, nil
}

// UnmarshalCommand parses a command envelope from JSON bytes
func UnmarshalCommand(data []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if c.CommandType == "" {
		return nil, fmt.Errorf("command missing command_type")
	}
	return &c, nil
}

// PayloadString returns a string payload field, or "" when absent.
func (e *Event) PayloadString(key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PayloadString returns a string payload field, or "" when absent.
func (c *Command) PayloadString(key string) string {
	if v, ok := c.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

package messaging

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bubled33/supply-chain-tracker/pkg/logger"
)

// MemoryBroker is the process-wide storage behind MemoryQueue. Topic
// buffers are shared between every queue attached to the same broker,
// so separately constructed components observe each other's messages
// exactly as they would through Kafka.
type MemoryBroker struct {
	mu       sync.Mutex
	events   map[string][][]byte
	commands map[string][][]byte
	// offsets are per (consumer-group, topics-tuple, kind)
	offsets map[string]map[string]int
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		events:   make(map[string][][]byte),
		commands: make(map[string][][]byte),
		offsets:  make(map[string]map[string]int),
	}
}

// DefaultBroker is the broker used when MemoryQueue is given none.
var DefaultBroker = NewMemoryBroker()

// Clear drops all topic buffers and consumer offsets.
func (b *MemoryBroker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][][]byte)
	b.commands = make(map[string][][]byte)
	b.offsets = make(map[string]map[string]int)
}

func (b *MemoryBroker) append(kind string, topic string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if kind == "events" {
		b.events[topic] = append(b.events[topic], data)
	} else {
		b.commands[topic] = append(b.commands[topic], data)
	}
}

// next returns the message at the consumer's offset for the topic, or
// false when the consumer is caught up.
func (b *MemoryBroker) next(kind, consumerKey, topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf [][]byte
	if kind == "events" {
		buf = b.events[topic]
	} else {
		buf = b.commands[topic]
	}

	offsets, ok := b.offsets[consumerKey]
	if !ok {
		offsets = make(map[string]int)
		b.offsets[consumerKey] = offsets
	}

	off := offsets[topic]
	if off >= len(buf) {
		return nil, false
	}
	return buf[off], true
}

// advance commits the consumer's offset for the topic.
func (b *MemoryBroker) advance(consumerKey, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offsets[consumerKey][topic]++
}

// MemoryQueue implements EventQueue against a MemoryBroker. It is
// observationally equivalent to the Kafka adapter for delivery order,
// at-least-once progress and malformed-message handling, and exists
// for tests and local runs without a broker.
//
// The broker keeps one offset cursor per (group, kind, topic-set) key
// and does not serialize the fetch/deliver/advance cycle across
// consumers sharing a key, so each key supports at most one active
// consumer. Parallel consumption takes distinct groups, mirroring how
// the Kafka adapter assigns a partition to one group member at a time.
type MemoryQueue struct {
	broker *MemoryBroker
	group  string

	// PollInterval controls how often caught-up consumers re-check
	// their topics. Defaults to 100ms.
	PollInterval time.Duration
}

var _ EventQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue attached to the given broker. A nil
// broker attaches to DefaultBroker.
func NewMemoryQueue(broker *MemoryBroker, group string) *MemoryQueue {
	if broker == nil {
		broker = DefaultBroker
	}
	return &MemoryQueue{
		broker:       broker,
		group:        group,
		PollInterval: 100 * time.Millisecond,
	}
}

// PublishEvent appends the event to every named topic buffer.
func (q *MemoryQueue) PublishEvent(ctx context.Context, event *Event, topics ...string) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	for _, topic := range topics {
		q.broker.append("events", topic, data)
	}
	return nil
}

// PublishCommand appends the command to every named topic buffer.
func (q *MemoryQueue) PublishCommand(ctx context.Context, cmd *Command, topics ...string) error {
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}
	for _, topic := range topics {
		q.broker.append("commands", topic, data)
	}
	return nil
}

// ConsumeEvents polls the topic buffers and delivers decoded events.
// The offset advances only after a successful handoff.
func (q *MemoryQueue) ConsumeEvents(ctx context.Context, topics ...string) (<-chan *Event, error) {
	out := make(chan *Event)
	key := q.consumerKey("events", topics)

	go func() {
		defer close(out)
		q.poll(ctx, "events", key, topics, func(data []byte) bool {
			event, err := UnmarshalEvent(data)
			if err != nil {
				logger.Get().Warn("skipping malformed event", zap.Error(err))
				return true
			}
			select {
			case out <- event:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return out, nil
}

// ConsumeCommands is the command-side counterpart of ConsumeEvents.
func (q *MemoryQueue) ConsumeCommands(ctx context.Context, topics ...string) (<-chan *Command, error) {
	out := make(chan *Command)
	key := q.consumerKey("commands", topics)

	go func() {
		defer close(out)
		q.poll(ctx, "commands", key, topics, func(data []byte) bool {
			cmd, err := UnmarshalCommand(data)
			if err != nil {
				logger.Get().Warn("skipping malformed command", zap.Error(err))
				return true
			}
			select {
			case out <- cmd:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return out, nil
}

// poll drains every topic in turn, then sleeps for PollInterval.
// deliver returns false when the consumer must stop; a true return on
// a message commits its offset, so redelivery can only happen before
// the handoff, never after.
func (q *MemoryQueue) poll(ctx context.Context, kind, key string, topics []string, deliver func([]byte) bool) {
	interval := q.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	for {
		progressed := false
		for _, topic := range topics {
			for {
				if ctx.Err() != nil {
					return
				}
				data, ok := q.broker.next(kind, key, topic)
				if !ok {
					break
				}
				if !deliver(data) {
					return
				}
				q.broker.advance(key, topic)
				progressed = true
			}
		}

		if !progressed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

func (q *MemoryQueue) consumerKey(kind string, topics []string) string {
	return q.group + "|" + kind + "|" + strings.Join(topics, ",")
}

// Close is a no-op; consumers stop through context cancellation.
func (q *MemoryQueue) Close() error {
	return nil
}

// PublishedEvents decodes and returns everything published to an event
// topic. Test helper.
func (b *MemoryBroker) PublishedEvents(topic string) []*Event {
	b.mu.Lock()
	raw := make([][]byte, len(b.events[topic]))
	copy(raw, b.events[topic])
	b.mu.Unlock()

	out := make([]*Event, 0, len(raw))
	for _, data := range raw {
		if e, err := UnmarshalEvent(data); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// PublishedCommands decodes and returns everything published to a
// command topic. Test helper.
func (b *MemoryBroker) PublishedCommands(topic string) []*Command {
	b.mu.Lock()
	raw := make([][]byte, len(b.commands[topic]))
	copy(raw, b.commands[topic])
	b.mu.Unlock()

	out := make([]*Command, 0, len(raw))
	for _, data := range raw {
		if c, err := UnmarshalCommand(data); err == nil {
			out = append(out, c)
		}
	}
	return out
}

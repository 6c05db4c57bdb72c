package messaging

import (
	"context"
	"log/slog"
	"sync"

	"agora/contexts/governance/governance-engine/ports"
)

// Kafka is the event bus adapter used by the outbox relay and consumers.
// Current implementation is in-process publish/subscribe: each consumer
// group on a topic receives every event once.
type Kafka struct {
	mu          sync.RWMutex
	brokers     []string
	subscribers map[string]map[string]chan ports.EventEnvelope
	logger      *slog.Logger
}

func NewKafka(brokers []string, logger *slog.Logger) (*Kafka, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{
		brokers:     append([]string(nil), brokers...),
		subscribers: make(map[string]map[string]chan ports.EventEnvelope),
		logger:      logger,
	}, nil
}

// Publish blocks until every group on topic accepted the event or ctx ends.
// The relay only marks a row published after Publish returns nil.
func (k *Kafka) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	k.mu.RLock()
	subs := make([]chan ports.EventEnvelope, 0, len(k.subscribers[topic]))
	for _, ch := range k.subscribers[topic] {
		subs = append(subs, ch)
	}
	k.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- event:
		}
	}

	k.logger.Info("event published",
		"event", "kafka_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"consumer_groups", len(subs),
	)
	return nil
}

func (k *Kafka) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	ch := make(chan ports.EventEnvelope, 128)

	k.mu.Lock()
	groups, ok := k.subscribers[topic]
	if !ok {
		groups = make(map[string]chan ports.EventEnvelope)
		k.subscribers[topic] = groups
	}
	if existing, ok := groups[consumerGroup]; ok {
		// A second member of the group shares the group's queue.
		ch = existing
	} else {
		groups[consumerGroup] = ch
	}
	k.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				k.removeSubscriber(topic, consumerGroup, ch)
				return
			case event := <-ch:
				if err := handler(ctx, event); err != nil {
					k.logger.Error("consumer handler failed",
						"event", "kafka_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

func (k *Kafka) removeSubscriber(topic string, consumerGroup string, target chan ports.EventEnvelope) {
	k.mu.Lock()
	defer k.mu.Unlock()

	groups := k.subscribers[topic]
	if groups[consumerGroup] == target {
		delete(groups, consumerGroup)
	}
	if len(groups) == 0 {
		delete(k.subscribers, topic)
	}
}

var _ ports.EventPublisher = (*Kafka)(nil)
var _ ports.EventSubscriber = (*Kafka)(nil)

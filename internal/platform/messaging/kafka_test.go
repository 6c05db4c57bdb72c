package messaging

import (
	"context"
	"testing"
	"time"

	"agora/contexts/governance/governance-engine/ports"
)

func TestKafkaDeliversOncePerConsumerGroup(t *testing.T) {
	bus, err := NewKafka([]string{"localhost:9092"}, nil)
	if err != nil {
		t.Fatalf("new kafka failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := make(chan string, 4)
	audit := make(chan string, 4)
	subscribe := func(group string, sink chan string) {
		t.Helper()
		err := bus.Subscribe(ctx, "governance.proposal.approved", group, func(_ context.Context, event ports.EventEnvelope) error {
			sink <- event.EventID
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe %s failed: %v", group, err)
		}
	}
	subscribe("scheduler-cg", scheduler)
	subscribe("scheduler-cg", scheduler)
	subscribe("audit-cg", audit)

	event := ports.EventEnvelope{EventID: "event-1", EventType: "governance.proposal.approved"}
	if err := bus.Publish(ctx, "governance.proposal.approved", event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	for name, sink := range map[string]chan string{"scheduler": scheduler, "audit": audit} {
		select {
		case got := <-sink:
			if got != "event-1" {
				t.Fatalf("%s received %s", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive the event", name)
		}
	}
	select {
	case extra := <-scheduler:
		t.Fatalf("scheduler group received a second copy %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestKafkaPublishWithoutSubscribers(t *testing.T) {
	bus, _ := NewKafka(nil, nil)
	if err := bus.Publish(context.Background(), "governance.vote.cast", ports.EventEnvelope{EventID: "event-2"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

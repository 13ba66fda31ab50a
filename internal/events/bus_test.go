package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesTopicEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 8)
	workerCh := bus.Subscribe(TopicWorker, 8)

	bus.Publish(TaskClaimedEvent{TaskID: "task-engine", WorkerID: "w1", Timestamp: time.Now()})

	select {
	case event := <-taskCh:
		if event.EventType() != EventTypeTaskClaimed {
			t.Errorf("event type = %q", event.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("task subscriber did not receive event")
	}

	select {
	case event := <-workerCh:
		t.Fatalf("worker subscriber received task event: %v", event)
	default:
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	all := bus.SubscribeAll(8)

	bus.Publish(WorkerSpawnedEvent{WorkerID: "w1", Timestamp: time.Now()})
	bus.Publish(ConsolidationStartedEvent{Timestamp: time.Now()})

	for _, wantType := range []string{EventTypeWorkerSpawned, EventTypeConsolidationStarted} {
		select {
		case event := <-all:
			if event.EventType() != wantType {
				t.Errorf("event type = %q, want %q", event.EventType(), wantType)
			}
		case <-time.After(time.Second):
			t.Fatalf("all-subscriber did not receive %q", wantType)
		}
	}
}

func TestPublishNonBlockingOnFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			bus.Publish(TaskStartedEvent{TaskID: "task-engine", Timestamp: time.Now()})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestCloseIdempotentAndTerminatesSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicFailure, 4)

	bus.Close()
	bus.Close() // Second close must not panic

	if _, open := <-ch; open {
		t.Error("subscriber channel should be closed")
	}

	// Publishing after close is a no-op.
	bus.Publish(WorkerLostEvent{WorkerID: "w1", Timestamp: time.Now()})

	// Subscribing after close yields a closed channel.
	late := bus.Subscribe(TopicTask, 4)
	if _, open := <-late; open {
		t.Error("late subscriber channel should be closed")
	}
}

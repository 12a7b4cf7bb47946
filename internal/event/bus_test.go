package event_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/qiwenz/parley/backend/internal/event"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, event.SessionCreated)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}

	bus.Publish(event.SessionCreated, event.SessionCreatedData{SessionID: "abc"})

	select {
	case msg := <-msgs:
		var data event.SessionCreatedData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if data.SessionID != "abc" {
			t.Fatalf("unexpected session id: %s", data.SessionID)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusSubscribeOnlyMatchingType(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, event.MessageCreated)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}

	bus.Publish(event.SessionCreated, event.SessionCreatedData{SessionID: "abc"})

	select {
	case msg := <-msgs:
		t.Fatalf("received event for wrong topic: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

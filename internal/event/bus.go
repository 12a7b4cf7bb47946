// Package event provides a lightweight pub/sub bus for session and message
// lifecycle notifications, backed by watermill's gochannel transport.
package event

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type names a lifecycle event. It doubles as the watermill topic.
type Type string

const (
	SessionCreated Type = "session.created"
	MessageCreated Type = "message.created"
)

// SessionCreatedData is the payload for SessionCreated.
type SessionCreatedData struct {
	SessionID string `json:"sessionId"`
}

// MessageCreatedData is the payload for MessageCreated.
type MessageCreatedData struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
}

// Bus wraps a gochannel pub/sub. Publishing is fire-and-forget: a bus with
// no subscribers drops events, and a marshal failure drops the event rather
// than surfacing an error to the caller on the hot path.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates an in-process event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

// Publish emits an event of the given type with a JSON payload.
func (b *Bus) Publish(t Type, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = b.pubsub.Publish(string(t), message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe returns a channel of raw watermill messages for the given type.
// Messages must be Ack'd by the consumer. The channel closes when ctx is
// canceled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, t Type) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, string(t))
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

package pubsub

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

const defaultPublishTimeout = 15 * time.Second

// Event is one stored outbox row ready to leave the process. Payload is sent
// unchanged as the message body.
type Event struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	CreatedAt     time.Time
	Payload       []byte
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// EventPublisher publishes outbox events to one topic and waits for the ack.
type EventPublisher struct {
	pub     publisher
	timeout time.Duration
}

// NewEventPublisher binds an EventPublisher to a Pub/Sub publisher handle.
func NewEventPublisher(p *gcppubsub.Publisher) (*EventPublisher, error) {
	if p == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	return newEventPublisher(&gcpPublisher{Publisher: p}), nil
}

func newEventPublisher(p publisher) *EventPublisher {
	return &EventPublisher{pub: p, timeout: defaultPublishTimeout}
}

// PublishEvent returns the server-assigned message id.
func (p *EventPublisher) PublishEvent(ctx context.Context, event Event) (string, error) {
	if p == nil || p.pub == nil {
		return "", fmt.Errorf("event publisher not configured")
	}
	if len(event.Payload) == 0 {
		return "", fmt.Errorf("event %s has no payload", event.ID)
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       event.ID,
			"event_type":     event.Type,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := p.pub.Publish(publishCtx, msg)
	if result == nil {
		return "", fmt.Errorf("publisher returned nil result for %s", event.Type)
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return serverID, nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

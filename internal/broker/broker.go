// Package broker carries task requests to worker agents and their replies
// back to the orchestrator. Topics are matched exactly.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is one delivery on a topic.
type Message struct {
	Topic         string `json:"topic"`
	CorrelationID string `json:"correlation_id"`
	Payload       []byte `json:"payload"`
}

// Handler consumes messages. It must not block for long; deliveries to a
// subscription are sequential.
type Handler func(ctx context.Context, msg Message)

// Subscription is an active subscription.
type Subscription interface {
	// Topic returns the subscribed topic.
	Topic() string
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Broker is a publish/subscribe transport.
type Broker interface {
	Publish(ctx context.Context, topic, correlationID string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Close() error
}

// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub client for revision event fan-in.
type Publisher struct {
	client *pubsub.Client
}

// New creates a Publisher backed by the provided client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals the payload to JSON and publishes it to the topic,
// blocking until the server acknowledges the message.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	t := p.client.Topic(topic)
	defer t.Stop()
	result := t.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/regwatch/regwatch/internal/monitor"
)

// PublisherNotifier delivers notifications by publishing them to a
// message topic consumed by downstream delivery channels.
type PublisherNotifier struct {
	publisher monitor.Publisher
	topic     string
}

// NewPublisherNotifier creates a PublisherNotifier.
func NewPublisherNotifier(publisher monitor.Publisher, topic string) *PublisherNotifier {
	return &PublisherNotifier{publisher: publisher, topic: topic}
}

// Send publishes one notification envelope.
func (p *PublisherNotifier) Send(ctx context.Context, userID string, n monitor.Notification) error {
	payload := map[string]any{
		"user_id":      userID,
		"notification": n,
	}
	if _, err := p.publisher.Publish(ctx, p.topic, payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

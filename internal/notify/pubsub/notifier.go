// Package pubsub implements operator notifications over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/scraper"
)

// Topic is the subset of *pubsub.Topic the notifier uses.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Notifier publishes notifications to a Pub/Sub topic. Delivery is
// fire-and-forget: failures are logged, never returned, so a broken
// notification channel cannot stall or fail a job.
type Notifier struct {
	topic  Topic
	logger *zap.Logger
}

// New creates a Notifier for the provided topic.
func New(topic Topic, logger *zap.Logger) (*Notifier, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{topic: topic, logger: logger}, nil
}

// Notify marshals the notification to JSON and publishes it.
func (n *Notifier) Notify(ctx context.Context, msg scraper.Notification) {
	data, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("marshal notification failed",
			zap.String("kind", msg.Kind), zap.Error(err))
		return
	}
	attrs := map[string]string{
		"kind":   msg.Kind,
		"job_id": msg.JobID,
	}
	if msg.Urgent {
		attrs["urgent"] = "true"
	}
	result := n.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		n.logger.Warn("publish notification failed",
			zap.String("kind", msg.Kind),
			zap.String("job_id", msg.JobID),
			zap.Error(err))
	}
}

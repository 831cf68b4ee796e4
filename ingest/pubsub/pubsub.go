// Package pubsub adapts cloud.google.com/go/pubsub into an
// ingest.Poll/ingest.Sink pair, grounded on whitaker-io/machine's
// components/pubsub Initium/Terminus.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/viper"
)

// NewPoll returns a Poll that pulls one batch of v's "subscription" on
// cloud.google.com/go/pubsub's topic v's "topic" and JSON-decodes each
// message body.
func NewPoll(v *viper.Viper) (func(ctx context.Context) ([]map[string]interface{}, error), error) {
	projectID := v.GetString("project_id")
	topic := v.GetString("topic")
	subscriptionName := v.GetString("subscription")

	client, err := pubsub.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("ingest/pubsub: connecting: %w", err)
	}

	sub := client.Subscription(subscriptionName)
	if ok, _ := sub.Exists(context.Background()); !ok {
		sub, err = client.CreateSubscription(context.Background(), subscriptionName,
			pubsub.SubscriptionConfig{Topic: client.Topic(topic)})
		if err != nil {
			return nil, fmt.Errorf("ingest/pubsub: creating subscription: %w", err)
		}
	}

	return func(ctx context.Context) ([]map[string]interface{}, error) {
		pullCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var out []map[string]interface{}
		err := sub.Receive(pullCtx, func(_ context.Context, m *pubsub.Message) {
			var item map[string]interface{}
			if err := json.Unmarshal(m.Data, &item); err == nil {
				out = append(out, item)
			}
			m.Ack()
			cancel()
		})
		if err != nil && pullCtx.Err() == nil {
			return out, fmt.Errorf("ingest/pubsub: receive: %w", err)
		}
		return out, nil
	}, nil
}

// NewSink returns a Sink that JSON-encodes and publishes each item to v's
// "topic".
func NewSink(v *viper.Viper) (func(ctx context.Context, items []map[string]interface{}) error, error) {
	projectID := v.GetString("project_id")
	topicName := v.GetString("topic")

	client, err := pubsub.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("ingest/pubsub: connecting: %w", err)
	}
	topic := client.Topic(topicName)

	return func(ctx context.Context, items []map[string]interface{}) error {
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("ingest/pubsub: marshal: %w", err)
			}
			result := topic.Publish(ctx, &pubsub.Message{Data: data})
			if _, err := result.Get(ctx); err != nil {
				return fmt.Errorf("ingest/pubsub: publish: %w", err)
			}
		}
		return nil
	}, nil
}

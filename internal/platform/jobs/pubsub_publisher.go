package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/domen-source/storyweaver-consumer/internal/services"
)

// PubSubFulfillmentPublisher publishes paid orders to a Pub/Sub topic. Messages
// for one order share an ordering key, so a consumer on an ordered subscription
// sees an order's payment events in publish order.
type PubSubFulfillmentPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubFulfillmentPublisher constructs a Pub/Sub backed fulfillment publisher.
func NewPubSubFulfillmentPublisher(topic *pubsub.Topic) (*PubSubFulfillmentPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub fulfillment publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubFulfillmentPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishFulfillment sends the paid order event and waits for the server id.
func (p *PubSubFulfillmentPublisher) PublishFulfillment(ctx context.Context, event services.FulfillmentEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub fulfillment publisher: not initialised")
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return "", errors.New("pubsub fulfillment publisher: order id is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal fulfillment event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "bookCode", event.BookCode)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderID,
	})

	id, err := result.Get(ctx)
	if err != nil {
		// A failed publish pauses its ordering key until resumed.
		p.topic.ResumePublish(orderID)
		return "", fmt.Errorf("publish fulfillment event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's publish goroutines.
func (p *PubSubFulfillmentPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

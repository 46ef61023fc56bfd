package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/domen-source/storyweaver-consumer/internal/services"
)

func TestPubSubFulfillmentPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "storybook-fulfillment")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubFulfillmentPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubFulfillmentPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.FulfillmentEvent{
		EventID:     "evt_1",
		OrderID:     "4f7d1c2e-8a55-4d8b-9a43-0f3e2f9d1b11",
		SessionID:   "cs_test_1",
		AmountTotal: 3999,
		Currency:    "usd",
		PaidAt:      time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishFulfillment(ctx, event); err != nil {
		t.Fatalf("PublishFulfillment: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.FulfillmentEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.AmountTotal != 3999 || !payload.PaidAt.Equal(event.PaidAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderId"]; attr != event.OrderID {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["bookCode"]; ok {
		t.Fatalf("empty bookCode should not be an attribute")
	}
	if messages[0].OrderingKey != event.OrderID {
		t.Fatalf("expected ordering key %q, got %q", event.OrderID, messages[0].OrderingKey)
	}
}

func TestPubSubFulfillmentPublisherRequiresOrderID(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()
	topic, err := client.CreateTopic(ctx, "storybook-fulfillment")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubFulfillmentPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubFulfillmentPublisher: %v", err)
	}
	defer publisher.Stop()

	if _, err := publisher.PublishFulfillment(ctx, services.FulfillmentEvent{EventID: "evt_2", SessionID: "cs_test_2"}); err == nil {
		t.Fatalf("expected error for event without order id")
	}
	if n := len(srv.Messages()); n != 0 {
		t.Fatalf("expected nothing published, got %d", n)
	}
}

func TestNewPubSubFulfillmentPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubFulfillmentPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

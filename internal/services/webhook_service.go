package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/domen-source/storyweaver-consumer/internal/payments"
)

// WebhookVerifier authenticates and decodes PSP webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (payments.Event, error)
}

// FullBookStarter starts full-book generation for a paid order.
type FullBookStarter interface {
	StartFullBook(ctx context.Context, orderID string, paid bool) (GenerationSnapshot, error)
}

// WebhookServiceDeps wires the dependencies required by the webhook service.
type WebhookServiceDeps struct {
	Verifier    WebhookVerifier
	Ledger      *PaymentLedger
	Fulfillment FulfillmentPublisher
	Generation  FullBookStarter
	Clock       func() time.Time
	Logger      Logger
}

type webhookService struct {
	verifier    WebhookVerifier
	ledger      *PaymentLedger
	fulfillment FulfillmentPublisher
	generation  FullBookStarter
	now         func() time.Time
	logger      Logger
}

// NewWebhookService constructs a WebhookService validating required dependencies.
// Without a fulfillment publisher paid orders are only logged.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Verifier == nil {
		return nil, errors.New("webhook service: verifier is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("webhook service: payment ledger is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	fulfillment := deps.Fulfillment
	if fulfillment == nil {
		fulfillment = NewLogFulfillmentPublisher(logger)
	}
	return &webhookService{
		verifier:    deps.Verifier,
		ledger:      deps.Ledger,
		fulfillment: fulfillment,
		generation:  deps.Generation,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// HandleStripeEvent verifies the delivery and records paid preview orders.
// Unhandled event types are acknowledged.
func (s *webhookService) HandleStripeEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	evt, err := s.verifier.Verify(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrMissingSignature) || errors.Is(err, payments.ErrInvalidSignature) {
			s.logger(ctx, "webhook.signature_failed", map[string]any{"error": err.Error()})
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrSignature, err)
		}
		return WebhookResult{}, validationError("%v", err)
	}

	result := WebhookResult{EventID: evt.ID, Type: evt.Type}
	switch evt.Type {
	case payments.EventCheckoutSessionCompleted, payments.EventCheckoutSessionAsyncSucceeded:
	default:
		s.logger(ctx, "webhook.ignored", map[string]any{"eventId": evt.ID, "type": evt.Type})
		return result, nil
	}

	session := evt.Session
	if session == nil {
		s.logger(ctx, "webhook.session_missing", map[string]any{"eventId": evt.ID, "type": evt.Type})
		return result, nil
	}
	if !session.Paid() {
		s.logger(ctx, "webhook.payment_pending", map[string]any{"eventId": evt.ID, "sessionId": session.ID, "status": string(session.PaymentStatus)})
		return result, nil
	}
	orderID := strings.TrimSpace(session.Metadata[metadataOrderID])
	if orderID == "" {
		s.logger(ctx, "webhook.checkout_completed", map[string]any{"eventId": evt.ID, "sessionId": session.ID, "bookId": session.Metadata[metadataBookID]})
		result.Handled = true
		return result, nil
	}
	result.OrderID = orderID

	record, fresh := s.ledger.Record(PaymentRecord{
		OrderID:     orderID,
		SessionID:   session.ID,
		EventID:     evt.ID,
		Source:      PaymentSourceWebhook,
		AmountTotal: session.AmountTotal,
		Currency:    session.Currency,
	})
	if !fresh {
		s.logger(ctx, "webhook.duplicate", map[string]any{"eventId": evt.ID, "orderId": orderID})
		result.Duplicate = true
		return result, nil
	}
	result.Handled = true

	event := FulfillmentEvent{
		EventID:       evt.ID,
		OrderID:       orderID,
		SessionID:     session.ID,
		BookCode:      session.Metadata[metadataBookCode],
		CustomerEmail: session.CustomerEmail,
		AmountTotal:   session.AmountTotal,
		Currency:      session.Currency,
		PaidAt:        record.RecordedAt,
	}
	if event.PaidAt.IsZero() {
		event.PaidAt = s.now()
	}
	if messageID, err := s.fulfillment.PublishFulfillment(ctx, event); err != nil {
		s.logger(ctx, "webhook.fulfillment_failed", map[string]any{"orderId": orderID, "error": err.Error()})
	} else {
		s.logger(ctx, "webhook.fulfillment_published", map[string]any{"orderId": orderID, "messageId": messageID})
	}

	if s.generation != nil && session.Metadata[metadataFlow] == flowPreview {
		if _, err := s.generation.StartFullBook(ctx, orderID, true); err != nil {
			s.logger(ctx, "webhook.full_book_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		}
	}
	return result, nil
}

type logFulfillmentPublisher struct {
	logger Logger
}

// NewLogFulfillmentPublisher returns a publisher that only logs paid orders.
func NewLogFulfillmentPublisher(logger Logger) FulfillmentPublisher {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return logFulfillmentPublisher{logger: logger}
}

func (p logFulfillmentPublisher) PublishFulfillment(ctx context.Context, event FulfillmentEvent) (string, error) {
	p.logger(ctx, "fulfillment.order_paid", map[string]any{
		"orderId":   event.OrderID,
		"sessionId": event.SessionID,
		"eventId":   event.EventID,
		"amount":    event.AmountTotal,
		"currency":  event.Currency,
	})
	return "", nil
}

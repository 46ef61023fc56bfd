package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	// EventCheckoutSessionCompleted fires once a hosted checkout is paid.
	EventCheckoutSessionCompleted = "checkout.session.completed"
	// EventCheckoutSessionAsyncSucceeded fires when a delayed payment method settles.
	EventCheckoutSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
)

var (
	// ErrMissingSignature is returned when the Stripe-Signature header is absent.
	ErrMissingSignature = errors.New("payments: missing webhook signature")
	// ErrInvalidSignature is returned when the payload cannot be authenticated.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

// Event is a verified PSP webhook event.
type Event struct {
	ID      string
	Type    string
	Session *SessionDetails
}

// WebhookVerifier authenticates Stripe webhook payloads.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier returns a verifier for the endpoint signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: webhook secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// Verify checks the signature header and decodes the event. Checkout session
// events carry the decoded session.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (Event, error) {
	if strings.TrimSpace(signature) == "" {
		return Event{}, ErrMissingSignature
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && evt.Data != nil && len(evt.Data.Raw) > 0 {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return Event{}, fmt.Errorf("payments: decode checkout session: %w", err)
		}
		details := SessionDetailsFromStripe(&session)
		out.Session = &details
	}
	return out, nil
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Sessions stripeSessionAPI
}

// StripeProvider creates and inspects Stripe Checkout sessions.
type StripeProvider struct {
	sessions stripeSessionAPI
	clock    func() time.Time
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	sessions := cfg.Sessions
	if sessions == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions: sessions,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreateCheckoutSession creates a card-only, one-off payment Checkout session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if len(req.Items) == 0 {
		return CheckoutSession{}, errors.New("stripe: at least one line item is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = copyMetadata(req.Metadata)
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: copyMetadata(req.Metadata),
		}
	}

	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		if item.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.Amount),
				ProductData: product,
			},
		})
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"currency":  currency,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{
		ID:          session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// LookupCheckoutSession retrieves the session so a success redirect can be verified server side.
func (p *StripeProvider) LookupCheckoutSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionDetails{}, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return SessionDetails{}, ErrSessionNotFound
		}
		return SessionDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return SessionDetailsFromStripe(session), nil
}

// SessionDetailsFromStripe converts a Stripe session into SessionDetails.
func SessionDetailsFromStripe(session *stripe.CheckoutSession) SessionDetails {
	if session == nil {
		return SessionDetails{}
	}
	details := SessionDetails{
		ID:            session.ID,
		PaymentStatus: PaymentStatus(session.PaymentStatus),
		AmountTotal:   session.AmountTotal,
		Currency:      strings.ToLower(string(session.Currency)),
		Metadata:      copyMetadata(session.Metadata),
	}
	if session.CustomerDetails != nil {
		details.CustomerEmail = session.CustomerDetails.Email
	}
	if details.CustomerEmail == "" {
		details.CustomerEmail = session.CustomerEmail
	}
	return details
}

func copyMetadata(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

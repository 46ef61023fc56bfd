package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/domen-source/storyweaver-consumer/internal/payments"
)

const (
	minimumPriceCents        = 50
	defaultPreviewPriceCents = 3999
	defaultPreviewTitle      = "Personalized Storybook"
	defaultPreviewDesc       = "Your complete personalized storybook with all pages"
	checkoutSessionIDParam   = "{CHECKOUT_SESSION_ID}"

	metadataBookID   = "bookId"
	metadataOrderID  = "orderId"
	metadataBookCode = "bookCode"
	metadataFlow     = "flow"
	flowPreview      = "preview"
)

// UnlockTokenIssuer signs unlock tokens for paid orders.
type UnlockTokenIssuer interface {
	Issue(orderID, sessionID string) (string, time.Time, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Payments          payments.Provider
	Ledger            *PaymentLedger
	Tokens            UnlockTokenIssuer
	PublicOrigin      string
	Currency          string
	PreviewPriceCents int64
	// OnPaid is notified after a redirect confirmed payment for an order.
	OnPaid func(ctx context.Context, orderID string)
	IDGen  func() string
	Logger Logger
}

type checkoutService struct {
	payments     payments.Provider
	ledger       *PaymentLedger
	tokens       UnlockTokenIssuer
	origin       string
	currency     string
	previewPrice int64
	onPaid       func(ctx context.Context, orderID string)
	idGen        func() string
	logger       Logger
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("checkout service: payment ledger is required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	previewPrice := deps.PreviewPriceCents
	if previewPrice <= 0 {
		previewPrice = defaultPreviewPriceCents
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	onPaid := deps.OnPaid
	if onPaid == nil {
		onPaid = func(context.Context, string) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		payments:     deps.Payments,
		ledger:       deps.Ledger,
		tokens:       deps.Tokens,
		origin:       strings.TrimRight(strings.TrimSpace(deps.PublicOrigin), "/"),
		currency:     currency,
		previewPrice: previewPrice,
		onPaid:       onPaid,
		idGen:        idGen,
		logger:       logger,
	}, nil
}

// CreateCheckoutSession creates a hosted checkout for a catalogue book.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	title := strings.TrimSpace(cmd.Title)
	bookID := strings.TrimSpace(cmd.BookID)
	if title == "" || bookID == "" {
		return CheckoutSessionResult{}, validationError("title and bookId are required")
	}
	if cmd.PriceCents < minimumPriceCents {
		return CheckoutSessionResult{}, validationError("price must be at least %d", minimumPriceCents)
	}
	origin, err := s.resolveOrigin(cmd.Origin)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	return s.create(ctx, payments.CheckoutSessionRequest{
		Currency:       s.currency,
		SuccessURL:     origin + "/payment/success?session_id=" + checkoutSessionIDParam,
		CancelURL:      origin + "/payment/cancel",
		Metadata:       map[string]string{metadataBookID: bookID},
		IdempotencyKey: s.idGen(),
		Items: []payments.CheckoutLineItem{{
			Name:        title,
			Description: strings.TrimSpace(cmd.Description),
			ImageURL:    strings.TrimSpace(cmd.ImageURL),
			Quantity:    1,
			Amount:      cmd.PriceCents,
		}},
	})
}

// CreatePreviewCheckoutSession creates a hosted checkout that unlocks the full
// book behind an order's preview.
func (s *checkoutService) CreatePreviewCheckoutSession(ctx context.Context, cmd CreatePreviewCheckoutCommand) (CheckoutSessionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CheckoutSessionResult{}, validationError("orderId is required")
	}
	title := strings.TrimSpace(cmd.BookTitle)
	if title == "" {
		title = defaultPreviewTitle
	}
	price := cmd.PriceCents
	if price == 0 {
		price = s.previewPrice
	}
	if price < minimumPriceCents {
		return CheckoutSessionResult{}, validationError("price must be at least %d", minimumPriceCents)
	}
	origin, err := s.resolveOrigin(cmd.Origin)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	metadata := map[string]string{metadataOrderID: orderID, metadataFlow: flowPreview}
	if code := strings.TrimSpace(cmd.BookCode); code != "" {
		metadata[metadataBookCode] = code
	}
	return s.create(ctx, payments.CheckoutSessionRequest{
		Currency:       s.currency,
		SuccessURL:     fmt.Sprintf("%s/payment/success?session_id=%s&order_id=%s", origin, checkoutSessionIDParam, url.QueryEscape(orderID)),
		CancelURL:      origin + "/preview/" + url.PathEscape(orderID),
		CustomerEmail:  strings.TrimSpace(cmd.CustomerEmail),
		Metadata:       metadata,
		IdempotencyKey: s.idGen(),
		Items: []payments.CheckoutLineItem{{
			Name:        title,
			Description: defaultPreviewDesc,
			Quantity:    1,
			Amount:      price,
		}},
	})
}

// ConfirmPayment verifies the session with the PSP, records the payment and
// issues an unlock token for the order.
func (s *checkoutService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentConfirmation, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return PaymentConfirmation{}, validationError("session_id is required")
	}
	details, err := s.payments.LookupCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return PaymentConfirmation{}, fmt.Errorf("%w: checkout session", ErrNotFound)
		}
		s.logger(ctx, "checkout.lookup_failed", map[string]any{"sessionId": sessionID, "error": err.Error()})
		return PaymentConfirmation{}, networkError(err)
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	sessionOrder := strings.TrimSpace(details.Metadata[metadataOrderID])
	if orderID != "" && sessionOrder != orderID {
		return PaymentConfirmation{}, validationError("checkout session does not belong to order %s", orderID)
	}
	if orderID == "" {
		orderID = sessionOrder
	}

	confirmation := PaymentConfirmation{OrderID: orderID, SessionID: sessionID, Status: details.PaymentStatus}
	if !details.Paid() {
		return confirmation, ErrPaymentRequired
	}
	if orderID == "" {
		return confirmation, nil
	}

	s.ledger.Record(PaymentRecord{
		OrderID:     orderID,
		SessionID:   sessionID,
		Source:      PaymentSourceRedirect,
		AmountTotal: details.AmountTotal,
		Currency:    details.Currency,
	})
	s.onPaid(ctx, orderID)

	if s.tokens != nil {
		token, expires, err := s.tokens.Issue(orderID, sessionID)
		if err != nil {
			s.logger(ctx, "checkout.unlock_token_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			return confirmation, fmt.Errorf("%w: issue unlock token", ErrUnavailable)
		}
		confirmation.UnlockToken = token
		confirmation.ExpiresAt = expires
	}
	s.logger(ctx, "checkout.payment_confirmed", map[string]any{"orderId": orderID, "sessionId": sessionID})
	return confirmation, nil
}

func (s *checkoutService) create(ctx context.Context, req payments.CheckoutSessionRequest) (CheckoutSessionResult, error) {
	session, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.logger(ctx, "checkout.session_failed", map[string]any{"error": err.Error(), "metadata": req.Metadata})
		return CheckoutSessionResult{}, networkError(err)
	}
	if strings.TrimSpace(session.RedirectURL) == "" {
		return CheckoutSessionResult{}, networkError(errors.New("checkout session has no redirect url"))
	}
	s.logger(ctx, "checkout.session_created", map[string]any{"sessionId": session.ID, "metadata": req.Metadata})
	return CheckoutSessionResult{SessionID: session.ID, URL: session.RedirectURL, ExpiresAt: session.ExpiresAt}, nil
}

func (s *checkoutService) resolveOrigin(origin string) (string, error) {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		origin = s.origin
	}
	if origin == "" {
		return "", validationError("origin is required")
	}
	parsed, err := url.Parse(origin)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", validationError("origin %q is not an absolute http(s) url", origin)
	}
	return origin, nil
}

package payments

import (
	"context"
	"errors"
	"time"
)

// PaymentStatus mirrors the checkout session payment state reported by the PSP.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// ErrSessionNotFound is returned when the PSP does not know the checkout session.
var ErrSessionNotFound = errors.New("payments: checkout session not found")

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name        string
	Description string
	ImageURL    string
	Quantity    int64
	Amount      int64
}

// CheckoutSessionRequest captures the payload required to create a hosted checkout session.
type CheckoutSessionRequest struct {
	Currency       string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is the created hosted checkout session.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// SessionDetails is the PSP's current view of a checkout session.
type SessionDetails struct {
	ID            string
	PaymentStatus PaymentStatus
	AmountTotal   int64
	Currency      string
	CustomerEmail string
	Metadata      map[string]string
}

// Paid reports whether the session no longer requires payment.
func (d SessionDetails) Paid() bool {
	return d.PaymentStatus == PaymentStatusPaid || d.PaymentStatus == PaymentStatusNoPaymentRequired
}

// Provider is the PSP contract the storefront depends on.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupCheckoutSession(ctx context.Context, sessionID string) (SessionDetails, error)
}

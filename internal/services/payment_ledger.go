package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/domen-source/storyweaver-consumer/internal/payments"
)

// Payment sources recorded in the ledger.
const (
	PaymentSourceWebhook  = "webhook"
	PaymentSourceRedirect = "redirect"
)

// PaymentRecord is a verified payment for one order.
type PaymentRecord struct {
	ID          string
	OrderID     string
	SessionID   string
	EventID     string
	Source      string
	AmountTotal int64
	Currency    string
	RecordedAt  time.Time
}

// PaymentLedger remembers which orders have verified payments and which
// webhook events were already processed.
type PaymentLedger struct {
	mu      sync.RWMutex
	byOrder map[string]PaymentRecord
	events  map[string]time.Time
	now     func() time.Time
	idGen   func() string
}

// NewPaymentLedger constructs an empty in-memory ledger.
func NewPaymentLedger(clock func() time.Time) *PaymentLedger {
	if clock == nil {
		clock = time.Now
	}
	return &PaymentLedger{
		byOrder: make(map[string]PaymentRecord),
		events:  make(map[string]time.Time),
		now:     func() time.Time { return clock().UTC() },
		idGen:   func() string { return ulid.Make().String() },
	}
}

// Record stores rec and returns the stored entry. It returns false when the
// record's webhook event was already processed.
func (l *PaymentLedger) Record(rec PaymentRecord) (PaymentRecord, bool) {
	rec.OrderID = strings.TrimSpace(rec.OrderID)
	rec.EventID = strings.TrimSpace(rec.EventID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.EventID != "" {
		if _, seen := l.events[rec.EventID]; seen {
			return l.byOrder[rec.OrderID], false
		}
		l.events[rec.EventID] = l.now()
	}
	if existing, ok := l.byOrder[rec.OrderID]; ok {
		return existing, true
	}
	rec.ID = l.idGen()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.now()
	}
	if rec.OrderID != "" {
		l.byOrder[rec.OrderID] = rec
	}
	return rec, true
}

// SweepEvents forgets webhook event ids processed more than ttl ago and returns
// how many were dropped. Payment records are kept.
func (l *PaymentLedger) SweepEvents(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := l.now().Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, seenAt := range l.events {
		if seenAt.Before(cutoff) {
			delete(l.events, id)
			removed++
		}
	}
	return removed
}

// Paid reports whether a verified payment exists for orderID.
func (l *PaymentLedger) Paid(orderID string) bool {
	_, ok := l.Lookup(orderID)
	return ok
}

// Lookup returns the payment recorded for orderID.
func (l *PaymentLedger) Lookup(orderID string) (PaymentRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.byOrder[strings.TrimSpace(orderID)]
	return rec, ok
}

// UnlockTokenVerifier checks unlock tokens issued after a verified payment.
type UnlockTokenVerifier interface {
	Verify(token, orderID string) (payments.UnlockClaims, error)
}

// PaymentVerifier decides whether an order may see its full book. The
// client-supplied unlocked flag is never consulted.
type PaymentVerifier struct {
	ledger *PaymentLedger
	tokens UnlockTokenVerifier
	logger Logger
}

// NewPaymentVerifier combines the ledger with optional unlock token verification.
func NewPaymentVerifier(ledger *PaymentLedger, tokens UnlockTokenVerifier, logger Logger) *PaymentVerifier {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentVerifier{ledger: ledger, tokens: tokens, logger: logger}
}

// IsPaid is true when the ledger holds a payment for orderID or unlockToken is
// a valid token for the same order.
func (v *PaymentVerifier) IsPaid(ctx context.Context, orderID, unlockToken string) bool {
	if v == nil {
		return false
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false
	}
	if v.ledger != nil && v.ledger.Paid(orderID) {
		return true
	}
	unlockToken = strings.TrimSpace(unlockToken)
	if unlockToken == "" || v.tokens == nil {
		return false
	}
	if _, err := v.tokens.Verify(unlockToken, orderID); err != nil {
		v.logger(ctx, "payments.unlock_token_rejected", map[string]any{"orderId": orderID, "error": err.Error()})
		return false
	}
	return true
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

const defaultJSONBodyLimit = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// paymentChecker decides whether an order is paid for.
type paymentChecker interface {
	IsPaid(ctx context.Context, orderID, unlockToken string) bool
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultJSONBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

// orderIDParam reads and validates the {orderID} route parameter.
func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if _, err := uuid.Parse(raw); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_order_id", "order id must be a UUID", http.StatusBadRequest))
		return "", false
	}
	return raw, true
}

// writeServiceError maps service sentinels onto HTTP error envelopes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "the requested resource was not found", http.StatusNotFound))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", clientMessage(err, services.ErrValidation), http.StatusBadRequest))
	case errors.Is(err, services.ErrSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", "payment is required to unlock this book", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_timeout", "the book service did not respond in time", http.StatusGatewayTimeout))
	case errors.Is(err, services.ErrNetwork):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_failed", "the book service request failed, please try again", http.StatusBadGateway))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request was cancelled", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// clientMessage strips the sentinel prefix from a wrapped error message.
func clientMessage(err error, sentinel error) string {
	msg := strings.TrimSpace(strings.TrimPrefix(err.Error(), sentinel.Error()))
	msg = strings.TrimSpace(strings.TrimPrefix(msg, ":"))
	if msg == "" {
		return "invalid request"
	}
	return msg
}

func unlockCookieName(base, orderID string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "storyweaver_unlock"
	}
	return fmt.Sprintf("%s_%s", base, strings.ReplaceAll(orderID, "-", ""))
}

func unlockToken(r *http.Request, base, orderID string) string {
	cookie, err := r.Cookie(unlockCookieName(base, orderID))
	if err != nil {
		return ""
	}
	return cookie.Value
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

type pageResponse struct {
	PageNumber  int    `json:"pageNumber"`
	ImageURL    string `json:"imageUrl,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	Unlocked    bool   `json:"unlocked"`
	Placeholder bool   `json:"placeholder"`
}

func buildPageResponses(pages []domain.OrderPage) []pageResponse {
	out := make([]pageResponse, 0, len(pages))
	for _, page := range pages {
		resp := pageResponse{
			PageNumber:  page.PageNumber,
			ImageURL:    page.ImageURL,
			Unlocked:    page.Unlocked,
			Placeholder: page.Placeholder,
		}
		if page.CreatedAt != nil {
			resp.CreatedAt = formatTime(*page.CreatedAt)
		}
		out = append(out, resp)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

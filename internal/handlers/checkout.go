package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024
	paymentCancelMessage   = "Payment was cancelled. You have not been charged."
)

// CheckoutHandlers exposes checkout session creation and the PSP redirect targets.
type CheckoutHandlers struct {
	checkout      services.CheckoutService
	limiter       rateLimiter
	cookieBase    string
	secureCookies bool
	clock         func() time.Time
}

// CheckoutHandlersOption customises CheckoutHandlers.
type CheckoutHandlersOption func(*CheckoutHandlers)

// WithCheckoutRateLimit allows perMinute session creations per client address.
func WithCheckoutRateLimit(perMinute int) CheckoutHandlersOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newWindowLimiter(perMinute, time.Minute, func() time.Time { return h.clock() })
	}
}

// WithCheckoutCookie sets the unlock cookie base name and whether it is marked Secure.
func WithCheckoutCookie(base string, secure bool) CheckoutHandlersOption {
	return func(h *CheckoutHandlers) {
		if strings.TrimSpace(base) != "" {
			h.cookieBase = strings.TrimSpace(base)
		}
		h.secureCookies = secure
	}
}

// WithCheckoutClock overrides the clock, mostly for tests.
func WithCheckoutClock(clock func() time.Time) CheckoutHandlersOption {
	return func(h *CheckoutHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutHandlersOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout:   checkout,
		cookieBase: defaultUnlockCookieBase,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /checkout and /payment endpoints on the API root.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	limited := r.With(limitByClient(h.limiter))
	limited.Post("/checkout/session", h.createSession)
	limited.Post("/checkout/preview-session", h.createPreviewSession)
	r.Get("/payment/success", h.paymentSuccess)
	r.Get("/payment/cancel", h.paymentCancel)
}

type checkoutSessionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents"`
	BookID      string `json:"bookId"`
	ImageURL    string `json:"imageUrl"`
}

type previewSessionRequest struct {
	OrderID       string `json:"orderId"`
	BookTitle     string `json:"bookTitle"`
	BookCode      string `json:"bookCode"`
	PriceCents    int64  `json:"priceCents"`
	CustomerEmail string `json:"customerEmail"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type paymentSuccessResponse struct {
	Status      string `json:"status"`
	OrderID     string `json:"orderId"`
	SessionID   string `json:"sessionId"`
	PreviewPath string `json:"previewPath"`
	Unlocked    bool   `json:"unlocked"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req checkoutSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		PriceCents:  req.PriceCents,
		BookID:      strings.TrimSpace(req.BookID),
		ImageURL:    strings.TrimSpace(req.ImageURL),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCheckoutSessionResponse(session))
}

func (h *CheckoutHandlers) createPreviewSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req previewSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreatePreviewCheckoutSession(ctx, services.CreatePreviewCheckoutCommand{
		OrderID:       strings.TrimSpace(req.OrderID),
		BookTitle:     strings.TrimSpace(req.BookTitle),
		BookCode:      strings.TrimSpace(req.BookCode),
		PriceCents:    req.PriceCents,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCheckoutSessionResponse(session))
}

func (h *CheckoutHandlers) paymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	sessionID := strings.TrimSpace(query.Get("session_id"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}

	confirmation, err := h.checkout.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		SessionID: sessionID,
		OrderID:   strings.TrimSpace(query.Get("order_id")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := paymentSuccessResponse{
		Status:    string(confirmation.Status),
		OrderID:   confirmation.OrderID,
		SessionID: confirmation.SessionID,
	}
	if confirmation.OrderID != "" {
		resp.PreviewPath = "/preview/" + confirmation.OrderID
	}
	if confirmation.OrderID != "" && confirmation.UnlockToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     unlockCookieName(h.cookieBase, confirmation.OrderID),
			Value:    confirmation.UnlockToken,
			Path:     "/",
			Expires:  confirmation.ExpiresAt,
			MaxAge:   int(confirmation.ExpiresAt.Sub(h.clock()).Seconds()),
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		resp.Unlocked = true
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) paymentCancel(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":  "cancelled",
		"message": paymentCancelMessage,
	}
	if orderID := strings.TrimSpace(r.URL.Query().Get("order_id")); orderID != "" {
		resp["previewPath"] = "/preview/" + orderID
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func buildCheckoutSessionResponse(session services.CheckoutSessionResult) checkoutSessionResponse {
	return checkoutSessionResponse{
		SessionID: session.SessionID,
		URL:       session.URL,
		ExpiresAt: formatTime(session.ExpiresAt),
	}
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

const (
	maxWebhookBody        = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives PSP event deliveries.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers webhook endpoints under /webhooks.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if _, err := h.webhooks.HandleStripeEvent(ctx, payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

const (
	maxNameRequestBody      = 2 * 1024
	defaultMaxUploadBytes   = 10 << 20
	multipartOverheadBytes  = 1 << 20
	photoFormField          = "photo"
	defaultUnlockCookieBase = "storyweaver_unlock"
)

// OrderHandlers drives customization, generation and the gated viewer for one order.
type OrderHandlers struct {
	customization services.CustomizationService
	generation    services.GenerationService
	payments      paymentChecker
	cookieBase    string
	maxUpload     int64
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithUnlockCookie sets the base name of the per-order unlock cookie.
func WithUnlockCookie(base string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if strings.TrimSpace(base) != "" {
			h.cookieBase = strings.TrimSpace(base)
		}
	}
}

// WithMaxUploadBytes caps the size of an uploaded photo.
func WithMaxUploadBytes(limit int64) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if limit > 0 {
			h.maxUpload = limit
		}
	}
}

// NewOrderHandlers constructs order handlers. A nil payments checker treats every order as unpaid.
func NewOrderHandlers(customization services.CustomizationService, generation services.GenerationService, payments paymentChecker, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		customization: customization,
		generation:    generation,
		payments:      payments,
		cookieBase:    defaultUnlockCookieBase,
		maxUpload:     defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers order endpoints under /orders.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/{orderID}", func(order chi.Router) {
		order.Get("/form", h.getForm)
		order.Put("/characters/{role}/name", h.setName)
		order.Post("/characters/{role}/photo", h.uploadPhoto)
		order.Post("/avatars", h.requestAvatars)
		order.Post("/preview", h.requestPreview)
		order.Get("/pages", h.listPages)
		order.Get("/preview", h.getPreview)
		order.Post("/full-book", h.startFullBook)
		order.Get("/full-book", h.getFullBook)
	})
}

type photoResponse struct {
	FileName   string `json:"fileName,omitempty"`
	PhotoURL   string `json:"photoUrl,omitempty"`
	Uploaded   bool   `json:"uploaded"`
	UploadedAt string `json:"uploadedAt,omitempty"`
}

type formResponse struct {
	OrderID     string                   `json:"orderId"`
	BookCode    string                   `json:"bookCode"`
	State       string                   `json:"state"`
	Roles       []services.RoleField     `json:"roles"`
	Names       map[string]string        `json:"names"`
	Photos      map[string]photoResponse `json:"photos"`
	Avatars     map[string]string        `json:"avatars"`
	CanGenerate bool                     `json:"canGenerate"`
	Hint        string                   `json:"hint,omitempty"`
}

type setNameRequest struct {
	Name string `json:"name"`
}

type avatarsResponse struct {
	OrderID string            `json:"orderId"`
	State   string            `json:"state"`
	Message string            `json:"message"`
	Avatars map[string]string `json:"avatars"`
}

type previewRequestResponse struct {
	OrderID     string `json:"orderId"`
	State       string `json:"state"`
	Message     string `json:"message"`
	PreviewPath string `json:"previewPath"`
}

type pagesResponse struct {
	OrderID string         `json:"orderId"`
	Paid    bool           `json:"paid"`
	Pages   []pageResponse `json:"pages"`
}

type previewResponse struct {
	OrderID    string         `json:"orderId"`
	State      string         `json:"state"`
	Paid       bool           `json:"paid"`
	TotalPages int            `json:"totalPages"`
	Pages      []pageResponse `json:"pages"`
}

type generationResponse struct {
	OrderID    string         `json:"orderId"`
	State      string         `json:"state"`
	Status     string         `json:"status"`
	Percent    int            `json:"percent"`
	Notice     string         `json:"notice,omitempty"`
	Pages      []pageResponse `json:"pages"`
	StartedAt  string         `json:"startedAt,omitempty"`
	FinishedAt string         `json:"finishedAt,omitempty"`
}

func (h *OrderHandlers) getForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.customization == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	form, err := h.customization.Form(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFormResponse(form))
}

func (h *OrderHandlers) setName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.customization == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	body, err := readLimitedBody(r, maxNameRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req setNameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	form, err := h.customization.SetName(ctx, services.SetNameCommand{
		OrderID: orderID,
		Role:    strings.TrimSpace(chi.URLParam(r, "role")),
		Name:    req.Name,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFormResponse(form))
}

func (h *OrderHandlers) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.customization == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverheadBytes)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("photo_too_large", "photo exceeds the upload limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request must be multipart/form-data", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(photoFormField)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "photo file is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		httpx.WriteError(ctx, w, httpx.NewError("photo_too_large", "photo exceeds the upload limit", http.StatusRequestEntityTooLarge))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "photo could not be read", http.StatusBadRequest))
		return
	}
	if int64(len(data)) > h.maxUpload {
		httpx.WriteError(ctx, w, httpx.NewError("photo_too_large", "photo exceeds the upload limit", http.StatusRequestEntityTooLarge))
		return
	}

	form, err := h.customization.UploadPhoto(ctx, services.UploadPhotoCommand{
		OrderID:     orderID,
		Role:        strings.TrimSpace(chi.URLParam(r, "role")),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFormResponse(form))
}

func (h *OrderHandlers) requestAvatars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.generation == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	result, err := h.generation.RequestAvatars(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	avatars := result.Avatars
	if avatars == nil {
		avatars = map[string]string{}
	}
	httpx.WriteJSON(w, http.StatusOK, avatarsResponse{
		OrderID: result.OrderID,
		State:   string(result.State),
		Message: result.Message,
		Avatars: avatars,
	})
}

func (h *OrderHandlers) requestPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.generation == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	result, err := h.generation.RequestPreview(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, previewRequestResponse{
		OrderID:     result.OrderID,
		State:       string(result.State),
		Message:     result.Message,
		PreviewPath: result.PreviewPath,
	})
}

func (h *OrderHandlers) listPages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.generation == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	paid := h.isPaid(r, orderID)
	pages, err := h.generation.ReconcilePages(ctx, orderID, paid)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagesResponse{
		OrderID: orderID,
		Paid:    paid,
		Pages:   buildPageResponses(pages),
	})
}

func (h *OrderHandlers) getPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.generation == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	view, err := h.generation.Preview(ctx, orderID, h.isPaid(r, orderID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, previewResponse{
		OrderID:    view.OrderID,
		State:      string(view.State),
		Paid:       view.Paid,
		TotalPages: view.TotalPages,
		Pages:      buildPageResponses(view.Pages),
	})
}

func (h *OrderHandlers) startFullBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.generation == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	snapshot, err := h.generation.StartFullBook(ctx, orderID, h.isPaid(r, orderID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusAccepted
	if snapshot.Status == services.JobStatusComplete {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, buildGenerationResponse(snapshot))
}

func (h *OrderHandlers) getFullBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if h.generation == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	snapshot, err := h.generation.Generation(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildGenerationResponse(snapshot))
}

func (h *OrderHandlers) isPaid(r *http.Request, orderID string) bool {
	if h.payments == nil {
		return false
	}
	return h.payments.IsPaid(r.Context(), orderID, unlockToken(r, h.cookieBase, orderID))
}

func buildFormResponse(form services.CustomizationForm) formResponse {
	resp := formResponse{
		OrderID:     form.OrderID,
		BookCode:    form.BookCode,
		State:       string(form.State),
		Roles:       form.Roles,
		Names:       form.Names,
		Photos:      make(map[string]photoResponse, len(form.Photos)),
		Avatars:     form.Avatars,
		CanGenerate: form.CanGenerate,
		Hint:        form.Hint,
	}
	if resp.Roles == nil {
		resp.Roles = []services.RoleField{}
	}
	if resp.Names == nil {
		resp.Names = map[string]string{}
	}
	if resp.Avatars == nil {
		resp.Avatars = map[string]string{}
	}
	for role, photo := range form.Photos {
		resp.Photos[role] = photoResponse{
			FileName:   photo.FileName,
			PhotoURL:   photo.PhotoURL,
			Uploaded:   photo.Uploaded,
			UploadedAt: formatTime(photo.UploadedAt),
		}
	}
	return resp
}

func buildGenerationResponse(snapshot services.GenerationSnapshot) generationResponse {
	return generationResponse{
		OrderID:    snapshot.OrderID,
		State:      string(snapshot.State),
		Status:     string(snapshot.Status),
		Percent:    snapshot.Percent,
		Notice:     snapshot.Notice,
		Pages:      buildPageResponses(snapshot.Pages),
		StartedAt:  formatTime(snapshot.StartedAt),
		FinishedAt: formatTime(snapshot.FinishedAt),
	}
}

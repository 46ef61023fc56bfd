package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

const maxInitializeRequestBody = 4 * 1024

// BookHandlers serves the catalogue and opens draft orders.
type BookHandlers struct {
	bootstrap services.BootstrapService
}

// NewBookHandlers constructs catalogue handlers.
func NewBookHandlers(bootstrap services.BootstrapService) *BookHandlers {
	return &BookHandlers{bootstrap: bootstrap}
}

// Routes registers catalogue endpoints under /books.
func (h *BookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listBooks)
	r.Get("/{code}", h.getBook)
	r.Post("/{code}/orders", h.initializeOrder)
}

type bookResponse struct {
	ID              string               `json:"id"`
	Code            string               `json:"code"`
	Title           string               `json:"title"`
	Subtitle        string               `json:"subtitle,omitempty"`
	Description     string               `json:"description,omitempty"`
	PriceCents      int64                `json:"priceCents"`
	PreviewImageURL string               `json:"previewImageUrl,omitempty"`
	Gallery         []string             `json:"gallery"`
	PageCount       int                  `json:"pageCount"`
	Roles           []services.RoleField `json:"roles"`
}

type bookListResponse struct {
	Books []bookResponse `json:"books"`
}

type initializeOrderRequest struct {
	CustomerEmail string `json:"customerEmail"`
}

type initializeOrderResponse struct {
	OrderID string       `json:"orderId"`
	Status  string       `json:"status"`
	Book    bookResponse `json:"book"`
	Form    formResponse `json:"form"`
}

func (h *BookHandlers) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bootstrap == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	books, err := h.bootstrap.ListBooks(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := bookListResponse{Books: make([]bookResponse, 0, len(books))}
	for _, book := range books {
		resp.Books = append(resp.Books, buildBookResponse(book))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *BookHandlers) getBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bootstrap == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}
	book, err := h.bootstrap.GetBook(ctx, strings.TrimSpace(chi.URLParam(r, "code")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"book": buildBookResponse(book)})
}

func (h *BookHandlers) initializeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bootstrap == nil {
		writeServiceError(ctx, w, services.ErrUnavailable)
		return
	}

	var req initializeOrderRequest
	body, err := readLimitedBody(r, maxInitializeRequestBody)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// the customer email is optional
	default:
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.bootstrap.Initialize(ctx, services.InitializeOrderCommand{
		BookCode:      strings.TrimSpace(chi.URLParam(r, "code")),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, initializeOrderResponse{
		OrderID: result.OrderID,
		Status:  result.Status,
		Book:    buildBookResponse(result.Book),
		Form:    buildFormResponse(result.Form),
	})
}

func buildBookResponse(detail services.BookDetail) bookResponse {
	book := detail.Book
	roles := detail.Roles
	if roles == nil {
		roles = []services.RoleField{}
	}
	gallery := detail.Gallery
	if gallery == nil {
		gallery = []string{}
	}
	return bookResponse{
		ID:              book.ID,
		Code:            book.PublicationCode,
		Title:           book.Title,
		Subtitle:        book.Subtitle,
		Description:     book.Description,
		PriceCents:      book.PriceCents,
		PreviewImageURL: book.PreviewImageURL,
		Gallery:         gallery,
		PageCount:       book.PageCount(),
		Roles:           roles,
	}
}

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
)

const (
	defaultTimeout = 60 * time.Second
	publicPrefix   = "/api/public"
	userAgent      = "storyweaver-storefront/1.0"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Client calls the book/order backend API. It never retries on its own:
// generation calls are not idempotent and the poll loop is the only place that
// repeats requests.
type Client struct {
	http *resty.Client
}

// PhotoUpload is a prepared customer photo ready to forward to the backend.
type PhotoUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// New constructs a backend client for baseURL.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(base+publicPrefix).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(logger.Named("backend").Sugar()).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}
	return &Client{http: client}, nil
}

// ListBooks fetches the public catalogue.
func (c *Client) ListBooks(ctx context.Context) ([]domain.Book, error) {
	body, err := c.do(ctx, "list books", c.http.R().SetContext(ctx), http.MethodGet, "/books")
	if err != nil {
		return nil, err
	}
	return decodeBooks(body)
}

// GetBook fetches one book by publication code.
func (c *Client) GetBook(ctx context.Context, code string) (domain.Book, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Book{}, &APIError{Op: "get book", Status: http.StatusNotFound, Body: "empty publication code"}
	}
	req := c.http.R().SetContext(ctx).SetPathParam("code", code)
	body, err := c.do(ctx, "get book", req, http.MethodGet, "/books/{code}")
	if err != nil {
		return domain.Book{}, err
	}
	return decodeBook(body)
}

// CreateOrder creates a draft order for bookCode.
func (c *Client) CreateOrder(ctx context.Context, bookCode, customerEmail string) (CreatedOrder, error) {
	req := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"bookCode":      bookCode,
			"customerEmail": customerEmail,
		})
	body, err := c.do(ctx, "create order", req, http.MethodPost, "/orders")
	if err != nil {
		return CreatedOrder{}, err
	}
	return decodeCreatedOrder(body)
}

// UploadPhoto forwards a customer photo for role as multipart fields "photo" and "role".
func (c *Client) UploadPhoto(ctx context.Context, orderID, role string, photo PhotoUpload) (UploadResult, error) {
	name := photo.FileName
	if name == "" {
		name = role + ".jpg"
	}
	req := c.http.R().SetContext(ctx).
		SetPathParam("id", orderID).
		SetMultipartField("photo", name, photo.ContentType, bytes.NewReader(photo.Data)).
		SetMultipartFormData(map[string]string{"role": role})
	body, err := c.do(ctx, "upload photo", req, http.MethodPost, "/orders/{id}/upload-photo")
	if err != nil {
		return UploadResult{}, err
	}
	return decodeUpload(body)
}

// GenerateAvatars asks the backend to stylise every uploaded photo. It blocks until the backend answers.
func (c *Client) GenerateAvatars(ctx context.Context, orderID string) (string, error) {
	return c.trigger(ctx, "generate avatars", orderID, "/orders/{id}/generate-avatars")
}

// GeneratePreview asks the backend to render the teaser pages.
func (c *Client) GeneratePreview(ctx context.Context, orderID string) (string, error) {
	return c.trigger(ctx, "generate preview", orderID, "/orders/{id}/generate-preview")
}

// GeneratePages starts rendering the full book. Progress is observed via OrderStatus.
func (c *Client) GeneratePages(ctx context.Context, orderID string) (string, error) {
	return c.trigger(ctx, "generate pages", orderID, "/orders/{id}/generate-pages")
}

// OrderStatus fetches the order with its characters and generation progress.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.Order, error) {
	req := c.http.R().SetContext(ctx).SetPathParam("id", orderID)
	body, err := c.do(ctx, "order status", req, http.MethodGet, "/orders/{id}/status")
	if err != nil {
		return domain.Order{}, err
	}
	order, err := decodeOrder(body)
	if err != nil {
		return domain.Order{}, err
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return order, nil
}

// OrderPages fetches the pages generated so far.
func (c *Client) OrderPages(ctx context.Context, orderID string) ([]domain.GeneratedPage, error) {
	req := c.http.R().SetContext(ctx).SetPathParam("id", orderID)
	body, err := c.do(ctx, "order pages", req, http.MethodGet, "/orders/{id}/pages")
	if err != nil {
		return nil, err
	}
	return decodePages(body)
}

// Ping checks that the backend answers at all. Any HTTP response counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.http.R().SetContext(ctx).Head("/books")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) trigger(ctx context.Context, op, orderID, path string) (string, error) {
	req := c.http.R().SetContext(ctx).SetPathParam("id", orderID)
	body, err := c.do(ctx, op, req, http.MethodPost, path)
	if err != nil {
		return "", err
	}
	return decodeMessage(body), nil
}

func (c *Client) do(ctx context.Context, op string, req *resty.Request, method, path string) ([]byte, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	if resp.IsError() {
		return nil, &APIError{Op: op, Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Body(), nil
}

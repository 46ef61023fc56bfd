package services

import (
	"context"
	"time"

	"github.com/domen-source/storyweaver-consumer/internal/backend"
	"github.com/domen-source/storyweaver-consumer/internal/domain"
	"github.com/domen-source/storyweaver-consumer/internal/payments"
)

// Logger is the structured event logger services report through.
type Logger func(ctx context.Context, event string, fields map[string]any)

// BackendAPI is the subset of the book/order backend the storefront drives.
type BackendAPI interface {
	ListBooks(ctx context.Context) ([]domain.Book, error)
	GetBook(ctx context.Context, code string) (domain.Book, error)
	CreateOrder(ctx context.Context, bookCode, customerEmail string) (backend.CreatedOrder, error)
	UploadPhoto(ctx context.Context, orderID, role string, photo backend.PhotoUpload) (backend.UploadResult, error)
	GenerateAvatars(ctx context.Context, orderID string) (string, error)
	GeneratePreview(ctx context.Context, orderID string) (string, error)
	GeneratePages(ctx context.Context, orderID string) (string, error)
	OrderStatus(ctx context.Context, orderID string) (domain.Order, error)
	OrderPages(ctx context.Context, orderID string) ([]domain.GeneratedPage, error)
}

// BootstrapService loads the catalogue and opens draft orders.
type BootstrapService interface {
	ListBooks(ctx context.Context) ([]BookDetail, error)
	GetBook(ctx context.Context, code string) (BookDetail, error)
	Initialize(ctx context.Context, cmd InitializeOrderCommand) (OrderBootstrap, error)
}

// CustomizationService records the per-character photos and names of a draft order.
type CustomizationService interface {
	UploadPhoto(ctx context.Context, cmd UploadPhotoCommand) (CustomizationForm, error)
	SetName(ctx context.Context, cmd SetNameCommand) (CustomizationForm, error)
	Form(ctx context.Context, orderID string) (CustomizationForm, error)
}

// GenerationService drives avatar, preview and full-book generation and
// reconciles generated pages against the book template.
type GenerationService interface {
	RequestAvatars(ctx context.Context, orderID string) (AvatarResult, error)
	RequestPreview(ctx context.Context, orderID string) (PreviewRequestResult, error)
	ReconcilePages(ctx context.Context, orderID string, paid bool) ([]domain.OrderPage, error)
	Preview(ctx context.Context, orderID string, paid bool) (PreviewView, error)
	MarkPaid(ctx context.Context, orderID string) error
	StartFullBook(ctx context.Context, orderID string, paid bool) (GenerationSnapshot, error)
	PollGeneration(ctx context.Context, orderID string, onProgress func(percent int)) (PollResult, error)
	Generation(ctx context.Context, orderID string) (GenerationSnapshot, error)
	Close()
}

// CheckoutService creates hosted checkout sessions and confirms their payment.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
	CreatePreviewCheckoutSession(ctx context.Context, cmd CreatePreviewCheckoutCommand) (CheckoutSessionResult, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentConfirmation, error)
}

// WebhookService processes PSP webhook deliveries.
type WebhookService interface {
	HandleStripeEvent(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

// FulfillmentPublisher hands paid orders to downstream fulfilment.
type FulfillmentPublisher interface {
	PublishFulfillment(ctx context.Context, event FulfillmentEvent) (string, error)
}

// InitializeOrderCommand opens a draft order for a book.
type InitializeOrderCommand struct {
	BookCode      string
	CustomerEmail string
}

// RoleField describes one personalised character input.
type RoleField struct {
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// BookDetail is a catalogue entry with its derived roles and gallery.
type BookDetail struct {
	Book    domain.Book
	Roles   []RoleField
	Gallery []string
}

// OrderBootstrap is returned once the draft order exists.
type OrderBootstrap struct {
	OrderID string
	Status  string
	Book    BookDetail
	Form    CustomizationForm
}

// CustomizationForm is the current state of a draft order's inputs.
type CustomizationForm struct {
	OrderID     string
	BookCode    string
	State       domain.GenerationState
	Roles       []RoleField
	Names       map[string]string
	Photos      map[string]domain.UploadedPhoto
	Avatars     map[string]string
	CanGenerate bool
	Hint        string
}

// UploadPhotoCommand carries one customer photo for a role.
type UploadPhotoCommand struct {
	OrderID     string
	Role        string
	FileName    string
	ContentType string
	Data        []byte
}

// SetNameCommand names the character playing a role.
type SetNameCommand struct {
	OrderID string
	Role    string
	Name    string
}

// AvatarResult is returned after avatar generation.
type AvatarResult struct {
	OrderID string
	Message string
	State   domain.GenerationState
	Avatars map[string]string
}

// PreviewRequestResult is returned after preview generation.
type PreviewRequestResult struct {
	OrderID     string
	Message     string
	State       domain.GenerationState
	PreviewPath string
}

// PreviewView is the gated viewer payload.
type PreviewView struct {
	OrderID    string
	State      domain.GenerationState
	Paid       bool
	TotalPages int
	Pages      []domain.OrderPage
}

// JobStatus is the lifecycle of a full-book poll job.
type JobStatus string

const (
	JobStatusIdle     JobStatus = "idle"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusTimedOut JobStatus = "timed_out"
	JobStatusFailed   JobStatus = "failed"
)

// GenerationSnapshot is a point-in-time view of full-book generation.
type GenerationSnapshot struct {
	OrderID    string
	State      domain.GenerationState
	Status     JobStatus
	Percent    int
	Notice     string
	Pages      []domain.OrderPage
	StartedAt  time.Time
	FinishedAt time.Time
}

// PollResult is the outcome of one polling run.
type PollResult struct {
	Percent  int
	Complete bool
	TimedOut bool
	Pages    []domain.OrderPage
}

// CreateCheckoutSessionCommand buys a catalogue book outright.
type CreateCheckoutSessionCommand struct {
	Title       string
	Description string
	PriceCents  int64
	BookID      string
	ImageURL    string
	Origin      string
}

// CreatePreviewCheckoutCommand unlocks the full book behind a preview.
type CreatePreviewCheckoutCommand struct {
	OrderID       string
	BookTitle     string
	BookCode      string
	PriceCents    int64
	CustomerEmail string
	Origin        string
}

// CheckoutSessionResult is the hosted checkout to redirect to.
type CheckoutSessionResult struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
}

// ConfirmPaymentCommand verifies a checkout redirect.
type ConfirmPaymentCommand struct {
	SessionID string
	OrderID   string
}

// PaymentConfirmation is the verified outcome of a checkout redirect.
type PaymentConfirmation struct {
	OrderID     string
	SessionID   string
	Status      payments.PaymentStatus
	UnlockToken string
	ExpiresAt   time.Time
}

// WebhookResult reports what a webhook delivery did.
type WebhookResult struct {
	EventID   string
	Type      string
	OrderID   string
	Handled   bool
	Duplicate bool
}

// FulfillmentEvent announces a paid order.
type FulfillmentEvent struct {
	EventID       string    `json:"eventId"`
	OrderID       string    `json:"orderId"`
	SessionID     string    `json:"sessionId"`
	BookCode      string    `json:"bookCode,omitempty"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	AmountTotal   int64     `json:"amountTotal"`
	Currency      string    `json:"currency"`
	PaidAt        time.Time `json:"paidAt"`
}

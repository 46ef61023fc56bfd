package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

const testOrderID = "2b1f7c9e-4d3a-4e4f-9c1a-7f8e6d5c4b3a"

type stubBootstrapService struct {
	listFunc func(ctx context.Context) ([]services.BookDetail, error)
	getFunc  func(ctx context.Context, code string) (services.BookDetail, error)
	initFunc func(ctx context.Context, cmd services.InitializeOrderCommand) (services.OrderBootstrap, error)
}

func (s *stubBootstrapService) ListBooks(ctx context.Context) ([]services.BookDetail, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx)
	}
	return nil, nil
}

func (s *stubBootstrapService) GetBook(ctx context.Context, code string) (services.BookDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, code)
	}
	return services.BookDetail{}, services.ErrNotFound
}

func (s *stubBootstrapService) Initialize(ctx context.Context, cmd services.InitializeOrderCommand) (services.OrderBootstrap, error) {
	if s.initFunc != nil {
		return s.initFunc(ctx, cmd)
	}
	return services.OrderBootstrap{}, services.ErrUnavailable
}

type stubCustomizationService struct {
	uploadFunc func(ctx context.Context, cmd services.UploadPhotoCommand) (services.CustomizationForm, error)
	nameFunc   func(ctx context.Context, cmd services.SetNameCommand) (services.CustomizationForm, error)
	formFunc   func(ctx context.Context, orderID string) (services.CustomizationForm, error)
}

func (s *stubCustomizationService) UploadPhoto(ctx context.Context, cmd services.UploadPhotoCommand) (services.CustomizationForm, error) {
	if s.uploadFunc != nil {
		return s.uploadFunc(ctx, cmd)
	}
	return services.CustomizationForm{}, nil
}

func (s *stubCustomizationService) SetName(ctx context.Context, cmd services.SetNameCommand) (services.CustomizationForm, error) {
	if s.nameFunc != nil {
		return s.nameFunc(ctx, cmd)
	}
	return services.CustomizationForm{}, nil
}

func (s *stubCustomizationService) Form(ctx context.Context, orderID string) (services.CustomizationForm, error) {
	if s.formFunc != nil {
		return s.formFunc(ctx, orderID)
	}
	return services.CustomizationForm{OrderID: orderID}, nil
}

type stubGenerationService struct {
	avatarsFunc   func(ctx context.Context, orderID string) (services.AvatarResult, error)
	previewReq    func(ctx context.Context, orderID string) (services.PreviewRequestResult, error)
	pagesFunc     func(ctx context.Context, orderID string, paid bool) ([]domain.OrderPage, error)
	previewFunc   func(ctx context.Context, orderID string, paid bool) (services.PreviewView, error)
	startFunc     func(ctx context.Context, orderID string, paid bool) (services.GenerationSnapshot, error)
	snapshotFunc  func(ctx context.Context, orderID string) (services.GenerationSnapshot, error)
	markPaidCalls []string
}

func (s *stubGenerationService) RequestAvatars(ctx context.Context, orderID string) (services.AvatarResult, error) {
	if s.avatarsFunc != nil {
		return s.avatarsFunc(ctx, orderID)
	}
	return services.AvatarResult{OrderID: orderID}, nil
}

func (s *stubGenerationService) RequestPreview(ctx context.Context, orderID string) (services.PreviewRequestResult, error) {
	if s.previewReq != nil {
		return s.previewReq(ctx, orderID)
	}
	return services.PreviewRequestResult{OrderID: orderID}, nil
}

func (s *stubGenerationService) ReconcilePages(ctx context.Context, orderID string, paid bool) ([]domain.OrderPage, error) {
	if s.pagesFunc != nil {
		return s.pagesFunc(ctx, orderID, paid)
	}
	return nil, nil
}

func (s *stubGenerationService) Preview(ctx context.Context, orderID string, paid bool) (services.PreviewView, error) {
	if s.previewFunc != nil {
		return s.previewFunc(ctx, orderID, paid)
	}
	return services.PreviewView{OrderID: orderID, Paid: paid}, nil
}

func (s *stubGenerationService) MarkPaid(_ context.Context, orderID string) error {
	s.markPaidCalls = append(s.markPaidCalls, orderID)
	return nil
}

func (s *stubGenerationService) StartFullBook(ctx context.Context, orderID string, paid bool) (services.GenerationSnapshot, error) {
	if s.startFunc != nil {
		return s.startFunc(ctx, orderID, paid)
	}
	return services.GenerationSnapshot{OrderID: orderID}, nil
}

func (s *stubGenerationService) PollGeneration(context.Context, string, func(int)) (services.PollResult, error) {
	return services.PollResult{}, nil
}

func (s *stubGenerationService) Generation(ctx context.Context, orderID string) (services.GenerationSnapshot, error) {
	if s.snapshotFunc != nil {
		return s.snapshotFunc(ctx, orderID)
	}
	return services.GenerationSnapshot{OrderID: orderID, Status: services.JobStatusIdle}, nil
}

func (s *stubGenerationService) Close() {}

type stubCheckoutService struct {
	createFunc  func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error)
	previewFunc func(ctx context.Context, cmd services.CreatePreviewCheckoutCommand) (services.CheckoutSessionResult, error)
	confirmFunc func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentConfirmation, error)
}

func (s *stubCheckoutService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.CheckoutSessionResult{SessionID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test"}, nil
}

func (s *stubCheckoutService) CreatePreviewCheckoutSession(ctx context.Context, cmd services.CreatePreviewCheckoutCommand) (services.CheckoutSessionResult, error) {
	if s.previewFunc != nil {
		return s.previewFunc(ctx, cmd)
	}
	return services.CheckoutSessionResult{SessionID: "cs_preview", URL: "https://checkout.stripe.com/c/cs_preview"}, nil
}

func (s *stubCheckoutService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentConfirmation, error) {
	if s.confirmFunc != nil {
		return s.confirmFunc(ctx, cmd)
	}
	return services.PaymentConfirmation{}, services.ErrNotFound
}

type stubWebhookService struct {
	payload   []byte
	signature string
	err       error
}

func (s *stubWebhookService) HandleStripeEvent(_ context.Context, payload []byte, signature string) (services.WebhookResult, error) {
	s.payload = payload
	s.signature = signature
	return services.WebhookResult{Handled: s.err == nil}, s.err
}

type stubPaymentChecker struct {
	paidToken string
	calls     []string
}

func (s *stubPaymentChecker) IsPaid(_ context.Context, orderID, unlockToken string) bool {
	s.calls = append(s.calls, orderID)
	return s.paidToken != "" && unlockToken == s.paidToken
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	decodeBody(t, rr, &payload)
	code, _ := payload["error"].(string)
	return code
}

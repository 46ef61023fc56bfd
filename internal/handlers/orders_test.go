package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

func newOrderRouter(customization services.CustomizationService, generation services.GenerationService, payments paymentChecker, opts ...OrderHandlersOption) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(customization, generation, payments, opts...).Routes)
	return router
}

func multipartPhoto(t *testing.T, field, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func TestOrderHandlersRejectInvalidOrderID(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid/form", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_order_id" {
		t.Fatalf("expected invalid_order_id, got %s", code)
	}
}

func TestOrderHandlersSetName(t *testing.T) {
	var captured services.SetNameCommand
	router := newOrderRouter(&stubCustomizationService{
		nameFunc: func(_ context.Context, cmd services.SetNameCommand) (services.CustomizationForm, error) {
			captured = cmd
			return services.CustomizationForm{
				OrderID:     cmd.OrderID,
				Names:       map[string]string{cmd.Role: cmd.Name},
				CanGenerate: true,
			}, nil
		},
	}, &stubGenerationService{}, nil)

	req := httptest.NewRequest(http.MethodPut, "/orders/"+testOrderID+"/characters/child/name", bytes.NewBufferString(`{"name":"Mia"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.OrderID != testOrderID || captured.Role != "child" || captured.Name != "Mia" {
		t.Fatalf("unexpected command %#v", captured)
	}
	var resp formResponse
	decodeBody(t, rr, &resp)
	if !resp.CanGenerate || resp.Names["child"] != "Mia" {
		t.Fatalf("unexpected form %#v", resp)
	}
}

func TestOrderHandlersSetNameValidationError(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{
		nameFunc: func(context.Context, services.SetNameCommand) (services.CustomizationForm, error) {
			return services.CustomizationForm{}, services.ErrValidation
		},
	}, &stubGenerationService{}, nil)

	req := httptest.NewRequest(http.MethodPut, "/orders/"+testOrderID+"/characters/dragon/name", bytes.NewBufferString(`{"name":"Mia"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersUploadPhoto(t *testing.T) {
	var captured services.UploadPhotoCommand
	router := newOrderRouter(&stubCustomizationService{
		uploadFunc: func(_ context.Context, cmd services.UploadPhotoCommand) (services.CustomizationForm, error) {
			captured = cmd
			return services.CustomizationForm{
				OrderID: cmd.OrderID,
				Photos: map[string]domain.UploadedPhoto{
					cmd.Role: {Role: cmd.Role, FileName: cmd.FileName, PhotoURL: "https://cdn.example.com/p.jpg", Uploaded: true},
				},
			}, nil
		},
	}, &stubGenerationService{}, nil)

	body, contentType := multipartPhoto(t, photoFormField, "kid.png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/characters/child/photo", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if captured.Role != "child" || captured.FileName != "kid.png" || string(captured.Data) != "png-bytes" {
		t.Fatalf("unexpected command %#v", captured)
	}
	var resp formResponse
	decodeBody(t, rr, &resp)
	if !resp.Photos["child"].Uploaded {
		t.Fatalf("expected uploaded photo in response, got %#v", resp.Photos)
	}
}

func TestOrderHandlersUploadPhotoTooLarge(t *testing.T) {
	called := false
	router := newOrderRouter(&stubCustomizationService{
		uploadFunc: func(context.Context, services.UploadPhotoCommand) (services.CustomizationForm, error) {
			called = true
			return services.CustomizationForm{}, nil
		},
	}, &stubGenerationService{}, nil, WithMaxUploadBytes(16))

	body, contentType := multipartPhoto(t, photoFormField, "kid.png", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/characters/child/photo", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be called for oversized photos")
	}
}

func TestOrderHandlersUploadPhotoRequiresFile(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{}, nil)

	body, contentType := multipartPhoto(t, "other", "kid.png", []byte("png"))
	req := httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/characters/child/photo", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRequestAvatarsMapsNetworkError(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{
		avatarsFunc: func(context.Context, string) (services.AvatarResult, error) {
			return services.AvatarResult{}, services.ErrNetwork
		},
	}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/avatars", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestOrderHandlersRequestPreview(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{
		previewReq: func(_ context.Context, orderID string) (services.PreviewRequestResult, error) {
			return services.PreviewRequestResult{
				OrderID:     orderID,
				State:       domain.GenerationStatePreviewReady,
				Message:     "Preview generated",
				PreviewPath: "/preview/" + orderID,
			}, nil
		},
	}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/preview", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp previewRequestResponse
	decodeBody(t, rr, &resp)
	if resp.PreviewPath != "/preview/"+testOrderID || resp.State != "PREVIEW_READY" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestOrderHandlersPagesUseUnlockCookie(t *testing.T) {
	var paidSeen []bool
	generation := &stubGenerationService{
		pagesFunc: func(_ context.Context, _ string, paid bool) ([]domain.OrderPage, error) {
			paidSeen = append(paidSeen, paid)
			return []domain.OrderPage{
				{PageNumber: 0, ImageURL: "https://cdn.example.com/0.png", Unlocked: paid},
				{PageNumber: 1, ImageURL: "https://cdn.example.com/t1.png", Placeholder: true, Unlocked: paid},
			}, nil
		},
	}
	payments := &stubPaymentChecker{paidToken: "signed-token"}
	router := newOrderRouter(&stubCustomizationService{}, generation, payments, WithUnlockCookie("sw_unlock"))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+testOrderID+"/pages?unlocked=true", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var locked pagesResponse
	decodeBody(t, rr, &locked)
	if locked.Paid || len(locked.Pages) != 2 || locked.Pages[0].Unlocked {
		t.Fatalf("query flag must not unlock pages: %#v", locked)
	}

	req := httptest.NewRequest(http.MethodGet, "/orders/"+testOrderID+"/pages", nil)
	req.AddCookie(&http.Cookie{Name: unlockCookieName("sw_unlock", testOrderID), Value: "signed-token"})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var unlocked pagesResponse
	decodeBody(t, rr, &unlocked)
	if !unlocked.Paid || !unlocked.Pages[1].Unlocked || !unlocked.Pages[1].Placeholder {
		t.Fatalf("expected paid pages, got %#v", unlocked)
	}
	if len(paidSeen) != 2 || paidSeen[0] || !paidSeen[1] {
		t.Fatalf("unexpected paid flags %v", paidSeen)
	}
}

func TestOrderHandlersPreview(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{
		previewFunc: func(_ context.Context, orderID string, paid bool) (services.PreviewView, error) {
			return services.PreviewView{
				OrderID:    orderID,
				State:      domain.GenerationStateUnpaidLocked,
				Paid:       paid,
				TotalPages: 6,
				Pages: []domain.OrderPage{
					{PageNumber: 0, Unlocked: true},
					{PageNumber: 1, Unlocked: true},
					{PageNumber: 2, Unlocked: true},
					{PageNumber: 3},
				},
			}, nil
		},
	}, &stubPaymentChecker{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+testOrderID+"/preview", nil))

	var resp previewResponse
	decodeBody(t, rr, &resp)
	if resp.Paid || resp.TotalPages != 6 || len(resp.Pages) != 4 || resp.Pages[3].Unlocked {
		t.Fatalf("unexpected preview %#v", resp)
	}
}

func TestOrderHandlersStartFullBook(t *testing.T) {
	t.Run("payment required", func(t *testing.T) {
		router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{
			startFunc: func(_ context.Context, _ string, paid bool) (services.GenerationSnapshot, error) {
				if paid {
					t.Fatalf("expected unpaid request")
				}
				return services.GenerationSnapshot{}, services.ErrPaymentRequired
			},
		}, &stubPaymentChecker{})

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/full-book", nil))
		if rr.Code != http.StatusPaymentRequired {
			t.Fatalf("expected 402, got %d", rr.Code)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{
			startFunc: func(_ context.Context, orderID string, paid bool) (services.GenerationSnapshot, error) {
				return services.GenerationSnapshot{
					OrderID: orderID,
					State:   domain.GenerationStateFullBookRequested,
					Status:  services.JobStatusRunning,
					Percent: 20,
				}, nil
			},
		}, &stubPaymentChecker{paidToken: "tok"})

		req := httptest.NewRequest(http.MethodPost, "/orders/"+testOrderID+"/full-book", nil)
		req.AddCookie(&http.Cookie{Name: unlockCookieName(defaultUnlockCookieBase, testOrderID), Value: "tok"})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		var resp generationResponse
		decodeBody(t, rr, &resp)
		if resp.Status != "running" || resp.Percent != 20 || resp.State != "FULL_BOOK_REQUESTED" {
			t.Fatalf("unexpected snapshot %#v", resp)
		}
	})
}

func TestOrderHandlersGenerationSnapshot(t *testing.T) {
	router := newOrderRouter(&stubCustomizationService{}, &stubGenerationService{
		snapshotFunc: func(_ context.Context, orderID string) (services.GenerationSnapshot, error) {
			return services.GenerationSnapshot{
				OrderID: orderID,
				Status:  services.JobStatusTimedOut,
				Percent: 40,
				Notice:  services.TimeoutNotice,
			}, nil
		},
	}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+testOrderID+"/full-book", nil))

	var resp generationResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "timed_out" || resp.Notice != services.TimeoutNotice {
		t.Fatalf("unexpected snapshot %#v", resp)
	}
	if resp.Pages == nil {
		t.Fatalf("expected empty pages array")
	}
}

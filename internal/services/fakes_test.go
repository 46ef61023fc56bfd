package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domen-source/storyweaver-consumer/internal/backend"
	"github.com/domen-source/storyweaver-consumer/internal/domain"
)

const testOrderID = "2b1f7c9e-4d3a-4e4f-9c1a-7f8e6d5c4b3a"

type fakeBackend struct {
	mu sync.Mutex

	books       map[string]domain.Book
	createErr   error
	createdWith []string
	uploadErr   error
	uploads     []string
	avatarsErr  error
	previewErr  error
	pagesErr    error
	pageList    []domain.GeneratedPage
	pageListErr error

	statusFn    func(call int) (domain.Order, error)
	statusCalls int
	statusDelay time.Duration

	generatePagesCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{books: map[string]domain.Book{"moon": testBook()}}
}

func (f *fakeBackend) ListBooks(context.Context) ([]domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Book, 0, len(f.books))
	for _, b := range f.books {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeBackend) GetBook(_ context.Context, code string) (domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[code]
	if !ok {
		return domain.Book{}, &backend.APIError{Op: "get book", Status: 404, Body: `{"error":"Book not found"}`}
	}
	return book, nil
}

func (f *fakeBackend) CreateOrder(_ context.Context, bookCode, email string) (backend.CreatedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdWith = []string{bookCode, email}
	if f.createErr != nil {
		return backend.CreatedOrder{}, f.createErr
	}
	return backend.CreatedOrder{ID: testOrderID, Status: "pending"}, nil
}

func (f *fakeBackend) UploadPhoto(_ context.Context, orderID, role string, photo backend.PhotoUpload) (backend.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return backend.UploadResult{}, f.uploadErr
	}
	f.uploads = append(f.uploads, role+":"+photo.ContentType)
	return backend.UploadResult{Message: "ok", PhotoURL: "https://cdn/" + role + ".jpg"}, nil
}

func (f *fakeBackend) GenerateAvatars(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "avatars generated", f.avatarsErr
}

func (f *fakeBackend) GeneratePreview(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "preview generated", f.previewErr
}

func (f *fakeBackend) GeneratePages(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generatePagesCalls++
	return "generation started", f.pagesErr
}

func (f *fakeBackend) OrderStatus(ctx context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	call := f.statusCalls
	f.statusCalls++
	fn := f.statusFn
	delay := f.statusDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		}
	}
	if fn == nil {
		return domain.Order{ID: orderID, BookCode: "moon"}, nil
	}
	return fn(call)
}

func (f *fakeBackend) OrderPages(context.Context, string) ([]domain.GeneratedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.GeneratedPage(nil), f.pageList...), f.pageListErr
}

func (f *fakeBackend) setStatus(fn func(call int) (domain.Order, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFn = fn
}

func (f *fakeBackend) calls() (status int, generatePages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.generatePagesCalls
}

func testBook() domain.Book {
	return domain.Book{
		ID:              "book-1",
		PublicationCode: "moon",
		Title:           "Moon Adventure",
		PriceCents:      3999,
		PreviewImageURL: "https://cdn/cover.png",
		Template: domain.BookTemplate{Pages: []domain.TemplatePage{
			{CharacterRoles: []string{"child"}, ImageURL: "https://cdn/t0.png"},
			{CharacterRoles: []string{"parent", "child"}, ImageURL: "https://cdn/t1.png"},
			{ImageURL: "https://cdn/t2.png"},
			{ImageURL: "https://cdn/t3.png"},
			{ImageURL: "https://cdn/t4.png"},
			{},
		}},
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testStack struct {
	backend       *fakeBackend
	sessions      *SessionStore
	bootstrap     BootstrapService
	customization CustomizationService
	generation    GenerationService
}

func newTestStack(t *testing.T, fb *fakeBackend, interval, timeout time.Duration) testStack {
	t.Helper()
	sessions := NewSessionStore(nil)
	bootstrap, err := NewBootstrapService(BootstrapServiceDeps{Backend: fb, Sessions: sessions})
	require.NoError(t, err)
	customization, err := NewCustomizationService(CustomizationServiceDeps{Backend: fb, Sessions: sessions})
	require.NoError(t, err)
	generation, err := NewGenerationService(GenerationServiceDeps{
		Backend:      fb,
		Sessions:     sessions,
		PollInterval: interval,
		PollTimeout:  timeout,
	})
	require.NoError(t, err)
	t.Cleanup(generation.Close)
	return testStack{backend: fb, sessions: sessions, bootstrap: bootstrap, customization: customization, generation: generation}
}

// customizedOrder opens an order with every role named and uploaded.
func customizedOrder(t *testing.T, stack testStack) string {
	t.Helper()
	ctx := context.Background()
	boot, err := stack.bootstrap.Initialize(ctx, InitializeOrderCommand{BookCode: "moon"})
	require.NoError(t, err)
	for _, role := range []string{"child", "parent"} {
		_, err := stack.customization.UploadPhoto(ctx, UploadPhotoCommand{OrderID: boot.OrderID, Role: role, FileName: role + ".png", Data: pngBytes(t)})
		require.NoError(t, err)
		_, err = stack.customization.SetName(ctx, SetNameCommand{OrderID: boot.OrderID, Role: role, Name: "Name " + role})
		require.NoError(t, err)
	}
	return boot.OrderID
}

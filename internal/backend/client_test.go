package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return client
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost"})
	require.Error(t, err)
}

func TestGetBookDecodesEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/public/books/BOOK_1", r.URL.Path)
		_, _ = io.WriteString(w, `{"book":{"id":"b-1","publication_code":"BOOK_1","title":"Moon","price_cents":3999,
			"template_data":{"characters":[],"pages":[{"character_roles":["child"],"image_url":"p0.png"},{"character_roles":["parent","child"]}]}}}`)
	}))

	book, err := client.GetBook(context.Background(), "BOOK_1")
	require.NoError(t, err)
	assert.Equal(t, "Moon", book.Title)
	assert.Equal(t, int64(3999), book.PriceCents)
	assert.Equal(t, []string{"child", "parent"}, book.CharacterRoles())
	assert.Equal(t, "p0.png", book.Template.Pages[0].ImageURL)
	assert.Equal(t, 1, book.Template.Pages[1].PageNumber)
	assert.True(t, book.Active)
}

func TestGetBookNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))

	_, err := client.GetBook(context.Background(), "MISSING")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestGetBookMissingPropertyIsInvalid(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))

	_, err := client.GetBook(context.Background(), "BOOK_1")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestListBooks(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"books":[{"id":1,"publication_code":"A"},{"id":"2","publication_code":"B","is_active":false}]}`)
	}))

	books, err := client.ListBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "1", books[0].ID)
	assert.False(t, books[1].Active)
}

func TestCreateOrderSendsBookCodeAndEmail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BOOK_1", body["bookCode"])
		assert.Equal(t, "demo@example.com", body["customerEmail"])
		_, _ = io.WriteString(w, `{"success":true,"orderId":"5b0c7f1e-2f5e-4a4e-9a43-3f3b8f9d0c11"}`)
	}))

	created, err := client.CreateOrder(context.Background(), "BOOK_1", "demo@example.com")
	require.NoError(t, err)
	assert.Equal(t, "5b0c7f1e-2f5e-4a4e-9a43-3f3b8f9d0c11", created.ID)
	assert.Equal(t, "pending", created.Status)
}

func TestCreateOrderMissingIDIsInvalid(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	}))

	_, err := client.CreateOrder(context.Background(), "BOOK_1", "a@b.c")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestUploadPhotoSendsMultipart(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "child", r.FormValue("role"))
		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "kid.jpg", header.Filename)
		assert.Equal(t, []byte("jpeg-bytes"), data)
		_, _ = io.WriteString(w, `{"message":"ok","photo_url":"https://cdn/kid.jpg"}`)
	}))

	result, err := client.UploadPhoto(context.Background(), "order-1", "child", PhotoUpload{FileName: "kid.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/kid.jpg", result.PhotoURL)
}

func TestOrderStatusServerErrorIsAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))

	_, err := client.OrderStatus(context.Background(), "order-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "order status", apiErr.Op)
	assert.False(t, IsNotFound(err))
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := New(Config{BaseURL: base})
	require.NoError(t, err)
	_, err = client.OrderPages(context.Background(), "order-1")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestGenerateTriggersPost(t *testing.T) {
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, `{"message":"started"}`)
	}))

	msg, err := client.GenerateAvatars(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "started", msg)
	_, err = client.GeneratePreview(context.Background(), "o1")
	require.NoError(t, err)
	_, err = client.GeneratePages(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/api/public/orders/o1/generate-avatars",
		"/api/public/orders/o1/generate-preview",
		"/api/public/orders/o1/generate-pages",
	}, paths)
}

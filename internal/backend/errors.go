package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable wraps transport failures: the backend could not be reached at all.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrInvalidResponse is returned when a 2xx body cannot be interpreted.
	ErrInvalidResponse = errors.New("backend: invalid response")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Op     string
	Status int
	Body   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("backend: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("backend: %s failed with status %d: %s", e.Op, e.Status, body)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsClientError reports whether the backend rejected the request (4xx other than 404).
func IsClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusNotFound
}

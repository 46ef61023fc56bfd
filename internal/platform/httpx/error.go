package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/domen-source/storyweaver-consumer/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is a storefront failure rendered as a JSON envelope. Code is a stable
// snake_case identifier clients switch on; Message is for humans.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLen),
		Message: singleLine(message, maxMessageLen),
		Status:  status,
	}
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError renders err, stamping the chi request id and the trace id found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: singleLine(middleware.GetReqID(ctx), maxIDLen),
		TraceID:   singleLine(requestctx.TraceID(ctx), maxIDLen),
	})
}

// WriteJSON writes payload with the given status. A nil payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// singleLine flattens newlines so values cannot split log lines, then caps at limit bytes
// without cutting a rune in half.
func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}

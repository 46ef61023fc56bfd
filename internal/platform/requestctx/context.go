// Package requestctx carries per-request values (logger, trace, order) on a context.
package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	orderKey
)

var nop = zap.NewNop()

// TraceInfo is the Cloud Trace view of the active span.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	return LoggerOr(ctx, nop)
}

// LoggerOr returns the request logger, or fallback when none was stored.
func LoggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
			return logger
		}
	}
	if fallback == nil {
		return nop
	}
	return fallback
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOrderID tags ctx with the order a request or background job works on.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	if orderID = strings.TrimSpace(orderID); orderID == "" {
		return ctx
	}
	return context.WithValue(ctx, orderKey, orderID)
}

func OrderID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(orderKey).(string)
	return id
}

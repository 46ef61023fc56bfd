package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/domen-source/storyweaver-consumer/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger constructs a zap logger emitting structured JSON at the level named by LOG_LEVEL.
func NewLogger() (*zap.Logger, error) {
	return newLogger(os.Getenv("LOG_LEVEL"), "json")
}

// NewConsoleLogger builds a human readable logger for the operator CLI.
func NewConsoleLogger(level string) (*zap.Logger, error) {
	return newLogger(level, "console")
}

func newLogger(rawLevel, encoding string) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(rawLevel)))); err != nil || strings.TrimSpace(rawLevel) == "" {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	if encoding == "console" {
		cfg.OutputPaths = []string{"stderr"}
		cfg.DisableCaller = true
	}

	return cfg.Build()
}

// EventLogger is the signature services accept for structured event logging.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewEventLogger adapts zap to the service event logger signature. Events
// ending in "failed", "error" or "timeout" are logged at warn, the rest at info.
func NewEventLogger(base *zap.Logger) EventLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.LoggerOr(ctx, base)
		zfields := make([]zap.Field, 0, len(fields)+2)
		zfields = append(zfields, zap.String("event", event))
		if orderID := requestctx.OrderID(ctx); orderID != "" {
			if _, ok := fields["orderId"]; !ok {
				zfields = append(zfields, zap.String("orderId", orderID))
			}
		}
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		if strings.HasSuffix(event, "failed") || strings.HasSuffix(event, "error") || strings.HasSuffix(event, "timeout") {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}

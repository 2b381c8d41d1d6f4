package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const (
	defaultLogLevel = "info"
	serviceName     = "storefront"
)

// NewLogger builds the process logger. LOG_LEVEL selects the level and LOG_FORMAT=console
// switches to the human readable encoder for local runs.
func NewLogger() (*zap.Logger, error) {
	return newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), []string{"stdout"})
}

func newLogger(rawLevel, format string, outputs []string) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if trimmed := strings.ToLower(strings.TrimSpace(rawLevel)); trimmed != "" {
		if err := level.UnmarshalText([]byte(trimmed)); err != nil {
			_ = level.UnmarshalText([]byte(defaultLogLevel))
		}
	}

	encoding := "json"
	encodeLevel := zapcore.CapitalLevelEncoder
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		encoding = "console"
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			TimeKey:        "timestamp",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:    encodeLevel,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
		InitialFields:     map[string]any{"service": serviceName},
	}
	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, decorated with the session id when one is set.
func FromContext(ctx context.Context) *zap.Logger {
	logger := requestctx.Logger(ctx)
	if id := requestctx.SessionID(ctx); id != "" {
		return logger.With(zap.String("session_id", id))
	}
	return logger
}

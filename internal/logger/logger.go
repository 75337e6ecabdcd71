// Package logger sets up structured JSON logging with zerolog.
// It tags every line with the service name and propagates a batch id through
// context.Context for replay runs and sink flushes.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const batchIDKey ctxKey = "batch_id"

// Init builds a JSON logger for service writing to stdout, installs it as the
// global zerolog logger and returns it. An unknown level falls back to info.
func Init(service, level string) zerolog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	l := zerolog.New(w).With().Timestamp().Str("service", service).Logger()
	log.Logger = l
	return l
}

// Component returns a child of the global logger tagged with component.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// WithBatchID stores a batch id in the context for downstream propagation.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchID extracts the batch id from context. Returns "" if not set.
func BatchID(ctx context.Context) string {
	if v, ok := ctx.Value(batchIDKey).(string); ok {
		return v
	}
	return ""
}

// NewBatchID returns a random batch id.
func NewBatchID() string {
	return uuid.NewString()
}

// Ctx returns l with the context's batch id attached, if any.
func Ctx(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	id := BatchID(ctx)
	if id == "" {
		return l
	}
	return l.With().Str("batch_id", id).Logger()
}

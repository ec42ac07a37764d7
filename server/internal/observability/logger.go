package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldBatchID is the field name for batch ID.
	LogFieldBatchID = "batch_id"
	// LogFieldOperation is the field name for the operation being run.
	LogFieldOperation = "operation"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
	// LogFieldContentID is the field name for a content fingerprint.
	LogFieldContentID = "content_id"
	// LogFieldRef is the field name for a source reference.
	LogFieldRef = "ref"
)

// BatchContext carries the structured logging context of one tagging batch.
type BatchContext struct {
	BatchID   string
	Operation string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewBatchContext creates a batch context with a generated batch ID.
func NewBatchContext(logger *slog.Logger, operation string) *BatchContext {
	return NewBatchContextWithID(logger, uuid.New().String(), operation)
}

// NewBatchContextWithID creates a batch context with a specific batch ID.
func NewBatchContextWithID(logger *slog.Logger, batchID, operation string) *BatchContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchContext{
		BatchID:   batchID,
		Operation: operation,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// WithFields returns a logger carrying the batch fields plus attrs.
func (b *BatchContext) WithFields(attrs ...slog.Attr) *slog.Logger {
	combined := b.attrs(attrs...)
	args := make([]any, len(combined))
	for i, attr := range combined {
		args[i] = attr
	}
	return b.Logger.With(args...)
}

// Info logs an info message.
func (b *BatchContext) Info(msg string, attrs ...slog.Attr) {
	b.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, b.attrs(attrs...)...)
}

// Debug logs a debug message.
func (b *BatchContext) Debug(msg string, attrs ...slog.Attr) {
	b.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, b.attrs(attrs...)...)
}

// Warn logs a warning message.
func (b *BatchContext) Warn(msg string, attrs ...slog.Attr) {
	b.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, b.attrs(attrs...)...)
}

// Error logs an error message with the error.
func (b *BatchContext) Error(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	b.Logger.LogAttrs(context.Background(), slog.LevelError, msg, b.attrs(attrs...)...)
}

// Done logs the completion of the batch with its duration.
func (b *BatchContext) Done(msg string, attrs ...slog.Attr) {
	b.Info(msg, append(attrs, slog.Int64(LogFieldDuration, b.DurationMs()))...)
}

// Duration returns the elapsed time since the batch started.
func (b *BatchContext) Duration() time.Duration {
	return time.Since(b.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (b *BatchContext) DurationMs() int64 {
	return b.Duration().Milliseconds()
}

func (b *BatchContext) attrs(extra ...slog.Attr) []slog.Attr {
	base := []slog.Attr{
		slog.String(LogFieldBatchID, b.BatchID),
		slog.String(LogFieldOperation, b.Operation),
	}
	return append(base, extra...)
}

type ctxKey struct{}

// WithBatchContext adds the batch context to the context.
func WithBatchContext(ctx context.Context, b *BatchContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext extracts the batch context from the context.
func FromContext(ctx context.Context) (*BatchContext, bool) {
	b, ok := ctx.Value(ctxKey{}).(*BatchContext)
	return b, ok
}

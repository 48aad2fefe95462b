package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RateLimitEvent is the write-only record emitted when an outbound call hits
// an upstream rate limit. The engine never reads these back.
type RateLimitEvent struct {
	Source          string    `json:"source"`
	Endpoint        string    `json:"endpoint"`
	CallCount       int64     `json:"call_count"`
	SessionDuration int64     `json:"session_duration_ms"`
	CallsPerMinute  float64   `json:"calls_per_minute"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink receives rate-limit events. Implementations must not block callers on
// delivery failures; telemetry loss is acceptable, stalled fetches are not.
type Sink interface {
	RecordRateLimit(ctx context.Context, event RateLimitEvent)
}

// LogSink writes events to the structured log. Used when no broker is
// configured and as the delivery-failure fallback.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordRateLimit(_ context.Context, event RateLimitEvent) {
	s.logger.Warn("Rate limit hit",
		zap.String("source", event.Source),
		zap.String("endpoint", event.Endpoint),
		zap.Int64("call_count", event.CallCount),
		zap.Int64("session_duration_ms", event.SessionDuration),
		zap.Float64("calls_per_minute", event.CallsPerMinute))
}

// NopSink discards all events. Useful in tests.
type NopSink struct{}

func (NopSink) RecordRateLimit(context.Context, RateLimitEvent) {}

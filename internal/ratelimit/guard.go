package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/telemetry"

	"go.uber.org/zap"
)

// Guard wraps every outbound call to one upstream source. It counts calls for
// the lifetime of the process, converts transport failures into the engine's
// error kinds, and on a 429 emits a telemetry event before returning
// apperr.ErrRateLimited. Callers decide whether to retry; the guard never
// sleeps.
type Guard struct {
	source       string
	sink         telemetry.Sink
	logger       *zap.Logger
	calls        atomic.Int64
	sessionStart time.Time
}

// NewGuard creates a guard for the named source.
func NewGuard(source string, sink telemetry.Sink, logger *zap.Logger) *Guard {
	return &Guard{
		source:       source,
		sink:         sink,
		logger:       logger,
		sessionStart: time.Now(),
	}
}

// CallCount returns the number of outbound calls made through this guard.
func (g *Guard) CallCount() int64 {
	return g.calls.Load()
}

// Do executes the request through client and classifies the outcome.
// A returned response always has status < 300 and an open body the caller
// must close.
func (g *Guard) Do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	count := g.calls.Add(1)

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if isNetworkError(err) {
			return nil, fmt.Errorf("%s request failed: %w", g.source, apperr.ErrNetworkUnavailable)
		}
		return nil, fmt.Errorf("%s request failed: %v: %w", g.source, err, apperr.ErrNetworkUnavailable)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		g.emitRateLimit(ctx, req.URL.Path, count)
		return nil, fmt.Errorf("%s %s: %w", g.source, req.URL.Path, apperr.ErrRateLimited)

	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", g.source, req.URL.Path, apperr.ErrNotFound)

	case resp.StatusCode >= 300:
		code := resp.StatusCode
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", g.source, req.URL.Path, apperr.NewHTTPError(code))
	}

	return resp, nil
}

func (g *Guard) emitRateLimit(ctx context.Context, endpoint string, count int64) {
	sessionDur := time.Since(g.sessionStart)

	callsPerMinute := float64(count)
	if minutes := sessionDur.Minutes(); minutes > 0 {
		callsPerMinute = float64(count) / minutes
	}

	g.sink.RecordRateLimit(ctx, telemetry.RateLimitEvent{
		Source:          g.source,
		Endpoint:        endpoint,
		CallCount:       count,
		SessionDuration: sessionDur.Milliseconds(),
		CallsPerMinute:  callsPerMinute,
		Timestamp:       time.Now(),
	})

	g.logger.Warn("Upstream rate limit exceeded",
		zap.String("source", g.source),
		zap.String("endpoint", endpoint),
		zap.Int64("call_count", count))
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

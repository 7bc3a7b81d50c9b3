package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/chainevents/internal/indexing/metrics"
)

// ConnectionError reports that an endpoint stayed unreachable after the retry budget.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: gave up after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connect tries adapter.Connect up to attempts times, sleeping backoff between tries.
func Connect(
	ctx context.Context,
	adapter Adapter,
	attempts int,
	backoff time.Duration,
	chainID string,
	log *slog.Logger,
) error {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}

	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(backoff))

	tried := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		tried++
		if err := adapter.Connect(ctx); err != nil {
			metrics.ConnectAttempts.WithLabelValues(chainID, "failure").Inc()
			log.Warn("connect attempt failed",
				"endpoint", adapter.Endpoint(),
				"attempt", tried,
				"max_attempts", attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		metrics.ConnectAttempts.WithLabelValues(chainID, "success").Inc()
		return nil
	})
	if err != nil {
		return &ConnectionError{Endpoint: adapter.Endpoint(), Attempts: tried, Err: err}
	}

	log.Info("connected", "endpoint", adapter.Endpoint(), "attempts", tried)
	return nil
}

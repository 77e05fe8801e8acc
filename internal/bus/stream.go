package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobsift/pipeline-api/config"
	apperrors "github.com/jobsift/pipeline-api/internal/errors"
)

// Stream entry field names. Every entry carries its partition key alongside
// the payload so consumers can assert key/payload agreement.
const (
	fieldKey     = "key"
	fieldPayload = "payload"
	fieldSource  = "source"
	fieldError   = "error"
)

// StreamBus is a Redis-streams implementation of Publisher and Consumer.
// It is safe for concurrent use.
type StreamBus struct {
	client redis.UniversalClient
	cfg    config.BusConfig
	logger *slog.Logger
}

var (
	_ Publisher = (*StreamBus)(nil)
	_ Consumer  = (*StreamBus)(nil)
)

// NewStreamBus wraps a connected Redis client in the bus contract.
func NewStreamBus(client redis.UniversalClient, cfg config.BusConfig, logger *slog.Logger) *StreamBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamBus{client: client, cfg: cfg, logger: logger}
}

// Health reports broker connectivity.
func (b *StreamBus) Health(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping broker: %w", err)
	}
	return nil
}

// Publish appends a keyed entry to the topic stream, retrying transient
// broker faults with bounded exponential backoff. Once the retry budget is
// exhausted it fails with a BusUnavailable error; callers must treat that as
// a hard failure of the originating operation. A caller-imposed deadline
// surfaces as a Timeout error instead, which is retryable.
func (b *StreamBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if topic == "" {
		return apperrors.Validation("topic is required")
	}
	if key == "" {
		return apperrors.Validation("partition key is required")
	}

	var lastErr error
	for attempt := range b.cfg.PublishRetries {
		if attempt > 0 {
			if err := sleepContext(ctx, publishBackoff(b.cfg, attempt)); err != nil {
				break
			}
		}

		err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: topic,
			Values: entryValues(key, payload),
		}).Err()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		b.logger.WarnContext(ctx, "publish attempt failed",
			"topic", topic, "attempt", attempt+1, "retries", b.cfg.PublishRetries, "error", err)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrapf(errors.Join(lastErr, ctx.Err()), apperrors.ErrCodeTimeout,
			"publish to %s timed out", topic)
	}
	return apperrors.BusUnavailable(
		fmt.Sprintf("publish to %s failed after %d attempts", topic, b.cfg.PublishRetries),
		errors.Join(lastErr, ctx.Err()))
}

// publishBackoff returns the delay before the given retry attempt (attempt >= 1):
// the configured base doubled per attempt, capped.
func publishBackoff(cfg config.BusConfig, attempt int) time.Duration {
	d := cfg.PublishBackoff << (attempt - 1)
	if d > cfg.PublishBackoffCap || d <= 0 {
		return cfg.PublishBackoffCap
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// entryValues builds the field map stored in a stream entry.
func entryValues(key string, payload []byte) map[string]any {
	return map[string]any{
		fieldKey:     key,
		fieldPayload: string(payload),
	}
}

// messageFromEntry converts a raw stream entry into a Message. Entries
// missing the payload field are malformed by construction.
func messageFromEntry(entry redis.XMessage, attempts int64) (Message, error) {
	payload, ok := entry.Values[fieldPayload].(string)
	if !ok {
		return Message{}, fmt.Errorf("entry %s has no payload field", entry.ID)
	}
	key, _ := entry.Values[fieldKey].(string)
	return Message{
		ID:       entry.ID,
		Key:      key,
		Payload:  []byte(payload),
		Attempts: attempts,
	}, nil
}

package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobsift/pipeline-api/config"
)

// readRetryDelay spaces out reads after a transient broker error so a flapping
// connection does not spin the consumer loop.
const readRetryDelay = time.Second

// Consume joins the configured consumer group on the topic and delivers each
// entry to handler at least once. Entries are acked only after the handler
// returns nil. Entries left pending (crash or handler error) are reclaimed
// after ClaimMinIdle and redelivered; past the MaxDeliveries budget they are
// parked on the topic's dead-letter stream so one poison message cannot stall
// the group. Returns when ctx is done, after finishing in-flight entries.
func (b *StreamBus) Consume(ctx context.Context, topic string, handler Handler) error {
	if err := b.ensureGroup(ctx, topic); err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "consumer started",
		"topic", topic, "group", b.cfg.ConsumerGroup, "consumer", b.cfg.ConsumerName)

	for ctx.Err() == nil {
		b.reclaimStale(ctx, topic, handler)

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.ConsumerGroup,
			Consumer: b.cfg.ConsumerName,
			Streams:  []string{topic, ">"},
			Count:    int64(b.cfg.ConsumeBatch),
			Block:    b.cfg.ConsumeBlock,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue // block timeout, nothing new
		case err != nil:
			if ctx.Err() != nil {
				continue // loop condition exits
			}
			b.logger.ErrorContext(ctx, "read from topic failed", "topic", topic, "error", err)
			_ = sleepContext(ctx, readRetryDelay)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				b.dispatch(ctx, topic, handler, entry, 1)
			}
		}
	}

	b.logger.InfoContext(context.WithoutCancel(ctx), "consumer stopped", "topic", topic)
	return ctx.Err()
}

// ensureGroup creates the consumer group from the start of the stream so a
// restarted process drains backlog. An already-existing group is fine.
func (b *StreamBus) ensureGroup(ctx context.Context, topic string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", b.cfg.ConsumerGroup, topic, err)
	}
	return nil
}

// dispatch runs the handler for one entry and settles it: ack on success,
// dead-letter on permanent failure or exhausted budget, otherwise leave
// pending for redelivery.
func (b *StreamBus) dispatch(ctx context.Context, topic string, handler Handler, entry redis.XMessage, attempts int64) {
	msg, err := messageFromEntry(entry, attempts)
	if err != nil {
		b.deadLetter(ctx, topic, entry, err)
		return
	}

	err = b.safeHandle(ctx, handler, msg)
	switch {
	case err == nil:
		b.ack(ctx, topic, entry.ID)
	case IsPermanent(err):
		b.deadLetter(ctx, topic, entry, err)
	case attempts >= int64(b.cfg.MaxDeliveries):
		b.logger.WarnContext(ctx, "message exhausted redelivery budget",
			"topic", topic, "entry", entry.ID, "attempts", attempts, "error", err)
		b.deadLetter(ctx, topic, entry, err)
	default:
		// Not acked: the entry stays pending and is reclaimed after
		// ClaimMinIdle with an incremented delivery count.
		b.logger.WarnContext(ctx, "handler failed, leaving message pending",
			"topic", topic, "entry", entry.ID, "attempts", attempts, "error", err)
	}
}

// safeHandle isolates handler panics so one bad message cannot take down the
// consumer task.
func (b *StreamBus) safeHandle(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// reclaimStale claims entries that have sat pending past ClaimMinIdle
// (crashed consumer, failed handler) and re-dispatches them with their
// broker-tracked delivery count.
func (b *StreamBus) reclaimStale(ctx context.Context, topic string, handler Handler) {
	entries, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    b.cfg.ConsumerGroup,
		Consumer: b.cfg.ConsumerName,
		MinIdle:  b.cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    int64(b.cfg.ConsumeBatch),
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			b.logger.WarnContext(ctx, "reclaim pending entries failed", "topic", topic, "error", err)
		}
		return
	}

	for _, entry := range entries {
		b.dispatch(ctx, topic, handler, entry, b.deliveryCount(ctx, topic, entry.ID))
	}
}

// deliveryCount looks up the broker's delivery counter for a pending entry.
// Falls back to 1 when the lookup fails so the entry is still processed.
func (b *StreamBus) deliveryCount(ctx context.Context, topic, id string) int64 {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: topic,
		Group:  b.cfg.ConsumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

// deadLetter parks an entry on the topic's dead-letter stream and acks the
// original so the partition keeps moving. The entry keeps its key and payload
// plus the source topic and final error for operator inspection.
// Settlement survives consumer cancellation: a processed entry must commit
// even when shutdown arrived while its handler was running.
func (b *StreamBus) deadLetter(ctx context.Context, topic string, entry redis.XMessage, cause error) {
	ctx = context.WithoutCancel(ctx)
	values := make(map[string]any, len(entry.Values)+2)
	for k, v := range entry.Values {
		values[k] = v
	}
	values[fieldSource] = topic
	values[fieldError] = cause.Error()

	dead := config.DeadLetterTopic(topic)
	if err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: dead, Values: values}).Err(); err != nil {
		// Leave the entry pending rather than ack-and-lose it.
		b.logger.ErrorContext(ctx, "dead-letter append failed",
			"topic", topic, "entry", entry.ID, "error", err)
		return
	}
	b.logger.WarnContext(ctx, "message dead-lettered",
		"topic", topic, "dead_topic", dead, "entry", entry.ID, "cause", cause)
	b.ack(ctx, topic, entry.ID)
}

// ack commits one entry. It runs on an uncancellable context so an entry
// whose handler finished during shutdown does not stay pending and get
// redelivered after restart.
func (b *StreamBus) ack(ctx context.Context, topic, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := b.client.XAck(ctx, topic, b.cfg.ConsumerGroup, id).Err(); err != nil {
		// The entry will be redelivered; handlers are idempotent by contract.
		b.logger.WarnContext(ctx, "ack failed", "topic", topic, "entry", id, "error", err)
	}
}

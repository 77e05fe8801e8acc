// Package bus implements the message bus contract over Redis streams.
//
// Topics are streams; consumer groups provide at-least-once delivery. The
// consumer acks an entry only after its handler returns nil
// (process-then-commit), so a crash mid-handling causes redelivery rather
// than loss. Handlers must therefore be idempotent.
package bus

import (
	"context"
	"errors"
	"fmt"
)

// Message is a single consumed bus entry.
type Message struct {
	// ID is the broker-assigned entry id.
	ID string
	// Key is the partition key (the run id for all pipeline topics).
	Key string
	// Payload is the JSON-encoded message body.
	Payload []byte
	// Attempts is the delivery count known to the broker, starting at 1.
	Attempts int64
}

// Handler processes one consumed message. A nil return commits the entry; any
// other error leaves it pending for bounded redelivery. Wrap the error with
// Permanent to quarantine the entry immediately instead.
type Handler func(ctx context.Context, msg Message) error

// Publisher publishes messages to a topic, keyed for per-run ordering.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Consumer delivers each message of a topic to a handler at least once.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler Handler) error
}

// permanentError marks a handler failure that must not be retried: the entry
// is moved to the topic's dead-letter stream and committed.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.err)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps a handler error so the consumer dead-letters the entry
// instead of leaving it for redelivery. Used for malformed payloads, which
// redelivery can never heal.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

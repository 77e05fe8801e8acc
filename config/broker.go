package config

import "time"

// RedisConfig contains the Redis connection configuration for the message bus.
type RedisConfig struct {
	// URI is either a host:port pair or a redis:// URL.
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}

// BusConfig contains message bus topic names and delivery configuration.
//
// Topics map to Redis streams. A stream is totally ordered, which covers the
// per-run ordering the partition key would otherwise provide; the key still
// travels in every entry so consumers can assert it.
type BusConfig struct {
	// WorkTopic carries scrape work items from the trigger service to the scraper.
	WorkTopic string `env:"WORK_TOPIC" envDefault:"pipeline:scrape-requests"`

	// ProgressTopic carries progress and terminal events from the workers.
	ProgressTopic string `env:"PROGRESS_TOPIC" envDefault:"pipeline:status-updates"`

	// HandoffTopic carries the scraper-to-loader storage descriptor.
	HandoffTopic string `env:"HANDOFF_TOPIC" envDefault:"pipeline:handoff"`

	// ConsumerGroup is the consumer group name for the status listener.
	ConsumerGroup string `env:"CONSUMER_GROUP" envDefault:"api-status-listener"`

	// ConsumerName identifies this consumer within the group. Defaults to the
	// hostname when empty (resolved by the bootstrap layer at load time).
	ConsumerName string `env:"CONSUMER_NAME" envDefault:""`

	// PublishRetries is the number of publish attempts before BusUnavailable.
	PublishRetries int `env:"PUBLISH_RETRIES" envDefault:"5"`

	// PublishBackoff is the initial backoff between publish attempts; it
	// doubles per attempt up to PublishBackoffCap.
	PublishBackoff    time.Duration `env:"PUBLISH_BACKOFF"     envDefault:"500ms"`
	PublishBackoffCap time.Duration `env:"PUBLISH_BACKOFF_CAP" envDefault:"5s"`

	// PublishTimeout bounds how long a single trigger waits for broker ack.
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"10s"`

	// ConsumeBlock is how long a consumer read blocks waiting for entries.
	ConsumeBlock time.Duration `env:"CONSUME_BLOCK" envDefault:"5s"`

	// ConsumeBatch is the maximum number of entries fetched per read.
	ConsumeBatch int `env:"CONSUME_BATCH" envDefault:"16"`

	// MaxDeliveries is the per-message redelivery budget. Entries that fail
	// beyond this are parked on the topic's dead-letter stream instead of
	// stalling the group.
	MaxDeliveries int `env:"MAX_DELIVERIES" envDefault:"5"`

	// ClaimMinIdle is how long an entry must sit pending (e.g. after a crash)
	// before another consumer may reclaim it.
	ClaimMinIdle time.Duration `env:"CLAIM_MIN_IDLE" envDefault:"30s"`
}

// Sanitize applies guardrails to bus configuration values.
func (b *BusConfig) Sanitize() {
	if b.PublishRetries < 1 {
		b.PublishRetries = 1
	}
	if b.PublishBackoff <= 0 {
		b.PublishBackoff = 500 * time.Millisecond
	}
	if b.PublishBackoffCap < b.PublishBackoff {
		b.PublishBackoffCap = b.PublishBackoff
	}
	if b.PublishTimeout <= 0 {
		b.PublishTimeout = 10 * time.Second
	}
	if b.ConsumeBlock <= 0 {
		b.ConsumeBlock = 5 * time.Second
	}
	if b.ConsumeBatch < 1 {
		b.ConsumeBatch = 1
	}
	if b.MaxDeliveries < 1 {
		b.MaxDeliveries = 1
	}
	if b.ClaimMinIdle <= 0 {
		b.ClaimMinIdle = 30 * time.Second
	}
}

// DeadLetterTopic returns the dead-letter stream for a topic.
func DeadLetterTopic(topic string) string {
	return topic + ":dead"
}

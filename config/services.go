package config

import (
	"errors"
	"fmt"
	"strings"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server (trigger API, run queries, realtime channel).
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeIngest runs the status ingestion worker.
	ServiceModeIngest ServiceMode = "ingest"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeIngest}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeIngest:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, ingest)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// IngestConfig contains status ingestion worker configuration.
type IngestConfig struct {
	// DedupWindow is the capacity of the recently-seen message id window.
	// Sized to comfortably exceed the broker's redelivery window.
	DedupWindow int `env:"INGEST_DEDUP_WINDOW" envDefault:"4096"`
}

// Sanitize applies guardrails to ingest configuration values.
func (c *IngestConfig) Sanitize() {
	if c.DedupWindow < 1 {
		c.DedupWindow = 1
	}
}

// RegistryConfig contains run registry configuration.
type RegistryConfig struct {
	// Capacity bounds the number of tracked runs. When exceeded, the oldest
	// terminal runs are evicted; in-flight runs are never evicted.
	Capacity int `env:"REGISTRY_CAPACITY" envDefault:"1024"`
}

// Sanitize applies guardrails to registry configuration values.
func (c *RegistryConfig) Sanitize() {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
}

// HubConfig contains realtime broadcast hub configuration.
type HubConfig struct {
	// QueueSize is the per-connection outbound queue depth. On overflow the
	// oldest queued frame is dropped, never the newest.
	QueueSize int `env:"HUB_QUEUE_SIZE" envDefault:"32"`

	// MaxOverflows is how many overflows a connection may accumulate before
	// it is evicted from the broadcast set.
	MaxOverflows int `env:"HUB_MAX_OVERFLOWS" envDefault:"8"`
}

// Sanitize applies guardrails to hub configuration values.
func (c *HubConfig) Sanitize() {
	if c.QueueSize < 1 {
		c.QueueSize = 1
	}
	if c.MaxOverflows < 1 {
		c.MaxOverflows = 1
	}
}

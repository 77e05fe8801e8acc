package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - broker.go: Redis connection and message bus configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode, registry, ingest, and hub configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed guardrails).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Redis connection used by the message bus and the health probe.
	Redis RedisConfig `envPrefix:"REDIS_"`

	// Message bus topics and delivery configuration.
	Bus BusConfig `envPrefix:"BUS_"`

	// HTTP server configuration.
	HTTP HTTPConfig

	// Services selects which service modes this process runs.
	Services string `env:"SERVICES" envDefault:"http,ingest"`

	// Status ingestion worker configuration.
	Ingest IngestConfig

	// Run registry configuration.
	Registry RegistryConfig

	// Realtime broadcast hub configuration.
	Hub HubConfig

	// Observability configuration.
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Bus.Sanitize()
	c.HTTP.Sanitize()
	c.Ingest.Sanitize()
	c.Registry.Sanitize()
	c.Hub.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsIngestEnabled returns true if the status ingestion worker is enabled.
func (c *AppConfig) IsIngestEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeIngest]
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jobsift/pipeline-api/config"
	"github.com/jobsift/pipeline-api/internal/bus"
	"github.com/jobsift/pipeline-api/internal/hub"
	"github.com/jobsift/pipeline-api/internal/ingest"
	"github.com/jobsift/pipeline-api/internal/observability/metrics"
	"github.com/jobsift/pipeline-api/internal/observability/statsd"
	"github.com/jobsift/pipeline-api/internal/registry"
	"github.com/jobsift/pipeline-api/internal/trigger"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Registry      *registry.Registry
	Hub           *hub.Hub
	Bus           *bus.StreamBus
	Trigger       *trigger.Service
	Ingest        *ingest.Worker
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Metrics       *metrics.Pipeline
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var sink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.New(cfg.Metrics.StatsdAddress, "jobsift")
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			sink = client
		}
	}

	pipeline := metrics.New(statsd.Noop{})
	if sink != nil {
		pipeline = metrics.New(sink)
	}

	return ObservabilityContainer{
		Metrics:       pipeline,
		MetricsSink:   sink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices wires the full service graph from configuration and the
// connected broker client.
func NewServices(deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)

	streamBus := bus.NewStreamBus(deps.RedisClient, appCfg.Bus, logger)

	runRegistry := registry.New(registry.Options{
		Capacity: appCfg.Registry.Capacity,
		Logger:   logger,
	})

	broadcastHub := hub.New(hub.Options{
		Source:       runRegistry,
		QueueSize:    appCfg.Hub.QueueSize,
		MaxOverflows: appCfg.Hub.MaxOverflows,
		Metrics:      observability.Metrics,
		Logger:       logger,
	})

	triggerSvc := trigger.New(trigger.Options{
		Publisher: streamBus,
		Registry:  runRegistry,
		Hub:       broadcastHub,
		Bus:       appCfg.Bus,
		Metrics:   observability.Metrics,
		Logger:    logger,
	})

	ingestWorker := ingest.New(ingest.Options{
		Consumer: streamBus,
		Registry: runRegistry,
		Hub:      broadcastHub,
		Bus:      appCfg.Bus,
		Ingest:   appCfg.Ingest,
		Metrics:  observability.Metrics,
		Logger:   logger,
	})

	return ServiceContainer{
		Registry:      runRegistry,
		Hub:           broadcastHub,
		Bus:           streamBus,
		Trigger:       triggerSvc,
		Ingest:        ingestWorker,
		Observability: observability,
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails, then drains in order: consumers stop, websocket subscribers are
// evicted, and finally the HTTP server shuts down.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var httpServer *http.Server
	if enabledServices[config.ServiceModeHTTP] {
		httpServer = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
	}

	group, groupCtx := errgroup.WithContext(serviceCtx)
	if enabledServices[config.ServiceModeIngest] {
		group.Go(func() error {
			logger.Info("background service started", "service", "ingest worker")
			if err := cfg.Services.Ingest.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ingest worker failed: %w", err)
			}
			return nil
		})
	}

	groupDone := make(chan error, 1)
	go func() { groupDone <- group.Wait() }()

	var runErr error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("shutting down services...")
	case err := <-groupDone:
		groupDone = nil
		if err != nil {
			logger.Error("service error", "error", err)
			runErr = err
		}
	}

	cancel()
	if stopErr := gracefulStop(cfg, httpServer, groupDone, logger); stopErr != nil && runErr == nil {
		runErr = stopErr
	}
	return runErr
}

// gracefulStop drains the process: waits for the consumers to finish their
// in-flight messages, closes the hub so websocket loops end, then shuts down
// the HTTP server.
func gracefulStop(
	cfg *ServiceOrchestrationConfig,
	httpServer *http.Server,
	groupDone <-chan error,
	logger *slog.Logger,
) error {
	if groupDone != nil {
		select {
		case <-groupDone:
			logger.Info("background services stopped")
		case <-time.After(shutdownWaitTimeout):
			logger.Warn("timeout waiting for background services to stop")
		}
	}

	if cfg.Services.Hub != nil {
		cfg.Services.Hub.Close()
	}

	if httpServer != nil {
		timeout := cfg.Config.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = shutdownWaitTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  httpServer,
			Logger:  logger,
		}); err != nil {
			return err
		}
	}

	if sink := cfg.Services.Observability.MetricsSink; sink != nil {
		if err := sink.Close(); err != nil {
			logger.Warn("close metrics sink", "error", err)
		}
	}

	return nil
}
